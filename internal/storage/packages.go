package storage

import "github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/osm"

// splitIntoPackages splits a modify batch into the minimum number of
// ordered sub-batches ("packages") such that no id repeats within a
// package (spec.md §4.5.2). The client's intended version sequence for a
// repeated id (V → V+1 → V+2 → …) survives because entries keep their
// relative order and each repeat lands in the next available package.
func splitIntoPackages[T any](items []T, idOf func(T) osm.SignedObjectID) [][]T {
	var packages [][]T
	for _, item := range items {
		id := idOf(item)
		placed := false
		for i := range packages {
			if !containsID(packages[i], id, idOf) {
				packages[i] = append(packages[i], item)
				placed = true
				break
			}
		}
		if !placed {
			packages = append(packages, []T{item})
		}
	}
	return packages
}

func containsID[T any](pkg []T, id osm.SignedObjectID, idOf func(T) osm.SignedObjectID) bool {
	for _, item := range pkg {
		if idOf(item) == id {
			return true
		}
	}
	return false
}
