package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/osm"
)

func TestSplitIntoPackagesNoRepeats(t *testing.T) {
	items := []osm.SignedObjectID{1, 2, 3}
	idOf := func(id osm.SignedObjectID) osm.SignedObjectID { return id }

	packages := splitIntoPackages(items, idOf)
	if assert.Len(t, packages, 1) {
		assert.Equal(t, items, packages[0])
	}
}

func TestSplitIntoPackagesRepeatedID(t *testing.T) {
	items := []osm.SignedObjectID{1, 1, 1, 2}
	idOf := func(id osm.SignedObjectID) osm.SignedObjectID { return id }

	packages := splitIntoPackages(items, idOf)
	if assert.Len(t, packages, 3) {
		assert.Equal(t, []osm.SignedObjectID{1, 2}, packages[0])
		assert.Equal(t, []osm.SignedObjectID{1}, packages[1])
		assert.Equal(t, []osm.SignedObjectID{1}, packages[2])
	}
}

func TestSplitIntoPackagesPreservesOrder(t *testing.T) {
	type entry struct {
		id  osm.SignedObjectID
		tag string
	}
	items := []entry{{1, "a"}, {2, "b"}, {1, "c"}}
	idOf := func(e entry) osm.SignedObjectID { return e.id }

	packages := splitIntoPackages(items, idOf)
	if assert.Len(t, packages, 2) {
		assert.Equal(t, []entry{{1, "a"}, {2, "b"}}, packages[0])
		assert.Equal(t, []entry{{1, "c"}}, packages[1])
	}
}
