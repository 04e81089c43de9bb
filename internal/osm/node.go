package osm

import (
	"math"

	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/apierror"
)

// Node is the entity model for a point (§3.3).
type Node struct {
	Element
	Lat, Lon       float64
	LatSet, LonSet bool
}

// Validate enforces node-specific invariants on top of ValidateCommon.
// Coordinates are mandatory on create/modify and ignored on delete.
func (n *Node) Validate(op Operation, maxTags, maxCodepoints int) error {
	if err := n.ValidateCommon(op, maxTags, maxCodepoints); err != nil {
		return err
	}
	if op == OpDelete {
		return nil
	}
	if !n.LatSet || !n.LonSet {
		return apierror.BadRequest("node %d: lat/lon are mandatory on %s", n.ID, op)
	}
	if math.IsNaN(n.Lat) || math.IsInf(n.Lat, 0) || n.Lat < -90 || n.Lat > 90 {
		return apierror.BadRequest("node %d: lat %v out of range [-90,90]", n.ID, n.Lat)
	}
	if math.IsNaN(n.Lon) || math.IsInf(n.Lon, 0) || n.Lon < -180 || n.Lon > 180 {
		return apierror.BadRequest("node %d: lon %v out of range [-180,180]", n.ID, n.Lon)
	}
	return nil
}

// Tile derives the 32-bit spatial quadkey used for bbox indexing (§4.4.2).
// Adjacent coordinates map to nearby indices via bit-interleaving of the
// quantized x/y grid coordinates.
func Tile(lat, lon float64) uint32 {
	x := uint32(math.Round((lon + 180) * 65535 / 360))
	y := uint32(math.Round((lat + 90) * 65535 / 180))
	return xy2tile(x, y)
}

// xy2tile interleaves the bits of x and y (x in even bit positions, y in
// odd) so that spatially adjacent (x, y) pairs produce nearby tile values.
func xy2tile(x, y uint32) uint32 {
	var tile uint32
	for i := 0; i < 16; i++ {
		tile |= ((x >> uint(i)) & 1) << uint(2*i)
		tile |= ((y >> uint(i)) & 1) << uint(2*i+1)
	}
	return tile
}
