package osm

// BBox accumulates the bounding box of every coordinate touched during an
// upload (§4.4.5). Coordinates are stored as integer micro-degrees so the
// linear-size limit check (§4.3) is exact integer arithmetic.
type BBox struct {
	set                          bool
	MinLon, MinLat, MaxLon, MaxLat int64
}

// ExpandDegrees widens the box to include (lat, lon) expressed in floating
// degrees, using scale to convert to the box's integer micro-degree units.
func (b *BBox) ExpandDegrees(lat, lon float64, scale int64) {
	b.Expand(int64(lon*float64(scale)), int64(lat*float64(scale)))
}

// Expand widens the box to include a single already-scaled (lon, lat) point.
func (b *BBox) Expand(lon, lat int64) {
	if !b.set {
		b.MinLon, b.MaxLon = lon, lon
		b.MinLat, b.MaxLat = lat, lat
		b.set = true
		return
	}
	if lon < b.MinLon {
		b.MinLon = lon
	}
	if lon > b.MaxLon {
		b.MaxLon = lon
	}
	if lat < b.MinLat {
		b.MinLat = lat
	}
	if lat > b.MaxLat {
		b.MaxLat = lat
	}
}

// Union merges other into b.
func (b *BBox) Union(other BBox) {
	if !other.set {
		return
	}
	b.Expand(other.MinLon, other.MinLat)
	b.Expand(other.MaxLon, other.MaxLat)
}

// IsSet reports whether the box has accumulated at least one point.
func (b BBox) IsSet() bool { return b.set }

// LinearSize computes (maxlon-minlon)+(maxlat-minlat), the quantity
// config.Limits.MaxBBoxLinearSize bounds (§4.4.5).
func (b BBox) LinearSize() int64 {
	if !b.set {
		return 0
	}
	return (b.MaxLon - b.MinLon) + (b.MaxLat - b.MinLat)
}
