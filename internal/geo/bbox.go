package geo

import "math"

// Box is a latitude/longitude rectangle used to prefilter candidates
// before exact distance checks.
type Box struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

// boxPadding absorbs rounding at the box edges, in degrees.
const boxPadding = 1e-9

// BoundingBox returns a box that contains every point within radiusMeters
// of center. Near the poles or across the antimeridian it widens to the
// full longitude range.
func BoundingBox(center Coordinate, radiusMeters float64) Box {
	angular := radiusMeters / EarthRadiusMeters
	dLat := angular*180/math.Pi + boxPadding
	b := Box{
		MinLat: math.Max(-90, center.Latitude-dLat),
		MaxLat: math.Min(90, center.Latitude+dLat),
		MinLon: -180,
		MaxLon: 180,
	}
	if b.MinLat == -90 || b.MaxLat == 90 {
		return b
	}

	// widest longitude offset of the spherical cap around center
	x := math.Sin(angular) / math.Cos(toRadians(center.Latitude))
	if x >= 1 {
		return b
	}
	dLon := math.Asin(x)*180/math.Pi + boxPadding
	if center.Longitude-dLon < -180 || center.Longitude+dLon > 180 {
		return b
	}
	b.MinLon = center.Longitude - dLon
	b.MaxLon = center.Longitude + dLon
	return b
}

// Contains reports whether c lies inside the box.
func (b Box) Contains(c Coordinate) bool {
	return c.Latitude >= b.MinLat && c.Latitude <= b.MaxLat &&
		c.Longitude >= b.MinLon && c.Longitude <= b.MaxLon
}
