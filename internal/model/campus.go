package model

import "math"

// CampusSize is the edge length of the campus square in degrees (~36m).
const CampusSize = 0.000324

// LatLng is a WGS84 coordinate pair.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Bounds is an axis-aligned lat/lon rectangle.
type Bounds struct {
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLon float64 `json:"max_lon"`
}

// BoundsOf returns the smallest rectangle containing every point.
// The second return value is false when points is empty.
func BoundsOf(points []LatLng) (Bounds, bool) {
	if len(points) == 0 {
		return Bounds{}, false
	}
	b := Bounds{
		MinLat: points[0].Lat, MaxLat: points[0].Lat,
		MinLon: points[0].Lon, MaxLon: points[0].Lon,
	}
	for _, p := range points[1:] {
		b.MinLat = math.Min(b.MinLat, p.Lat)
		b.MaxLat = math.Max(b.MaxLat, p.Lat)
		b.MinLon = math.Min(b.MinLon, p.Lon)
		b.MaxLon = math.Max(b.MaxLon, p.Lon)
	}
	return b, true
}

// Contains reports whether p lies inside b, edges included.
func (b Bounds) Contains(p LatLng) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat && p.Lon >= b.MinLon && p.Lon <= b.MaxLon
}

// Center returns the midpoint of b.
func (b Bounds) Center() LatLng {
	return LatLng{Lat: (b.MinLat + b.MaxLat) / 2, Lon: (b.MinLon + b.MaxLon) / 2}
}

// Pad grows b on every side by ratio of its own height and width.
func (b Bounds) Pad(ratio float64) Bounds {
	dLat := (b.MaxLat - b.MinLat) * ratio
	dLon := (b.MaxLon - b.MinLon) * ratio
	return Bounds{
		MinLat: b.MinLat - dLat, MaxLat: b.MaxLat + dLat,
		MinLon: b.MinLon - dLon, MaxLon: b.MaxLon + dLon,
	}
}

// Zone is one named campus section.
type Zone struct {
	Name   string `json:"name"`
	Bounds Bounds `json:"bounds"`
	Color  string `json:"color"`
}

// Campus is the zone layout established once per account.
type Campus struct {
	Center LatLng `json:"center"`
	Zones  []Zone `json:"sections"`
}

// Bounds returns the campus square around its center.
func (c Campus) Bounds() Bounds {
	half := CampusSize / 2
	return Bounds{
		MinLat: c.Center.Lat - half, MaxLat: c.Center.Lat + half,
		MinLon: c.Center.Lon - half, MaxLon: c.Center.Lon + half,
	}
}

// Zone looks a zone up by name.
func (c Campus) Zone(name string) (Zone, bool) {
	for _, z := range c.Zones {
		if z.Name == name {
			return z, true
		}
	}
	return Zone{}, false
}

// IsOutsideZone reports whether a zone name means "no zone". The server
// historically sent "Outside Campus", newer payloads use ZoneOutside.
func IsOutsideZone(name string) bool {
	return name == "" || name == ZoneOutside || name == "Outside Campus"
}
