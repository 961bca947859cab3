package geo

import (
	"fmt"

	geom "github.com/peterstace/simplefeatures/geom"

	"github.com/aseanmotorclub/roadwatch/internal/config"
	"github.com/aseanmotorclub/roadwatch/internal/model"
)

// GarageProximityRadius is the planar distance (world units) around a
// garage within which speed enforcement is suppressed. Garages are where
// vehicles teleport in and out, which produces bogus position deltas.
const GarageProximityRadius = 3000.0

// Zone is a named world-coordinate region exempt from speed enforcement.
// Zones are axis-aligned rectangles in configuration but held as polygons
// so containment checks stay correct if ring shapes ever get richer.
type Zone struct {
	Name    string
	polygon geom.Polygon
}

// NewZone builds a rectangular zone from its world-coordinate bounds.
// Degenerate bounds (zero-width or zero-height rectangles) are rejected.
func NewZone(name string, minX, maxX, minY, maxY float64) (Zone, error) {
	flat := []float64{
		minX, minY,
		maxX, minY,
		maxX, maxY,
		minX, maxY,
		minX, minY,
	}
	ring, err := geom.NewLineString(geom.NewSequence(flat, geom.DimXY))
	if err != nil {
		return Zone{}, fmt.Errorf("zone %q ring: %w", name, err)
	}
	polygon, err := geom.NewPolygon([]geom.LineString{ring})
	if err != nil {
		return Zone{}, fmt.Errorf("zone %q polygon: %w", name, err)
	}
	return Zone{Name: name, polygon: polygon}, nil
}

// Contains reports whether the position lies inside the zone. Elevation
// is ignored.
func (z Zone) Contains(p model.Position3D) bool {
	pt, err := geom.NewPoint(geom.Coordinates{
		XY:   geom.XY{X: p.X, Y: p.Y},
		Type: geom.DimXY,
	})
	if err != nil {
		return false
	}
	return geom.Intersects(z.polygon.AsGeometry(), pt.AsGeometry())
}

// ZoneSet is the static collection of exemption zones, read-only at runtime.
type ZoneSet []Zone

// ZonesFromConfig builds the zone set from configuration entries. A single
// malformed entry fails the whole set so bad config is caught at startup.
func ZonesFromConfig(cfgs []config.ZoneConfig) (ZoneSet, error) {
	zones := make(ZoneSet, 0, len(cfgs))
	for _, c := range cfgs {
		z, err := NewZone(c.Name, c.MinX, c.MaxX, c.MinY, c.MaxY)
		if err != nil {
			return nil, err
		}
		zones = append(zones, z)
	}
	return zones, nil
}

// ContainsAny reports whether any zone contains the position.
func (zs ZoneSet) ContainsAny(p model.Position3D) bool {
	for _, z := range zs {
		if z.Contains(p) {
			return true
		}
	}
	return false
}

// NearAnyGarage reports whether the position lies within radius of any
// garage, by planar distance.
func NearAnyGarage(p model.Position3D, garages []model.Garage, radius float64) bool {
	for _, g := range garages {
		if p.DistanceXY(g.Location) <= radius {
			return true
		}
	}
	return false
}
