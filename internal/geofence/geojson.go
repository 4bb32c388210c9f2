package geofence

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/safewatch/internal/model"
	"github.com/sells-group/safewatch/pkg/geo"
)

// LoadZonesGeoJSON reads zones from a GeoJSON FeatureCollection file.
func LoadZonesGeoJSON(path string) ([]model.SafeZone, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "geofence: read zones %s", path)
	}
	return ParseZonesGeoJSON(data)
}

// ParseZonesGeoJSON decodes a FeatureCollection of Point features. Each
// feature needs a positive radius_meters property; name, description,
// alert_threshold and is_active are optional.
func ParseZonesGeoJSON(data []byte) ([]model.SafeZone, error) {
	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, eris.Wrap(err, "geofence: parse geojson")
	}

	zones := make([]model.SafeZone, 0, len(fc.Features))
	for i, f := range fc.Features {
		pt, ok := f.Geometry.(*geom.Point)
		if !ok {
			return nil, eris.Errorf("geofence: feature %d: want Point geometry, got %T", i, f.Geometry)
		}
		z := model.SafeZone{
			ID:             f.ID,
			Center:         geo.Point{Lat: pt.Y(), Lng: pt.X()},
			RadiusMeters:   floatProp(f.Properties, "radius_meters", 0),
			AlertThreshold: floatProp(f.Properties, "alert_threshold", 0),
			IsActive:       boolProp(f.Properties, "is_active", true),
			Name:           stringProp(f.Properties, "name"),
			Description:    stringProp(f.Properties, "description"),
			CreatedAt:      time.Now().UTC(),
		}
		if z.ID == "" {
			z.ID = stringProp(f.Properties, "id")
		}
		if z.RadiusMeters <= 0 {
			return nil, eris.Errorf("geofence: feature %d (%s): radius_meters must be positive", i, z.ID)
		}
		if !geo.Valid(z.Center) {
			return nil, eris.Errorf("geofence: feature %d (%s): invalid coordinate", i, z.ID)
		}
		zones = append(zones, z)
	}
	return zones, nil
}

// ZonesToGeoJSON encodes zones as a FeatureCollection of points.
func ZonesToGeoJSON(zones []model.SafeZone) ([]byte, error) {
	fc := geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(zones))}
	for _, z := range zones {
		props := map[string]interface{}{
			"name":            z.Name,
			"radius_meters":   z.RadiusMeters,
			"alert_threshold": z.AlertThreshold,
			"is_active":       z.IsActive,
		}
		if z.Description != "" {
			props["description"] = z.Description
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         z.ID,
			Geometry:   geom.NewPointFlat(geom.XY, []float64{z.Center.Lng, z.Center.Lat}),
			Properties: props,
		})
	}
	out, err := json.Marshal(&fc)
	return out, eris.Wrap(err, "geofence: encode geojson")
}

func floatProp(props map[string]interface{}, key string, def float64) float64 {
	if v, ok := props[key].(float64); ok {
		return v
	}
	return def
}

func boolProp(props map[string]interface{}, key string, def bool) bool {
	if v, ok := props[key].(bool); ok {
		return v
	}
	return def
}

func stringProp(props map[string]interface{}, key string) string {
	if v, ok := props[key].(string); ok {
		return v
	}
	return ""
}
