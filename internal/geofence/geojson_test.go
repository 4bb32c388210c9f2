package geofence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/safewatch/internal/model"
)

const zonesGeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {
      "type": "Feature",
      "id": "cp",
      "geometry": {"type": "Point", "coordinates": [77.2090, 28.6139]},
      "properties": {"name": "Connaught Place", "radius_meters": 500, "alert_threshold": 0.7}
    },
    {
      "type": "Feature",
      "geometry": {"type": "Point", "coordinates": [77.2295, 28.6129]},
      "properties": {"id": "ig", "name": "India Gate", "radius_meters": 300, "is_active": false}
    }
  ]
}`

func TestParseZonesGeoJSON(t *testing.T) {
	t.Parallel()
	zones, err := ParseZonesGeoJSON([]byte(zonesGeoJSON))
	require.NoError(t, err)
	require.Len(t, zones, 2)

	assert.Equal(t, "cp", zones[0].ID)
	assert.InDelta(t, 28.6139, zones[0].Center.Lat, 1e-9)
	assert.InDelta(t, 77.2090, zones[0].Center.Lng, 1e-9)
	assert.InDelta(t, 500, zones[0].RadiusMeters, 0)
	assert.InDelta(t, 0.7, zones[0].AlertThreshold, 1e-9)
	assert.True(t, zones[0].IsActive)

	assert.Equal(t, "ig", zones[1].ID)
	assert.False(t, zones[1].IsActive)
}

func TestParseZonesGeoJSON_Rejects(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"not json":       `{`,
		"polygon":        `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]},"properties":{"radius_meters":5}}]}`,
		"missing radius": `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"Point","coordinates":[77,28]},"properties":{}}]}`,
		"bad coordinate": `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"Point","coordinates":[200,95]},"properties":{"radius_meters":5}}]}`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseZonesGeoJSON([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestZonesGeoJSON_RoundTrip(t *testing.T) {
	t.Parallel()
	in := []model.SafeZone{zoneA, zoneB}
	data, err := ZonesToGeoJSON(in)
	require.NoError(t, err)

	out, err := ParseZonesGeoJSON(data)
	require.NoError(t, err)
	require.Len(t, out, 2)
	for i := range in {
		assert.Equal(t, in[i].ID, out[i].ID)
		assert.Equal(t, in[i].Name, out[i].Name)
		assert.InDelta(t, in[i].Center.Lat, out[i].Center.Lat, 1e-9)
		assert.InDelta(t, in[i].RadiusMeters, out[i].RadiusMeters, 0)
	}
}

func TestLoadZonesGeoJSON_SeedsEvaluator(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "zones.geojson")
	require.NoError(t, os.WriteFile(path, []byte(zonesGeoJSON), 0o644))

	zones, err := LoadZonesGeoJSON(path)
	require.NoError(t, err)

	e := NewEvaluator(directCaller{}, &fakeBackend{})
	e.SetZones(zones)
	assert.True(t, e.Evaluate(at(28.6139, 77.2090)).WithinAnyZone)
	assert.False(t, e.Evaluate(at(28.6129, 77.2295)).WithinAnyZone, "inactive zone")
}
