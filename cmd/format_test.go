package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/safewatch/internal/model"
	"github.com/sells-group/safewatch/pkg/geo"
)

func TestFormatContacts(t *testing.T) {
	var buf bytes.Buffer
	formatContacts(&buf, []model.EmergencyContact{
		{ID: "c1", Name: "Ravi", Phone: "+919876543210", Relationship: "brother", IsActive: true, IsPrimary: true},
		{ID: "local-1", Name: "A very long contact name that overflows", Phone: "+919812345678"},
	})

	out := buf.String()
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "PHONE")
	assert.Contains(t, out, "+919876543210")
	assert.Contains(t, out, "brother")
	assert.Contains(t, out, "A very long contact name th...")
	assert.Contains(t, out, "local-1")
}

func TestFormatZones(t *testing.T) {
	var buf bytes.Buffer
	formatZones(&buf, []model.SafeZone{
		{ID: "z1", Name: "Hotel", Center: geo.Point{Lat: 28.6139, Lng: 77.209}, RadiusMeters: 500, IsActive: true},
	})

	out := buf.String()
	assert.Contains(t, out, "RADIUS_M")
	assert.Contains(t, out, "28.61390,77.20900")
	assert.Contains(t, out, "500")
	assert.Contains(t, out, "yes")
}

func TestPrintSafety(t *testing.T) {
	var buf bytes.Buffer
	printSafety(&buf, "local", model.SafetyStatus{})
	assert.Equal(t, "local: outside all safe zones\n", buf.String())

	buf.Reset()
	printSafety(&buf, "server", model.SafetyStatus{
		WithinAnyZone: true,
		ActiveZones:   []model.SafeZone{{Name: "Hotel"}, {Name: "Museum"}},
	})
	assert.Equal(t, "server: inside Hotel, Museum\n", buf.String())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
