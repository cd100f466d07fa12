package metaschema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestNormalizeOne_KnownKeys tests canonical forms for the catalog keys.
func TestNormalizeOne_KnownKeys(t *testing.T) {
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", NormalizeOne("mac_address", "AA-BB-CC-DD-EE-FF"))
	assert.Equal(t, "10.20.0.14", NormalizeOne("ip_address", " 10.20.0.14 "))
	assert.Equal(t, "garden-node-01", NormalizeOne("hostname", "Garden-Node-01"))
	assert.Equal(t, "2.1.0", NormalizeOne("firmware_version", "v2.1.0"))
	assert.Equal(t, "87", NormalizeOne("battery_percent", "87"))
}

// TestNormalizeOne_InvalidValueKeptVerbatim tests that a value the
// normalizer rejects is stored exactly as sent, never dropped.
func TestNormalizeOne_InvalidValueKeptVerbatim(t *testing.T) {
	assert.Equal(t, "not-an-ip", NormalizeOne("ip_address", "not-an-ip"))
	assert.Equal(t, "150", NormalizeOne("battery_percent", "150"))
	assert.Equal(t, "??", NormalizeOne("mac_address", "??"))
}

// TestNormalizeOne_UnknownKeyOpaque tests that keys outside the catalog
// pass through untouched.
func TestNormalizeOne_UnknownKeyOpaque(t *testing.T) {
	assert.Equal(t, "  raw  ", NormalizeOne("custom_field", "  raw  "))
	assert.Equal(t, 42.5, NormalizeOne("custom_number", 42.5))
}

// TestNormalizeOne_JSONNumbers tests that int-typed keys accept the
// float64 values JSON decoding produces.
func TestNormalizeOne_JSONNumbers(t *testing.T) {
	assert.Equal(t, "87", NormalizeOne("battery_percent", float64(87)))
	assert.Equal(t, "-67", NormalizeOne("rssi_dbm", float64(-67)))
	// non-numeric value for an int key stays opaque
	assert.Equal(t, true, NormalizeOne("battery_percent", true))
}

// TestNormalize_NeverDropsKeys tests map-level normalization.
func TestNormalize_NeverDropsKeys(t *testing.T) {
	in := map[string]any{
		"mac_address": "AA:BB:CC:DD:EE:FF",
		"hostname":    "Greenhouse-2",
		"vendor_blob": map[string]any{"x": 1},
		"bogus_ip":    "999.999.1.1",
	}

	out := Normalize(in)

	assert.Len(t, out, len(in))
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", out["mac_address"])
	assert.Equal(t, "greenhouse-2", out["hostname"])
	assert.Equal(t, in["vendor_blob"], out["vendor_blob"])
	assert.Equal(t, "999.999.1.1", out["bogus_ip"])
}
