package configsvc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roost/internal/models"
)

// TestCanonicalize_KeyOrderIrrelevant tests that key order and whitespace
// do not change the content hash.
func TestCanonicalize_KeyOrderIrrelevant(t *testing.T) {
	a := []byte(`{"polling_interval": 30, "mode": "normal"}`)
	b := []byte(`{
		"mode":             "normal",
		"polling_interval": 30
	}`)

	ca, ha, err := Canonicalize(a)
	require.NoError(t, err)
	cb, hb, err := Canonicalize(b)
	require.NoError(t, err)

	assert.Equal(t, ca, cb)
	assert.Equal(t, ha, hb)
	assert.Len(t, ha, 64, "sha256 hex")
}

// TestCanonicalize_ValueChangesHash tests that a changed value changes
// the hash.
func TestCanonicalize_ValueChangesHash(t *testing.T) {
	_, h1, err := Canonicalize([]byte(`{"mode": "normal"}`))
	require.NoError(t, err)
	_, h2, err := Canonicalize([]byte(`{"mode": "degraded"}`))
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

// TestActivate_UpsertsByKey tests that re-activation supersedes in place
// and bumps the version.
func TestActivate_UpsertsByKey(t *testing.T) {
	// Setup
	svc := NewService(NewMemStore())

	// Execute
	v1, err := svc.Activate(models.ScopeDevice, "node-1", "first", json.RawMessage(`{"a": 1}`))
	require.NoError(t, err)
	v2, err := svc.Activate(models.ScopeDevice, "node-1", "second", json.RawMessage(`{"a": 2}`))
	require.NoError(t, err)

	// Assert
	assert.Equal(t, 1, v1.Version)
	assert.Equal(t, 2, v2.Version)
	assert.NotEqual(t, v1.ContentHash, v2.ContentHash)

	all, err := svc.List()
	require.NoError(t, err)
	assert.Len(t, all, 1, "no history rows")
}

// TestActivate_Validation tests scope/target/payload validation.
func TestActivate_Validation(t *testing.T) {
	svc := NewService(NewMemStore())

	_, err := svc.Activate("galaxy", "x", "", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrInvalidScope)

	_, err = svc.Activate(models.ScopeDevice, "", "", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrInvalidTarget)

	_, err = svc.Activate(models.ScopeFallback, "ignored", "", json.RawMessage(`not json`))
	assert.ErrorIs(t, err, ErrInvalidPayload)

	// fallback ignores target
	tpl, err := svc.Activate(models.ScopeFallback, "ignored", "base", json.RawMessage(`{"mode": "standalone"}`))
	require.NoError(t, err)
	assert.Empty(t, tpl.Target)
}

// TestResolve_Precedence tests device > type > fallback.
func TestResolve_Precedence(t *testing.T) {
	// Setup
	svc := NewService(NewMemStore())
	_, err := svc.Activate(models.ScopeFallback, "", "base", json.RawMessage(`{"tier": "fallback"}`))
	require.NoError(t, err)
	_, err = svc.Activate(models.ScopeType, "soil-moisture", "type", json.RawMessage(`{"tier": "type"}`))
	require.NoError(t, err)
	_, err = svc.Activate(models.ScopeDevice, "node-1", "mine", json.RawMessage(`{"tier": "device"}`))
	require.NoError(t, err)

	// Execute + Assert
	res, ok, err := svc.Resolve("node-1", "soil-moisture")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.ScopeDevice, res.Scope)

	res, ok, err = svc.Resolve("node-2", "soil-moisture")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.ScopeType, res.Scope)

	res, ok, err = svc.Resolve("node-2", "relay")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.ScopeFallback, res.Scope)
}

// TestResolve_NoConfiguration tests the distinct nothing-applies outcome.
func TestResolve_NoConfiguration(t *testing.T) {
	svc := NewService(NewMemStore())

	_, ok, err := svc.Resolve("node-1", "relay")
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestResolve_Deterministic tests that identical state yields identical
// answers across repeated calls.
func TestResolve_Deterministic(t *testing.T) {
	// Setup
	svc := NewService(NewMemStore())
	_, err := svc.Activate(models.ScopeType, "relay", "r", json.RawMessage(`{"x": [1, 2, 3]}`))
	require.NoError(t, err)

	// Execute
	first, ok, err := svc.Resolve("any", "relay")
	require.NoError(t, err)
	require.True(t, ok)

	for i := 0; i < 5; i++ {
		again, ok, err := svc.Resolve("any", "relay")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, first, again)
	}
}

// TestDelete_ExposesNextTier tests that removing a device template
// uncovers the type template.
func TestDelete_ExposesNextTier(t *testing.T) {
	// Setup
	svc := NewService(NewMemStore())
	_, err := svc.Activate(models.ScopeType, "relay", "", json.RawMessage(`{"tier": "type"}`))
	require.NoError(t, err)
	_, err = svc.Activate(models.ScopeDevice, "node-1", "", json.RawMessage(`{"tier": "device"}`))
	require.NoError(t, err)

	// Execute
	require.NoError(t, svc.Delete(models.ScopeDevice, "node-1"))

	// Assert
	res, ok, err := svc.Resolve("node-1", "relay")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.ScopeType, res.Scope)

	require.NoError(t, svc.Delete(models.ScopeDevice, "node-1"), "idempotent delete")
}
