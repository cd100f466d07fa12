// internal/configsvc/resolver.go
package configsvc

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"roost/internal/models"
)

// Resolved — one answer from Resolve. Payload and ContentHash always come
// from the same stored row; the hash is never recomputed at read time, so
// a concurrent activation cannot pair an old payload with a new hash.
type Resolved struct {
	Payload     string
	ContentHash string
	Scope       string
	Target      string
	Version     int
}

// Resolve walks the precedence chain: device-specific, then type-specific,
// then fleet fallback. ok=false means nothing applies anywhere, which is a
// normal outcome for a fresh fleet.
func (s *Service) Resolve(deviceID, deviceType string) (Resolved, bool, error) {
	lookups := []struct{ scope, target string }{
		{models.ScopeDevice, deviceID},
		{models.ScopeType, deviceType},
		{models.ScopeFallback, ""},
	}
	for _, l := range lookups {
		if l.scope != models.ScopeFallback && l.target == "" {
			continue
		}
		t, err := s.store.FindActive(l.scope, l.target)
		if err != nil {
			return Resolved{}, false, err
		}
		if t != nil {
			return Resolved{
				Payload:     t.Payload,
				ContentHash: t.ContentHash,
				Scope:       t.Scope,
				Target:      t.Target,
				Version:     t.Version,
			}, true, nil
		}
	}
	return Resolved{}, false, nil
}

// Canonicalize parses the payload and re-marshals it with sorted object
// keys, then hashes the result. Two payloads that differ only in key
// order or whitespace get the same hash.
func Canonicalize(payload []byte) (canonical string, contentHash string, err error) {
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return "", "", err
	}
	// encoding/json sorts map keys on marshal
	b, err := json.Marshal(v)
	if err != nil {
		return "", "", err
	}
	sum := sha256.Sum256(b)
	return string(b), hex.EncodeToString(sum[:]), nil
}
