// internal/registry/metaschema/schema.go
package metaschema

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
)

type KeyType string

const (
	TString KeyType = "string"
	TInt    KeyType = "int"
	TIPv4   KeyType = "ipv4"
	TMAC    KeyType = "mac"
	TSemver KeyType = "semver"
)

// KeyDef — one well-known metadata key. Normalize cleans a valid value;
// an error means "leave the raw value alone", never "reject the device".
type KeyDef struct {
	Key       string
	Type      KeyType
	Example   string
	Normalize func(string) (string, error)
}

/* ——— normalizers ——— */

var (
	reHostname = regexp.MustCompile(`^(?i:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?)(?:\.(?i:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?))*$`)
	reSemver   = regexp.MustCompile(`^v?\d+\.\d+(?:\.\d+)?(?:[-+][0-9A-Za-z.\-]+)?$`)
)

func normHostname(v string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(v))
	if s == "" || len(s) > 253 || !reHostname.MatchString(s) {
		return "", fmt.Errorf("invalid hostname")
	}
	return s, nil
}

func normIPv4(v string) (string, error) {
	ip := net.ParseIP(strings.TrimSpace(v))
	if ip == nil || ip.To4() == nil {
		return "", errors.New("invalid ipv4")
	}
	return ip.To4().String(), nil
}

func normMAC(v string) (string, error) {
	hw, err := net.ParseMAC(strings.TrimSpace(v))
	if err != nil {
		return "", err
	}
	return strings.ToLower(hw.String()), nil
}

func normSemverish(v string) (string, error) {
	s := strings.TrimSpace(v)
	if !reSemver.MatchString(s) {
		return "", errors.New("not a version string")
	}
	return strings.TrimPrefix(s, "v"), nil
}

func normInt(min, max int) func(string) (string, error) {
	return func(v string) (string, error) {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return "", err
		}
		if n < min || n > max {
			return "", fmt.Errorf("int out of range [%d..%d]", min, max)
		}
		return strconv.Itoa(n), nil
	}
}

func pass(v string) (string, error) { return strings.TrimSpace(v), nil }

/* ——— catalog ——— */

// Catalog lists keys devices commonly report. Anything outside it is
// stored opaque, exactly as sent.
var Catalog = []KeyDef{
	{Key: "hostname", Type: TString, Example: "garden-node-01", Normalize: normHostname},
	{Key: "firmware_version", Type: TSemver, Example: "2.1.0", Normalize: normSemverish},
	{Key: "hardware_revision", Type: TString, Example: "rev-c", Normalize: pass},
	{Key: "ip_address", Type: TIPv4, Example: "10.20.0.14", Normalize: normIPv4},
	{Key: "mac_address", Type: TMAC, Example: "aa:bb:cc:dd:ee:ff", Normalize: normMAC},
	{Key: "battery_percent", Type: TInt, Example: "87", Normalize: normInt(0, 100)},
	{Key: "rssi_dbm", Type: TInt, Example: "-67", Normalize: normInt(-120, 0)},
	{Key: "location", Type: TString, Example: "greenhouse-2", Normalize: pass},
}

/* ——— registry ——— */

var byKey map[string]KeyDef

func init() {
	byKey = make(map[string]KeyDef, len(Catalog))
	for _, d := range Catalog {
		byKey[d.Key] = d
	}
}

func Def(key string) (KeyDef, bool) { d, ok := byKey[key]; return d, ok }

// NormalizeOne cleans a single known key. Unknown key or invalid value
// returns the input unchanged.
func NormalizeOne(key string, value any) any {
	def, ok := byKey[key]
	if !ok {
		return value
	}
	s, ok := value.(string)
	if !ok {
		// ints arrive as float64 from JSON; stringify for int-typed keys
		if def.Type == TInt {
			if f, isNum := value.(float64); isNum {
				s = strconv.Itoa(int(f))
			} else {
				return value
			}
		} else {
			return value
		}
	}
	if norm, err := def.Normalize(s); err == nil {
		return norm
	}
	return value
}

// Normalize cleans every known key in a metadata object. Never drops keys.
func Normalize(meta map[string]any) map[string]any {
	if len(meta) == 0 {
		return meta
	}
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		out[k] = NormalizeOne(k, v)
	}
	return out
}
