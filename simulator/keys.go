package simulator

import (
	"strconv"
	"strings"

	"github.com/Laisky/errors/v2"

	"github.com/nebulablock/rpdprobe/common"
	"github.com/nebulablock/rpdprobe/prober"
)

const failPrefix = "fail:"

// KeyPolicy is what the simulator enforces for one API key.
type KeyPolicy struct {
	Limit prober.Limit
	// FailStatus, when non-zero, is returned for every request on the key.
	FailStatus int
}

// ParseKeys reads a list such as "sk-a=200,sk-b=unlimited,sk-c=fail:500".
func ParseKeys(raw string) (map[string]KeyPolicy, error) {
	keys := make(map[string]KeyPolicy)
	for _, entry := range common.SplitList(raw) {
		key, value, ok := strings.Cut(entry, "=")
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if !ok || key == "" || value == "" {
			return nil, errors.Errorf("key entry %q must look like KEY=LIMIT", entry)
		}
		if _, dup := keys[key]; dup {
			return nil, errors.Errorf("key %q declared twice", key)
		}

		if code, found := strings.CutPrefix(strings.ToLower(value), failPrefix); found {
			status, err := strconv.Atoi(code)
			if err != nil || status < 400 || status > 599 {
				return nil, errors.Errorf("key %q: fail status must be 400-599, got %q", key, code)
			}
			keys[key] = KeyPolicy{Limit: prober.Unlimited(), FailStatus: status}
			continue
		}

		limit, err := prober.ParseLimit(value)
		if err != nil {
			return nil, errors.Wrapf(err, "key %q", key)
		}
		if n, finite := limit.Value(); finite && n < 0 {
			return nil, errors.Errorf("key %q: limit must not be negative", key)
		}
		keys[key] = KeyPolicy{Limit: limit}
	}
	return keys, nil
}
