package prober

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLimitJSON(t *testing.T) {
	var l Limit
	require.NoError(t, json.Unmarshal([]byte(`200`), &l))
	n, ok := l.Value()
	require.True(t, ok)
	require.Equal(t, 200, n)

	require.NoError(t, json.Unmarshal([]byte(`"unlimited"`), &l))
	require.True(t, l.IsUnlimited())

	require.NoError(t, json.Unmarshal([]byte(`"1000"`), &l))
	require.Equal(t, Finite(1000), l)

	require.Error(t, json.Unmarshal([]byte(`"lots"`), &l))
	require.Error(t, json.Unmarshal([]byte(`{}`), &l))

	raw, err := json.Marshal(struct {
		A Limit `json:"a"`
		B Limit `json:"b"`
	}{Finite(5), Unlimited()})
	require.NoError(t, err)
	require.JSONEq(t, `{"a":5,"b":"unlimited"}`, string(raw))
}

func TestLimitYAML(t *testing.T) {
	var doc struct {
		A Limit `yaml:"a"`
		B Limit `yaml:"b"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("a: 2000\nb: Unlimited\n"), &doc))
	require.Equal(t, Finite(2000), doc.A)
	require.True(t, doc.B.IsUnlimited())

	out, err := yaml.Marshal(doc)
	require.NoError(t, err)
	require.Contains(t, string(out), "b: unlimited")

	require.Error(t, yaml.Unmarshal([]byte("a: [1]\n"), &doc))
}

func TestParseTiers(t *testing.T) {
	t.Run("yaml list", func(t *testing.T) {
		tiers, err := ParseTiers([]byte(`
- name: Engineer Tier 1
  requests_per_day: 200
  credential_env: ENGINEER_TIER_1
- name: Expert Tier 1
  requests_per_day: unlimited
  credential_env: EXPERT_TIER_1
  probe_volume: 500
  concurrency:
    max_concurrent: 50
    pacing_delay: 1s
`))
		require.NoError(t, err)
		require.Len(t, tiers, 2)
		require.Equal(t, Finite(200), tiers[0].RequestsPerDay)
		require.True(t, tiers[1].RequestsPerDay.IsUnlimited())
		require.Equal(t, 500, tiers[1].ProbeVolume)
		require.Equal(t, &ConcurrencyConfig{MaxConcurrent: 50, PacingDelay: time.Second}, tiers[1].Concurrency)
	})

	t.Run("json object", func(t *testing.T) {
		tiers, err := ParseTiers([]byte(`{"tiers":[{"name":"T","requests_per_day":"unlimited","credential_env":"K"}]}`))
		require.NoError(t, err)
		require.Len(t, tiers, 1)
		require.True(t, tiers[0].RequestsPerDay.IsUnlimited())
	})

	t.Run("rejects bad tables", func(t *testing.T) {
		bad := map[string]string{
			"empty":           `[]`,
			"missing env":     `[{"name":"T","requests_per_day":10}]`,
			"zero ceiling":    `[{"name":"T","requests_per_day":0,"credential_env":"K"}]`,
			"duplicate":       `[{"name":"T","requests_per_day":1,"credential_env":"K"},{"name":"t","requests_per_day":2,"credential_env":"K"}]`,
			"bad concurrency": `[{"name":"T","requests_per_day":1,"credential_env":"K","concurrency":{"max_concurrent":0}}]`,
		}
		for name, raw := range bad {
			_, err := ParseTiers([]byte(raw))
			require.Error(t, err, name)
		}
	})
}

func TestLoadTiersFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiers.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tiers:\n  - name: Solo\n    requests_per_day: 3\n    credential_env: SOLO_KEY\n"), 0o600))

	tiers, err := LoadTiers(path)
	require.NoError(t, err)
	require.Equal(t, "Solo", tiers[0].Name)

	_, err = LoadTiers(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestDefaultTiers(t *testing.T) {
	tiers := DefaultTiers()
	require.Len(t, tiers, 5)
	for _, tier := range tiers {
		require.NoError(t, tier.Validate(), tier.Name)
	}

	limits := map[string]string{}
	for _, tier := range tiers {
		limits[tier.Name] = tier.RequestsPerDay.String()
	}
	require.Equal(t, map[string]string{
		"Engineer Tier 1": "200",
		"Engineer Tier 2": "1000",
		"Engineer Tier 3": "2000",
		"Expert Tier 1":   "unlimited",
		"Expert Tier 2":   "unlimited",
	}, limits)

	require.Equal(t, 200, tiers[4].ConcurrencyOr(fastConcurrency).MaxConcurrent)
	require.Equal(t, fastConcurrency, tiers[0].ConcurrencyOr(fastConcurrency))
}

func TestSelectTiers(t *testing.T) {
	all := DefaultTiers()

	got, err := SelectTiers(all, nil)
	require.NoError(t, err)
	require.Len(t, got, 5)

	got, err = SelectTiers(all, []string{"expert tier 2", " Engineer Tier 1 "})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "Engineer Tier 1", got[0].Name)
	require.Equal(t, "Expert Tier 2", got[1].Name)

	_, err = SelectTiers(all, []string{"Platinum"})
	require.Error(t, err)
}

func TestParseLimit(t *testing.T) {
	l, err := ParseLimit(" 250 ")
	require.NoError(t, err)
	n, finite := l.Value()
	require.True(t, finite)
	require.Equal(t, 250, n)

	l, err = ParseLimit("UNLIMITED")
	require.NoError(t, err)
	require.True(t, l.IsUnlimited())

	_, err = ParseLimit("a lot")
	require.Error(t, err)
}
