package prober

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	"gopkg.in/yaml.v3"
)

const unlimitedLiteral = "unlimited"

// Limit is a requests-per-day ceiling: either a finite count or unlimited.
// The zero value is Finite(0), which no policy accepts.
type Limit struct {
	unlimited bool
	n         int
}

func Finite(n int) Limit { return Limit{n: n} }

func Unlimited() Limit { return Limit{unlimited: true} }

func (l Limit) IsUnlimited() bool { return l.unlimited }

// Value returns the ceiling and true for finite limits.
func (l Limit) Value() (int, bool) {
	if l.unlimited {
		return 0, false
	}
	return l.n, true
}

func (l Limit) String() string {
	if l.unlimited {
		return unlimitedLiteral
	}
	return strconv.Itoa(l.n)
}

func (l Limit) MarshalJSON() ([]byte, error) {
	if l.unlimited {
		return json.Marshal(unlimitedLiteral)
	}
	return json.Marshal(l.n)
}

func (l *Limit) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*l = Finite(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.Errorf("requests_per_day must be an integer or %q, got %s", unlimitedLiteral, data)
	}
	return l.parse(s)
}

func (l Limit) MarshalYAML() (any, error) {
	if l.unlimited {
		return unlimitedLiteral, nil
	}
	return l.n, nil
}

func (l *Limit) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return errors.Errorf("line %d: requests_per_day must be a scalar", node.Line)
	}
	return l.parse(node.Value)
}

// ParseLimit reads a decimal count or "unlimited" in any case.
func ParseLimit(s string) (Limit, error) {
	var l Limit
	err := l.parse(s)
	return l, err
}

func (l *Limit) parse(s string) error {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, unlimitedLiteral) {
		*l = Unlimited()
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return errors.Errorf("requests_per_day must be an integer or %q, got %q", unlimitedLiteral, s)
	}
	*l = Finite(n)
	return nil
}

// TierPolicy is the declared request allowance of one account tier.
type TierPolicy struct {
	Name           string `json:"name" yaml:"name" validate:"required"`
	RequestsPerDay Limit  `json:"requests_per_day" yaml:"requests_per_day"`
	// CredentialRef names the environment variable holding the tier's API key.
	CredentialRef string `json:"credential_env" yaml:"credential_env" validate:"required"`
	// Requirement describes what an account does to reach the tier.
	Requirement string `json:"requirement,omitempty" yaml:"requirement,omitempty"`
	GPU         bool   `json:"gpu,omitempty" yaml:"gpu,omitempty"`
	CPU         bool   `json:"cpu,omitempty" yaml:"cpu,omitempty"`
	// ProbeVolume overrides UNLIMITED_PROBE_VOLUME for unlimited tiers.
	ProbeVolume int `json:"probe_volume,omitempty" yaml:"probe_volume,omitempty" validate:"gte=0"`
	// Concurrency overrides the default concurrency for this tier's batches.
	Concurrency *ConcurrencyConfig `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`
}

// Validate checks the policy can be probed.
func (p TierPolicy) Validate() error {
	if err := structValidator.Struct(p); err != nil {
		return errors.Wrapf(ErrInvalidPolicy, "tier %q: %v", p.Name, err)
	}
	if n, ok := p.RequestsPerDay.Value(); ok && n < 1 {
		return errors.Wrapf(ErrInvalidPolicy, "tier %q: requests_per_day must be at least 1, got %d", p.Name, n)
	}
	if p.Concurrency != nil {
		if err := p.Concurrency.Validate(); err != nil {
			return errors.Wrapf(ErrInvalidPolicy, "tier %q: %v", p.Name, err)
		}
	}
	return nil
}

// ConcurrencyOr returns the tier's own concurrency or fallback.
func (p TierPolicy) ConcurrencyOr(fallback ConcurrencyConfig) ConcurrencyConfig {
	if p.Concurrency != nil {
		return *p.Concurrency
	}
	return fallback
}

// DefaultTiers is the published tier table.
func DefaultTiers() []TierPolicy {
	heavy := func(n int) *ConcurrencyConfig {
		return &ConcurrencyConfig{MaxConcurrent: n, PacingDelay: time.Second}
	}
	return []TierPolicy{
		{Name: "Engineer Tier 1", RequestsPerDay: Finite(200), CredentialRef: "ENGINEER_TIER_1", Requirement: "Sign Up"},
		{Name: "Engineer Tier 2", RequestsPerDay: Finite(1000), CredentialRef: "ENGINEER_TIER_2", Requirement: "Add Credit Card", CPU: true},
		{Name: "Engineer Tier 3", RequestsPerDay: Finite(2000), CredentialRef: "ENGINEER_TIER_3", Requirement: "Deposit $10", GPU: true, CPU: true, Concurrency: heavy(100)},
		{Name: "Expert Tier 1", RequestsPerDay: Unlimited(), CredentialRef: "EXPERT_TIER_1", Requirement: "Spend $30", GPU: true, CPU: true, ProbeVolume: 3000, Concurrency: heavy(100)},
		{Name: "Expert Tier 2", RequestsPerDay: Unlimited(), CredentialRef: "EXPERT_TIER_2", Requirement: "Spend $50", GPU: true, CPU: true, ProbeVolume: 3500, Concurrency: heavy(200)},
	}
}

type tierFile struct {
	Tiers []TierPolicy `yaml:"tiers"`
}

// LoadTiers reads a tier table from a YAML document. JSON files parse the same way.
// The document is either a list of tiers or an object with a "tiers" list.
func LoadTiers(path string) ([]TierPolicy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read tiers file %s", path)
	}
	return ParseTiers(raw)
}

func ParseTiers(raw []byte) ([]TierPolicy, error) {
	var tiers []TierPolicy
	if err := yaml.Unmarshal(raw, &tiers); err != nil {
		var doc tierFile
		if derr := yaml.Unmarshal(raw, &doc); derr != nil {
			return nil, errors.Wrap(derr, "parse tiers")
		}
		tiers = doc.Tiers
	}
	if len(tiers) == 0 {
		return nil, errors.New("tiers file declares no tiers")
	}

	seen := make(map[string]struct{}, len(tiers))
	for _, t := range tiers {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		key := strings.ToLower(t.Name)
		if _, dup := seen[key]; dup {
			return nil, errors.Errorf("duplicate tier %q", t.Name)
		}
		seen[key] = struct{}{}
	}
	return tiers, nil
}

// SelectTiers keeps the tiers named in names, in table order. Matching ignores case.
// An empty names list selects everything.
func SelectTiers(all []TierPolicy, names []string) ([]TierPolicy, error) {
	if len(names) == 0 {
		return all, nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[strings.ToLower(strings.TrimSpace(n))] = false
	}

	var out []TierPolicy
	for _, t := range all {
		key := strings.ToLower(t.Name)
		if _, ok := want[key]; ok {
			want[key] = true
			out = append(out, t)
		}
	}
	for _, n := range names {
		if !want[strings.ToLower(strings.TrimSpace(n))] {
			return nil, errors.Errorf("unknown tier %q", n)
		}
	}
	return out, nil
}
