package risk

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

type staticHistory []SessionContext

func (h staticHistory) SessionContexts(context.Context, string) ([]SessionContext, error) {
	return h, nil
}

type failingHistory struct{}

func (failingHistory) SessionContexts(context.Context, string) ([]SessionContext, error) {
	return nil, errors.New("store down")
}

type resolverFunc func(ctx context.Context, ip string) (Location, error)

func (f resolverFunc) Resolve(ctx context.Context, ip string) (Location, error) { return f(ctx, ip) }

func mustEngine(t *testing.T, cfg Config, h HistorySource, geo GeoResolver) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, h, geo)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func TestThresholds_Boundaries(t *testing.T) {
	th := DefaultConfig().Thresholds

	cases := []struct {
		score int
		want  Action
	}{
		{0, ActionAllow},
		{th.SoftChallenge - 1, ActionAllow},
		{th.SoftChallenge, ActionSoftChallenge},
		{th.SoftChallenge + 1, ActionSoftChallenge},
		{th.StepUp - 1, ActionSoftChallenge},
		{th.StepUp, ActionStepUp},
		{th.StepUp + 1, ActionStepUp},
		{th.Block - 1, ActionStepUp},
		{th.Block, ActionBlock},
		{th.Block + 1, ActionBlock},
		{1000, ActionBlock},
	}
	for _, tc := range cases {
		if got := th.Decide(tc.score); got != tc.want {
			t.Fatalf("Decide(%d) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestScore_Table(t *testing.T) {
	cfg := DefaultConfig()

	cases := []struct {
		name    string
		signals Signals
		score   int
		factors []string
	}{
		{
			name:    "known device, known country",
			signals: Signals{KnownDevice: true, Country: CountryKnown},
			score:   0,
			factors: []string{FactorKnownDevice},
		},
		{
			name:    "new device, first seen country",
			signals: Signals{Country: CountryFirstSeen},
			score:   20,
			factors: []string{FactorNewDevice, FactorNewCountry},
		},
		{
			name:    "new device, changed country",
			signals: Signals{Country: CountryChanged},
			score:   35,
			factors: []string{FactorNewDevice, FactorNewCountry},
		},
		{
			name:    "unresolved country",
			signals: Signals{KnownDevice: true, Country: CountryUnresolved},
			score:   0,
			factors: []string{FactorKnownDevice, FactorNewCountry},
		},
		{
			name:    "reuse dominates",
			signals: Signals{TokenReuse: true, KnownDevice: true, Country: CountryKnown},
			score:   90,
			factors: []string{FactorTokenReuse, FactorKnownDevice},
		},
		{
			name:    "datacenter origin",
			signals: Signals{Country: CountryChanged, Datacenter: true},
			score:   60,
			factors: []string{FactorNewDevice, FactorNewCountry, FactorDatacenter},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			score, factors := Score(cfg, tc.signals)
			if score != tc.score {
				t.Fatalf("score = %d, want %d", score, tc.score)
			}
			if !reflect.DeepEqual(factors, tc.factors) {
				t.Fatalf("factors = %v, want %v", factors, tc.factors)
			}
		})
	}
}

func TestScore_ClampsAtZero(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Weights.KnownDeviceBonus = 50

	score, _ := Score(cfg, Signals{KnownDevice: true, Country: CountryKnown})
	if score != 0 {
		t.Fatalf("expected clamp to 0, got %d", score)
	}
}

func TestConfig_Validate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	bad := []func(*Config){
		func(c *Config) { c.Thresholds.StepUp = c.Thresholds.SoftChallenge },
		func(c *Config) { c.Thresholds.Block = 10 },
		func(c *Config) { c.Thresholds.SoftChallenge = 0 },
		func(c *Config) { c.Weights.NewDevicePenalty = -1 },
	}
	for i, mut := range bad {
		cfg := DefaultConfig()
		mut(&cfg)
		if err := cfg.Validate(); !errors.Is(err, ErrConfig) {
			t.Fatalf("case %d: expected ErrConfig, got %v", i, err)
		}
	}
}

// A first login from an unseen browser is flagged but not blocked.
func TestEngine_NewDeviceLogin(t *testing.T) {
	geo, err := ParseStaticTable("203.0.113.0/24=DE")
	if err != nil {
		t.Fatalf("ParseStaticTable: %v", err)
	}
	e := mustEngine(t, DefaultConfig(), staticHistory{{UserAgent: "Firefox/120", Country: "DE"}}, geo)

	res, err := e.Evaluate(context.Background(), Input{
		PrincipalID: "p1",
		IP:          "203.0.113.9",
		UserAgent:   "Safari/17",
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !res.Has(FactorNewDevice) {
		t.Fatalf("expected NEW_DEVICE, got %v", res.Factors)
	}
	if res.Action == ActionBlock {
		t.Fatalf("new device alone must not block (score %d)", res.Score)
	}
	if res.Country != "DE" || res.Has(FactorNewCountry) {
		t.Fatalf("expected known country DE, got %q %v", res.Country, res.Factors)
	}
}

func TestEngine_KnownDeviceAndCountryHint(t *testing.T) {
	e := mustEngine(t, DefaultConfig(), staticHistory{{UserAgent: "Firefox/120", Country: "FR"}}, nil)

	res, err := e.Evaluate(context.Background(), Input{
		PrincipalID: "p1",
		IP:          "198.51.100.1",
		UserAgent:   "  Firefox/120 ",
		CountryHint: "fr",
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Action != ActionAllow || res.Score != 0 {
		t.Fatalf("expected ALLOW/0, got %s/%d", res.Action, res.Score)
	}
	if !reflect.DeepEqual(res.Factors, []string{FactorKnownDevice}) {
		t.Fatalf("unexpected factors %v", res.Factors)
	}
}

func TestEngine_ReuseBlocks(t *testing.T) {
	e := mustEngine(t, DefaultConfig(), staticHistory{{UserAgent: "Firefox/120"}}, nil)

	res, err := e.Evaluate(context.Background(), Input{
		PrincipalID:        "p1",
		UserAgent:          "Firefox/120",
		TokenReuseDetected: true,
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Action != ActionBlock || !res.Has(FactorTokenReuse) {
		t.Fatalf("expected BLOCK with TOKEN_REUSE, got %s %v", res.Action, res.Factors)
	}
}

// Raising the new-device weight turns a UA change into a step-up.
func TestEngine_CustomWeightsStepUp(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Weights.NewDevicePenalty = 60
	e := mustEngine(t, cfg, staticHistory{{UserAgent: "Firefox/120"}}, nil)

	res, err := e.Evaluate(context.Background(), Input{PrincipalID: "p1", UserAgent: "curl/8"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Action != ActionStepUp {
		t.Fatalf("expected STEP_UP, got %s (score %d)", res.Action, res.Score)
	}
}

func TestEngine_ResolverFailures(t *testing.T) {
	failing := resolverFunc(func(context.Context, string) (Location, error) {
		return Location{}, errors.New("geo down")
	})
	e := mustEngine(t, DefaultConfig(), staticHistory{}, failing)

	res, err := e.Evaluate(context.Background(), Input{PrincipalID: "p1", UserAgent: "x"})
	if err != nil {
		t.Fatalf("resolver errors must degrade, got %v", err)
	}
	if !res.Has(FactorNewCountry) || res.Country != "" {
		t.Fatalf("expected unresolved country, got %q %v", res.Country, res.Factors)
	}

	timeout := resolverFunc(func(context.Context, string) (Location, error) {
		return Location{}, context.DeadlineExceeded
	})
	e = mustEngine(t, DefaultConfig(), staticHistory{}, timeout)
	if _, err := e.Evaluate(context.Background(), Input{PrincipalID: "p1"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}

	e = mustEngine(t, DefaultConfig(), failingHistory{}, nil)
	if _, err := e.Evaluate(context.Background(), Input{PrincipalID: "p1"}); err == nil {
		t.Fatalf("expected history error")
	}
}

func TestStaticResolver(t *testing.T) {
	r, err := ParseStaticTable("203.0.113.0/24=NL, 203.0.113.128/25=us:dc, 2001:db8::/32=JP, 198.51.100.0/24=:dc")
	if err != nil {
		t.Fatalf("ParseStaticTable: %v", err)
	}
	if r.Len() != 4 {
		t.Fatalf("expected 4 entries, got %d", r.Len())
	}

	cases := map[string]Location{
		"203.0.113.5":        {Country: "NL"},
		"203.0.113.200":      {Country: "US", Datacenter: true},
		"2001:db8::42":       {Country: "JP"},
		"::ffff:203.0.113.5": {Country: "NL"},
		"198.51.100.3":       {Datacenter: true},
		"192.0.2.1":          {},
		"garbage":            {},
	}
	for ip, want := range cases {
		got, err := r.Resolve(context.Background(), ip)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", ip, err)
		}
		if got != want {
			t.Fatalf("Resolve(%q) = %+v, want %+v", ip, got, want)
		}
	}

	// Host bits in a table entry are masked off.
	loose, err := ParseStaticTable("203.0.113.77/24=DE")
	if err != nil {
		t.Fatalf("ParseStaticTable: %v", err)
	}
	if got, _ := loose.Resolve(context.Background(), "203.0.113.1"); got.Country != "DE" {
		t.Fatalf("masked entry did not match: %+v", got)
	}

	for _, bad := range []string{"10.0.0.0/8", "nope=US", "10.0.0.0/8=USA", "10.0.0.0/8=US:vpn"} {
		if _, err := ParseStaticTable(bad); !errors.Is(err, ErrConfig) {
			t.Fatalf("ParseStaticTable(%q): expected ErrConfig, got %v", bad, err)
		}
	}
}
