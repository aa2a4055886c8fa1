package risk

// Action is the decision derived from a score.
type Action string

const (
	ActionAllow         Action = "ALLOW"
	ActionSoftChallenge Action = "SOFT_CHALLENGE"
	ActionStepUp        Action = "STEP_UP"
	ActionBlock         Action = "BLOCK"
)

// Challenge reports whether the action asks for an additional proof.
func (a Action) Challenge() bool {
	return a == ActionSoftChallenge || a == ActionStepUp
}

// Factor names, in the order they are evaluated.
const (
	FactorTokenReuse  = "TOKEN_REUSE"
	FactorKnownDevice = "KNOWN_DEVICE"
	FactorNewDevice   = "NEW_DEVICE"
	FactorNewCountry  = "NEW_COUNTRY"
	FactorDatacenter  = "DATACENTER_ORIGIN"
)

// CountryStatus classifies the request country against the principal's history.
type CountryStatus int

const (
	// CountryKnown: resolved and previously seen.
	CountryKnown CountryStatus = iota
	// CountryFirstSeen: resolved, but the principal has no country history yet.
	CountryFirstSeen
	// CountryChanged: resolved and absent from a non-empty history.
	CountryChanged
	// CountryUnresolved: no resolver verdict and no trusted hint.
	CountryUnresolved
)

// Signals are the facts the engine scores.
type Signals struct {
	TokenReuse  bool
	KnownDevice bool
	Country     CountryStatus
	Datacenter  bool
}

// Result is the engine output.
type Result struct {
	Score   int
	Action  Action
	Factors []string
	Country string
}

// Has reports whether factor contributed to the result.
func (r Result) Has(factor string) bool {
	for _, f := range r.Factors {
		if f == factor {
			return true
		}
	}
	return false
}

// Score computes the clamped score and ordered factors for s.
func Score(cfg Config, s Signals) (int, []string) {
	w := cfg.Weights
	score := 0
	factors := make([]string, 0, 4)

	if s.TokenReuse {
		score += w.TokenReusePenalty
		factors = append(factors, FactorTokenReuse)
	}

	if s.KnownDevice {
		score -= w.KnownDeviceBonus
		factors = append(factors, FactorKnownDevice)
	} else {
		score += w.NewDevicePenalty
		factors = append(factors, FactorNewDevice)
	}

	switch s.Country {
	case CountryKnown:
	case CountryFirstSeen:
		factors = append(factors, FactorNewCountry)
	case CountryChanged:
		score += w.NewCountryPenalty
		factors = append(factors, FactorNewCountry)
	case CountryUnresolved:
		score += w.UnresolvedCountryPenalty
		factors = append(factors, FactorNewCountry)
	}

	if s.Datacenter {
		score += w.DatacenterPenalty
		factors = append(factors, FactorDatacenter)
	}

	if score < 0 {
		score = 0
	}
	return score, factors
}
