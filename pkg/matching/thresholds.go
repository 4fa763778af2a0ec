package matching

// Thresholds centralizes every tunable matching parameter. Keeping them
// named and injectable makes score changes a config decision rather than a
// code hunt.
type Thresholds struct {
	// FuzzySurface is the minimum name similarity at which a fuzzy_name
	// candidate may surface, given a corroborating signal.
	FuzzySurface float64 `yaml:"fuzzy_surface" env:"MATCH_FUZZY_SURFACE" env-default:"0.70"`

	// SharedAddressScore is the fixed score for a shared-context-only match,
	// deliberately below the fuzzy_name band.
	SharedAddressScore float64 `yaml:"shared_address_score" env:"MATCH_SHARED_ADDRESS_SCORE" env-default:"0.45"`

	// ResurfaceDelta is how much a previously dismissed pair's score must
	// increase before the generator surfaces it again.
	ResurfaceDelta float64 `yaml:"resurface_delta" env:"MATCH_RESURFACE_DELTA" env-default:"0.10"`

	// MinNameLength skips degenerate display names entirely.
	MinNameLength int `yaml:"min_name_length" env:"MATCH_MIN_NAME_LENGTH" env-default:"2"`
}

// DefaultThresholds returns the tuned defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		FuzzySurface:       0.70,
		SharedAddressScore: 0.45,
		ResurfaceDelta:     0.10,
		MinNameLength:      2,
	}
}
