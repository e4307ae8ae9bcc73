package domain

// FeatureSet holds the optional behaviours resolved once at startup.
// A disabled feature makes the dependent operations return ErrNotSupported
// or do nothing, never undefined behaviour.
type FeatureSet struct {
	MLO11be   bool `json:"mlo_11be" yaml:"mlo_11be"`
	MultiChip bool `json:"multi_chip" yaml:"multi_chip"`
	NAWDS     bool `json:"nawds" yaml:"nawds"`
	Mesh      bool `json:"mesh" yaml:"mesh"`
	AuthDefer bool `json:"auth_defer" yaml:"auth_defer"`
	// T2LM enables bucketed AID allocation for TID-to-link mapping.
	T2LM bool `json:"t2lm" yaml:"t2lm"`
}

// DefaultFeatures enables 802.11be MLO and T2LM bucketing.
func DefaultFeatures() FeatureSet {
	return FeatureSet{MLO11be: true, T2LM: true}
}
