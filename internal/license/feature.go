package license

import "strings"

// Tier names match the issuer's "Tier:<Name>" feature strings
type Tier string

const (
	TierBasic        Tier = "Basic"
	TierProfessional Tier = "Professional"
	TierEnterprise   Tier = "Enterprise"
	TierNone         Tier = ""
)

// tierRank fixes the total order Basic < Professional < Enterprise.
// Unknown tier names rank below Basic so a typo in an issued license can
// never grant more than it names.
func tierRank(t Tier) int {
	switch {
	case strings.EqualFold(string(t), string(TierBasic)):
		return 1
	case strings.EqualFold(string(t), string(TierProfessional)):
		return 2
	case strings.EqualFold(string(t), string(TierEnterprise)):
		return 3
	default:
		return 0
	}
}

// AtLeast reports whether t grants everything min does
func (t Tier) AtLeast(min Tier) bool {
	if t == TierNone {
		return false
	}
	return tierRank(t) >= tierRank(min) && tierRank(min) > 0
}

// FeatureKind tags the parsed variant of a feature string
type FeatureKind int

const (
	FeatureTier FeatureKind = iota
	FeatureModule
	FeatureOther
)

// Feature is a license feature string parsed into its tagged form at the
// load boundary, so downstream logic branches over a closed set of cases
// instead of string-matching everywhere.
type Feature struct {
	Kind FeatureKind
	// Name is the tier name, module ID, or the raw string for Other
	Name string
	// Raw preserves the exact issued string for HasFeature matching
	Raw string
}

// ParseFeature classifies one namespaced feature string. "Tier:X" and
// "Module:Y" prefixes are recognized case-insensitively; anything else is
// carried through as Other.
func ParseFeature(raw string) Feature {
	if name, ok := cutPrefixFold(raw, "Tier:"); ok {
		return Feature{Kind: FeatureTier, Name: name, Raw: raw}
	}
	if name, ok := cutPrefixFold(raw, "Module:"); ok {
		return Feature{Kind: FeatureModule, Name: name, Raw: raw}
	}
	return Feature{Kind: FeatureOther, Name: raw, Raw: raw}
}

// ParseFeatures parses a license's full feature set
func ParseFeatures(raw []string) []Feature {
	features := make([]Feature, 0, len(raw))
	for _, r := range raw {
		features = append(features, ParseFeature(r))
	}
	return features
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return s[len(prefix):], true
	}
	return "", false
}
