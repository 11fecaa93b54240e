package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// MerchantSettings carries per-merchant overrides layered on top of the
// global Config: pricing refinement and the fuzzy-match engine override
// named in spec.md §4.3.2.
type MerchantSettings struct {
	MerchantID         string  `yaml:"merchant_id"`
	PricingMarkupRatio float64 `yaml:"pricing_markup_ratio"`
	// FuzzyMatchEngine, if non-empty, overrides the global engine selection
	// for this merchant: one of "engine_a", "engine_b".
	FuzzyMatchEngine string `yaml:"fuzzy_match_engine"`
}

// MerchantSettingsFile is the on-disk shape: a list of per-merchant
// overrides, keyed by MerchantID at lookup time.
type MerchantSettingsFile struct {
	Merchants []MerchantSettings `yaml:"merchants"`
}

// LoadMerchantSettings reads and parses the YAML file at path into a
// lookup map keyed by merchant ID. An empty path returns an empty map
// without error, since per-merchant overrides are optional.
func LoadMerchantSettings(path string) (map[string]MerchantSettings, error) {
	if path == "" {
		return map[string]MerchantSettings{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("op=config.LoadMerchantSettings: %w", err)
	}
	var file MerchantSettingsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("op=config.LoadMerchantSettings: %w", err)
	}
	out := make(map[string]MerchantSettings, len(file.Merchants))
	for _, m := range file.Merchants {
		out[m.MerchantID] = m
	}
	return out, nil
}
