package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Chains controls which upstream chain names are kept and how they are
// normalized. Keys and values are matched after lowercasing and trimming.
type Chains struct {
	Supported []string          `yaml:"supported"`
	Aliases   map[string]string `yaml:"aliases"`
}

func DefaultChains() Chains {
	return Chains{
		Supported: []string{
			"ethereum",
			"solana",
			"polygon",
			"avalanche",
			"sui",
			"aptos",
			"bsc",
			"base",
			"hyperliquid",
			"arbitrum",
		},
		Aliases: map[string]string{
			"binance":        "bsc",
			"hyperliquid l1": "hyperliquid",
			"avax":           "avalanche",
		},
	}
}

// LoadChains reads a YAML chains file. Sections left out of the file keep
// their built-in defaults.
func LoadChains(path string) (Chains, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Chains{}, fmt.Errorf("chains config: read %q: %w", path, err)
	}

	var raw Chains
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Chains{}, fmt.Errorf("chains config: parse yaml: %w", err)
	}

	out := DefaultChains()
	if len(raw.Supported) > 0 {
		out.Supported = make([]string, 0, len(raw.Supported))
		for _, c := range raw.Supported {
			c = strings.ToLower(strings.TrimSpace(c))
			if c == "" {
				continue
			}
			out.Supported = append(out.Supported, c)
		}
	}
	if raw.Aliases != nil {
		out.Aliases = make(map[string]string, len(raw.Aliases))
		for from, to := range raw.Aliases {
			out.Aliases[strings.ToLower(strings.TrimSpace(from))] = strings.ToLower(strings.TrimSpace(to))
		}
	}
	if len(out.Supported) == 0 {
		return Chains{}, fmt.Errorf("chains config: %q lists no supported chains", path)
	}
	return out, nil
}

// Normalize maps a raw upstream chain name to its lowercase key.
func (c Chains) Normalize(raw string) string {
	lower := strings.ToLower(strings.TrimSpace(raw))
	if to, ok := c.Aliases[lower]; ok {
		return to
	}
	return lower
}

// Set returns the supported chains as a lookup set.
func (c Chains) Set() map[string]struct{} {
	out := make(map[string]struct{}, len(c.Supported))
	for _, s := range c.Supported {
		out[s] = struct{}{}
	}
	return out
}
