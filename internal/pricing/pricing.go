package pricing

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed rates.yaml
var defaultRates []byte

// Rate is the USD price per 1K prompt (In) and completion (Out) tokens.
type Rate struct {
	In  float64 `yaml:"in"`
	Out float64 `yaml:"out"`
}

// Table maps model ids to rates. Models missing from the table are priced
// at the fallback rate.
type Table struct {
	Fallback Rate            `yaml:"fallback"`
	Models   map[string]Rate `yaml:"models"`
}

// Default returns the table compiled into the binary.
func Default() *Table {
	t, err := Parse(defaultRates)
	if err != nil {
		panic(fmt.Sprintf("embedded rate table: %v", err))
	}
	return t
}

// Load reads a YAML rate table from path, or returns Default when path is empty.
func Load(path string) (*Table, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rate table: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse rate table: %w", err)
	}
	for model, r := range t.Models {
		if r.In < 0 || r.Out < 0 {
			return nil, fmt.Errorf("rate table: negative rate for %s", model)
		}
	}
	if t.Fallback.In < 0 || t.Fallback.Out < 0 {
		return nil, fmt.Errorf("rate table: negative fallback rate")
	}
	return &t, nil
}

// Rate looks up model by exact id, then by the longest table key that prefixes
// it (dated snapshots such as gpt-4o-2024-08-06), then falls back.
func (t *Table) Rate(model string) Rate {
	if r, ok := t.Models[model]; ok {
		return r
	}
	best := ""
	for key := range t.Models {
		if strings.HasPrefix(model, key) && len(key) > len(best) {
			best = key
		}
	}
	if best != "" {
		return t.Models[best]
	}
	return t.Fallback
}

// Cost prices a call. The result is not rounded.
func (r Rate) Cost(promptTokens, completionTokens int) float64 {
	return float64(promptTokens)/1000*r.In + float64(completionTokens)/1000*r.Out
}

// Format renders a cost as "$<float>" with the shortest exact representation.
func Format(cost float64) string {
	return "$" + strconv.FormatFloat(cost, 'f', -1, 64)
}
