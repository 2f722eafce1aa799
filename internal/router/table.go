package router

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"brandgen/internal/domain"
	"brandgen/internal/providers"
)

//go:embed routes.yaml
var defaultRoutes []byte

// Target names one provider model.
type Target struct {
	Provider string `yaml:"provider" json:"provider"`
	Model    string `yaml:"model" json:"model"`
}

func (t Target) String() string { return t.Provider + "/" + t.Model }

// Route is the primary and fallback target for one task type.
type Route struct {
	Primary  Target `yaml:"primary" json:"primary"`
	Fallback Target `yaml:"fallback" json:"fallback"`
	Reason   string `yaml:"reason" json:"reason,omitempty"`
}

// PriceUnit selects how usage converts to cost.
type PriceUnit string

const (
	UnitTokens  PriceUnit = "tokens"
	UnitImage   PriceUnit = "image"
	UnitSecond  PriceUnit = "second"
	UnitRequest PriceUnit = "request"
)

// Price is the pricing entry for one model.
type Price struct {
	Unit PriceUnit `yaml:"unit" json:"unit"`
	// Rate applies to image, second and request units.
	Rate float64 `yaml:"rate" json:"rate,omitempty"`
	// Input and Output are per million tokens.
	Input  float64 `yaml:"input" json:"input,omitempty"`
	Output float64 `yaml:"output" json:"output,omitempty"`
}

// Cost approximates what an attempt cost.
func (p Price) Cost(u providers.Usage) float64 {
	switch p.Unit {
	case UnitTokens:
		return (float64(u.InputTokens)*p.Input + float64(u.OutputTokens)*p.Output) / 1_000_000
	case UnitImage, UnitSecond:
		return u.Units * p.Rate
	case UnitRequest:
		return p.Rate
	}
	return 0
}

// Table is the data-driven routing configuration.
type Table struct {
	Routes  map[domain.TaskType]Route `yaml:"routes" json:"routes"`
	Pricing map[string]Price          `yaml:"pricing" json:"pricing"`
}

// LoadTable reads a route table from path, or the embedded default when path
// is empty.
func LoadTable(path string) (*Table, error) {
	if strings.TrimSpace(path) == "" {
		return ParseTable(defaultRoutes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read route table: %w", err)
	}
	return ParseTable(data)
}

// ParseTable decodes YAML. Unknown keys are rejected.
func ParseTable(data []byte) (*Table, error) {
	var t Table
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("decode route table: %w", err)
	}
	return &t, nil
}

// DevelopmentTable routes every task to the synthetic provider. It is used
// in development when no provider key is configured.
func DevelopmentTable() *Table {
	t := &Table{
		Routes:  make(map[domain.TaskType]Route),
		Pricing: map[string]Price{"synthetic-v1": {Unit: UnitRequest}, "synthetic-v2": {Unit: UnitRequest}},
	}
	for _, tt := range domain.TaskTypes() {
		t.Routes[tt] = Route{
			Primary:  Target{Provider: "synthetic", Model: "synthetic-v1"},
			Fallback: Target{Provider: "synthetic", Model: "synthetic-v2"},
			Reason:   "development",
		}
	}
	return t
}

// Validate checks the table against the registered providers. Every task
// type must be routed, the fallback must differ from the primary, every
// provider must be registered and able to serve the task, and every model
// must be priced. All problems are reported together.
func (t *Table) Validate(registry map[string]providers.Provider) error {
	var problems []string
	for _, tt := range domain.TaskTypes() {
		route, ok := t.Routes[tt]
		if !ok {
			problems = append(problems, fmt.Sprintf("%s: no route", tt))
			continue
		}
		if route.Primary == route.Fallback {
			problems = append(problems, fmt.Sprintf("%s: fallback equals primary %s", tt, route.Primary))
		}
		for _, target := range []Target{route.Primary, route.Fallback} {
			if target.Provider == "" || target.Model == "" {
				problems = append(problems, fmt.Sprintf("%s: incomplete target %q", tt, target))
				continue
			}
			p, ok := registry[target.Provider]
			if !ok {
				problems = append(problems, fmt.Sprintf("%s: provider %q not registered", tt, target.Provider))
			} else if c, ok := p.(providers.Capable); ok && !c.Supports(tt) {
				problems = append(problems, fmt.Sprintf("%s: provider %q cannot serve this task", tt, target.Provider))
			}
			if _, ok := t.Pricing[target.Model]; !ok {
				problems = append(problems, fmt.Sprintf("%s: model %q has no price", tt, target.Model))
			}
		}
	}
	for tt := range t.Routes {
		if !tt.Valid() {
			problems = append(problems, fmt.Sprintf("unknown task type %q", tt))
		}
	}
	for model, price := range t.Pricing {
		switch price.Unit {
		case UnitTokens, UnitImage, UnitSecond, UnitRequest:
		default:
			problems = append(problems, fmt.Sprintf("pricing %s: unknown unit %q", model, price.Unit))
		}
	}
	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return errors.New("invalid route table: " + strings.Join(problems, "; "))
}

// Lookup returns the route for a task type.
func (t *Table) Lookup(tt domain.TaskType) (Route, bool) {
	r, ok := t.Routes[tt]
	return r, ok
}
