package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Payload is the typed, validated form of a job's request body.
type Payload interface {
	Normalize()
	LocaleTag() string
}

// LogoPayload requests brand logo candidates.
type LogoPayload struct {
	BrandName string   `json:"brandName" validate:"required,min=1,max=80"`
	Industry  string   `json:"industry" validate:"max=80"`
	Style     string   `json:"style" validate:"omitempty,oneof=minimal modern playful luxury vintage bold"`
	Colors    []string `json:"colors" validate:"max=5,dive,hexcolor"`
	Tagline   string   `json:"tagline" validate:"max=120"`
	Variants  int      `json:"variants" validate:"min=0,max=4"`
	Locale    string   `json:"locale"`
}

// MockupPayload places a logo on a product.
type MockupPayload struct {
	ProductType  string `json:"productType" validate:"required,oneof=tshirt mug tote packaging signage business_card"`
	LogoURL      string `json:"logoURL" validate:"omitempty,url"`
	Background   string `json:"background" validate:"omitempty,oneof=studio_white solid_color marble wood fabric gradient outdoor"`
	AspectRatio  string `json:"aspectRatio" validate:"omitempty,oneof=1:1 4:3 3:4 16:9 9:16"`
	Instructions string `json:"instructions" validate:"max=500"`
	Locale       string `json:"locale"`
}

// BundleItem is one product inside a bundle composition.
type BundleItem struct {
	ProductType string `json:"productType" validate:"required,oneof=tshirt mug tote packaging signage business_card"`
	LogoURL     string `json:"logoURL" validate:"omitempty,url"`
}

// BundlePayload composes several mockups into one scene.
type BundlePayload struct {
	Title       string       `json:"title" validate:"required,min=3,max=120"`
	Items       []BundleItem `json:"items" validate:"required,min=2,max=6,dive"`
	Layout      string       `json:"layout" validate:"omitempty,oneof=grid flatlay hero"`
	AspectRatio string       `json:"aspectRatio" validate:"omitempty,oneof=1:1 4:3 3:4 16:9 9:16"`
	Locale      string       `json:"locale"`
}

// AnalysisPayload requests a written brand analysis.
type AnalysisPayload struct {
	BrandName   string   `json:"brandName" validate:"required,min=1,max=80"`
	Description string   `json:"description" validate:"required,min=10,max=2000"`
	Audience    string   `json:"audience" validate:"max=200"`
	Competitors []string `json:"competitors" validate:"max=5,dive,min=1,max=80"`
	Locale      string   `json:"locale"`
}

// VideoPayload requests a short promotional clip.
type VideoPayload struct {
	Prompt          string `json:"prompt" validate:"required,min=3,max=500"`
	DurationSeconds int    `json:"durationSeconds" validate:"min=0,max=10"`
	AspectRatio     string `json:"aspectRatio" validate:"omitempty,oneof=1:1 16:9 9:16"`
	ReferenceURL    string `json:"referenceURL" validate:"omitempty,url"`
	Locale          string `json:"locale"`
}

const (
	DefaultAspectRatio   = "1:1"
	DefaultLocale        = "en"
	DefaultLogoVariants  = 1
	DefaultVideoDuration = 6
	DefaultBundleLayout  = "grid"
	DefaultBackground    = "studio_white"
)

func (p *LogoPayload) Normalize() {
	if p.Variants <= 0 {
		p.Variants = DefaultLogoVariants
	}
	if p.Locale == "" {
		p.Locale = DefaultLocale
	}
}

func (p *LogoPayload) LocaleTag() string { return p.Locale }

func (p *MockupPayload) Normalize() {
	if p.AspectRatio == "" {
		p.AspectRatio = DefaultAspectRatio
	}
	if p.Background == "" {
		p.Background = DefaultBackground
	}
	if p.Locale == "" {
		p.Locale = DefaultLocale
	}
}

func (p *MockupPayload) LocaleTag() string { return p.Locale }

func (p *BundlePayload) Normalize() {
	if p.Layout == "" {
		p.Layout = DefaultBundleLayout
	}
	if p.AspectRatio == "" {
		p.AspectRatio = "4:3"
	}
	if p.Locale == "" {
		p.Locale = DefaultLocale
	}
}

func (p *BundlePayload) LocaleTag() string { return p.Locale }

func (p *AnalysisPayload) Normalize() {
	if p.Locale == "" {
		p.Locale = DefaultLocale
	}
}

func (p *AnalysisPayload) LocaleTag() string { return p.Locale }

func (p *VideoPayload) Normalize() {
	if p.DurationSeconds <= 0 {
		p.DurationSeconds = DefaultVideoDuration
	}
	if p.AspectRatio == "" {
		p.AspectRatio = "16:9"
	}
	if p.Locale == "" {
		p.Locale = DefaultLocale
	}
}

func (p *VideoPayload) LocaleTag() string { return p.Locale }

// NewPayload returns an empty payload value for the task type.
func NewPayload(t TaskType) (Payload, error) {
	switch t {
	case TaskLogo:
		return &LogoPayload{}, nil
	case TaskMockup:
		return &MockupPayload{}, nil
	case TaskBundleComposition:
		return &BundlePayload{}, nil
	case TaskAnalysis:
		return &AnalysisPayload{}, nil
	case TaskVideo:
		return &VideoPayload{}, nil
	}
	return nil, Invalid("taskType", fmt.Sprintf("unknown task type %q", t))
}

// DecodePayload parses raw into the task's payload type and applies defaults.
// Unknown fields are rejected. Struct-tag validation is left to the caller.
func DecodePayload(t TaskType, raw json.RawMessage) (Payload, error) {
	p, err := NewPayload(t)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, Invalid("payload", "required")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(p); err != nil {
		return nil, Invalid("payload", err.Error())
	}
	p.Normalize()
	return p, nil
}
