package domain

import (
	"fmt"
	"strings"
)

// OutputKind distinguishes image from video generation requests.
type OutputKind string

const (
	OutputImage OutputKind = "image"
	OutputVideo OutputKind = "video"
)

const (
	// DefaultPromptQuantity is applied when the request omits a quantity.
	DefaultPromptQuantity = 1
	// MaxPromptQuantity caps the number of results per job.
	MaxPromptQuantity = 4
	// DefaultAspectRatio is used when the request omits the aspect ratio.
	DefaultAspectRatio = "1:1"
	// MaxPromptLength bounds the accepted prompt text.
	MaxPromptLength = 2000
)

// aspectRatioSizes maps the supported ratios to provider pixel dimensions.
var aspectRatioSizes = map[string][2]int{
	"1:1":  {1024, 1024},
	"4:3":  {1152, 896},
	"3:4":  {896, 1152},
	"16:9": {1280, 720},
	"9:16": {720, 1280},
	"2:3":  {832, 1216},
}

// GenerationPrompt is the normalized, immutable description of a generation
// request as persisted on the job record.
type GenerationPrompt struct {
	Kind         OutputKind `json:"kind"`
	Text         string     `json:"text"`
	NegativeText string     `json:"negative_text,omitempty"`
	Model        string     `json:"model"`
	AspectRatio  string     `json:"aspect_ratio"`
	Width        int        `json:"width"`
	Height       int        `json:"height"`
	Quantity     int        `json:"quantity"`
}

// Normalize trims inputs and applies server defaults and caps.
func (p *GenerationPrompt) Normalize() {
	if p == nil {
		return
	}
	p.Text = strings.TrimSpace(p.Text)
	p.NegativeText = strings.TrimSpace(p.NegativeText)
	p.Model = strings.TrimSpace(p.Model)
	if p.Kind == "" {
		p.Kind = OutputImage
	}
	if p.Quantity <= 0 {
		p.Quantity = DefaultPromptQuantity
	}
	if p.Quantity > MaxPromptQuantity {
		p.Quantity = MaxPromptQuantity
	}
	if p.Kind == OutputVideo {
		// Providers return a single clip per task.
		p.Quantity = 1
	}
	if p.AspectRatio == "" {
		p.AspectRatio = DefaultAspectRatio
	}
	if size, ok := aspectRatioSizes[p.AspectRatio]; ok {
		p.Width, p.Height = size[0], size[1]
	}
}

// Validate checks the normalized prompt. It returns ErrInvalidPrompt wrapped
// with the offending field.
func (p *GenerationPrompt) Validate() error {
	if p == nil || p.Text == "" {
		return fmt.Errorf("%w: text is required", ErrInvalidPrompt)
	}
	if len(p.Text) > MaxPromptLength {
		return fmt.Errorf("%w: text exceeds %d characters", ErrInvalidPrompt, MaxPromptLength)
	}
	if p.Model == "" {
		return fmt.Errorf("%w: model is required", ErrInvalidPrompt)
	}
	if p.Kind != OutputImage && p.Kind != OutputVideo {
		return fmt.Errorf("%w: kind %q", ErrInvalidPrompt, p.Kind)
	}
	if _, ok := aspectRatioSizes[p.AspectRatio]; !ok {
		return fmt.Errorf("%w: aspect ratio %q", ErrInvalidPrompt, p.AspectRatio)
	}
	return nil
}
