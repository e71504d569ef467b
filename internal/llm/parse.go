package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

const maxCTA = 3

// ParseCTA accepts {"suggestions": [...]} or {"cta1": .., "cta2": .., "cta3": ..}
// and returns at most three non-empty phrases in order.
func ParseCTA(raw string) ([]string, error) {
	var shape struct {
		Suggestions []string `json:"suggestions"`
		CTA1        string   `json:"cta1"`
		CTA2        string   `json:"cta2"`
		CTA3        string   `json:"cta3"`
	}
	if err := json.Unmarshal([]byte(raw), &shape); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnrecognizedResponse, err)
	}

	candidates := shape.Suggestions
	if len(candidates) == 0 {
		candidates = []string{shape.CTA1, shape.CTA2, shape.CTA3}
	}

	out := make([]string, 0, maxCTA)
	for _, s := range candidates {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, s)
		if len(out) == maxCTA {
			break
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no suggestions", ErrUnrecognizedResponse)
	}
	return out, nil
}

// ImagePlan is the prepared scene and its on-image captions. Empty captions
// mean the image carries no text.
type ImagePlan struct {
	Scene    string `json:"scene"`
	Captions string `json:"captions"`
}

func ParseImagePlan(raw string) (ImagePlan, error) {
	var p ImagePlan
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return ImagePlan{}, fmt.Errorf("%w: %v", ErrUnrecognizedResponse, err)
	}
	p.Scene = strings.TrimSpace(p.Scene)
	p.Captions = strings.TrimSpace(p.Captions)
	if p.Scene == "" {
		return ImagePlan{}, fmt.Errorf("%w: empty scene", ErrUnrecognizedResponse)
	}
	return p, nil
}

// Description holds the optional facets of a vision answer. Missing facets
// stay nil.
type Description struct {
	Narrative   *string `json:"narrative"`
	Format      *string `json:"format"`
	Style       *string `json:"style"`
	Composition *string `json:"composition"`
	Scene       *string `json:"scene"`
}

func ParseDescription(raw string) (Description, error) {
	var d Description
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return Description{}, fmt.Errorf("%w: %v", ErrUnrecognizedResponse, err)
	}
	for _, f := range []**string{&d.Narrative, &d.Format, &d.Style, &d.Composition, &d.Scene} {
		if *f != nil && strings.TrimSpace(**f) == "" {
			*f = nil
		}
	}
	return d, nil
}
