// Package scene models the provider-facing structured scene prompt and patches it
// from refinement plans.
package scene

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"

	refinererrors "github.com/dotcommander/refiner/pkg/refiner/errors"
)

var validate = validator.New()

// Object is one element of a structured scene. Fields the refiner does not own are kept in Extra
// and written back unchanged.
type Object struct {
	Description       string `json:"description" validate:"required"`
	Location          string `json:"location,omitempty"`
	RelativeSize      string `json:"relative_size,omitempty"`
	ShapeAndColor     string `json:"shape_and_color,omitempty"`
	Texture           string `json:"texture,omitempty"`
	AppearanceDetails string `json:"appearance_details,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

type objectFields Object

var objectKeys = []string{"description", "location", "relative_size", "shape_and_color", "texture", "appearance_details"}

func (o *Object) UnmarshalJSON(data []byte) error {
	var fields objectFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	extra, err := unknownFields(data, objectKeys)
	if err != nil {
		return err
	}
	*o = Object(fields)
	o.Extra = extra
	return nil
}

func (o Object) MarshalJSON() ([]byte, error) {
	return mergeFields(objectFields(o), o.Extra)
}

// Prompt is the structured scene description. It is a partially owned document: background,
// objects, short description and the explicit background flag are patched, everything else
// round-trips verbatim.
type Prompt struct {
	Background         string   `json:"background_setting"`
	Objects            []Object `json:"objects" validate:"dive"`
	ShortDescription   string   `json:"short_description,omitempty"`
	ExplicitBackground bool     `json:"explicit_background,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

type promptFields Prompt

var promptKeys = []string{"background_setting", "objects", "short_description", "explicit_background"}

func (p *Prompt) UnmarshalJSON(data []byte) error {
	var fields promptFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	extra, err := unknownFields(data, promptKeys)
	if err != nil {
		return err
	}
	*p = Prompt(fields)
	p.Extra = extra
	return nil
}

func (p Prompt) MarshalJSON() ([]byte, error) {
	return mergeFields(promptFields(p), p.Extra)
}

// ParsePrompt decodes and validates a prior structured prompt.
func ParsePrompt(raw []byte) (*Prompt, error) {
	if trimmed := bytes.TrimSpace(raw); len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, refinererrors.NewMalformedScenePrompt(errors.New("scene prompt must be a JSON object"))
	}
	var p Prompt
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, refinererrors.NewMalformedScenePrompt(fmt.Errorf("decode: %w", err))
	}
	if err := validate.Struct(&p); err != nil {
		return nil, refinererrors.NewMalformedScenePrompt(fmt.Errorf("validate: %w", err))
	}
	return &p, nil
}

// Clone returns a deep copy.
func (p *Prompt) Clone() *Prompt {
	out := *p
	out.Extra = cloneExtra(p.Extra)
	out.Objects = make([]Object, len(p.Objects))
	for i, o := range p.Objects {
		o.Extra = cloneExtra(o.Extra)
		out.Objects[i] = o
	}
	return &out
}

// AppendObject adds an object at the end of the scene.
func (p *Prompt) AppendObject(o Object) {
	p.Objects = append(p.Objects, o)
}

// RewriteObjects applies rewrite to every object match accepts and returns how many changed.
func (p *Prompt) RewriteObjects(match func(Object) bool, rewrite func(*Object)) int {
	n := 0
	for i := range p.Objects {
		if match(p.Objects[i]) {
			rewrite(&p.Objects[i])
			n++
		}
	}
	return n
}

// RemoveObjects drops every object match accepts and returns how many were removed.
func (p *Prompt) RemoveObjects(match func(Object) bool) int {
	kept := p.Objects[:0]
	for _, o := range p.Objects {
		if !match(o) {
			kept = append(kept, o)
		}
	}
	n := len(p.Objects) - len(kept)
	p.Objects = kept
	return n
}

// SetBackground replaces the background setting.
func (p *Prompt) SetBackground(desc string) {
	p.Background = desc
}

// Mentions matches objects whose description names noun, singular or plural.
func Mentions(noun string) func(Object) bool {
	re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(noun) + `(?:e?s)?\b`)
	return func(o Object) bool {
		return re.MatchString(o.Description)
	}
}

func unknownFields(data []byte, known []string) (map[string]json.RawMessage, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for _, k := range known {
		delete(all, k)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}

// mergeFields marshals the owned fields and overlays them on the preserved ones.
func mergeFields(owned interface{}, extra map[string]json.RawMessage) ([]byte, error) {
	body, err := json.Marshal(owned)
	if err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return body, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	out := make(map[string]json.RawMessage, len(fields)+len(extra))
	for k, v := range extra {
		out[k] = v
	}
	for k, v := range fields {
		out[k] = v
	}
	return json.Marshal(out)
}

func cloneExtra(in map[string]json.RawMessage) map[string]json.RawMessage {
	if in == nil {
		return nil
	}
	out := make(map[string]json.RawMessage, len(in))
	for k, v := range in {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}
