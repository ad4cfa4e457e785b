// Package cfn models the CloudFormation template format emitted by the stack
// synthesizer: resources, outputs, intrinsic functions, and JSON/YAML
// rendering. It knows nothing about stelo; higher layers fill it in.
package cfn

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"sigs.k8s.io/yaml"
)

// FormatVersion is the only template format version CloudFormation accepts.
const FormatVersion = "2010-09-09"

// Deletion and update-replace policies.
const (
	PolicyDelete = "Delete"
	PolicyRetain = "Retain"
)

// Props is the property bag of a single resource.
type Props = map[string]any

// Template is a synthesized CloudFormation template.
type Template struct {
	FormatVersion string                `json:"AWSTemplateFormatVersion,omitempty"`
	Description   string                `json:"Description,omitempty"`
	Parameters    map[string]*Parameter `json:"Parameters,omitempty"`
	Resources     map[string]*Resource  `json:"Resources"`
	Outputs       map[string]*Output    `json:"Outputs,omitempty"`
}

// Resource is a single entry of the Resources section.
type Resource struct {
	Type                string         `json:"Type"`
	Properties          Props          `json:"Properties,omitempty"`
	DependsOn           []string       `json:"DependsOn,omitempty"`
	UpdateReplacePolicy string         `json:"UpdateReplacePolicy,omitempty"`
	DeletionPolicy      string         `json:"DeletionPolicy,omitempty"`
	Metadata            map[string]any `json:"Metadata,omitempty"`
}

// Parameter is a template parameter.
type Parameter struct {
	Type        string `json:"Type"`
	Default     any    `json:"Default,omitempty"`
	Description string `json:"Description,omitempty"`
}

// Output is a template output.
type Output struct {
	Description string         `json:"Description,omitempty"`
	Value       any            `json:"Value"`
	Export      map[string]any `json:"Export,omitempty"`
}

// New returns an empty template.
func New(description string) *Template {
	return &Template{
		FormatVersion: FormatVersion,
		Description:   description,
		Resources:     make(map[string]*Resource),
	}
}

// Resource returns the resource with the given logical ID.
func (t *Template) Resource(logicalID string) (*Resource, bool) {
	r, ok := t.Resources[logicalID]
	return r, ok
}

// LogicalIDs returns all logical IDs in lexical order.
func (t *Template) LogicalIDs() []string {
	ids := make([]string, 0, len(t.Resources))
	for id := range t.Resources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ResourcesOfType returns the logical IDs of every resource of the given
// CloudFormation type, in lexical order.
func (t *Template) ResourcesOfType(resourceType string) []string {
	var ids []string
	for _, id := range t.LogicalIDs() {
		if t.Resources[id].Type == resourceType {
			ids = append(ids, id)
		}
	}
	return ids
}

// JSON renders the template the way the CDK toolkit expects to find it on disk.
func (t *Template) JSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", " ")
	if err := enc.Encode(t); err != nil {
		return nil, fmt.Errorf("encoding template: %w", err)
	}
	return buf.Bytes(), nil
}

// YAML renders the template as YAML. Intrinsics keep their long form
// (`Fn::GetAtt:`) so the output round-trips through any YAML parser.
func (t *Template) YAML() ([]byte, error) {
	raw, err := t.JSON()
	if err != nil {
		return nil, err
	}
	out, err := yaml.JSONToYAML(raw)
	if err != nil {
		return nil, fmt.Errorf("converting template to YAML: %w", err)
	}
	return out, nil
}

// Lookup walks nested maps and slices. String segments index maps, and
// int segments index slices.
func Lookup(v any, path ...any) (any, bool) {
	cur := v
	for _, seg := range path {
		switch key := seg.(type) {
		case string:
			m, ok := cur.(map[string]any)
			if !ok {
				return nil, false
			}
			cur, ok = m[key]
			if !ok {
				return nil, false
			}
		case int:
			s, ok := cur.([]any)
			if !ok || key < 0 || key >= len(s) {
				return nil, false
			}
			cur = s[key]
		default:
			return nil, false
		}
	}
	return cur, true
}

// LookupString is Lookup for leaf strings.
func LookupString(v any, path ...any) (string, bool) {
	raw, ok := Lookup(v, path...)
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	return s, ok
}

// Strings converts a []any of plain strings. Non-string entries are skipped.
func Strings(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
