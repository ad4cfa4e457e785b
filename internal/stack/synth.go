package stack

import (
	"context"
	"fmt"
	"strings"

	"github.com/specialistvlad/steloinfra/internal/cfn"
	"github.com/specialistvlad/steloinfra/internal/ctxlog"
	"github.com/specialistvlad/steloinfra/internal/dag"
)

// MetadataPath is the metadata key carrying a resource's construct path.
const MetadataPath = "aws:cdk:path"

// MetadataNag is the metadata key carrying rule-pack suppressions.
const MetadataNag = "cdk_nag"

// Synthesize renders the stack into a CloudFormation template after checking
// resource properties against their typed models and that all references
// resolve and form no cycle.
func (s *Stack) Synthesize(ctx context.Context) (*cfn.Template, error) {
	_, logger := ctxlog.With(ctx, "stack", s.ID)

	errs := append([]string(nil), s.errs...)
	tmpl := cfn.New(s.Description)

	for _, r := range s.resources {
		props := cloneProps(r.Properties)
		if Taggable(r.Type) && (len(s.Tags) > 0 || props[tagProperty[r.Type]] != nil) {
			if props == nil {
				props = cfn.Props{}
			}
			key := tagProperty[r.Type]
			props[key] = mergeTags(s.Tags, props[key])
		}

		for _, p := range cfn.CheckProperties(r.Type, props) {
			errs = append(errs, fmt.Sprintf("resource '%s' (%s): %s", r.Path, r.Type, p))
		}

		metadata := map[string]any{MetadataPath: s.ID + "/" + r.Path}
		if len(r.suppressions) > 0 {
			rules := make([]any, 0, len(r.suppressions))
			for _, sup := range r.suppressions {
				rules = append(rules, map[string]any{"id": sup.ID, "reason": sup.Reason})
			}
			metadata[MetadataNag] = map[string]any{"rules_to_suppress": rules}
		}

		tmpl.Resources[r.LogicalID] = &cfn.Resource{
			Type:                r.Type,
			Properties:          props,
			DependsOn:           r.DependsOn(),
			DeletionPolicy:      r.DeletionPolicy,
			UpdateReplacePolicy: r.UpdateReplacePolicy,
			Metadata:            metadata,
		}
	}
	for id, out := range s.outputs {
		if tmpl.Outputs == nil {
			tmpl.Outputs = make(map[string]*cfn.Output)
		}
		tmpl.Outputs[id] = out
	}

	errs = append(errs, validateReferences(tmpl)...)
	if len(errs) > 0 {
		return nil, fmt.Errorf("stack '%s' synthesis failed:\n- %s", s.ID, strings.Join(errs, "\n- "))
	}

	logger.Debug("Stack synthesized.", "resources", len(tmpl.Resources), "outputs", len(tmpl.Outputs))
	return tmpl, nil
}

// validateReferences builds the reference graph of the template and
// reports dangling references and cycles.
func validateReferences(tmpl *cfn.Template) []string {
	var errs []string
	g := dag.New()
	for _, id := range tmpl.LogicalIDs() {
		g.AddNode(id)
	}

	known := func(id string) bool {
		if g.HasNode(id) {
			return true
		}
		_, isParam := tmpl.Parameters[id]
		return isParam
	}

	for _, id := range tmpl.LogicalIDs() {
		res := tmpl.Resources[id]
		targets := append(cfn.References(res.Properties), res.DependsOn...)
		for _, target := range targets {
			if !known(target) {
				errs = append(errs, fmt.Sprintf("resource '%s' references unknown resource '%s'", id, target))
				continue
			}
			if !g.HasNode(target) {
				continue
			}
			if target == id {
				errs = append(errs, fmt.Sprintf("resource '%s' references itself", id))
				continue
			}
			if err := g.AddEdge(target, id); err != nil {
				errs = append(errs, err.Error())
			}
		}
	}

	for name, out := range tmpl.Outputs {
		for _, target := range cfn.References(out.Value) {
			if !known(target) {
				errs = append(errs, fmt.Sprintf("output '%s' references unknown resource '%s'", name, target))
			}
		}
	}

	if len(errs) == 0 {
		if err := g.DetectCycles(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

func cloneProps(p cfn.Props) cfn.Props {
	if p == nil {
		return nil
	}
	out := make(cfn.Props, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
