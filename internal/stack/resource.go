package stack

import (
	"github.com/specialistvlad/steloinfra/internal/cfn"
)

// Suppression silences one rule-pack finding on a resource.
type Suppression struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// Resource is a resource declared on a Stack.
type Resource struct {
	stack *Stack

	Path       string
	LogicalID  string
	Type       string
	Properties cfn.Props

	DeletionPolicy      string
	UpdateReplacePolicy string

	dependsOn    []*Resource
	suppressions []Suppression
}

// Stack returns the stack the resource belongs to.
func (r *Resource) Stack() *Stack { return r.stack }

// Ref returns a Ref intrinsic pointing at the resource.
func (r *Resource) Ref() map[string]any {
	return cfn.Ref(r.LogicalID)
}

// GetAtt returns a Fn::GetAtt intrinsic for one of the resource's attributes.
func (r *Resource) GetAtt(attribute string) map[string]any {
	return cfn.GetAtt(r.LogicalID, attribute)
}

// Arn is shorthand for GetAtt("Arn").
func (r *Resource) Arn() map[string]any {
	return r.GetAtt("Arn")
}

// AddDependency makes r wait for each of others.
func (r *Resource) AddDependency(others ...*Resource) *Resource {
	for _, o := range others {
		if o == nil || o == r {
			continue
		}
		dup := false
		for _, d := range r.dependsOn {
			if d == o {
				dup = true
				break
			}
		}
		if !dup {
			r.dependsOn = append(r.dependsOn, o)
		}
	}
	return r
}

// DependsOn returns the logical IDs r explicitly waits for.
func (r *Resource) DependsOn() []string {
	out := make([]string, 0, len(r.dependsOn))
	for _, d := range r.dependsOn {
		out = append(out, d.LogicalID)
	}
	return out
}

// ApplyRemovalPolicy sets both the deletion and update-replace policy.
func (r *Resource) ApplyRemovalPolicy(policy string) *Resource {
	r.DeletionPolicy = policy
	r.UpdateReplacePolicy = policy
	return r
}

// Suppress records a rule-pack suppression on the resource.
func (r *Resource) Suppress(id, reason string) *Resource {
	for i, s := range r.suppressions {
		if s.ID == id {
			r.suppressions[i].Reason = reason
			return r
		}
	}
	r.suppressions = append(r.suppressions, Suppression{ID: id, Reason: reason})
	return r
}

// Suppressions returns the suppressions recorded on the resource.
func (r *Resource) Suppressions() []Suppression {
	return append([]Suppression(nil), r.suppressions...)
}
