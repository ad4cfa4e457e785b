package stack

import (
	"fmt"

	"github.com/specialistvlad/steloinfra/internal/assets"
	"github.com/specialistvlad/steloinfra/internal/cfn"
)

// Props configures a new Stack.
type Props struct {
	StackName             string
	Description           string
	TerminationProtection bool
	Env                   Environment
	Tags                  map[string]string
	// SecurityChecks enables the rule pack for this stack.
	SecurityChecks bool
}

// Stack is a set of resources deployed together as one CloudFormation stack.
type Stack struct {
	ID string
	Props

	resources []*Resource
	byPath    map[string]*Resource
	byID      map[string]*Resource
	outputs   map[string]*cfn.Output
	assets    []assets.FileAsset
	errs      []string
}

// New creates an empty stack with the given construct ID.
func New(id string, props Props) *Stack {
	if props.Tags == nil {
		props.Tags = map[string]string{}
	}
	return &Stack{
		ID:      id,
		Props:   props,
		byPath:  make(map[string]*Resource),
		byID:    make(map[string]*Resource),
		outputs: make(map[string]*cfn.Output),
	}
}

// Name is the deployed CloudFormation stack name.
func (s *Stack) Name() string {
	if s.StackName != "" {
		return s.StackName
	}
	return s.ID
}

// Add declares a resource at the given construct path. A path may only be
// used once per stack; duplicates are reported by Synthesize.
func (s *Stack) Add(path, resourceType string, props cfn.Props) *Resource {
	r := &Resource{
		stack:      s,
		Path:       path,
		LogicalID:  LogicalID(path),
		Type:       resourceType,
		Properties: props,
	}
	if _, exists := s.byPath[path]; exists {
		s.errs = append(s.errs, fmt.Sprintf("construct path '%s' is declared more than once", path))
		return r
	}
	if other, exists := s.byID[r.LogicalID]; exists {
		s.errs = append(s.errs, fmt.Sprintf("logical ID '%s' of '%s' collides with '%s'", r.LogicalID, path, other.Path))
		return r
	}
	s.byPath[path] = r
	s.byID[r.LogicalID] = r
	s.resources = append(s.resources, r)
	return r
}

// Find returns the resource declared at path.
func (s *Stack) Find(path string) (*Resource, bool) {
	r, ok := s.byPath[path]
	return r, ok
}

// Resources returns the declared resources in declaration order.
func (s *Stack) Resources() []*Resource {
	return append([]*Resource(nil), s.resources...)
}

// AddOutput declares a stack output.
func (s *Stack) AddOutput(id, description string, value any) {
	s.outputs[id] = &cfn.Output{Description: description, Value: value}
}

// AddFileAsset records a staged file asset and returns the bucket and key
// the deployed stack can read it from.
func (s *Stack) AddFileAsset(asset assets.FileAsset) (bucket any, key string) {
	for _, existing := range s.assets {
		if existing.Hash == asset.Hash {
			return cfn.Sub(AssetsBucketPattern), asset.ObjectKey()
		}
	}
	s.assets = append(s.assets, asset)
	return cfn.Sub(AssetsBucketPattern), asset.ObjectKey()
}

// Assets returns the file assets recorded on this stack.
func (s *Stack) Assets() []assets.FileAsset {
	return append([]assets.FileAsset(nil), s.assets...)
}

// SetTag adds or replaces a stack tag.
func (s *Stack) SetTag(key, value string) {
	s.Tags[key] = value
}
