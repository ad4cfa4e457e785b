package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/specialistvlad/steloinfra/internal/config"
	"github.com/specialistvlad/steloinfra/internal/stack"
)

// Module is the interface that all core modules must implement to be registered.
type Module interface {
	Register(r *Registry)
}

// BuildContext carries what a stage builder needs besides its own input.
type BuildContext struct {
	App   *config.App
	Stage *config.Stage
	Env   stack.Environment
	// Tags are applied to every stack the builder returns.
	Tags map[string]string
}

// RegisteredStage holds the compiled Go parts of a stage kind.
type RegisteredStage struct {
	// NewInput returns a pointer to the struct the stage body decodes into.
	NewInput func() any
	// Validate checks the decoded input before Build runs. Optional.
	Validate func(input any) error
	// Build declares the stacks of one stage instance.
	Build func(ctx context.Context, bc *BuildContext, input any) ([]*stack.Stack, error)
}

// Registry holds the registered stage builders of one application instance.
type Registry struct {
	StageRegistry map[string]*RegisteredStage
}

// New creates and initializes a new Registry instance.
func New() *Registry {
	return &Registry{
		StageRegistry: make(map[string]*RegisteredStage),
	}
}

// RegisterStage registers the builder for a stage kind.
func (r *Registry) RegisterStage(kind string, handler *RegisteredStage) {
	if _, exists := r.StageRegistry[kind]; exists {
		panic(fmt.Sprintf("stage builder for kind '%s' already registered", kind))
	}
	slog.Debug("Registering stage builder.", "kind", kind)
	r.StageRegistry[kind] = handler
}

// Stage returns the builder registered for kind.
func (r *Registry) Stage(kind string) (*RegisteredStage, bool) {
	h, ok := r.StageRegistry[kind]
	return h, ok
}

// Kinds returns the registered stage kinds in lexical order.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.StageRegistry))
	for k := range r.StageRegistry {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
