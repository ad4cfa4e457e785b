package registry

import (
	"context"
	"reflect"
	"strings"

	"github.com/specialistvlad/steloinfra/internal/config"
	"github.com/specialistvlad/steloinfra/internal/ctxlog"
)

// ValidateRegistry performs a parity check between the loaded descriptors
// and the compiled builders: every declared stage must name a registered
// kind, and every builder must decode into a struct pointer.
func (r *Registry) ValidateRegistry(ctx context.Context, model *config.Model) error {
	var errs config.Errors
	logger := ctxlog.FromContext(ctx)

	for kind, handler := range r.StageRegistry {
		if handler.NewInput == nil || handler.Build == nil {
			errs.Add("stage kind '%s': builder must provide NewInput and Build", kind)
			continue
		}
		input := reflect.TypeOf(handler.NewInput())
		if input == nil || input.Kind() != reflect.Pointer || input.Elem().Kind() != reflect.Struct {
			errs.Add("stage kind '%s': NewInput must return a pointer to a struct, got %v", kind, input)
		}
	}

	if model != nil {
		for _, st := range model.Stages {
			if _, ok := r.StageRegistry[st.Kind]; !ok {
				errs.Add("stage '%s' uses unknown kind '%s' (registered: %s)", st.Name, st.Kind, strings.Join(r.Kinds(), ", "))
			}
		}
	}

	if err := errs.Err(); err != nil {
		return err
	}
	logger.Debug("Registry validation passed.", "kinds", r.Kinds())
	return nil
}
