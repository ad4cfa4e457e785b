package config

import (
	"fmt"
	"path"
	"strings"
)

// Errors aggregates invariant violations found in a model.
type Errors []string

// Add records a violation.
func (e *Errors) Add(format string, args ...any) {
	*e = append(*e, fmt.Sprintf(format, args...))
}

// Err returns nil when nothing was recorded.
func (e Errors) Err() error {
	if len(e) == 0 {
		return nil
	}
	return fmt.Errorf("validation failed:\n- %s", strings.Join(e, "\n- "))
}

// retentionDays are the retention periods CloudWatch Logs accepts.
var retentionDays = map[int]bool{
	1: true, 3: true, 5: true, 7: true, 14: true, 30: true, 60: true, 90: true,
	120: true, 150: true, 180: true, 365: true, 400: true, 545: true, 731: true,
	1096: true, 1827: true, 2192: true, 2557: true, 2922: true, 3288: true, 3653: true,
}

// ValidRetentionDays reports whether days is an accepted log retention.
func ValidRetentionDays(days int) bool {
	return retentionDays[days]
}

// Validate checks the cross-descriptor invariants of the model.
func (m *Model) Validate() error {
	var errs Errors

	if m.App == nil {
		errs.Add("no 'app' block declared")
	} else if m.App.Name == "" {
		errs.Add("app name must not be empty")
	}

	seen := map[string]bool{}
	for _, s := range m.Stages {
		if seen[s.Name] {
			errs.Add("stage '%s' is declared more than once", s.Name)
		}
		seen[s.Name] = true
	}

	if m.Pipeline == nil {
		errs.Add("no 'pipeline' block declared")
		return errs.Err()
	}
	m.Pipeline.validate(seen, &errs)
	return errs.Err()
}

func (p *Pipeline) validate(stages map[string]bool, errs *Errors) {
	sources := map[string]bool{}
	for _, src := range p.Sources {
		if sources[src.Name] {
			errs.Add("source '%s' is declared more than once", src.Name)
		}
		sources[src.Name] = true
		if src.Repository == "" || !strings.Contains(src.Repository, "/") {
			errs.Add("source '%s': repository must be in owner/name form, got '%s'", src.Name, src.Repository)
		}
		if src.Branch == "" {
			errs.Add("source '%s': branch must not be empty", src.Name)
		}
		if src.ConnectionArn == "" {
			errs.Add("source '%s': connection_arn must not be empty", src.Name)
		}
	}

	if p.Synth == nil {
		errs.Add("pipeline '%s' has no synth block", p.Name)
	} else {
		if !sources[p.Synth.Input] {
			errs.Add("synth input '%s' does not match a declared source", p.Synth.Input)
		}
		mounted := map[string]string{}
		for dir, src := range p.Synth.AdditionalInputs {
			if !sources[src] {
				errs.Add("additional input '%s' refers to undeclared source '%s'", dir, src)
			}
			if src == p.Synth.Input {
				errs.Add("additional input '%s' repeats the primary input '%s'", dir, src)
			}
			if prev, ok := mounted[src]; ok {
				errs.Add("source '%s' is mounted at both '%s' and '%s'", src, prev, dir)
			}
			mounted[src] = dir
			if clean := path.Clean(dir); clean == "." || clean == "/" {
				errs.Add("additional input path '%s' must name a directory", dir)
			}
		}
		if len(p.Synth.Commands) == 0 {
			errs.Add("synth step declares no commands")
		}
	}

	for _, phase := range []string{PhaseSynth, PhaseSelfMutate, PhaseAssets} {
		lg, ok := p.LogGroups[phase]
		if !ok {
			continue
		}
		if !strings.HasPrefix(lg.Name, "/aws/codebuild/") {
			errs.Add("log group for phase '%s' must live under /aws/codebuild/, got '%s'", phase, lg.Name)
		}
		if !ValidRetentionDays(lg.RetentionDays) {
			errs.Add("log group '%s': %d is not a valid retention", lg.Name, lg.RetentionDays)
		}
	}
	for phase := range p.LogGroups {
		switch phase {
		case PhaseSynth, PhaseSelfMutate, PhaseAssets:
		default:
			errs.Add("unknown log group phase '%s'", phase)
		}
	}

	waves := map[string]bool{}
	deployed := map[string]string{}
	for _, w := range p.Waves {
		if waves[w.Name] {
			errs.Add("wave '%s' is declared more than once", w.Name)
		}
		waves[w.Name] = true
		if len(w.Stages) == 0 {
			errs.Add("wave '%s' has no stages", w.Name)
		}
		for _, st := range w.Stages {
			if !stages[st] {
				errs.Add("wave '%s' names undeclared stage '%s'", w.Name, st)
			}
			if prev, ok := deployed[st]; ok {
				errs.Add("stage '%s' is deployed by both wave '%s' and wave '%s'", st, prev, w.Name)
			}
			deployed[st] = w.Name
		}
	}
}
