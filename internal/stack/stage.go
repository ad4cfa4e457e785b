package stack

import "fmt"

// Stage groups stacks deployed together by a pipeline wave. It becomes a
// nested cloud assembly named after its ID.
type Stage struct {
	ID        string
	StageName string
	Env       Environment

	stacks []*Stack
}

// NewStage creates an empty stage.
func NewStage(id, stageName string, env Environment) *Stage {
	return &Stage{ID: id, StageName: stageName, Env: env}
}

// AddStack attaches s to the stage. Stacks inherit the stage environment
// when they do not declare their own.
func (st *Stage) AddStack(s *Stack) error {
	for _, existing := range st.stacks {
		if existing.ID == s.ID {
			return fmt.Errorf("stage '%s' already has a stack '%s'", st.ID, s.ID)
		}
	}
	if s.Env.Account == "" {
		s.Env.Account = st.Env.Account
	}
	if s.Env.Region == "" {
		s.Env.Region = st.Env.Region
	}
	st.stacks = append(st.stacks, s)
	return nil
}

// Name is the display name of the stage: its stage name when set, its ID
// otherwise. Pipeline actions deploying the stage are prefixed with it.
func (st *Stage) Name() string {
	if st.StageName != "" {
		return st.StageName
	}
	return st.ID
}

// Stacks returns the stage's stacks in the order they were added.
func (st *Stage) Stacks() []*Stack {
	return append([]*Stack(nil), st.stacks...)
}

// AssemblyDir is the directory name of the stage's nested cloud assembly.
func (st *Stage) AssemblyDir() string {
	return "assembly-" + st.ID
}
