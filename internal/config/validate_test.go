package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validModel() *Model {
	return &Model{
		App: &App{Name: "stelo-web", Region: "us-east-1"},
		Pipeline: &Pipeline{
			Name: "Pipeline",
			Sources: []*Source{
				{Name: "cdk.stelo.me", Repository: "jfkisafk/cdk.stelo.me", Branch: "main", ConnectionArn: "arn"},
				{Name: "stelo.cdn", Repository: "jfkisafk/stelo.cdn", Branch: "main", ConnectionArn: "arn"},
			},
			Synth: &Synth{
				Input:            "cdk.stelo.me",
				AdditionalInputs: map[string]string{"../cdn": "stelo.cdn"},
				Commands:         []string{"npm ci"},
			},
			LogGroups: map[string]*LogGroup{
				PhaseSynth: {Phase: PhaseSynth, Name: "/aws/codebuild/stelo-web-synth", RetentionDays: 180},
			},
			Waves: []*Wave{{Name: "Global", Stages: []string{"CDN"}}},
		},
		Stages: []*Stage{{Kind: "distribution", Name: "CDN"}},
	}
}

func TestModel_Validate(t *testing.T) {
	require.NoError(t, validModel().Validate())

	testCases := []struct {
		name    string
		mutate  func(m *Model)
		wantErr string
	}{
		{
			name:    "missing app",
			mutate:  func(m *Model) { m.App = nil },
			wantErr: "no 'app' block declared",
		},
		{
			name:    "missing pipeline",
			mutate:  func(m *Model) { m.Pipeline = nil },
			wantErr: "no 'pipeline' block declared",
		},
		{
			name:    "additional input without source",
			mutate:  func(m *Model) { m.Pipeline.Synth.AdditionalInputs["../site"] = "site" },
			wantErr: "additional input '../site' refers to undeclared source 'site'",
		},
		{
			name:    "synth input without source",
			mutate:  func(m *Model) { m.Pipeline.Synth.Input = "nope" },
			wantErr: "synth input 'nope' does not match a declared source",
		},
		{
			name:    "wave stage not declared",
			mutate:  func(m *Model) { m.Pipeline.Waves[0].Stages = append(m.Pipeline.Waves[0].Stages, "Edge") },
			wantErr: "wave 'Global' names undeclared stage 'Edge'",
		},
		{
			name:    "invalid retention",
			mutate:  func(m *Model) { m.Pipeline.LogGroups[PhaseSynth].RetentionDays = 42 },
			wantErr: "42 is not a valid retention",
		},
		{
			name: "duplicate stage",
			mutate: func(m *Model) {
				m.Stages = append(m.Stages, &Stage{Kind: "distribution", Name: "CDN"})
			},
			wantErr: "stage 'CDN' is declared more than once",
		},
		{
			name:    "bad repository",
			mutate:  func(m *Model) { m.Pipeline.Sources[0].Repository = "cdk.stelo.me" },
			wantErr: "must be in owner/name form",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m := validModel()
			tc.mutate(m)
			err := m.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "validation failed:")
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestModel_Lookups(t *testing.T) {
	m := validModel()
	st, ok := m.Stage("CDN")
	require.True(t, ok)
	assert.Equal(t, "distribution", st.Kind)

	_, ok = m.Pipeline.Source("missing")
	assert.False(t, ok)
}
