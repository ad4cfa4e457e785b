package hcl_adapter

import (
	"fmt"

	"github.com/specialistvlad/steloinfra/internal/config"
)

// Pipeline flag defaults applied when a descriptor leaves them unset.
const (
	defaultSelfMutation            = true
	defaultPublishAssetsInParallel = true
	defaultUseChangeSets           = true
	defaultSecurityChecks          = true
)

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// translatePipeline converts the decoded pipeline block into the model.
func translatePipeline(name string, pb *PipelineBlock) (*config.Pipeline, error) {
	p := &config.Pipeline{
		Name:                          name,
		PipelineName:                  pb.PipelineName,
		StackName:                     pb.StackName,
		Description:                   pb.Description,
		TerminationProtection:         boolOr(pb.TerminationProtection, false),
		Tags:                          pb.Tags,
		SelfMutation:                  boolOr(pb.SelfMutation, defaultSelfMutation),
		CrossAccountKeys:              boolOr(pb.CrossAccountKeys, false),
		EnableKeyRotation:             boolOr(pb.EnableKeyRotation, false),
		PublishAssetsInParallel:       boolOr(pb.PublishAssetsInParallel, defaultPublishAssetsInParallel),
		UseChangeSets:                 boolOr(pb.UseChangeSets, defaultUseChangeSets),
		ReuseCrossRegionSupportStacks: boolOr(pb.ReuseCrossRegionSupportStacks, false),
		SecurityChecks:                boolOr(pb.SecurityChecks, defaultSecurityChecks),
		LogGroups:                     map[string]*config.LogGroup{},
	}

	if be := pb.BuildEnvironment; be != nil {
		p.BuildEnvironment = &config.BuildEnvironment{
			Image:                be.Image,
			ComputeType:          be.ComputeType,
			Privileged:           be.Privileged,
			EnvironmentVariables: be.EnvironmentVariables,
		}
	}

	for _, lg := range pb.LogGroups {
		if _, ok := p.LogGroups[lg.Phase]; ok {
			return nil, fmt.Errorf("pipeline '%s': log group for phase '%s' is declared more than once", name, lg.Phase)
		}
		p.LogGroups[lg.Phase] = &config.LogGroup{
			Phase:         lg.Phase,
			Name:          lg.Name,
			RetentionDays: lg.RetentionDays,
			RemovalPolicy: lg.RemovalPolicy,
		}
	}

	for _, src := range pb.Sources {
		branch := src.Branch
		if branch == "" {
			branch = "main"
		}
		p.Sources = append(p.Sources, &config.Source{
			Name:          src.Name,
			Repository:    src.Repository,
			Branch:        branch,
			ConnectionArn: src.ConnectionArn,
			CloneOutput:   src.CloneOutput,
		})
	}

	if sy := pb.Synth; sy != nil {
		p.Synth = &config.Synth{
			Input:                  sy.Input,
			AdditionalInputs:       sy.AdditionalInputs,
			InstallCommands:        sy.InstallCommands,
			Commands:               sy.Commands,
			PrimaryOutputDirectory: sy.PrimaryOutputDirectory,
		}
	}

	for _, w := range pb.Waves {
		p.Waves = append(p.Waves, &config.Wave{Name: w.Name, Stages: w.Stages})
	}
	return p, nil
}
