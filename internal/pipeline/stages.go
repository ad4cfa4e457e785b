package pipeline

import (
	"github.com/specialistvlad/steloinfra/internal/cfn"
	"github.com/specialistvlad/steloinfra/internal/stack"
)

// deployCapabilities are acknowledged on every stack deployment.
const deployCapabilities = "CAPABILITY_NAMED_IAM,CAPABILITY_AUTO_EXPAND"

func actionType(category, provider string) map[string]any {
	return map[string]any{"Category": category, "Owner": "AWS", "Provider": provider, "Version": "1"}
}

func artifactRefs(names ...string) []any {
	out := make([]any, 0, len(names))
	for _, n := range names {
		out = append(out, map[string]any{"Name": n})
	}
	return out
}

func (b *builder) sourceActions() []any {
	var actions []any
	for _, src := range b.synthSources() {
		format := "CODE_ZIP"
		if src.CloneOutput {
			format = "CODEBUILD_CLONE_REF"
		}
		actions = append(actions, map[string]any{
			"ActionTypeId": actionType("Source", "CodeStarSourceConnection"),
			"Configuration": map[string]any{
				"BranchName":           src.Branch,
				"ConnectionArn":        src.ConnectionArn,
				"FullRepositoryId":     src.Repository,
				"OutputArtifactFormat": format,
			},
			"Name":            src.Name,
			"OutputArtifacts": artifactRefs(ArtifactName(src.Repository)),
			"RunOrder":        1,
		})
	}
	return actions
}

func (b *builder) synthAction() map[string]any {
	var inputs []string
	for _, src := range b.synthSources() {
		inputs = append(inputs, ArtifactName(src.Repository))
	}
	configuration := map[string]any{"ProjectName": b.synth.Ref()}
	if len(inputs) > 1 {
		configuration["PrimarySource"] = inputs[0]
	}
	return map[string]any{
		"ActionTypeId":    actionType("Build", "CodeBuild"),
		"Configuration":   configuration,
		"InputArtifacts":  artifactRefs(inputs...),
		"Name":            "Synth",
		"OutputArtifacts": artifactRefs(SynthOutput),
		"RunOrder":        1,
	}
}

func (b *builder) codeBuildAction(name string, project any) map[string]any {
	return map[string]any{
		"ActionTypeId":   actionType("Build", "CodeBuild"),
		"Configuration":  map[string]any{"ProjectName": project},
		"InputArtifacts": artifactRefs(SynthOutput),
		"Name":           name,
		"RunOrder":       1,
	}
}

// waveActions deploys every stack of the wave's stages. With change sets
// each stack gets a Prepare action followed by a Deploy action.
func (b *builder) waveActions(wave string) []any {
	var actions []any
	for _, st := range b.waves[wave] {
		for _, a := range st.Artifacts {
			env := a.Stack.Env
			prefix := st.Stage.Name() + "." + a.Stack.ID
			templatePath := SynthOutput + "::" + st.Stage.AssemblyDir() + "/" + a.TemplateFile()

			action := func(name, mode string, runOrder int) map[string]any {
				out := map[string]any{
					"ActionTypeId": actionType("Deploy", "CloudFormation"),
					"Configuration": map[string]any{
						"ActionMode": mode,
						"StackName":  a.Stack.Name(),
					},
					"Name":     prefix + "." + name,
					"RoleArn":  bootstrapRole(env, stack.DeployRolePattern),
					"RunOrder": runOrder,
				}
				if env.Region != "" {
					out["Region"] = env.Region
				}
				return out
			}
			withTemplate := func(act map[string]any) map[string]any {
				cfg := act["Configuration"].(map[string]any)
				cfg["Capabilities"] = deployCapabilities
				cfg["RoleArn"] = bootstrapRole(env, stack.CloudFormationExecPattern)
				cfg["TemplatePath"] = templatePath
				act["InputArtifacts"] = artifactRefs(SynthOutput)
				return act
			}

			if !b.p.UseChangeSets {
				actions = append(actions, withTemplate(action("Deploy", "CREATE_UPDATE", 1)))
				continue
			}
			prepare := withTemplate(action("Prepare", "CHANGE_SET_REPLACE", 1))
			prepare["Configuration"].(map[string]any)["ChangeSetName"] = ChangeSetName
			deploy := action("Deploy", "CHANGE_SET_EXECUTE", 2)
			deploy["Configuration"].(map[string]any)["ChangeSetName"] = ChangeSetName
			actions = append(actions, prepare, deploy)
		}
	}
	return actions
}

// pipeline declares the pipeline itself with its stages in dependency order.
func (b *builder) pipeline() error {
	policy := b.pipelineRolePolicy()

	order, err := StageOrder(b.p, len(b.assetProjects) > 0)
	if err != nil {
		return err
	}

	stages := make([]any, 0, len(order))
	for _, name := range order {
		var actions []any
		switch name {
		case PhaseSource:
			actions = b.sourceActions()
		case PhaseBuild:
			actions = []any{b.synthAction()}
		case PhaseUpdatePipeline:
			actions = []any{b.codeBuildAction("SelfMutate", b.mutate.Ref())}
		case PhaseAssets:
			for _, ap := range b.assetProjects {
				actions = append(actions, b.codeBuildAction(ap.name, ap.project.Ref()))
			}
		default:
			actions = b.waveActions(name)
		}
		stages = append(stages, map[string]any{"Actions": actions, "Name": name})
	}

	store := map[string]any{"Location": b.bucket.Ref(), "Type": "S3"}
	if b.key != nil {
		store["EncryptionKey"] = map[string]any{"Id": b.key.Arn(), "Type": "KMS"}
	}

	p := b.s.Add("CodePipeline/Pipeline/Resource", "AWS::CodePipeline::Pipeline", cfn.Props{
		"ArtifactStore":            store,
		"Name":                     b.pipelineName(),
		"PipelineType":             "V2",
		"RestartExecutionOnUpdate": true,
		"RoleArn":                  b.role.Arn(),
		"Stages":                   stages,
	})
	p.AddDependency(b.role, policy)
	p.AddDependency(b.policies...)

	b.s.AddOutput("PipelineName", "Name of the delivery pipeline", p.Ref())
	return nil
}
