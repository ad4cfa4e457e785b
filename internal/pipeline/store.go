package pipeline

import (
	"strings"

	"github.com/specialistvlad/steloinfra/internal/cfn"
	"github.com/specialistvlad/steloinfra/internal/config"
	"github.com/specialistvlad/steloinfra/internal/stack"
)

// artifactActions are the S3 actions granted on the artifact bucket.
var artifactActions = []any{
	"s3:Abort*", "s3:DeleteObject*", "s3:GetBucket*", "s3:GetObject*", "s3:List*",
	"s3:PutObject", "s3:PutObjectLegalHold", "s3:PutObjectRetention",
	"s3:PutObjectTagging", "s3:PutObjectVersionTagging",
}

// logGroupConstructs names the construct of each phase's log group.
var logGroupConstructs = map[string]string{
	config.PhaseSynth:      "SynthCodeBuildLogGroup",
	config.PhaseSelfMutate: "SelfMutateCodeBuildLogGroup",
	config.PhaseAssets:     "AssetsCodeBuildLogGroup",
}

func tlsDenyStatement(bucket *stack.Resource) map[string]any {
	return map[string]any{
		"Action":    "s3:*",
		"Condition": map[string]any{"Bool": map[string]any{"aws:SecureTransport": "false"}},
		"Effect":    "Deny",
		"Principal": map[string]any{"AWS": "*"},
		"Resource":  []any{bucket.Arn(), cfn.Join("", bucket.Arn(), "/*")},
	}
}

// artifactStore declares the artifact bucket and, with cross-account keys,
// the customer managed key encrypting it.
func (b *builder) artifactStore() error {
	targets := b.deployTargets()

	encryption := map[string]any{"SSEAlgorithm": "AES256"}
	if b.p.CrossAccountKeys {
		statements := []any{
			map[string]any{
				"Action":    "kms:*",
				"Effect":    "Allow",
				"Principal": map[string]any{"AWS": b.accountRoot(b.env.Account)},
				"Resource":  "*",
			},
		}
		for _, env := range targets {
			if env.Account == "" || env.Account == b.env.Account {
				continue
			}
			statements = append(statements, map[string]any{
				"Action":    []any{"kms:Decrypt", "kms:DescribeKey"},
				"Effect":    "Allow",
				"Principal": map[string]any{"AWS": bootstrapRole(env, stack.DeployRolePattern)},
				"Resource":  "*",
			})
		}

		b.key = b.s.Add("CodePipeline/Pipeline/ArtifactsBucketEncryptionKey/Resource", "AWS::KMS::Key", cfn.Props{
			"EnableKeyRotation": b.p.EnableKeyRotation,
			"KeyPolicy": map[string]any{
				"Statement": statements,
				"Version":   "2012-10-17",
			},
		}).ApplyRemovalPolicy(cfn.PolicyDelete)

		b.s.Add("CodePipeline/Pipeline/ArtifactsBucketEncryptionKeyAlias/Resource", "AWS::KMS::Alias", cfn.Props{
			"AliasName":   "alias/codepipeline-" + strings.ToLower(b.s.Name()),
			"TargetKeyId": b.key.Arn(),
		}).ApplyRemovalPolicy(cfn.PolicyDelete)

		encryption = map[string]any{"KMSMasterKeyID": b.key.Arn(), "SSEAlgorithm": "aws:kms"}
	}

	b.bucket = b.s.Add("CodePipeline/Pipeline/ArtifactsBucket/Resource", "AWS::S3::Bucket", cfn.Props{
		"BucketEncryption": map[string]any{
			"ServerSideEncryptionConfiguration": []any{
				map[string]any{"ServerSideEncryptionByDefault": encryption},
			},
		},
		"PublicAccessBlockConfiguration": map[string]any{
			"BlockPublicAcls":       true,
			"BlockPublicPolicy":     true,
			"IgnorePublicAcls":      true,
			"RestrictPublicBuckets": true,
		},
	}).ApplyRemovalPolicy(cfn.PolicyRetain).
		Suppress("AwsSolutions-S1", "Pipeline artifacts are short-lived build outputs")

	statements := []any{tlsDenyStatement(b.bucket)}
	for _, env := range targets {
		if env.Account == "" || env.Account == b.env.Account {
			continue
		}
		statements = append(statements, map[string]any{
			"Action":    []any{"s3:GetBucket*", "s3:GetObject*", "s3:List*"},
			"Effect":    "Allow",
			"Principal": map[string]any{"AWS": bootstrapRole(env, stack.DeployRolePattern)},
			"Resource":  []any{b.bucket.Arn(), cfn.Join("", b.bucket.Arn(), "/*")},
		})
	}
	b.s.Add("CodePipeline/Pipeline/ArtifactsBucket/Policy/Resource", "AWS::S3::BucketPolicy", cfn.Props{
		"Bucket": b.bucket.Ref(),
		"PolicyDocument": map[string]any{
			"Statement": statements,
			"Version":   "2012-10-17",
		},
	})
	return nil
}

// artifactGrants are the statements letting a role read and write pipeline
// artifacts.
func (b *builder) artifactGrants() []any {
	grants := []any{
		map[string]any{
			"Action":   artifactActions,
			"Effect":   "Allow",
			"Resource": []any{b.bucket.Arn(), cfn.Join("", b.bucket.Arn(), "/*")},
		},
	}
	if b.key != nil {
		grants = append(grants, map[string]any{
			"Action":   []any{"kms:Decrypt", "kms:DescribeKey", "kms:Encrypt", "kms:GenerateDataKey*", "kms:ReEncrypt*"},
			"Effect":   "Allow",
			"Resource": b.key.Arn(),
		})
	}
	return grants
}

func (b *builder) serviceRole(path, service string) *stack.Resource {
	return b.s.Add(path, "AWS::IAM::Role", cfn.Props{
		"AssumeRolePolicyDocument": map[string]any{
			"Statement": []any{
				map[string]any{
					"Action":    "sts:AssumeRole",
					"Effect":    "Allow",
					"Principal": map[string]any{"Service": service},
				},
			},
			"Version": "2012-10-17",
		},
	})
}

// rolePolicy attaches the default policy of role.
func (b *builder) rolePolicy(role *stack.Resource, name string, statements []any) *stack.Resource {
	return b.s.Add(strings.TrimSuffix(role.Path, "/Resource")+"/DefaultPolicy/Resource", "AWS::IAM::Policy", cfn.Props{
		"PolicyDocument": map[string]any{
			"Statement": statements,
			"Version":   "2012-10-17",
		},
		"PolicyName": name,
		"Roles":      []any{role.Ref()},
	}).Suppress("AwsSolutions-IAM5", "Pipeline policies are scoped to the artifact store and bootstrap roles")
}

func (b *builder) pipelineRole() error {
	b.role = b.serviceRole("CodePipeline/Pipeline/Role/Resource", "codepipeline.amazonaws.com")
	return nil
}

// pipelineRolePolicy lets the pipeline reach every resource its actions use.
// It is declared once the projects exist.
func (b *builder) pipelineRolePolicy() *stack.Resource {
	statements := b.artifactGrants()

	var connections []any
	seen := map[string]bool{}
	for _, src := range b.p.Sources {
		if !seen[src.ConnectionArn] {
			seen[src.ConnectionArn] = true
			connections = append(connections, src.ConnectionArn)
		}
	}
	if len(connections) > 0 {
		statements = append(statements, map[string]any{
			"Action":   "codestar-connections:UseConnection",
			"Effect":   "Allow",
			"Resource": connections,
		})
	}

	projects := []any{b.synth.Arn()}
	if b.mutate != nil {
		projects = append(projects, b.mutate.Arn())
	}
	for _, ap := range b.assetProjects {
		projects = append(projects, ap.project.Arn())
	}
	statements = append(statements, map[string]any{
		"Action":   []any{"codebuild:BatchGetBuilds", "codebuild:StartBuild", "codebuild:StopBuild"},
		"Effect":   "Allow",
		"Resource": projects,
	})

	var deployRoles []any
	for _, env := range b.deployTargets() {
		deployRoles = append(deployRoles, bootstrapRole(env, stack.DeployRolePattern))
	}
	if len(deployRoles) > 0 {
		statements = append(statements, map[string]any{
			"Action":   "sts:AssumeRole",
			"Effect":   "Allow",
			"Resource": deployRoles,
		})
	}

	return b.rolePolicy(b.role, "CodePipelineRoleDefaultPolicy", statements)
}

func (b *builder) phaseLogGroups() error {
	for _, phase := range []string{config.PhaseSynth, config.PhaseSelfMutate, config.PhaseAssets} {
		lg, ok := b.p.LogGroups[phase]
		if !ok {
			continue
		}
		props := cfn.Props{"LogGroupName": lg.Name}
		if lg.RetentionDays > 0 {
			props["RetentionInDays"] = lg.RetentionDays
		}
		b.logGroups[phase] = b.s.Add(logGroupConstructs[phase]+"/Resource", "AWS::Logs::LogGroup", props).
			ApplyRemovalPolicy(orDefault(lg.RemovalPolicy, cfn.PolicyDelete))
	}
	return nil
}
