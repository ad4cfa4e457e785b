// Package distribution builds the CDN stage: a KMS key, the logs and assets
// buckets, the bucket deployment, DNS zone and certificate, origin access
// control, the CloudFront distribution with its response headers policy,
// and the apex alias record.
package distribution

import (
	"context"
	"fmt"

	"github.com/specialistvlad/steloinfra/internal/ctxlog"
	"github.com/specialistvlad/steloinfra/internal/registry"
	"github.com/specialistvlad/steloinfra/internal/stack"
)

// Kind is the stage kind this module registers.
const Kind = "distribution"

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the stage builder with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterStage(Kind, &registry.RegisteredStage{
		NewInput: func() any { return new(Input) },
		Validate: func(input any) error {
			in, ok := input.(*Input)
			if !ok {
				return fmt.Errorf("distribution: unexpected input type %T", input)
			}
			in.applyDefaults()
			return in.Validate()
		},
		Build: func(ctx context.Context, bc *registry.BuildContext, input any) ([]*stack.Stack, error) {
			in, ok := input.(*Input)
			if !ok {
				return nil, fmt.Errorf("distribution: unexpected input type %T", input)
			}
			s, err := Build(ctx, bc, in)
			if err != nil {
				return nil, err
			}
			return []*stack.Stack{s}, nil
		},
	})
}

// Build declares the distribution stack for one stage instance.
func Build(ctx context.Context, bc *registry.BuildContext, in *Input) (*stack.Stack, error) {
	in.applyDefaults()
	if err := in.Validate(); err != nil {
		return nil, err
	}

	ctx, logger := ctxlog.With(ctx, "stack", in.StackID)
	logger.Debug("Building distribution stack.")

	tags := map[string]string{}
	for k, v := range bc.Tags {
		tags[k] = v
	}
	for k, v := range in.Tags {
		tags[k] = v
	}

	s := stack.New(in.StackID, stack.Props{
		StackName:             in.StackName,
		Description:           in.Description,
		TerminationProtection: *in.TerminationProtection,
		Env:                   bc.Env,
		Tags:                  tags,
		SecurityChecks:        *in.SecurityChecks,
	})

	b := &builder{ctx: ctx, in: in, s: s, baseDir: bc.Stage.BaseDir}
	steps := []func() error{
		b.encryptionKey,
		b.logsBucket,
		b.assetsBucket,
		b.deployment,
		b.hostedZone,
		b.certificate,
		b.originAccessControl,
		b.responseHeadersPolicy,
		b.distribution,
		b.aliasRecord,
		b.assetsBucketPolicy,
		b.suppressions,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}

	logger.Info("Distribution stack declared.", "resources", len(s.Resources()), "domain", in.DomainName)
	return s, nil
}
