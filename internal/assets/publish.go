package assets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
	"github.com/specialistvlad/steloinfra/internal/ctxlog"
)

// ObjectAPI is the subset of the S3 client the publisher needs.
type ObjectAPI interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ClientFactory returns a client able to write to dest.
type ClientFactory func(ctx context.Context, dest *Destination) (ObjectAPI, error)

// Publisher uploads staged assets to their destinations.
type Publisher struct {
	clients ClientFactory
	dryRun  bool

	partition, account, region string
}

// Result reports what happened to one asset destination.
type Result struct {
	Hash      string
	Bucket    string
	Key       string
	Uploaded  bool
	Skipped   bool
	DryRun    bool
	SizeBytes int
}

// NewPublisher builds a publisher on top of an arbitrary client factory.
func NewPublisher(clients ClientFactory, dryRun bool) *Publisher {
	return &Publisher{clients: clients, dryRun: dryRun}
}

// SetEnvironment fills the bootstrap placeholders that environment-agnostic
// synthesis leaves in asset destinations.
func (p *Publisher) SetEnvironment(partition, account, region string) {
	p.partition, p.account, p.region = partition, account, region
}

func (p *Publisher) resolve(dest *Destination) (*Destination, error) {
	partition := p.partition
	if partition == "" {
		partition = "aws"
	}
	out := *dest
	for _, field := range []*string{&out.BucketName, &out.ObjectKey, &out.Region, &out.AssumeRoleArn} {
		*field = ResolvePlaceholders(*field, partition, p.account, p.region)
		if strings.Contains(*field, "${") && !p.dryRun {
			return nil, fmt.Errorf("destination %q has unresolved placeholders, set the target account and region", *field)
		}
	}
	return &out, nil
}

// S3Options configures the AWS-backed client factory.
type S3Options struct {
	// Endpoint overrides the S3 endpoint, e.g. for LocalStack.
	Endpoint string
	// SkipAssumeRole publishes with the ambient credentials instead of the
	// destination's publishing role.
	SkipAssumeRole bool
}

// NewS3ClientFactory returns a factory creating one S3 client per
// destination, assuming the destination's publishing role when present.
func NewS3ClientFactory(opts S3Options) ClientFactory {
	return func(ctx context.Context, dest *Destination) (ObjectAPI, error) {
		var loadOpts []func(*config.LoadOptions) error
		if dest.Region != "" {
			loadOpts = append(loadOpts, config.WithRegion(dest.Region))
		}
		cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}

		if dest.AssumeRoleArn != "" && !opts.SkipAssumeRole {
			provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(cfg), dest.AssumeRoleArn, func(o *stscreds.AssumeRoleOptions) {
				o.RoleSessionName = "steloinfra-publish"
			})
			cfg.Credentials = aws.NewCredentialsCache(provider)
		}

		var s3Opts []func(*s3.Options)
		if opts.Endpoint != "" {
			s3Opts = append(s3Opts, func(o *s3.Options) {
				o.BaseEndpoint = aws.String(opts.Endpoint)
				o.UsePathStyle = true
			})
		}
		return s3.NewFromConfig(cfg, s3Opts...), nil
	}
}

// PublishManifest publishes every file asset listed in the manifest at path.
func (p *Publisher) PublishManifest(ctx context.Context, path string) ([]Result, error) {
	m, err := ReadManifest(path)
	if err != nil {
		return nil, err
	}

	base := filepath.Dir(path)
	var results []Result
	for _, hash := range m.Hashes() {
		entry := m.Files[hash]
		for _, destID := range sortedKeys(entry.Destinations) {
			dest, err := p.resolve(entry.Destinations[destID])
			if err != nil {
				return results, err
			}
			res, err := p.Publish(ctx, hash, filepath.Join(base, entry.Source.Path), entry.Source.Packaging, dest)
			if err != nil {
				return results, fmt.Errorf("publishing %s to %s: %w", hash, destID, err)
			}
			results = append(results, res)
		}
	}
	return results, nil
}

// Publish uploads one staged asset unless the destination already holds it.
func (p *Publisher) Publish(ctx context.Context, hash, stagedPath, packaging string, dest *Destination) (Result, error) {
	ctx, logger := ctxlog.With(ctx, "asset", hash, "bucket", dest.BucketName, "key", dest.ObjectKey)
	res := Result{Hash: hash, Bucket: dest.BucketName, Key: dest.ObjectKey, DryRun: p.dryRun}

	body, contentType, err := packageAsset(stagedPath, packaging)
	if err != nil {
		return res, err
	}
	res.SizeBytes = len(body)

	if p.dryRun {
		logger.Info("Dry run: asset would be published.", "size", res.SizeBytes)
		return res, nil
	}

	client, err := p.clients(ctx, dest)
	if err != nil {
		return res, err
	}

	exists, err := objectExists(ctx, client, dest)
	if err != nil {
		return res, err
	}
	if exists {
		logger.Info("Asset already published, skipping.")
		res.Skipped = true
		return res, nil
	}

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(dest.BucketName),
		Key:           aws.String(dest.ObjectKey),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return res, fmt.Errorf("put s3://%s/%s: %w", dest.BucketName, dest.ObjectKey, err)
	}

	logger.Info("📦 Asset published.", "size", res.SizeBytes)
	res.Uploaded = true
	return res, nil
}

func packageAsset(stagedPath, packaging string) ([]byte, string, error) {
	switch packaging {
	case PackagingZip:
		var buf bytes.Buffer
		if err := Zip(stagedPath, &buf); err != nil {
			return nil, "", fmt.Errorf("packaging %s: %w", stagedPath, err)
		}
		return buf.Bytes(), "application/zip", nil
	case PackagingFile:
		raw, err := os.ReadFile(stagedPath)
		if err != nil {
			return nil, "", err
		}
		return raw, "application/octet-stream", nil
	default:
		return nil, "", fmt.Errorf("unsupported packaging %q", packaging)
	}
}

func objectExists(ctx context.Context, client ObjectAPI, dest *Destination) (bool, error) {
	_, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(dest.BucketName),
		Key:    aws.String(dest.ObjectKey),
	})
	if err == nil {
		return true, nil
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return false, nil
		}
	}
	return false, fmt.Errorf("head s3://%s/%s: %w", dest.BucketName, dest.ObjectKey, err)
}

// ResolvePlaceholders substitutes the partition, account and region
// placeholders used by bootstrap resource names.
// Empty values leave their placeholder in place.
func ResolvePlaceholders(s, partition, account, region string) string {
	var pairs []string
	for placeholder, value := range map[string]string{
		"${AWS::Partition}": partition,
		"${AWS::AccountId}": account,
		"${AWS::Region}":    region,
	} {
		if value != "" {
			pairs = append(pairs, placeholder, value)
		}
	}
	if len(pairs) == 0 {
		return s
	}
	return strings.NewReplacer(pairs...).Replace(s)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
