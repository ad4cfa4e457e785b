package assets

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObjects struct {
	existing map[string]bool
	headErr  error
	puts     map[string][]byte
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{existing: map[string]bool{}, puts: map[string][]byte{}}
}

func (f *fakeObjects) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	if f.existing[*in.Bucket+"/"+*in.Key] {
		return &s3.HeadObjectOutput{}, nil
	}
	return nil, &smithy.GenericAPIError{Code: "NotFound", Message: "Not Found"}
}

func (f *fakeObjects) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.puts[*in.Bucket+"/"+*in.Key] = body
	return &s3.PutObjectOutput{}, nil
}

func stagedAssembly(t *testing.T) (string, FileAsset) {
	t.Helper()
	src := writeTree(t, map[string]string{"index.html": "hello"})
	asset, err := Stage(context.Background(), src, "CDN/Deployment/Asset1")
	require.NoError(t, err)

	out := t.TempDir()
	_, err = CopyInto(asset, out)
	require.NoError(t, err)

	m := NewManifest()
	m.Add(asset, "123456789012-eu-central-1", &Destination{
		BucketName:    "cdk-hnb659fds-assets-123456789012-eu-central-1",
		ObjectKey:     asset.ObjectKey(),
		Region:        "eu-central-1",
		AssumeRoleArn: "arn:aws:iam::123456789012:role/cdk-hnb659fds-file-publishing-role-123456789012-eu-central-1",
	})
	require.NoError(t, WriteManifest(filepath.Join(out, "CDNStack.assets.json"), m))
	return out, asset
}

func TestPublisher_PublishManifest(t *testing.T) {
	dir, asset := stagedAssembly(t)
	fake := newFakeObjects()
	var seen []*Destination
	factory := func(_ context.Context, dest *Destination) (ObjectAPI, error) {
		seen = append(seen, dest)
		return fake, nil
	}

	p := NewPublisher(factory, false)
	results, err := p.PublishManifest(context.Background(), filepath.Join(dir, "CDNStack.assets.json"))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Uploaded)
	assert.Equal(t, asset.Hash, results[0].Hash)
	require.Len(t, seen, 1)
	assert.Equal(t, "eu-central-1", seen[0].Region)

	key := "cdk-hnb659fds-assets-123456789012-eu-central-1/" + asset.ObjectKey()
	assert.NotEmpty(t, fake.puts[key])

	t.Run("existing objects are skipped", func(t *testing.T) {
		fake.existing[key] = true
		delete(fake.puts, key)
		results, err := p.PublishManifest(context.Background(), filepath.Join(dir, "CDNStack.assets.json"))
		require.NoError(t, err)
		assert.True(t, results[0].Skipped)
		assert.Empty(t, fake.puts)
	})
}

func TestPublisher_DryRunNeverCallsS3(t *testing.T) {
	dir, _ := stagedAssembly(t)
	factory := func(context.Context, *Destination) (ObjectAPI, error) {
		t.Fatal("client factory must not be called in dry run")
		return nil, nil
	}

	results, err := NewPublisher(factory, true).PublishManifest(context.Background(), filepath.Join(dir, "CDNStack.assets.json"))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].DryRun)
	assert.Positive(t, results[0].SizeBytes)
}

func TestPublisher_HeadErrorsPropagate(t *testing.T) {
	dir, _ := stagedAssembly(t)
	fake := newFakeObjects()
	fake.headErr = &smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"}
	factory := func(context.Context, *Destination) (ObjectAPI, error) { return fake, nil }

	_, err := NewPublisher(factory, false).PublishManifest(context.Background(), filepath.Join(dir, "CDNStack.assets.json"))
	require.Error(t, err)
	var apiErr smithy.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "AccessDenied", apiErr.ErrorCode())
}

func TestFindManifests(t *testing.T) {
	dir, _ := stagedAssembly(t)
	found, err := FindManifests(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "CDNStack.assets.json")}, found)
}

func TestResolvePlaceholders(t *testing.T) {
	got := ResolvePlaceholders("arn:${AWS::Partition}:iam::${AWS::AccountId}:role/x-${AWS::Region}", "aws", "1", "eu-west-1")
	assert.Equal(t, "arn:aws:iam::1:role/x-eu-west-1", got)
}

func TestPublisher_ResolvesPlaceholders(t *testing.T) {
	src := writeTree(t, map[string]string{"index.html": "hello"})
	asset, err := Stage(context.Background(), src, "")
	require.NoError(t, err)
	dir := t.TempDir()
	_, err = CopyInto(asset, dir)
	require.NoError(t, err)

	m := NewManifest()
	m.Add(asset, "current_account-current_region", &Destination{
		BucketName: "cdk-hnb659fds-assets-${AWS::AccountId}-${AWS::Region}",
		ObjectKey:  asset.ObjectKey(),
	})
	path := filepath.Join(dir, "Stack.assets.json")
	require.NoError(t, WriteManifest(path, m))

	fake := newFakeObjects()
	factory := func(context.Context, *Destination) (ObjectAPI, error) { return fake, nil }

	_, err = NewPublisher(factory, false).PublishManifest(context.Background(), path)
	require.ErrorContains(t, err, "unresolved placeholders")

	p := NewPublisher(factory, false)
	p.SetEnvironment("", "123456789012", "us-east-1")
	results, err := p.PublishManifest(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "cdk-hnb659fds-assets-123456789012-us-east-1", results[0].Bucket)
}
