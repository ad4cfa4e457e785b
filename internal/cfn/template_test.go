package cfn

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReferences(t *testing.T) {
	props := Props{
		"BucketName": Ref("AssetsBucket1A2B3C4D"),
		"Target":     GetAtt("AssetsDistro5E6F7A8B", "DomainName"),
		"Arn":        Sub("arn:${AWS::Partition}:s3:::${LogsBucket9C0D1E2F}/*"),
		"Account":    Ref(PseudoAccountID),
		"Nested": []any{
			map[string]any{"Key": Join("", "a", Ref("EncryptionKey1B2C3D4E"))},
		},
		"Literal": "${NotASub}",
	}

	assert.Equal(t, []string{
		"AssetsBucket1A2B3C4D",
		"AssetsDistro5E6F7A8B",
		"EncryptionKey1B2C3D4E",
		"LogsBucket9C0D1E2F",
	}, References(props))
}

func TestLookup(t *testing.T) {
	props := Props{
		"DistributionConfig": map[string]any{
			"Origins": []any{map[string]any{"Id": "origin"}},
		},
	}

	v, ok := LookupString(props, "DistributionConfig", "Origins", 0, "Id")
	require.True(t, ok)
	assert.Equal(t, "origin", v)

	_, ok = Lookup(props, "DistributionConfig", "Origins", 3)
	assert.False(t, ok)
	_, ok = Lookup(props, "Missing")
	assert.False(t, ok)
}

func TestTemplate_Render(t *testing.T) {
	tpl := New("CDN resources")
	tpl.Resources["Zone"] = &Resource{
		Type:       "AWS::Route53::HostedZone",
		Properties: Props{"Name": "cdn.stelo.dev."},
	}
	tpl.Resources["Alias"] = &Resource{
		Type:       "AWS::Route53::RecordSet",
		Properties: Props{"HostedZoneId": Ref("Zone"), "Comment": "a <b> & c"},
	}

	raw, err := tpl.JSON()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"AWSTemplateFormatVersion": "2010-09-09"`)
	assert.Contains(t, string(raw), `a <b> & c`)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "CDN resources", decoded["Description"])

	y, err := tpl.YAML()
	require.NoError(t, err)
	assert.Contains(t, string(y), "AWSTemplateFormatVersion:")
	assert.Contains(t, string(y), "2010-09-09")
	assert.Contains(t, string(y), "Ref: Zone")

	assert.Equal(t, []string{"Alias", "Zone"}, tpl.LogicalIDs())
	assert.Equal(t, []string{"Zone"}, tpl.ResourcesOfType("AWS::Route53::HostedZone"))
}

func TestCheckProperties(t *testing.T) {
	testCases := []struct {
		name         string
		resourceType string
		props        Props
		want         []string
	}{
		{
			name:         "known nested keys",
			resourceType: "AWS::S3::Bucket",
			props: Props{
				"BucketName": "access.logs.stelo.dev",
				"LifecycleConfiguration": map[string]any{
					"Rules": []any{
						map[string]any{
							"ExpirationInDays": 90,
							"Status":           "Enabled",
							"Transitions":      []any{map[string]any{"StorageClass": "STANDARD_IA", "TransitionInDays": 30}},
						},
					},
				},
				"Tags": []any{map[string]any{"Key": "stelo:app", "Value": "website"}},
			},
		},
		{
			name:         "misspelled keys at any depth",
			resourceType: "AWS::S3::Bucket",
			props: Props{
				"BucketNmae": "stelo.dev",
				"LifecycleConfiguration": map[string]any{
					"Rules": []any{
						map[string]any{"Status": "Enabled", "Transitionz": []any{}},
					},
				},
				"LoggingConfiguration": map[string]any{"LogFilePrefx": "stelo.dev/bucket/"},
			},
			want: []string{
				"unknown property 'BucketNmae'",
				"unknown property 'LifecycleConfiguration.Rules[0].Transitionz'",
				"unknown property 'LoggingConfiguration.LogFilePrefx'",
			},
		},
		{
			name:         "intrinsics stand in for nested values",
			resourceType: "AWS::CloudFront::Distribution",
			props: Props{
				"DistributionConfig": map[string]any{
					"Logging":           map[string]any{"Bucket": GetAtt("LogsBucket", "RegionalDomainName")},
					"ViewerCertificate": Ref("CertificateParam"),
				},
			},
		},
		{
			name:         "free-form policy documents",
			resourceType: "AWS::KMS::Key",
			props: Props{
				"KeyPolicy": map[string]any{"Statement": []any{map[string]any{"Anything": true}}},
			},
		},
		{
			name:         "custom resources are not modeled",
			resourceType: "Custom::CDKBucketDeployment",
			props:        Props{"DestinationBucketName": Ref("AssetsBucket"), "Prune": true},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CheckProperties(tc.resourceType, tc.props))
		})
	}
}
