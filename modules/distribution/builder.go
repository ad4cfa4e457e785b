package distribution

import (
	"context"
	_ "embed"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/specialistvlad/steloinfra/internal/assets"
	"github.com/specialistvlad/steloinfra/internal/cfn"
	"github.com/specialistvlad/steloinfra/internal/stack"
)

// CachingOptimizedPolicyID is the managed CachingOptimized cache policy.
const CachingOptimizedPolicyID = "658327ea-f89d-4fab-a63d-7e88639e58f6"

// cloudFrontHostedZoneID is the fixed Route 53 zone of every CloudFront alias target.
const cloudFrontHostedZoneID = "Z2FDTNDATAQYW2"

//go:embed handler.py
var deploymentHandler string

type builder struct {
	ctx     context.Context
	in      *Input
	s       *stack.Stack
	baseDir string

	key, logs, bucket, zone, cert, oac, headers, distro *stack.Resource
}

func (b *builder) partitionArn(parts ...any) map[string]any {
	return cfn.Join("", append([]any{"arn:", cfn.Ref(cfn.PseudoPartition)}, parts...)...)
}

func (b *builder) accountRoot() map[string]any {
	return b.partitionArn(":iam::", cfn.Ref(cfn.PseudoAccountID), ":root")
}

// servicePrincipal returns the principal name of an AWS service. Logs uses
// the regional form.
func (b *builder) servicePrincipal(service string) any {
	if service == "logs" {
		if b.s.Env.Region != "" {
			return "logs." + b.s.Env.Region + ".amazonaws.com"
		}
		return cfn.Sub("logs.${AWS::Region}.amazonaws.com")
	}
	return service + ".amazonaws.com"
}

func tlsStatements(bucket *stack.Resource) []any {
	resources := []any{bucket.Arn(), cfn.Join("", bucket.Arn(), "/*")}
	return []any{
		map[string]any{
			"Action":    "s3:*",
			"Condition": map[string]any{"Bool": map[string]any{"aws:SecureTransport": "false"}},
			"Effect":    "Deny",
			"Principal": map[string]any{"AWS": "*"},
			"Resource":  resources,
		},
		map[string]any{
			"Action":    "s3:*",
			"Condition": map[string]any{"NumericLessThan": map[string]any{"s3:TlsVersion": 1.2}},
			"Effect":    "Deny",
			"Principal": map[string]any{"AWS": "*"},
			"Resource":  resources,
		},
	}
}

func kmsEncryption(key *stack.Resource) map[string]any {
	return map[string]any{
		"ServerSideEncryptionConfiguration": []any{
			map[string]any{
				"ServerSideEncryptionByDefault": map[string]any{
					"KMSMasterKeyID": key.Arn(),
					"SSEAlgorithm":   "aws:kms",
				},
			},
		},
	}
}

func blockAllPublicAccess() map[string]any {
	return map[string]any{
		"BlockPublicAcls":       true,
		"BlockPublicPolicy":     true,
		"IgnorePublicAcls":      true,
		"RestrictPublicBuckets": true,
	}
}

func (b *builder) encryptionKey() error {
	k := b.in.EncryptionKey
	description := orDefault(k.Description, fmt.Sprintf("Encryption key for %s resources.", b.in.DomainName))

	services := make([]any, 0, len(k.ServicePrincipals))
	for _, sp := range k.ServicePrincipals {
		services = append(services, b.servicePrincipal(sp))
	}

	b.key = b.s.Add("EncryptionKey/Resource", "AWS::KMS::Key", cfn.Props{
		"Description":       description,
		"Enabled":           true,
		"EnableKeyRotation": *k.EnableRotation,
		"KeyPolicy": map[string]any{
			"Statement": []any{
				map[string]any{
					"Action":    "kms:*",
					"Effect":    "Allow",
					"Principal": map[string]any{"AWS": b.accountRoot()},
					"Resource":  "*",
				},
				map[string]any{
					"Action":    []any{"kms:Decrypt", "kms:Encrypt", "kms:GenerateDataKey*", "kms:ReEncrypt*"},
					"Effect":    "Allow",
					"Principal": map[string]any{"AWS": b.accountRoot(), "Service": services},
					"Resource":  "*",
				},
			},
			"Version": "2012-10-17",
		},
	}).ApplyRemovalPolicy(k.RemovalPolicy)

	b.s.Add("EncryptionKey/Alias/Resource", "AWS::KMS::Alias", cfn.Props{
		"AliasName":   k.Alias,
		"TargetKeyId": b.key.Arn(),
	}).ApplyRemovalPolicy(k.RemovalPolicy)
	return nil
}

func (b *builder) logsBucket() error {
	l := b.in.LogsBucket
	b.logs = b.s.Add("LogsBucket/Resource", "AWS::S3::Bucket", cfn.Props{
		"AccessControl":    "LogDeliveryWrite",
		"BucketEncryption": kmsEncryption(b.key),
		"BucketName":       l.BucketName,
		"LifecycleConfiguration": map[string]any{
			"Rules": []any{
				map[string]any{
					"ExpirationInDays": l.ExpirationDays,
					"Id":               "ttl",
					"Status":           "Enabled",
					"Transitions": []any{
						map[string]any{"StorageClass": l.TransitionStorageClass, "TransitionInDays": l.TransitionDays},
					},
				},
			},
		},
		"OwnershipControls": map[string]any{
			"Rules": []any{map[string]any{"ObjectOwnership": "ObjectWriter"}},
		},
		"PublicAccessBlockConfiguration": blockAllPublicAccess(),
	}).ApplyRemovalPolicy(l.RemovalPolicy)

	b.s.Add("LogsBucket/Policy/Resource", "AWS::S3::BucketPolicy", cfn.Props{
		"Bucket": b.logs.Ref(),
		"PolicyDocument": map[string]any{
			"Statement": tlsStatements(b.logs),
			"Version":   "2012-10-17",
		},
	})
	return nil
}

func (b *builder) assetsBucket() error {
	a := b.in.AssetsBucket
	b.bucket = b.s.Add("AssetsBucket/Resource", "AWS::S3::Bucket", cfn.Props{
		"BucketEncryption": kmsEncryption(b.key),
		"BucketName":       a.BucketName,
		"LoggingConfiguration": map[string]any{
			"DestinationBucketName": b.logs.Ref(),
			"LogFilePrefix":         a.AccessLogsPrefix,
		},
		"PublicAccessBlockConfiguration": blockAllPublicAccess(),
	}).ApplyRemovalPolicy(a.RemovalPolicy)
	return nil
}

// assetsBucketPolicy is declared once the distribution exists, since the
// origin access grant is scoped to the distribution ARN.
func (b *builder) assetsBucketPolicy() error {
	statements := tlsStatements(b.bucket)
	statements = append(statements, map[string]any{
		"Action": "s3:GetObject",
		"Condition": map[string]any{
			"StringEquals": map[string]any{
				"AWS:SourceArn": b.partitionArn(":cloudfront::", cfn.Ref(cfn.PseudoAccountID), ":distribution/", b.distro.Ref()),
			},
		},
		"Effect":    "Allow",
		"Principal": map[string]any{"Service": "cloudfront.amazonaws.com"},
		"Resource":  cfn.Join("", b.bucket.Arn(), "/*"),
	})

	b.s.Add("AssetsBucket/Policy/Resource", "AWS::S3::BucketPolicy", cfn.Props{
		"Bucket": b.bucket.Ref(),
		"PolicyDocument": map[string]any{
			"Statement": statements,
			"Version":   "2012-10-17",
		},
	})
	return nil
}

func (b *builder) deployment() error {
	d := b.in.Deployment
	if d == nil {
		return nil
	}

	source := d.SourceDir
	if !filepath.IsAbs(source) {
		source = filepath.Join(b.baseDir, source)
	}
	asset, err := assets.Stage(b.ctx, source, b.s.ID+"/AssetsDeployment/Asset1", d.Exclude...)
	if err != nil {
		return fmt.Errorf("staging deployment assets: %w", err)
	}
	sourceBucket, sourceKey := b.s.AddFileAsset(asset)

	functionName := orDefault(d.FunctionName, strings.ReplaceAll(b.in.DomainName, ".", "-")+"-assets-deployment")
	roleName := orDefault(d.RoleName, functionName+"-role")

	role := b.s.Add("AssetsDeployment/ServiceRole/Resource", "AWS::IAM::Role", cfn.Props{
		"AssumeRolePolicyDocument": map[string]any{
			"Statement": []any{
				map[string]any{
					"Action":    "sts:AssumeRole",
					"Effect":    "Allow",
					"Principal": map[string]any{"Service": "lambda.amazonaws.com"},
				},
			},
			"Version": "2012-10-17",
		},
		"ManagedPolicyArns": []any{
			b.partitionArn(":iam::aws:policy/service-role/AWSLambdaBasicExecutionRole"),
		},
		"RoleName": roleName,
	}).Suppress("AwsSolutions-IAM4", "Managed policies are auto-added")

	sourceBucketArn := b.partitionArn(":s3:::", sourceBucket)
	policy := b.s.Add("AssetsDeployment/ServiceRole/DefaultPolicy/Resource", "AWS::IAM::Policy", cfn.Props{
		"PolicyDocument": map[string]any{
			"Statement": []any{
				map[string]any{
					"Action":   []any{"s3:GetBucket*", "s3:GetObject*", "s3:List*"},
					"Effect":   "Allow",
					"Resource": []any{sourceBucketArn, cfn.Join("", sourceBucketArn, "/*")},
				},
				map[string]any{
					"Action": []any{
						"s3:Abort*", "s3:DeleteObject*", "s3:GetBucket*", "s3:GetObject*", "s3:List*",
						"s3:PutObject", "s3:PutObjectLegalHold", "s3:PutObjectRetention",
						"s3:PutObjectTagging", "s3:PutObjectVersionTagging",
					},
					"Effect":   "Allow",
					"Resource": []any{b.bucket.Arn(), cfn.Join("", b.bucket.Arn(), "/*")},
				},
				map[string]any{
					"Action":   []any{"kms:Decrypt", "kms:DescribeKey", "kms:Encrypt", "kms:GenerateDataKey*", "kms:ReEncrypt*"},
					"Effect":   "Allow",
					"Resource": b.key.Arn(),
				},
			},
			"Version": "2012-10-17",
		},
		"PolicyName": "AssetsDeploymentServiceRoleDefaultPolicy",
		"Roles":      []any{role.Ref()},
	}).Suppress("AwsSolutions-IAM5", "Policies are auto-added")

	logGroup := b.s.Add("AssetsDeploymentFunctionLogs/Resource", "AWS::Logs::LogGroup", cfn.Props{
		"KmsKeyId":        b.key.Arn(),
		"LogGroupName":    "/aws/lambda/" + functionName,
		"RetentionInDays": d.LogRetentionDays,
	}).ApplyRemovalPolicy(cfn.PolicyDelete)

	fn := b.s.Add("AssetsDeployment/Handler/Resource", "AWS::Lambda::Function", cfn.Props{
		"Code":          map[string]any{"ZipFile": deploymentHandler},
		"Description":   fmt.Sprintf("Deploys site assets into %s", b.in.AssetsBucket.BucketName),
		"FunctionName":  functionName,
		"Handler":       "index.handler",
		"LoggingConfig": map[string]any{"LogGroup": logGroup.Ref()},
		"MemorySize":    d.MemorySize,
		"Role":          role.Arn(),
		"Runtime":       d.Runtime,
		"Timeout":       d.TimeoutSeconds,
	})
	fn.AddDependency(policy, role)

	b.s.Add("AssetsDeployment/CustomResource/Default", "Custom::CDKBucketDeployment", cfn.Props{
		"DestinationBucketName": b.bucket.Ref(),
		"Prune":                 *d.Prune,
		"ServiceToken":          fn.Arn(),
		"SourceBucketNames":     []any{sourceBucket},
		"SourceObjectKeys":      []any{sourceKey},
	}).ApplyRemovalPolicy(cfn.PolicyDelete).AddDependency(logGroup)
	return nil
}

func (b *builder) hostedZone() error {
	z := b.in.HostedZone
	b.zone = b.s.Add("AssetsHostedZone/Resource", "AWS::Route53::HostedZone", cfn.Props{
		"HostedZoneConfig": map[string]any{"Comment": z.Comment},
		"Name":             z.ZoneName + ".",
	})
	if *z.CAAAmazon {
		b.s.Add("AssetsHostedZone/CaaAmazon/Resource", "AWS::Route53::RecordSet", cfn.Props{
			"HostedZoneId":    b.zone.Ref(),
			"Name":            z.ZoneName + ".",
			"ResourceRecords": []any{`0 issue "amazon.com"`},
			"TTL":             "1800",
			"Type":            "CAA",
		})
	}
	return nil
}

func (b *builder) certificate() error {
	c := b.in.Certificate
	props := cfn.Props{
		"DomainName": c.DomainName,
		"DomainValidationOptions": []any{
			map[string]any{"DomainName": c.DomainName, "HostedZoneId": b.zone.Ref()},
		},
		"ValidationMethod": "DNS",
	}
	if c.Name != "" {
		props["Tags"] = []any{map[string]any{"Key": "Name", "Value": c.Name}}
	}
	b.cert = b.s.Add("AssetsCertificate/Resource", "AWS::CertificateManager::Certificate", props)
	return nil
}

func (b *builder) originAccessControl() error {
	b.oac = b.s.Add("OriginAccessControl", "AWS::CloudFront::OriginAccessControl", cfn.Props{
		"OriginAccessControlConfig": map[string]any{
			"Description":                   fmt.Sprintf("sigv4 for %s origin bucket", b.in.AssetsBucket.BucketName),
			"Name":                          b.bucket.GetAtt("RegionalDomainName"),
			"OriginAccessControlOriginType": "s3",
			"SigningBehavior":               "always",
			"SigningProtocol":               "sigv4",
		},
	})
	return nil
}

func (b *builder) responseHeadersPolicy() error {
	h := b.in.ResponseHeaders
	if h == nil {
		return nil
	}

	origins := Origins(h.SiblingDomains, h.OriginPrefixes)
	csp, err := ContentSecurityPolicy(origins)
	if err != nil {
		return err
	}

	name := orDefault(h.Name, strings.ReplaceAll(b.in.DomainName, ".", "-")+"-cors")
	b.headers = b.s.Add("ResponseHeadersPolicy/Resource", "AWS::CloudFront::ResponseHeadersPolicy", cfn.Props{
		"ResponseHeadersPolicyConfig": map[string]any{
			"Comment": orDefault(h.Comment, "CORS and security headers for "+b.in.DomainName),
			"CorsConfig": map[string]any{
				"AccessControlAllowCredentials": h.AllowCredentials,
				"AccessControlAllowHeaders":     map[string]any{"Items": cfn.List(h.AllowHeaders...)},
				"AccessControlAllowMethods":     map[string]any{"Items": cfn.List(h.AllowMethods...)},
				"AccessControlAllowOrigins":     map[string]any{"Items": cfn.List(origins...)},
				"AccessControlMaxAgeSec":        h.MaxAgeSeconds,
				"OriginOverride":                true,
			},
			"Name": name,
			"SecurityHeadersConfig": map[string]any{
				"ContentSecurityPolicy": map[string]any{"ContentSecurityPolicy": csp, "Override": true},
				"ContentTypeOptions":    map[string]any{"Override": true},
				"FrameOptions":          map[string]any{"FrameOption": h.FrameOption, "Override": true},
				"ReferrerPolicy":        map[string]any{"Override": true, "ReferrerPolicy": h.ReferrerPolicy},
				"StrictTransportSecurity": map[string]any{
					"AccessControlMaxAgeSec": h.HSTSMaxAgeSeconds,
					"IncludeSubdomains":      *h.HSTSIncludeSubdomains,
					"Override":               true,
				},
				"XSSProtection": map[string]any{"ModeBlock": true, "Override": true, "Protection": true},
			},
		},
	})
	return nil
}

func (b *builder) distribution() error {
	c := b.in.CDN
	originID := b.in.AssetsBucket.BucketName + "-origin"
	methods := cfn.List("GET", "HEAD", "OPTIONS")

	behavior := map[string]any{
		"AllowedMethods":       methods,
		"CachePolicyId":        c.CachePolicyID,
		"CachedMethods":        cfn.List("GET", "HEAD", "OPTIONS"),
		"Compress":             true,
		"TargetOriginId":       originID,
		"ViewerProtocolPolicy": "redirect-to-https",
	}
	if b.headers != nil {
		behavior["ResponseHeadersPolicyId"] = b.headers.Ref()
	}

	errorResponses := make([]any, 0, len(c.ErrorResponses))
	for _, er := range c.ErrorResponses {
		entry := map[string]any{"ErrorCode": er.HTTPStatus}
		if er.ResponseStatus != 0 {
			entry["ResponseCode"] = er.ResponseStatus
			entry["ResponsePagePath"] = er.PagePath
		}
		if er.TTLSeconds != nil {
			entry["ErrorCachingMinTTL"] = *er.TTLSeconds
		}
		errorResponses = append(errorResponses, entry)
	}

	config := map[string]any{
		"Aliases":              cfn.List(b.in.DomainName),
		"Comment":              orDefault(c.Comment, "Distribution for "+b.in.DomainName),
		"DefaultCacheBehavior": behavior,
		"DefaultRootObject":    c.DefaultRootObject,
		"Enabled":              true,
		"HttpVersion":          c.HTTPVersion,
		"IPV6Enabled":          true,
		"Logging": map[string]any{
			"Bucket": b.logs.GetAtt("RegionalDomainName"),
			"Prefix": c.LogPrefix,
		},
		"Origins": []any{
			map[string]any{
				"DomainName":            b.bucket.GetAtt("RegionalDomainName"),
				"Id":                    originID,
				"OriginAccessControlId": b.oac.GetAtt("Id"),
				"S3OriginConfig":        map[string]any{"OriginAccessIdentity": ""},
			},
		},
		"PriceClass": c.PriceClass,
		"Restrictions": map[string]any{
			"GeoRestriction": map[string]any{
				"Locations":       cfn.List(c.GeoDenylist...),
				"RestrictionType": "blacklist",
			},
		},
		"ViewerCertificate": map[string]any{
			"AcmCertificateArn":      b.cert.Ref(),
			"MinimumProtocolVersion": c.MinimumProtocolVersion,
			"SslSupportMethod":       "sni-only",
		},
	}
	if len(errorResponses) > 0 {
		config["CustomErrorResponses"] = errorResponses
	}
	if len(c.GeoDenylist) == 0 {
		config["Restrictions"] = map[string]any{
			"GeoRestriction": map[string]any{"RestrictionType": "none"},
		}
	}

	b.distro = b.s.Add("AssetsDistro/Resource", "AWS::CloudFront::Distribution", cfn.Props{
		"DistributionConfig": config,
	})

	b.s.AddOutput("DistributionId", "ID of the assets distribution", b.distro.Ref())
	b.s.AddOutput("DistributionDomainName", "CloudFront domain of the assets distribution", b.distro.GetAtt("DomainName"))
	b.s.AddOutput("AssetsBucketName", "Origin bucket of the assets distribution", b.bucket.Ref())
	return nil
}

func (b *builder) aliasRecord() error {
	b.s.Add("AssetsAlias/Resource", "AWS::Route53::RecordSet", cfn.Props{
		"AliasTarget": map[string]any{
			"DNSName":      b.distro.GetAtt("DomainName"),
			"HostedZoneId": cloudFrontHostedZoneID,
		},
		"Comment":      "Routes traffic to assets distribution",
		"HostedZoneId": b.zone.Ref(),
		"Name":         b.in.DomainName + ".",
		"Type":         "A",
	})
	return nil
}

// suppressions applies descriptor-level suppressions to every resource at
// or below the named construct.
func (b *builder) suppressions() error {
	for _, sup := range b.in.Suppressions {
		matched := 0
		for _, r := range b.s.Resources() {
			if r.Path == sup.Construct || strings.HasPrefix(r.Path, sup.Construct+"/") {
				r.Suppress(sup.ID, sup.Reason)
				matched++
			}
		}
		if matched == 0 {
			return fmt.Errorf("suppression '%s': construct '%s' not found in stack '%s'", sup.ID, sup.Construct, b.s.ID)
		}
	}
	return nil
}
