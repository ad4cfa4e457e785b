package nag

import (
	"strings"

	"github.com/specialistvlad/steloinfra/internal/cfn"
)

// AwsSolutions returns the bundled rule pack.
func AwsSolutions() []Rule {
	return []Rule{
		{
			ID:            "AwsSolutions-S1",
			Level:         LevelError,
			Info:          "The S3 Bucket has server access logs disabled.",
			Explanation:   "The bucket should have server access logging enabled to provide detailed records for the requests that are made to the bucket.",
			ResourceTypes: []string{"AWS::S3::Bucket"},
			Check:         bucketLoggingEnabled,
		},
		{
			ID:            "AwsSolutions-S2",
			Level:         LevelError,
			Info:          "The S3 Bucket does not have public access restricted and blocked.",
			Explanation:   "The bucket should have public access restricted and blocked to prevent unauthorized access.",
			ResourceTypes: []string{"AWS::S3::Bucket"},
			Check:         bucketPublicAccessBlocked,
		},
		{
			ID:            "AwsSolutions-S10",
			Level:         LevelError,
			Info:          "The S3 Bucket or bucket policy does not require requests to use SSL.",
			Explanation:   "You can use HTTPS (TLS) to help prevent potential attackers from eavesdropping on or manipulating network traffic.",
			ResourceTypes: []string{"AWS::S3::Bucket"},
			Check:         bucketRequiresSSL,
		},
		{
			ID:            "AwsSolutions-KMS5",
			Level:         LevelError,
			Info:          "The KMS Symmetric key does not have automatic key rotation enabled.",
			Explanation:   "KMS key rotation allows a system to set a rotation schedule for a KMS key so when a AWS KMS key is required to encrypt new data, the KMS service can automatically use the latest version of the HSA backing key.",
			ResourceTypes: []string{"AWS::KMS::Key"},
			Check:         keyRotationEnabled,
		},
		{
			ID:            "AwsSolutions-CFR1",
			Level:         LevelWarning,
			Info:          "The CloudFront distribution may require Geo restrictions.",
			Explanation:   "Geo restriction may need to be enabled for the distribution in order to allow or deny a country in order to allow or restrict users in specific locations from accessing content.",
			ResourceTypes: []string{"AWS::CloudFront::Distribution"},
			Check:         distributionGeoRestricted,
		},
		{
			ID:            "AwsSolutions-CFR2",
			Level:         LevelWarning,
			Info:          "The CloudFront distribution may require integration with AWS WAF.",
			Explanation:   "The Web Application Firewall can help protect against application-layer attacks that can compromise the security of the system or place unnecessary load on them.",
			ResourceTypes: []string{"AWS::CloudFront::Distribution"},
			Check:         distributionHasWAF,
		},
		{
			ID:            "AwsSolutions-CFR3",
			Level:         LevelError,
			Info:          "The CloudFront distribution does not have access logging enabled.",
			Explanation:   "Enabling access logs helps operators track all viewer requests for the content delivered through the Content Delivery Network.",
			ResourceTypes: []string{"AWS::CloudFront::Distribution"},
			Check:         distributionLogging,
		},
		{
			ID:            "AwsSolutions-CFR4",
			Level:         LevelError,
			Info:          "The CloudFront distribution allows for SSLv3 or TLSv1 for HTTPS viewer connections.",
			Explanation:   "Vulnerabilities have been and continue to be discovered in the deprecated SSL and TLS protocols. Help protect viewer connections by specifying a viewer certificate that enforces a minimum of TLSv1.1 or TLSv1.2 in the security policy.",
			ResourceTypes: []string{"AWS::CloudFront::Distribution"},
			Check:         distributionModernTLS,
		},
		{
			ID:            "AwsSolutions-CFR7",
			Level:         LevelError,
			Info:          "The CloudFront distribution does not use an origin access control with an S3 origin.",
			Explanation:   "Origin access controls help with security by restricting any direct access to objects through S3 URLs.",
			ResourceTypes: []string{"AWS::CloudFront::Distribution"},
			Check:         distributionUsesOAC,
		},
		{
			ID:            "AwsSolutions-IAM4",
			Level:         LevelError,
			Info:          "The IAM user, role, or group uses AWS managed policies.",
			Explanation:   "An AWS managed policy is a standalone policy that is created and administered by AWS. Currently, many AWS managed policies do not restrict resource scope.",
			ResourceTypes: []string{"AWS::IAM::Role", "AWS::IAM::User", "AWS::IAM::Group"},
			Check:         noManagedPolicies,
		},
		{
			ID:            "AwsSolutions-IAM5",
			Level:         LevelError,
			Info:          "The IAM entity contains wildcard permissions and does not have a cdk-nag rule suppression with evidence for those permission.",
			Explanation:   "Metadata explaining the evidence (e.g. via supporting links) for wildcard permissions allows for transparency to operators.",
			ResourceTypes: []string{"AWS::IAM::Role", "AWS::IAM::Policy", "AWS::IAM::ManagedPolicy", "AWS::IAM::User", "AWS::IAM::Group"},
			Check:         noWildcardPermissions,
		},
		{
			ID:            "AwsSolutions-L1",
			Level:         LevelError,
			Info:          "The non-container Lambda function is not configured to use the latest runtime version.",
			Explanation:   "Use the latest available runtime for the targeted language to avoid technical debt. Runtimes specific to a language or framework version are deprecated when the version reaches end of life.",
			ResourceTypes: []string{"AWS::Lambda::Function"},
			Check:         lambdaRuntimeSupported,
		},
		{
			ID:            "AwsSolutions-CB3",
			Level:         LevelWarning,
			Info:          "The CodeBuild project has privileged mode enabled.",
			Explanation:   "Privileged grants elevated rights to the system, which introduces additional risk.",
			ResourceTypes: []string{"AWS::CodeBuild::Project"},
			Check:         codeBuildUnprivileged,
		},
		{
			ID:            "AwsSolutions-CB4",
			Level:         LevelError,
			Info:          "The CodeBuild project does not use an AWS KMS key for encryption.",
			Explanation:   "Using an AWS KMS key helps follow the standard security advice of granting least privilege to objects generated by the project.",
			ResourceTypes: []string{"AWS::CodeBuild::Project"},
			Check:         codeBuildEncrypted,
		},
	}
}

func bucketLoggingEnabled(tmpl *cfn.Template, id string, res *cfn.Resource) bool {
	if _, ok := res.Properties["LoggingConfiguration"]; ok {
		return true
	}
	// Log destinations themselves are exempt.
	if acl, _ := res.Properties["AccessControl"].(string); acl == "LogDeliveryWrite" {
		return true
	}
	for _, otherID := range tmpl.ResourcesOfType("AWS::S3::Bucket") {
		dest, ok := cfn.Lookup(tmpl.Resources[otherID].Properties, "LoggingConfiguration", "DestinationBucketName")
		if ok && refersTo(dest, id) {
			return true
		}
	}
	return false
}

func bucketPublicAccessBlocked(_ *cfn.Template, _ string, res *cfn.Resource) bool {
	for _, flag := range []string{"BlockPublicAcls", "BlockPublicPolicy", "IgnorePublicAcls", "RestrictPublicBuckets"} {
		v, ok := cfn.Lookup(res.Properties, "PublicAccessBlockConfiguration", flag)
		if !ok || v != true {
			return false
		}
	}
	return true
}

func bucketRequiresSSL(tmpl *cfn.Template, id string, _ *cfn.Resource) bool {
	for _, policyID := range tmpl.ResourcesOfType("AWS::S3::BucketPolicy") {
		policy := tmpl.Resources[policyID]
		if !refersTo(policy.Properties["Bucket"], id) {
			continue
		}
		for _, st := range statements(policy.Properties["PolicyDocument"]) {
			if st["Effect"] != "Deny" {
				continue
			}
			secure, ok := cfn.Lookup(st, "Condition", "Bool", "aws:SecureTransport")
			if ok && (secure == "false" || secure == false) && actionsCover(st["Action"], "s3:*") {
				return true
			}
		}
	}
	return false
}

func keyRotationEnabled(_ *cfn.Template, _ string, res *cfn.Resource) bool {
	if spec, ok := res.Properties["KeySpec"].(string); ok && spec != "SYMMETRIC_DEFAULT" {
		return true
	}
	return res.Properties["EnableKeyRotation"] == true
}

func distributionGeoRestricted(_ *cfn.Template, _ string, res *cfn.Resource) bool {
	kind, ok := cfn.LookupString(res.Properties, "DistributionConfig", "Restrictions", "GeoRestriction", "RestrictionType")
	return ok && kind != "none"
}

func distributionHasWAF(_ *cfn.Template, _ string, res *cfn.Resource) bool {
	_, ok := cfn.Lookup(res.Properties, "DistributionConfig", "WebACLId")
	return ok
}

func distributionLogging(_ *cfn.Template, _ string, res *cfn.Resource) bool {
	_, ok := cfn.Lookup(res.Properties, "DistributionConfig", "Logging", "Bucket")
	return ok
}

func distributionModernTLS(_ *cfn.Template, _ string, res *cfn.Resource) bool {
	cert, ok := cfn.Lookup(res.Properties, "DistributionConfig", "ViewerCertificate")
	if !ok {
		return false
	}
	if def, _ := cfn.Lookup(cert, "CloudFrontDefaultCertificate"); def == true {
		return false
	}
	version, _ := cfn.LookupString(cert, "MinimumProtocolVersion")
	switch version {
	case "", "SSLv3", "TLSv1", "TLSv1_2016", "TLSv1.1_2016":
		return false
	}
	return true
}

func distributionUsesOAC(_ *cfn.Template, _ string, res *cfn.Resource) bool {
	origins, _ := cfn.Lookup(res.Properties, "DistributionConfig", "Origins")
	list, _ := origins.([]any)
	for _, o := range list {
		if _, isS3 := cfn.Lookup(o, "S3OriginConfig"); !isS3 {
			continue
		}
		oac, ok := cfn.Lookup(o, "OriginAccessControlId")
		if !ok || oac == "" {
			return false
		}
	}
	return true
}

func noManagedPolicies(_ *cfn.Template, _ string, res *cfn.Resource) bool {
	arns, _ := res.Properties["ManagedPolicyArns"].([]any)
	for _, arn := range arns {
		if strings.Contains(flatten(arn), ":iam::aws:policy/") {
			return false
		}
	}
	return true
}

func noWildcardPermissions(_ *cfn.Template, _ string, res *cfn.Resource) bool {
	var docs []any
	if doc, ok := res.Properties["PolicyDocument"]; ok {
		docs = append(docs, doc)
	}
	inline, _ := res.Properties["Policies"].([]any)
	for _, p := range inline {
		if doc, ok := cfn.Lookup(p, "PolicyDocument"); ok {
			docs = append(docs, doc)
		}
	}

	for _, doc := range docs {
		for _, st := range statements(doc) {
			if st["Effect"] != "Allow" {
				continue
			}
			for _, a := range asList(st["Action"]) {
				if strings.Contains(flatten(a), "*") {
					return false
				}
			}
			for _, r := range asList(st["Resource"]) {
				if strings.Contains(flatten(r), "*") {
					return false
				}
			}
		}
	}
	return true
}

// deprecatedRuntimes lists Lambda runtimes past end of support.
var deprecatedRuntimes = map[string]bool{
	"python2.7": true, "python3.6": true, "python3.7": true, "python3.8": true,
	"nodejs": true, "nodejs4.3": true, "nodejs6.10": true, "nodejs8.10": true,
	"nodejs10.x": true, "nodejs12.x": true, "nodejs14.x": true, "nodejs16.x": true,
	"java8": true, "go1.x": true, "ruby2.5": true, "ruby2.7": true,
	"dotnetcore2.1": true, "dotnetcore3.1": true, "dotnet6": true,
}

func lambdaRuntimeSupported(_ *cfn.Template, _ string, res *cfn.Resource) bool {
	if pkg, _ := res.Properties["PackageType"].(string); pkg == "Image" {
		return true
	}
	runtime, ok := res.Properties["Runtime"].(string)
	return ok && !deprecatedRuntimes[runtime]
}

func codeBuildUnprivileged(_ *cfn.Template, _ string, res *cfn.Resource) bool {
	v, _ := cfn.Lookup(res.Properties, "Environment", "PrivilegedMode")
	return v != true
}

func codeBuildEncrypted(_ *cfn.Template, _ string, res *cfn.Resource) bool {
	key, ok := res.Properties["EncryptionKey"]
	if !ok {
		return false
	}
	s, isString := key.(string)
	return !isString || (s != "" && !strings.HasSuffix(s, "alias/aws/s3"))
}

// statements returns the statements of a policy document.
func statements(doc any) []map[string]any {
	raw, _ := cfn.Lookup(doc, "Statement")
	list, _ := raw.([]any)
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if st, ok := item.(map[string]any); ok {
			out = append(out, st)
		}
	}
	return out
}

func asList(v any) []any {
	if list, ok := v.([]any); ok {
		return list
	}
	if v == nil {
		return nil
	}
	return []any{v}
}

func actionsCover(actions any, want string) bool {
	for _, a := range asList(actions) {
		if s, _ := a.(string); s == want || s == "*" {
			return true
		}
	}
	return false
}

// refersTo reports whether v is a Ref or GetAtt of logicalID.
func refersTo(v any, logicalID string) bool {
	for _, id := range cfn.References(v) {
		if id == logicalID {
			return true
		}
	}
	return false
}

// flatten renders literal strings, Fn::Join and Fn::Sub to plain text so
// wildcard and ARN checks can inspect them.
func flatten(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case map[string]any:
		if s, ok := val["Fn::Sub"].(string); ok {
			return s
		}
		if args, ok := val["Fn::Join"].([]any); ok && len(args) == 2 {
			sep, _ := args[0].(string)
			parts, _ := args[1].([]any)
			out := make([]string, 0, len(parts))
			for _, p := range parts {
				out = append(out, flatten(p))
			}
			return strings.Join(out, sep)
		}
	}
	return ""
}
