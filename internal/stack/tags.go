package stack

import "sort"

// tagProperty maps taggable resource types to the property carrying tags.
var tagProperty = map[string]string{
	"AWS::CertificateManager::Certificate": "Tags",
	"AWS::CloudFront::Distribution":        "Tags",
	"AWS::CodeBuild::Project":              "Tags",
	"AWS::CodePipeline::Pipeline":          "Tags",
	"AWS::IAM::Role":                       "Tags",
	"AWS::KMS::Key":                        "Tags",
	"AWS::Lambda::Function":                "Tags",
	"AWS::Logs::LogGroup":                  "Tags",
	"AWS::Route53::HostedZone":             "HostedZoneTags",
	"AWS::S3::Bucket":                      "Tags",
}

// Taggable reports whether stack tags propagate to resources of this type.
func Taggable(resourceType string) bool {
	_, ok := tagProperty[resourceType]
	return ok
}

// mergeTags combines stack tags with tags already present on a resource.
// Resource tags win. The result is sorted by key.
func mergeTags(stackTags map[string]string, existing any) []any {
	merged := make(map[string]string, len(stackTags))
	for k, v := range stackTags {
		merged[k] = v
	}
	if list, ok := existing.([]any); ok {
		for _, item := range list {
			tag, ok := item.(map[string]any)
			if !ok {
				continue
			}
			k, _ := tag["Key"].(string)
			v, _ := tag["Value"].(string)
			if k != "" {
				merged[k] = v
			}
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]any, 0, len(keys))
	for _, k := range keys {
		out = append(out, map[string]any{"Key": k, "Value": merged[k]})
	}
	return out
}
