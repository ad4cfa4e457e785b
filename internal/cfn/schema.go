package cfn

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/awslabs/goformation/v7/cloudformation/certificatemanager"
	"github.com/awslabs/goformation/v7/cloudformation/cloudfront"
	"github.com/awslabs/goformation/v7/cloudformation/codebuild"
	"github.com/awslabs/goformation/v7/cloudformation/codepipeline"
	"github.com/awslabs/goformation/v7/cloudformation/iam"
	"github.com/awslabs/goformation/v7/cloudformation/kms"
	"github.com/awslabs/goformation/v7/cloudformation/lambda"
	"github.com/awslabs/goformation/v7/cloudformation/logs"
	"github.com/awslabs/goformation/v7/cloudformation/route53"
	"github.com/awslabs/goformation/v7/cloudformation/s3"
)

// modeled is implemented by every goformation resource type.
type modeled interface {
	AWSCloudFormationType() string
}

// schemas maps a resource type to the typed model its properties are
// checked against.
var schemas = func() map[string]reflect.Type {
	out := map[string]reflect.Type{}
	for _, r := range []modeled{
		&certificatemanager.Certificate{},
		&cloudfront.Distribution{},
		&cloudfront.OriginAccessControl{},
		&cloudfront.ResponseHeadersPolicy{},
		&codebuild.Project{},
		&codepipeline.Pipeline{},
		&iam.Policy{},
		&iam.Role{},
		&kms.Alias{},
		&kms.Key{},
		&lambda.Function{},
		&logs.LogGroup{},
		&route53.HostedZone{},
		&route53.RecordSet{},
		&s3.Bucket{},
		&s3.BucketPolicy{},
	} {
		out[r.AWSCloudFormationType()] = reflect.TypeOf(r).Elem()
	}
	return out
}()

// CheckProperties returns one problem per property key that the typed model
// of resourceType does not define, nested keys included. Intrinsic
// functions are accepted wherever a value is expected. Custom resources and
// types without a model are not checked.
func CheckProperties(resourceType string, props Props) []string {
	t, ok := schemas[resourceType]
	if !ok {
		return nil
	}
	var problems []string
	checkValue(t, props, "", &problems)
	return problems
}

func checkValue(t reflect.Type, v any, path string, problems *[]string) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	switch t.Kind() {
	case reflect.Struct:
		m, ok := v.(map[string]any)
		if !ok || isIntrinsic(m) {
			return
		}
		fields := jsonFields(t)
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			child := joinPath(path, k)
			ft, ok := fields[k]
			if !ok {
				*problems = append(*problems, fmt.Sprintf("unknown property '%s'", child))
				continue
			}
			checkValue(ft, m[k], child, problems)
		}
	case reflect.Slice:
		items, ok := v.([]any)
		if !ok {
			return
		}
		for i, item := range items {
			checkValue(t.Elem(), item, fmt.Sprintf("%s[%d]", path, i), problems)
		}
	}
}

// jsonFields maps the JSON names of a model struct to their types. Fields
// tagged "-" carry resource attributes such as DependsOn, not properties.
func jsonFields(t reflect.Type) map[string]reflect.Type {
	out := make(map[string]reflect.Type, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		out[name] = f.Type
	}
	return out
}

func isIntrinsic(m map[string]any) bool {
	if len(m) != 1 {
		return false
	}
	for k := range m {
		return k == "Ref" || strings.HasPrefix(k, "Fn::")
	}
	return false
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
