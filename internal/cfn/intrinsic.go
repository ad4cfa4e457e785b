package cfn

import (
	"regexp"
	"sort"
	"strings"
)

// Pseudo parameters.
const (
	PseudoAccountID = "AWS::AccountId"
	PseudoPartition = "AWS::Partition"
	PseudoRegion    = "AWS::Region"
	PseudoURLSuffix = "AWS::URLSuffix"
	PseudoStackName = "AWS::StackName"
)

// Ref returns a {"Ref": id} intrinsic.
func Ref(logicalID string) map[string]any {
	return map[string]any{"Ref": logicalID}
}

// GetAtt returns a {"Fn::GetAtt": [id, attr]} intrinsic.
func GetAtt(logicalID, attribute string) map[string]any {
	return map[string]any{"Fn::GetAtt": []any{logicalID, attribute}}
}

// Join returns a {"Fn::Join": [sep, parts]} intrinsic.
func Join(sep string, parts ...any) map[string]any {
	return map[string]any{"Fn::Join": []any{sep, parts}}
}

// Sub returns a {"Fn::Sub": str} intrinsic.
func Sub(format string) map[string]any {
	return map[string]any{"Fn::Sub": format}
}

// List converts typed values into the []any shape used in property bags.
func List[T any](items ...T) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}

var subPattern = regexp.MustCompile(`\$\{([^!}][^}]*)\}`)

// References returns every logical ID that v refers to through Ref,
// Fn::GetAtt or Fn::Sub placeholders. Pseudo parameters are ignored.
func References(v any) []string {
	seen := make(map[string]struct{})
	collectReferences(v, seen)

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func collectReferences(v any, seen map[string]struct{}) {
	switch val := v.(type) {
	case map[string]any:
		if len(val) == 1 {
			if id, ok := val["Ref"].(string); ok {
				addReference(id, seen)
				return
			}
			if args, ok := val["Fn::GetAtt"].([]any); ok && len(args) > 0 {
				if id, ok := args[0].(string); ok {
					addReference(id, seen)
				}
				return
			}
			if format, ok := val["Fn::Sub"].(string); ok {
				for _, m := range subPattern.FindAllStringSubmatch(format, -1) {
					addReference(strings.SplitN(m[1], ".", 2)[0], seen)
				}
				return
			}
		}
		for _, item := range val {
			collectReferences(item, seen)
		}
	case []any:
		for _, item := range val {
			collectReferences(item, seen)
		}
	case []map[string]any:
		for _, item := range val {
			collectReferences(item, seen)
		}
	}
}

func addReference(id string, seen map[string]struct{}) {
	if strings.HasPrefix(id, "AWS::") {
		return
	}
	seen[id] = struct{}{}
}
