package stack

import (
	"encoding/hex"
	"strings"

	"github.com/zeebo/blake3"
)

const (
	hiddenID          = "Default"
	hiddenFromHumanID = "Resource"
	maxLogicalIDLen   = 255
	hashLen           = 8
)

// LogicalID derives the CloudFormation logical ID for a construct path.
//
// A single-component path is used verbatim once non-alphanumerics are
// stripped. Longer paths get a human readable prefix followed by an
// eight character hash of the full path, so two paths that render to the
// same prefix still get distinct IDs.
func LogicalID(path string) string {
	var components []string
	for _, c := range strings.Split(path, "/") {
		if c != "" && c != hiddenID {
			components = append(components, c)
		}
	}
	if len(components) == 0 {
		return ""
	}

	if len(components) == 1 {
		if candidate := alphanumeric(components[0]); len(candidate) <= maxLogicalIDLen {
			return candidate
		}
	}

	var human strings.Builder
	for _, c := range removeDupes(components) {
		if c == hiddenFromHumanID {
			continue
		}
		human.WriteString(alphanumeric(c))
	}
	prefix := human.String()
	if len(prefix) > maxLogicalIDLen-hashLen {
		prefix = prefix[:maxLogicalIDLen-hashLen]
	}
	return prefix + pathHash(components)
}

func pathHash(components []string) string {
	sum := blake3.Sum256([]byte(strings.Join(components, "/")))
	return strings.ToUpper(hex.EncodeToString(sum[:hashLen/2]))
}

func removeDupes(components []string) []string {
	out := make([]string, 0, len(components))
	for _, c := range components {
		if len(out) == 0 || !strings.HasSuffix(out[len(out)-1], c) {
			out = append(out, c)
		}
	}
	return out
}

func alphanumeric(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
