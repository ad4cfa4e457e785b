package distribution

import (
	"fmt"
	"strings"
)

// maxCSPLength is the longest Content-Security-Policy CloudFront accepts.
const maxCSPLength = 1783

// Origins expands the canonical sibling-domain list into the allow-listed
// origins, domain-major: every prefix of the first domain, then the next.
func Origins(domains, prefixes []string) []string {
	out := make([]string, 0, len(domains)*len(prefixes))
	for _, d := range domains {
		for _, p := range prefixes {
			out = append(out, p+d)
		}
	}
	return out
}

// ContentSecurityPolicy renders the CSP for the given trusted origins.
func ContentSecurityPolicy(origins []string) (string, error) {
	sources := strings.Join(origins, " ")
	directives := []string{
		"default-src 'self' " + sources,
		"img-src 'self' data: " + sources,
		"style-src 'self' 'unsafe-inline' " + sources,
		"font-src 'self' data: " + sources,
		"connect-src 'self' " + sources,
		"frame-ancestors 'self' " + sources,
		"object-src 'none'",
		"base-uri 'self'",
		"upgrade-insecure-requests",
	}
	csp := strings.Join(directives, "; ")
	if len(csp) > maxCSPLength {
		return "", fmt.Errorf("content security policy is %d characters long, CloudFront accepts at most %d", len(csp), maxCSPLength)
	}
	return csp, nil
}
