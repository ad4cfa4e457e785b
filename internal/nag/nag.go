// Package nag is a small security rule pack run over synthesized templates.
// Rule IDs and the report layout follow the AwsSolutions pack so existing
// suppressions and tooling keep working.
package nag

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/specialistvlad/steloinfra/internal/cfn"
	"github.com/specialistvlad/steloinfra/internal/ctxlog"
)

// Level is the severity of a rule.
type Level string

const (
	LevelWarning Level = "Warning"
	LevelError   Level = "Error"
)

// Compliance outcomes recorded in the report.
const (
	Compliant    = "Compliant"
	NonCompliant = "Non-Compliant"
	Suppressed   = "Suppressed"
)

// Rule checks resources of the listed types.
type Rule struct {
	ID            string
	Level         Level
	Info          string
	Explanation   string
	ResourceTypes []string
	// Check reports whether the resource complies with the rule.
	Check func(tmpl *cfn.Template, logicalID string, res *cfn.Resource) bool
}

// Line is one rule evaluation in the report.
type Line struct {
	RuleID          string `json:"ruleId"`
	ResourceID      string `json:"resourceId"`
	Compliance      string `json:"compliance"`
	ExceptionReason string `json:"exceptionReason"`
	RuleLevel       Level  `json:"ruleLevel"`
	RuleInfo        string `json:"ruleInfo"`
}

// Report is the result of running a rule pack over one stack.
type Report struct {
	Stack string `json:"-"`
	Lines []Line `json:"lines"`
}

// ReportFileName is the report file name written next to the templates.
func ReportFileName(stackID string) string {
	return fmt.Sprintf("AwsSolutions-%s-NagReport.json", stackID)
}

// Run evaluates rules against every resource of tmpl. Non-compliant
// findings are logged; verbose adds the rule explanation.
func Run(ctx context.Context, stackID string, tmpl *cfn.Template, rules []Rule, verbose bool) *Report {
	logger := ctxlog.FromContext(ctx).With("stack", stackID)
	report := &Report{Stack: stackID}

	for _, id := range tmpl.LogicalIDs() {
		res := tmpl.Resources[id]
		suppressions := suppressionsOf(res)
		path, _ := res.Metadata["aws:cdk:path"].(string)

		for _, rule := range rules {
			if !appliesTo(rule, res.Type) {
				continue
			}
			line := Line{
				RuleID:          rule.ID,
				ResourceID:      path,
				RuleLevel:       rule.Level,
				RuleInfo:        rule.Info,
				ExceptionReason: "N/A",
			}
			if line.ResourceID == "" {
				line.ResourceID = stackID + "/" + id
			}

			switch reason, suppressed := suppressions[rule.ID]; {
			case rule.Check(tmpl, id, res):
				line.Compliance = Compliant
			case suppressed:
				line.Compliance = Suppressed
				line.ExceptionReason = reason
			default:
				line.Compliance = NonCompliant
				msg := fmt.Sprintf("[%s] %s: %s", line.ResourceID, rule.ID, rule.Info)
				if verbose && rule.Explanation != "" {
					msg += " " + rule.Explanation
				}
				if rule.Level == LevelError {
					logger.Error(msg)
				} else {
					logger.Warn(msg)
				}
			}
			report.Lines = append(report.Lines, line)
		}
	}
	return report
}

// Findings returns the unsuppressed non-compliant lines of the given level.
func (r *Report) Findings(level Level) []Line {
	var out []Line
	for _, l := range r.Lines {
		if l.Compliance == NonCompliant && l.RuleLevel == level {
			out = append(out, l)
		}
	}
	return out
}

// Err returns an error summarizing unsuppressed errors, and warnings too
// when strict is set.
func (r *Report) Err(strict bool) error {
	failing := r.Findings(LevelError)
	if strict {
		failing = append(failing, r.Findings(LevelWarning)...)
	}
	if len(failing) == 0 {
		return nil
	}
	msg := fmt.Sprintf("stack '%s' has %d unsuppressed rule findings:", r.Stack, len(failing))
	for _, l := range failing {
		msg += fmt.Sprintf("\n- %s %s (%s)", l.RuleID, l.ResourceID, l.RuleLevel)
	}
	return fmt.Errorf("%s", msg)
}

// WriteJSON writes the report into dir under ReportFileName.
func (r *Report) WriteJSON(dir string) (string, error) {
	raw, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding rule report: %w", err)
	}
	path := filepath.Join(dir, ReportFileName(r.Stack))
	return path, os.WriteFile(path, append(raw, '\n'), 0o644)
}

// RuleIDs returns the IDs of rules in lexical order.
func RuleIDs(rules []Rule) []string {
	ids := make([]string, 0, len(rules))
	for _, r := range rules {
		ids = append(ids, r.ID)
	}
	sort.Strings(ids)
	return ids
}

func appliesTo(rule Rule, resourceType string) bool {
	for _, t := range rule.ResourceTypes {
		if t == resourceType {
			return true
		}
	}
	return false
}

func suppressionsOf(res *cfn.Resource) map[string]string {
	out := map[string]string{}
	rules, ok := cfn.Lookup(res.Metadata, "cdk_nag", "rules_to_suppress")
	if !ok {
		return out
	}
	list, _ := rules.([]any)
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, _ := m["id"].(string)
		reason, _ := m["reason"].(string)
		if id != "" {
			out[id] = reason
		}
	}
	return out
}
