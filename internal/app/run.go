package app

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/specialistvlad/steloinfra/internal/assembly"
	"github.com/specialistvlad/steloinfra/internal/assets"
	"github.com/specialistvlad/steloinfra/internal/ctxlog"
	"github.com/specialistvlad/steloinfra/internal/nag"
)

// Synth synthesizes the descriptors and writes the cloud assembly. Rule
// errors fail before anything is written; warnings only in strict mode.
func (a *App) Synth(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	syn, err := a.Synthesize(ctx)
	if err != nil {
		return err
	}
	if err := syn.Err(a.config.Strict); err != nil {
		return fmt.Errorf("security checks failed: %w", err)
	}

	opts := assembly.Options{YAML: a.config.Format == "yaml"}
	if err := assembly.Write(ctx, a.config.OutDir, syn.Assembly, opts); err != nil {
		return fmt.Errorf("failed to write cloud assembly: %w", err)
	}
	logger.Info("🏁 Synth finished.", "out", a.config.OutDir)
	return nil
}

// Lint synthesizes in memory and prints the unsuppressed rule findings.
func (a *App) Lint(ctx context.Context) error {
	syn, err := a.Synthesize(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.outW, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STACK\tRULE\tLEVEL\tRESOURCE\tINFO")
	var errs, warns int
	for _, r := range syn.Reports {
		for _, level := range []nag.Level{nag.LevelError, nag.LevelWarning} {
			for _, l := range r.Findings(level) {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.Stack, l.RuleID, l.RuleLevel, l.ResourceID, l.RuleInfo)
				if level == nag.LevelError {
					errs++
				} else {
					warns++
				}
			}
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(a.outW, "%d stacks checked: %d errors, %d warnings\n", len(syn.Reports), errs, warns)

	return syn.Err(a.config.Strict)
}

// Publish uploads the file assets listed in the assembly's asset manifests.
func (a *App) Publish(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	manifests, err := assets.FindManifests(a.config.OutDir)
	if err != nil {
		return fmt.Errorf("failed to read cloud assembly %s: %w", a.config.OutDir, err)
	}
	if len(manifests) == 0 {
		logger.Warn("No asset manifests found, nothing to publish.", "dir", a.config.OutDir)
		return nil
	}

	pub := assets.NewPublisher(a.clients, a.config.DryRun)
	pub.SetEnvironment("", a.config.Account, a.config.Region)

	var uploaded, skipped int
	for _, path := range manifests {
		results, err := pub.PublishManifest(ctx, path)
		if err != nil {
			return err
		}
		for _, r := range results {
			switch {
			case r.Uploaded:
				uploaded++
			case r.Skipped:
				skipped++
			}
		}
	}

	logger.Info("🏁 Publish finished.", "manifests", len(manifests), "uploaded", uploaded, "skipped", skipped, "dry_run", a.config.DryRun)
	return nil
}
