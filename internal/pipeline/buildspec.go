package pipeline

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"sigs.k8s.io/yaml"
)

// BuildSpec is the CodeBuild build specification of one project.
type BuildSpec struct {
	Version   string            `json:"version"`
	Phases    map[string]*Phase `json:"phases"`
	Artifacts *Artifacts        `json:"artifacts,omitempty"`
}

// Phase is one buildspec phase.
type Phase struct {
	Commands []string `json:"commands"`
}

// Artifacts selects the files a build exports.
type Artifacts struct {
	BaseDirectory string   `json:"base-directory"`
	Files         []string `json:"files"`
}

func newBuildSpec(install, build []string) *BuildSpec {
	spec := &BuildSpec{Version: "0.2", Phases: map[string]*Phase{}}
	if len(install) > 0 {
		spec.Phases["install"] = &Phase{Commands: install}
	}
	spec.Phases["build"] = &Phase{Commands: build}
	return spec
}

// Render returns the buildspec as YAML.
func (s *BuildSpec) Render() (string, error) {
	out, err := yaml.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("rendering buildspec: %w", err)
	}
	return string(out), nil
}

var nonArtifactChars = regexp.MustCompile(`[^A-Za-z0-9_]`)

// ArtifactName is the pipeline artifact a source repository is checked out into.
func ArtifactName(repository string) string {
	return nonArtifactChars.ReplaceAllString(repository, "_") + "_Source"
}

// mountCommands links each additional input next to the primary checkout.
// CodeBuild exposes secondary sources as CODEBUILD_SRC_DIR_<artifact>.
func mountCommands(inputs map[string]string, artifactOf func(source string) string) []string {
	dirs := make([]string, 0, len(inputs))
	for dir := range inputs {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	cmds := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		quoted := shellQuote(dir)
		cmds = append(cmds, fmt.Sprintf(
			`[ ! -d %s ] || { echo 'additional input %s already exists; copy into it explicitly to merge artifacts.'; exit 1; } && ln -s -- "$CODEBUILD_SRC_DIR_%s" %s`,
			quoted, strings.ReplaceAll(dir, "'", ""), artifactOf(inputs[dir]), quoted,
		))
	}
	return cmds
}

func shellQuote(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`, "$", `\$`, "`", "\\`").Replace(s) + `"`
}
