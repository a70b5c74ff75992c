// Package skill models reusable instruction bundles that are exposed to the
// model as tools.
package skill

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Parse errors.
var (
	// ErrNoFrontmatter is returned when a skill file lacks the YAML
	// frontmatter block.
	ErrNoFrontmatter = errors.New("skill file has no frontmatter")
	// ErrMissingName is returned when the frontmatter has no name.
	ErrMissingName = errors.New("skill frontmatter missing name")
)

// ToolPrefix namespaces skill-backed tools in the registry.
const ToolPrefix = "skill_"

var nameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Skill is a named instruction bundle loaded from a markdown file with YAML
// frontmatter.
type Skill struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	AllowedTools []string `yaml:"allowed-tools"`

	// UserInvocable controls whether the CLI lists the skill for direct
	// invocation. Defaults to true.
	UserInvocable bool `yaml:"-"`

	// ModelInvocable controls whether the skill is registered as a tool the
	// model can call. Defaults to true.
	ModelInvocable bool `yaml:"-"`

	// Instructions is the markdown body after the frontmatter.
	Instructions string `yaml:"-"`

	// Path is the file the skill was loaded from.
	Path string `yaml:"-"`
}

// frontmatter mirrors the on-disk YAML shape, with inverted flags matching
// the file format.
type frontmatter struct {
	Name                   string   `yaml:"name"`
	Description            string   `yaml:"description"`
	AllowedTools           []string `yaml:"allowed-tools"`
	DisableUserInvocation  bool     `yaml:"disable-user-invocation"`
	DisableModelInvocation bool     `yaml:"disable-model-invocation"`
}

// ToolName returns the registry name for the skill.
func (s Skill) ToolName() string {
	return ToolPrefix + s.Name
}

// Allows reports whether the skill permits use of the named tool. An empty
// allow list permits everything.
func (s Skill) Allows(tool string) bool {
	if len(s.AllowedTools) == 0 {
		return true
	}
	for _, t := range s.AllowedTools {
		if t == tool {
			return true
		}
	}
	return false
}

// Parse reads a skill from markdown content with YAML frontmatter delimited
// by "---" lines.
func Parse(content []byte, path string) (Skill, error) {
	body := bytes.TrimLeft(content, "\uFEFF \t\r\n")
	if !bytes.HasPrefix(body, []byte("---")) {
		return Skill{}, fmt.Errorf("%w: %s", ErrNoFrontmatter, path)
	}
	rest := body[3:]
	end := bytes.Index(rest, []byte("\n---"))
	if end < 0 {
		return Skill{}, fmt.Errorf("%w: %s", ErrNoFrontmatter, path)
	}

	var fm frontmatter
	if err := yaml.Unmarshal(rest[:end], &fm); err != nil {
		return Skill{}, fmt.Errorf("parse skill frontmatter %s: %w", path, err)
	}
	if fm.Name == "" {
		return Skill{}, fmt.Errorf("%w: %s", ErrMissingName, path)
	}
	name := strings.ToLower(strings.TrimSpace(fm.Name))
	if !nameRe.MatchString(name) {
		return Skill{}, fmt.Errorf("invalid skill name %q in %s", fm.Name, path)
	}

	instructions := rest[end+len("\n---"):]
	if i := bytes.IndexByte(instructions, '\n'); i >= 0 {
		instructions = instructions[i+1:]
	}

	return Skill{
		Name:           name,
		Description:    strings.TrimSpace(fm.Description),
		AllowedTools:   fm.AllowedTools,
		UserInvocable:  !fm.DisableUserInvocation,
		ModelInvocable: !fm.DisableModelInvocation,
		Instructions:   strings.TrimSpace(string(instructions)),
		Path:           path,
	}, nil
}
