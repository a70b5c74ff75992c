package skill_test

import (
	"context"
	"errors"
	"testing"

	"github.com/dbpilot/dbpilot/domain/skill"
)

const sampleSkill = `---
name: index-advisor
description: Suggest indexes for slow queries
allowed-tools:
  - run_explain
  - check_index_usage
---
# Index advisor

Look at the query plan before suggesting anything.
`

func TestParse(t *testing.T) {
	t.Parallel()

	s, err := skill.Parse([]byte(sampleSkill), "skills/index-advisor/SKILL.md")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if s.Name != "index-advisor" {
		t.Errorf("Name = %q", s.Name)
	}
	if s.Description != "Suggest indexes for slow queries" {
		t.Errorf("Description = %q", s.Description)
	}
	if len(s.AllowedTools) != 2 {
		t.Errorf("AllowedTools = %v", s.AllowedTools)
	}
	if !s.UserInvocable || !s.ModelInvocable {
		t.Error("invocation flags should default to true")
	}
	if s.Instructions == "" || s.Instructions[0] != '#' {
		t.Errorf("Instructions should start at the markdown body, got %q", s.Instructions)
	}
	if s.ToolName() != "skill_index-advisor" {
		t.Errorf("ToolName() = %q", s.ToolName())
	}
}

func TestParseStripsByteOrderMark(t *testing.T) {
	t.Parallel()

	// Editors on some platforms prepend a BOM to markdown files.
	s, err := skill.Parse([]byte("\uFEFF"+sampleSkill), "bom.md")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if s.Name != "index-advisor" {
		t.Errorf("Name = %q", s.Name)
	}
}

func TestParseRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{
			name:    "no frontmatter",
			content: "# just markdown\n",
			wantErr: skill.ErrNoFrontmatter,
		},
		{
			name:    "unterminated frontmatter",
			content: "---\nname: x\n",
			wantErr: skill.ErrNoFrontmatter,
		},
		{
			name:    "missing name",
			content: "---\ndescription: no name\n---\nbody\n",
			wantErr: skill.ErrMissingName,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := skill.Parse([]byte(tt.content), "test.md")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Parse() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseDisableFlags(t *testing.T) {
	t.Parallel()

	content := "---\nname: hidden\ndisable-model-invocation: true\n---\nbody\n"
	s, err := skill.Parse([]byte(content), "hidden.md")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if s.ModelInvocable {
		t.Error("disable-model-invocation should clear ModelInvocable")
	}
	if !s.UserInvocable {
		t.Error("UserInvocable should stay true")
	}
}

func TestAllows(t *testing.T) {
	t.Parallel()

	open := skill.Skill{Name: "open"}
	if !open.Allows("anything") {
		t.Error("empty allow list should permit everything")
	}

	restricted := skill.Skill{Name: "r", AllowedTools: []string{"run_explain"}}
	if !restricted.Allows("run_explain") || restricted.Allows("execute_sql") {
		t.Error("allow list should be enforced")
	}
}

func TestRegistryTools(t *testing.T) {
	t.Parallel()

	r := skill.NewRegistry()
	r.Replace([]skill.Skill{
		{Name: "visible", Description: "d", Instructions: "follow these steps", ModelInvocable: true},
		{Name: "hidden", ModelInvocable: false},
	})

	tools := r.Tools()
	if len(tools) != 1 {
		t.Fatalf("Tools() length = %d, want 1", len(tools))
	}
	if tools[0].Name() != "skill_visible" {
		t.Errorf("tool name = %q", tools[0].Name())
	}

	res := tools[0].Execute(context.Background(), nil)
	if res.Message != "follow these steps" {
		t.Errorf("executing a skill tool should return its instructions, got %q", res.Message)
	}
}
