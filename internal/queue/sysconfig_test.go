package queue

import (
	"strings"
	"testing"

	"github.com/imq-dev/imq/internal/checks"
)

func TestDefaultSystemConfig(t *testing.T) {
	sc := DefaultSystemConfig("A-merge")

	if sc.TriggerLabel != "A-merge" {
		t.Errorf("expected trigger label A-merge, got %q", sc.TriggerLabel)
	}
	if sc.MergeSuccessTemplate != DefaultMergeSuccessTemplate {
		t.Errorf("unexpected success template: %q", sc.MergeSuccessTemplate)
	}
	if !sc.Checks.IsEmpty() {
		t.Error("expected no checks by default")
	}
	if err := sc.Validate(); err != nil {
		t.Errorf("expected default config to validate, got %v", err)
	}
}

func TestRenderSuccessComment(t *testing.T) {
	sc := DefaultSystemConfig("A-merge")

	got, err := sc.RenderSuccessComment(CommentData{Number: 42, Base: "main"})
	if err != nil {
		t.Fatalf("RenderSuccessComment failed: %v", err)
	}
	if !strings.Contains(got, "`main`") {
		t.Errorf("expected base branch in comment, got %q", got)
	}
}

func TestRenderFailureComment(t *testing.T) {
	sc := DefaultSystemConfig("A-merge")

	got, err := sc.RenderFailureComment(CommentData{Number: 42, Reason: "checks failed: build"})
	if err != nil {
		t.Fatalf("RenderFailureComment failed: %v", err)
	}
	if !strings.Contains(got, "checks failed: build") {
		t.Errorf("expected reason in comment, got %q", got)
	}
}

func TestRenderComment_CustomTemplate(t *testing.T) {
	sc := DefaultSystemConfig("A-merge")
	sc.MergeSuccessTemplate = "PR #{{.Number}} landed on {{.Base}}"

	got, err := sc.RenderSuccessComment(CommentData{Number: 9, Base: "release-1.2"})
	if err != nil {
		t.Fatalf("RenderSuccessComment failed: %v", err)
	}
	if got != "PR #9 landed on release-1.2" {
		t.Errorf("unexpected rendering: %q", got)
	}
}

func TestSystemConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*SystemConfig)
		wantErr bool
	}{
		{"default", func(sc *SystemConfig) {}, false},
		{"empty trigger label", func(sc *SystemConfig) { sc.TriggerLabel = "" }, true},
		{"malformed success template", func(sc *SystemConfig) { sc.MergeSuccessTemplate = "{{.Base" }, true},
		{"malformed failure template", func(sc *SystemConfig) { sc.MergeFailureTemplate = "{{.Nope!}}" }, true},
		{"invalid checks", func(sc *SystemConfig) {
			sc.Checks = checks.CheckConfiguration{Checks: []checks.Check{{ID: "", Name: "unnamed"}}}
		}, true},
		{"valid checks", func(sc *SystemConfig) {
			sc.Checks = checks.CheckConfiguration{Checks: []checks.Check{
				{ID: "build", Name: "Build", Kind: checks.KindWorkflow, Workflow: "build.yml"},
			}}
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := DefaultSystemConfig("A-merge")
			tt.mutate(sc)
			err := sc.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("expected valid config, got %v", err)
			}
		})
	}
}
