package queue

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/imq-dev/imq/internal/checks"
)

// DefaultMergeSuccessTemplate is the comment posted after a squash merge.
const DefaultMergeSuccessTemplate = ":white_check_mark: Merged into `{{.Base}}` by the merge queue."

// DefaultMergeFailureTemplate is the comment posted when an entry fails.
const DefaultMergeFailureTemplate = ":x: Merge queue could not merge this pull request: {{.Reason}}"

// SystemConfig is the single persisted configuration row. The trigger label
// and check configuration are editable at runtime over the API; webhook
// handling re-reads the row on every delivery.
type SystemConfig struct {
	TriggerLabel         string                    `json:"trigger_label"`
	Checks               checks.CheckConfiguration `json:"checks"`
	MergeSuccessTemplate string                    `json:"merge_success_template"`
	MergeFailureTemplate string                    `json:"merge_failure_template"`
	UpdatedAt            time.Time                 `json:"updated_at"`
}

// DefaultSystemConfig returns the row created on first startup.
func DefaultSystemConfig(triggerLabel string) *SystemConfig {
	return &SystemConfig{
		TriggerLabel:         triggerLabel,
		MergeSuccessTemplate: DefaultMergeSuccessTemplate,
		MergeFailureTemplate: DefaultMergeFailureTemplate,
		UpdatedAt:            time.Now().UTC(),
	}
}

// CommentData is the template context for notification comments.
type CommentData struct {
	Number int
	Base   string
	Reason string
}

// RenderSuccessComment renders the merge success comment for a PR.
func (sc *SystemConfig) RenderSuccessComment(data CommentData) (string, error) {
	return renderTemplate("merge_success", sc.MergeSuccessTemplate, data)
}

// RenderFailureComment renders the merge failure comment for a PR.
func (sc *SystemConfig) RenderFailureComment(data CommentData) (string, error) {
	return renderTemplate("merge_failure", sc.MergeFailureTemplate, data)
}

func renderTemplate(name, text string, data CommentData) (string, error) {
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse %s template: %w", name, err)
	}
	var buf strings.Builder
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s template: %w", name, err)
	}
	return buf.String(), nil
}

// Validate checks the configuration row, including the check graph.
func (sc *SystemConfig) Validate() error {
	if sc.TriggerLabel == "" {
		return fmt.Errorf("trigger label must not be empty")
	}
	if err := sc.Checks.Validate(); err != nil {
		return fmt.Errorf("check configuration: %w", err)
	}
	if _, err := sc.RenderSuccessComment(CommentData{}); err != nil {
		return err
	}
	if _, err := sc.RenderFailureComment(CommentData{}); err != nil {
		return err
	}
	return nil
}
