package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/imq-dev/imq/internal/config"
	"github.com/imq-dev/imq/internal/queue"
)

// SystemConfig returns the singleton configuration row, creating it with
// defaults on first read.
func (s *Store) SystemConfig(ctx context.Context) (*queue.SystemConfig, error) {
	sc := &queue.SystemConfig{}
	var checksJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT trigger_label, checks_json, merge_success_template,
		       merge_failure_template, updated_at
		FROM system_config WHERE id = 1
	`).Scan(&sc.TriggerLabel, &checksJSON, &sc.MergeSuccessTemplate,
		&sc.MergeFailureTemplate, &sc.UpdatedAt)
	if err == sql.ErrNoRows {
		sc = queue.DefaultSystemConfig(config.DefaultTriggerLabel)
		if err := s.SaveSystemConfig(ctx, sc); err != nil {
			return nil, err
		}
		return sc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load system config: %w", err)
	}
	if err := json.Unmarshal([]byte(checksJSON), &sc.Checks); err != nil {
		return nil, fmt.Errorf("failed to decode check configuration: %w", err)
	}
	return sc, nil
}

// SaveSystemConfig writes the singleton configuration row.
func (s *Store) SaveSystemConfig(ctx context.Context, sc *queue.SystemConfig) error {
	checksJSON, err := json.Marshal(sc.Checks)
	if err != nil {
		return fmt.Errorf("failed to encode check configuration: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO system_config (
			id, trigger_label, checks_json, merge_success_template,
			merge_failure_template, updated_at
		) VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			trigger_label = excluded.trigger_label,
			checks_json = excluded.checks_json,
			merge_success_template = excluded.merge_success_template,
			merge_failure_template = excluded.merge_failure_template,
			updated_at = excluded.updated_at
	`, sc.TriggerLabel, string(checksJSON), sc.MergeSuccessTemplate,
		sc.MergeFailureTemplate, sc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save system config: %w", err)
	}
	return nil
}
