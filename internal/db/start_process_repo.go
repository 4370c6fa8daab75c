package db

import (
	"context"
	"database/sql"
	"fmt"
)

type StartProcessRepo struct {
	db *sql.DB
}

func NewStartProcessRepo(db *sql.DB) *StartProcessRepo {
	return &StartProcessRepo{db: db}
}

// ListByProject returns the project's start-process definitions in
// declaration order.
func (r *StartProcessRepo) ListByProject(ctx context.Context, projectID string) ([]*StartProcess, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, project_id, ordinal, name, commands, working_dir, color, url
FROM start_processes
WHERE project_id = ?
ORDER BY ordinal ASC
`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list start processes: %w", err)
	}
	defer rows.Close()

	procs := []*StartProcess{}
	for rows.Next() {
		var sp StartProcess
		var commandsRaw string
		if err := rows.Scan(&sp.ID, &sp.ProjectID, &sp.Ordinal, &sp.Name, &commandsRaw, &sp.WorkDir, &sp.Color, &sp.URL); err != nil {
			return nil, fmt.Errorf("failed to scan start process: %w", err)
		}
		sp.Commands, err = decodeStringSlice(commandsRaw)
		if err != nil {
			return nil, err
		}
		procs = append(procs, &sp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed while iterating start processes: %w", err)
	}

	return procs, nil
}

// Replace swaps the project's whole definition list in one transaction,
// preserving the order given.
func (r *StartProcessRepo) Replace(ctx context.Context, projectID string, procs []*StartProcess) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace start processes tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM start_processes WHERE project_id = ?`, projectID); err != nil {
		return fmt.Errorf("failed to clear start processes: %w", err)
	}

	for i, sp := range procs {
		if sp.ID == "" {
			id, err := NewID()
			if err != nil {
				return err
			}
			sp.ID = id
		}
		sp.ProjectID = projectID
		sp.Ordinal = i

		commandsRaw, err := encodeStringSlice(sp.Commands)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO start_processes (id, project_id, ordinal, name, commands, working_dir, color, url)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, sp.ID, sp.ProjectID, sp.Ordinal, sp.Name, commandsRaw, sp.WorkDir, sp.Color, sp.URL); err != nil {
			return fmt.Errorf("failed to insert start process %q: %w", sp.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace start processes tx: %w", err)
	}
	return nil
}

func (r *StartProcessRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM start_processes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete start process %q: %w", id, err)
	}
	return nil
}

type SettingsRepo struct {
	db *sql.DB
}

func NewSettingsRepo(db *sql.DB) *SettingsRepo {
	return &SettingsRepo{db: db}
}

func (r *SettingsRepo) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("failed to get setting %q: %w", key, err)
	}
	return value, nil
}

func (r *SettingsRepo) Set(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO settings (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value
`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set setting %q: %w", key, err)
	}
	return nil
}

func (r *SettingsRepo) All(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed while iterating settings: %w", err)
	}
	return out, nil
}
