package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

type ProjectRepo struct {
	db *sql.DB
}

func NewProjectRepo(db *sql.DB) *ProjectRepo {
	return &ProjectRepo{db: db}
}

func (r *ProjectRepo) Create(ctx context.Context, project *Project) error {
	if project.ID == "" {
		id, err := NewID()
		if err != nil {
			return err
		}
		project.ID = id
	}
	if project.CreatedAt.IsZero() {
		project.CreatedAt = nowUTC()
	}
	if project.UpdatedAt.IsZero() {
		project.UpdatedAt = project.CreatedAt
	}

	_, err := r.db.ExecContext(ctx, `
INSERT INTO projects (id, name, path, color, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
`, project.ID, project.Name, project.Path, project.Color, formatTimestamp(project.CreatedAt), formatTimestamp(project.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

func (r *ProjectRepo) Get(ctx context.Context, id string) (*Project, error) {
	return r.getWhere(ctx, "id = ?", id)
}

func (r *ProjectRepo) GetByPath(ctx context.Context, path string) (*Project, error) {
	return r.getWhere(ctx, "path = ?", path)
}

func (r *ProjectRepo) getWhere(ctx context.Context, where string, arg any) (*Project, error) {
	var p Project
	var createdAtRaw, updatedAtRaw string

	err := r.db.QueryRowContext(ctx, `
SELECT id, name, path, color, created_at, updated_at
FROM projects
WHERE `+where, arg).Scan(&p.ID, &p.Name, &p.Path, &p.Color, &createdAtRaw, &updatedAtRaw)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	p.CreatedAt, err = parseTimestamp(createdAtRaw)
	if err != nil {
		return nil, err
	}
	p.UpdatedAt, err = parseTimestamp(updatedAtRaw)
	if err != nil {
		return nil, err
	}

	return &p, nil
}

func (r *ProjectRepo) List(ctx context.Context, filter ProjectFilter) ([]*Project, error) {
	query := `SELECT id, name, path, color, created_at, updated_at FROM projects`
	args := []any{}
	if filter.Query != "" {
		query += " WHERE name LIKE ? OR path LIKE ?"
		like := "%" + filter.Query + "%"
		args = append(args, like, like)
	}
	query += " ORDER BY name COLLATE NOCASE ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	projects := []*Project{}
	for rows.Next() {
		var p Project
		var createdAtRaw, updatedAtRaw string
		if err := rows.Scan(&p.ID, &p.Name, &p.Path, &p.Color, &createdAtRaw, &updatedAtRaw); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		p.CreatedAt, err = parseTimestamp(createdAtRaw)
		if err != nil {
			return nil, err
		}
		p.UpdatedAt, err = parseTimestamp(updatedAtRaw)
		if err != nil {
			return nil, err
		}
		projects = append(projects, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed while iterating projects: %w", err)
	}

	return projects, nil
}

// UpsertByPath creates the project if its path is new and refreshes the
// name otherwise. Used by the discovery scan to record findings.
func (r *ProjectRepo) UpsertByPath(ctx context.Context, name, path string) (*Project, error) {
	existing, err := r.GetByPath(ctx, path)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.Name != name {
			existing.Name = name
			if err := r.Update(ctx, existing); err != nil {
				return nil, err
			}
		}
		return existing, nil
	}

	p := &Project{Name: name, Path: path}
	if err := r.Create(ctx, p); err != nil {
		// A concurrent upsert may have won the race on the unique path.
		if strings.Contains(err.Error(), "UNIQUE") {
			return r.GetByPath(ctx, path)
		}
		return nil, err
	}
	return p, nil
}

func (r *ProjectRepo) Update(ctx context.Context, project *Project) error {
	project.UpdatedAt = nowUTC()
	res, err := r.db.ExecContext(ctx, `
UPDATE projects
SET name = ?, path = ?, color = ?, updated_at = ?
WHERE id = ?
`, project.Name, project.Path, project.Color, formatTimestamp(project.UpdatedAt), project.ID)
	if err != nil {
		return fmt.Errorf("failed to update project %q: %w", project.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read updated rows for project %q: %w", project.ID, err)
	}
	if affected == 0 {
		return fmt.Errorf("project %q not found", project.ID)
	}
	return nil
}

func (r *ProjectRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete project %q: %w", id, err)
	}
	return nil
}
