package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/settlab/sett/internal/domain"
)

// ScriptRepository defines domain-specific operations for configuration scripts
type ScriptRepository interface {
	Repository[domain.Script, int64]
	FindByName(ctx context.Context, name string) (domain.Script, error)
}

// scriptRepositoryImpl implements ScriptRepository
type scriptRepositoryImpl struct {
	db    *sql.DB
	stmts *StatementCache
}

// NewScriptRepository creates a new script repository
func NewScriptRepository(db *sql.DB) ScriptRepository {
	return &scriptRepositoryImpl{
		db:    db,
		stmts: NewStatementCache(db),
	}
}

// Save creates or updates a script
func (r *scriptRepositoryImpl) Save(ctx context.Context, script domain.Script) (domain.Script, error) {
	if script.ID == 0 {
		return r.createScript(ctx, script)
	}
	return r.updateScript(ctx, script)
}

// createScript inserts a new script into the database
func (r *scriptRepositoryImpl) createScript(ctx context.Context, s domain.Script) (domain.Script, error) {
	if s.Name == "" {
		return domain.Script{}, fmt.Errorf("script name is required: %w", ErrInvalidEntity)
	}
	if s.Script == "" {
		return domain.Script{}, fmt.Errorf("script contents are required: %w", ErrInvalidEntity)
	}
	if s.Destination == "" {
		return domain.Script{}, fmt.Errorf("script destination is required: %w", ErrInvalidEntity)
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO scripts (name, script, destination)
		VALUES (?, ?, ?)`,
		s.Name, s.Script, s.Destination)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Script{}, fmt.Errorf("script with name '%s': %w", s.Name, ErrDuplicate)
		}
		return domain.Script{}, fmt.Errorf("failed to create script: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return domain.Script{}, fmt.Errorf("failed to get script ID: %w", err)
	}

	s.ID = id
	return s, nil
}

// updateScript updates an existing script in the database
func (r *scriptRepositoryImpl) updateScript(ctx context.Context, s domain.Script) (domain.Script, error) {
	if s.Name == "" {
		return domain.Script{}, fmt.Errorf("script name is required: %w", ErrInvalidEntity)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE scripts
		SET name = ?, script = ?, destination = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		s.Name, s.Script, s.Destination, s.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Script{}, fmt.Errorf("script with name '%s': %w", s.Name, ErrDuplicate)
		}
		return domain.Script{}, fmt.Errorf("failed to update script: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return domain.Script{}, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.Script{}, fmt.Errorf("script with ID %d: %w", s.ID, ErrNotFound)
	}

	return s, nil
}

// FindByID finds a script by ID. Configuration passes resolve scripts per
// node, so the statement is prepared once and reused.
func (r *scriptRepositoryImpl) FindByID(ctx context.Context, id int64) (domain.Script, error) {
	stmt, err := r.stmts.Get(`
		SELECT id, name, script, destination
		FROM scripts WHERE id = ?`)
	if err != nil {
		return domain.Script{}, fmt.Errorf("failed to prepare script query: %w", err)
	}

	var script domain.Script
	err = stmt.QueryRowContext(ctx, id).Scan(
		&script.ID, &script.Name, &script.Script, &script.Destination)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Script{}, fmt.Errorf("script with ID %d: %w", id, ErrNotFound)
		}
		return domain.Script{}, fmt.Errorf("failed to find script: %w", err)
	}
	return script, nil
}

// FindByName finds a script by name
func (r *scriptRepositoryImpl) FindByName(ctx context.Context, name string) (domain.Script, error) {
	var script domain.Script
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, script, destination
		FROM scripts WHERE name = ?`, name).Scan(
		&script.ID, &script.Name, &script.Script, &script.Destination)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Script{}, fmt.Errorf("script with name '%s': %w", name, ErrNotFound)
		}
		return domain.Script{}, fmt.Errorf("failed to find script: %w", err)
	}
	return script, nil
}

// FindAll finds all scripts
func (r *scriptRepositoryImpl) FindAll(ctx context.Context) ([]domain.Script, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, script, destination
		FROM scripts ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to find scripts: %w", err)
	}
	defer rows.Close()

	var scripts []domain.Script
	for rows.Next() {
		var script domain.Script
		err := rows.Scan(&script.ID, &script.Name, &script.Script, &script.Destination)
		if err != nil {
			return nil, fmt.Errorf("failed to scan script: %w", err)
		}
		scripts = append(scripts, script)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scripts: %w", err)
	}

	return scripts, nil
}

// DeleteByID deletes a script by ID
func (r *scriptRepositoryImpl) DeleteByID(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM scripts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete script: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("script with ID %d: %w", id, ErrNotFound)
	}

	return nil
}

// ExistsByID checks if a script exists by ID
func (r *scriptRepositoryImpl) ExistsByID(ctx context.Context, id int64) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM scripts WHERE id = ?", id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check script existence: %w", err)
	}
	return count > 0, nil
}
