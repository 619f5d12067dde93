package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/settlab/sett/internal/domain"
)

// TopologyRepository defines domain-specific operations for topologies
type TopologyRepository interface {
	Repository[domain.Topology, int64]
	FindByName(ctx context.Context, name string) (domain.Topology, error)
	ExistsByName(ctx context.Context, name string) (bool, error)
}

// topologyRepositoryImpl implements TopologyRepository
type topologyRepositoryImpl struct {
	db    *sql.DB
	stmts *StatementCache
}

// NewTopologyRepository creates a new topology repository
func NewTopologyRepository(db *sql.DB) TopologyRepository {
	return &topologyRepositoryImpl{
		db:    db,
		stmts: NewStatementCache(db),
	}
}

// Save creates or updates a topology
func (r *topologyRepositoryImpl) Save(ctx context.Context, topology domain.Topology) (domain.Topology, error) {
	if topology.ID == 0 {
		return r.createTopology(ctx, topology)
	}
	return r.updateTopology(ctx, topology)
}

// createTopology inserts a new topology into the database
func (r *topologyRepositoryImpl) createTopology(ctx context.Context, t domain.Topology) (domain.Topology, error) {
	if t.Name == "" {
		return domain.Topology{}, fmt.Errorf("topology name is required: %w", ErrInvalidEntity)
	}
	if t.Document == "" {
		return domain.Topology{}, fmt.Errorf("topology document is required: %w", ErrInvalidEntity)
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO topologies (name, description, document)
		VALUES (?, ?, ?)`,
		t.Name, t.Description, t.Document)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Topology{}, fmt.Errorf("topology with name '%s': %w", t.Name, ErrDuplicate)
		}
		return domain.Topology{}, fmt.Errorf("failed to create topology: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return domain.Topology{}, fmt.Errorf("failed to get topology ID: %w", err)
	}

	t.ID = id
	return t, nil
}

// updateTopology updates an existing topology in the database
func (r *topologyRepositoryImpl) updateTopology(ctx context.Context, t domain.Topology) (domain.Topology, error) {
	if t.Name == "" {
		return domain.Topology{}, fmt.Errorf("topology name is required: %w", ErrInvalidEntity)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE topologies
		SET name = ?, description = ?, document = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		t.Name, t.Description, t.Document, t.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Topology{}, fmt.Errorf("topology with name '%s': %w", t.Name, ErrDuplicate)
		}
		return domain.Topology{}, fmt.Errorf("failed to update topology: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return domain.Topology{}, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.Topology{}, fmt.Errorf("topology with ID %d: %w", t.ID, ErrNotFound)
	}

	return t, nil
}

// FindByID finds a topology by ID
func (r *topologyRepositoryImpl) FindByID(ctx context.Context, id int64) (domain.Topology, error) {
	stmt, err := r.stmts.Get(`
		SELECT id, name, description, document
		FROM topologies WHERE id = ?`)
	if err != nil {
		return domain.Topology{}, fmt.Errorf("failed to prepare topology query: %w", err)
	}

	var topology domain.Topology
	err = stmt.QueryRowContext(ctx, id).Scan(
		&topology.ID, &topology.Name, &topology.Description, &topology.Document)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Topology{}, fmt.Errorf("topology with ID %d: %w", id, ErrNotFound)
		}
		return domain.Topology{}, fmt.Errorf("failed to find topology: %w", err)
	}
	return topology, nil
}

// FindByName finds a topology by name. Every sandbox status poll resolves a
// name first, so the statement is prepared once and reused.
func (r *topologyRepositoryImpl) FindByName(ctx context.Context, name string) (domain.Topology, error) {
	stmt, err := r.stmts.Get(`
		SELECT id, name, description, document
		FROM topologies WHERE name = ?`)
	if err != nil {
		return domain.Topology{}, fmt.Errorf("failed to prepare topology query: %w", err)
	}

	var topology domain.Topology
	err = stmt.QueryRowContext(ctx, name).Scan(
		&topology.ID, &topology.Name, &topology.Description, &topology.Document)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Topology{}, fmt.Errorf("topology with name '%s': %w", name, ErrNotFound)
		}
		return domain.Topology{}, fmt.Errorf("failed to find topology: %w", err)
	}
	return topology, nil
}

// FindAll finds all topologies
func (r *topologyRepositoryImpl) FindAll(ctx context.Context) ([]domain.Topology, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, description, document
		FROM topologies ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to find topologies: %w", err)
	}
	defer rows.Close()

	var topologies []domain.Topology
	for rows.Next() {
		var topology domain.Topology
		err := rows.Scan(&topology.ID, &topology.Name, &topology.Description, &topology.Document)
		if err != nil {
			return nil, fmt.Errorf("failed to scan topology: %w", err)
		}
		topologies = append(topologies, topology)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating topologies: %w", err)
	}

	return topologies, nil
}

// DeleteByID deletes a topology by ID
func (r *topologyRepositoryImpl) DeleteByID(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM topologies WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete topology: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("topology with ID %d: %w", id, ErrNotFound)
	}

	return nil
}

// ExistsByID checks if a topology exists by ID
func (r *topologyRepositoryImpl) ExistsByID(ctx context.Context, id int64) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM topologies WHERE id = ?", id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check topology existence: %w", err)
	}
	return count > 0, nil
}

// ExistsByName checks if a topology exists by name
func (r *topologyRepositoryImpl) ExistsByName(ctx context.Context, name string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM topologies WHERE name = ?", name).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check topology existence: %w", err)
	}
	return count > 0, nil
}

// isUniqueViolation reports whether err is a SQLite unique constraint failure
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
