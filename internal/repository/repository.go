package repository

import "context"

// Repository is the persistence contract the entity stores share.
// Implementations sit on SQLite and are safe for concurrent use.
type Repository[T any, ID comparable] interface {
	// Save inserts the entity, or updates it when its ID is already set
	Save(ctx context.Context, entity T) (T, error)

	// FindByID returns the entity with the given ID, or ErrNotFound
	FindByID(ctx context.Context, id ID) (T, error)

	// FindAll returns every stored entity
	FindAll(ctx context.Context) ([]T, error)

	// DeleteByID removes the entity with the given ID.
	// Returns ErrNotFound when there is nothing to remove.
	DeleteByID(ctx context.Context, id ID) error

	// ExistsByID reports whether an entity with the given ID exists
	ExistsByID(ctx context.Context, id ID) (bool, error)
}
