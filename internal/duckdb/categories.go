package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/fleetwatch/fleetwatch/internal/model"
	"github.com/google/uuid"
)

// AddCategory creates a category with a unique name. A duplicate name is
// rejected with ErrConflict.
func (s *Store) AddCategory(name string) (*model.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: empty category name", model.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	if _, err := s.categoryBy(ctx, "name", name); err == nil {
		return nil, fmt.Errorf("category %q: %w", name, model.ErrConflict)
	} else if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}

	id := uuid.NewString()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO categories (id, name) VALUES (?, ?)`, id, name); err != nil {
		return nil, fmt.Errorf("insert category %q: %w", name, err)
	}
	return s.categoryBy(ctx, "id", id)
}

// EnsureCategory returns the category with the given name, creating it
// when absent. Used by the aggregation job to resolve the sentinel
// category it assigns to auto-created devices.
func (s *Store) EnsureCategory(name string) (*model.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: empty category name", model.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	cat, err := s.categoryBy(ctx, "name", name)
	if err == nil {
		return cat, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO categories (id, name) VALUES (?, ?) ON CONFLICT (name) DO NOTHING`,
		uuid.NewString(), name); err != nil {
		return nil, fmt.Errorf("ensure category %q: %w", name, err)
	}
	return s.categoryBy(ctx, "name", name)
}

// CategoryByID returns the category with the given id, or ErrNotFound.
func (s *Store) CategoryByID(id string) (*model.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()
	return s.categoryBy(ctx, "id", id)
}

// CategoryByName returns the category with the given name, or ErrNotFound.
func (s *Store) CategoryByName(name string) (*model.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()
	return s.categoryBy(ctx, "name", name)
}

func (s *Store) categoryBy(ctx context.Context, column, value string) (*model.Category, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT id, name, created_at FROM categories WHERE %s = ?`, column), value)

	var c model.Category
	if err := row.Scan(&c.ID, &c.Name, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("category %s=%q: %w", column, value, model.ErrNotFound)
		}
		return nil, fmt.Errorf("category lookup: %w", err)
	}
	return &c, nil
}

// ListCategories returns all categories ordered by name.
func (s *Store) ListCategories() ([]model.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_at FROM categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	defer rows.Close()

	var cats []model.Category
	for rows.Next() {
		var c model.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt); err != nil {
			log.Printf("duckdb scan error (ListCategories): %v", err)
			continue
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

// DeleteCategory removes an unreferenced category. Deleting a category
// that devices still reference is rejected with ErrConflict so devices are
// never orphaned silently.
func (s *Store) DeleteCategory(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	if _, err := s.categoryBy(ctx, "id", id); err != nil {
		return err
	}

	var refs int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM devices WHERE category_id = ?`, id).Scan(&refs); err != nil {
		return fmt.Errorf("counting category references: %w", err)
	}
	if refs > 0 {
		return fmt.Errorf("category id=%q referenced by %d devices: %w", id, refs, model.ErrConflict)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	return nil
}
