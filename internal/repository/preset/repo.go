package preset

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/wb-go/wbf/dbpg"
)

// ErrInvalidName is returned when a preset name cannot be used as a path segment.
var ErrInvalidName = errors.New("invalid preset name")

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Repository stores named transform presets in the database.
type Repository struct {
	db *dbpg.DB
}

// NewRepository creates a new Repository with the given DB connection.
func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

// List returns all presets as name -> query string.
// Reads go to a replica when one is configured.
func (r *Repository) List(ctx context.Context) (map[string]string, error) {
	query := `
		SELECT name, query
		FROM presets
		ORDER BY name
	`

	conn := r.db.Master
	if len(r.db.Slaves) > 0 {
		conn = r.db.Slaves[0]
	}

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list: failed to query presets: %w", err)
	}
	defer rows.Close()

	presets := make(map[string]string)
	for rows.Next() {
		var name, q string
		if err := rows.Scan(&name, &q); err != nil {
			return nil, fmt.Errorf("list: failed to scan preset: %w", err)
		}
		if !namePattern.MatchString(name) {
			return nil, fmt.Errorf("list: %w: %q", ErrInvalidName, name)
		}
		presets[name] = q
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list: failed to iterate presets: %w", err)
	}

	return presets, nil
}

// Save inserts or replaces a preset.
func (r *Repository) Save(ctx context.Context, name, q string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("save: %w: %q", ErrInvalidName, name)
	}

	query := `
		INSERT INTO presets (name, query)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET query = EXCLUDED.query, updated_at = now()
	`

	if _, err := r.db.ExecContext(ctx, query, name, q); err != nil {
		return fmt.Errorf("save: failed to save preset: %w", err)
	}

	return nil
}
