package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Ashour158/People-sub002/internal/application/port"
	"github.com/Ashour158/People-sub002/internal/domain/workflow"
	"github.com/Ashour158/People-sub002/internal/infrastructure/persistence/sqldb"
	"github.com/Ashour158/People-sub002/pkg/database"
)

// DefinitionRepository implements port.DefinitionRepository. The graph is
// stored as a JSON document next to the columns used for lookups.
type DefinitionRepository struct {
	base
	logger *zap.Logger
}

// NewDefinitionRepository creates a new definition repository
func NewDefinitionRepository(db *sqldb.DB, logger *zap.Logger) port.DefinitionRepository {
	return &DefinitionRepository{
		base:   base{db: db},
		logger: logger,
	}
}

// Create stores a new definition version
func (r *DefinitionRepository) Create(ctx context.Context, def *workflow.Definition) error {
	document, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("failed to marshal definition: %w", err)
	}

	query := `
		INSERT INTO workflow_definitions (id, name, version, is_active, document, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err = r.exec(ctx, query, def.ID, def.Name, def.Version, def.IsActive, string(document), def.CreatedAt.UTC())
	if err != nil {
		if database.IsUniqueViolation(err) {
			return port.ErrDuplicate
		}
		r.logger.Error("Failed to create definition",
			zap.String("name", def.Name),
			zap.Int("version", def.Version),
			zap.Error(err))
		return fmt.Errorf("failed to create definition: %w", err)
	}

	r.logger.Info("Workflow definition stored",
		zap.String("id", def.ID),
		zap.String("name", def.Name),
		zap.Int("version", def.Version))
	return nil
}

// GetByID retrieves a definition by ID
func (r *DefinitionRepository) GetByID(ctx context.Context, id string) (*workflow.Definition, error) {
	query := `SELECT id, name, version, is_active, document, created_at FROM workflow_definitions WHERE id = ?`
	return r.get(ctx, query, id)
}

// GetActiveByName retrieves the active version of a definition
func (r *DefinitionRepository) GetActiveByName(ctx context.Context, name string) (*workflow.Definition, error) {
	query := `
		SELECT id, name, version, is_active, document, created_at
		FROM workflow_definitions
		WHERE name = ? AND is_active = ?
		ORDER BY version DESC
		LIMIT 1
	`
	return r.get(ctx, query, name, true)
}

// LatestVersion returns the highest stored version for a name
func (r *DefinitionRepository) LatestVersion(ctx context.Context, name string) (int, error) {
	var version int
	err := r.queryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM workflow_definitions WHERE name = ?`, name).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest version: %w", err)
	}
	return version, nil
}

// DeactivateAll clears the active flag on every version of a name
func (r *DefinitionRepository) DeactivateAll(ctx context.Context, name string) error {
	if _, err := r.exec(ctx, `UPDATE workflow_definitions SET is_active = ? WHERE name = ?`, false, name); err != nil {
		return fmt.Errorf("failed to deactivate definitions: %w", err)
	}
	return nil
}

// List retrieves definitions, newest first within each name
func (r *DefinitionRepository) List(ctx context.Context, limit, offset int) ([]*workflow.Definition, error) {
	query := `
		SELECT id, name, version, is_active, document, created_at
		FROM workflow_definitions
		ORDER BY name, version DESC
		LIMIT ? OFFSET ?
	`
	rows, err := r.query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}
	defer rows.Close()

	var defs []*workflow.Definition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan definition: %w", err)
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

func (r *DefinitionRepository) get(ctx context.Context, query string, args ...interface{}) (*workflow.Definition, error) {
	def, err := scanDefinition(r.queryRow(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get definition: %w", err)
	}
	return def, nil
}

// scanDefinition decodes the document and lets the columns win, since only
// is_active changes after insert.
func scanDefinition(s scanner) (*workflow.Definition, error) {
	var (
		id, name, document string
		version            int
		active             bool
		def                workflow.Definition
	)
	if err := s.Scan(&id, &name, &version, &active, &document, &def.CreatedAt); err != nil {
		return nil, err
	}
	createdAt := def.CreatedAt.UTC()
	if err := json.Unmarshal([]byte(document), &def); err != nil {
		return nil, fmt.Errorf("failed to decode definition %s: %w", id, err)
	}
	def.ID = id
	def.Name = name
	def.Version = version
	def.IsActive = active
	def.CreatedAt = createdAt
	return def.Normalize(), nil
}

// Verify interface compliance
var _ port.DefinitionRepository = (*DefinitionRepository)(nil)
