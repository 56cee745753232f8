package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aescanero/jobrelay/pkg/domain"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
	_ "modernc.org/sqlite"
)

const upsertPipelineSQL = `
INSERT INTO pipelines (id, uuid, name, description) VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET uuid = excluded.uuid, name = excluded.name, description = excluded.description`

// PipelineStore is the pipeline registry backed by SQLite
type PipelineStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (and if needed creates) the registry database at path
func Open(path string, logger *zap.Logger) (*PipelineStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := initDB(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PipelineStore{db: db, logger: logger}, nil
}

func initDB(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS pipelines (
			id TEXT PRIMARY KEY,
			uuid TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT ''
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize pipeline registry: %w", err)
		}
	}
	return nil
}

// Close closes the database
func (s *PipelineStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// FindByAppID returns the pipeline registered for appID
func (s *PipelineStore) FindByAppID(ctx context.Context, appID string) (*domain.PipelineRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, uuid, name, description FROM pipelines WHERE id = ?`, appID)

	var rec domain.PipelineRecord
	if err := row.Scan(&rec.ID, &rec.UUID, &rec.Name, &rec.Description); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrPipelineNotFound, appID)
		}
		return nil, fmt.Errorf("failed to query pipeline: %w", err)
	}
	return &rec, nil
}

// Upsert inserts or replaces a pipeline record
func (s *PipelineStore) Upsert(ctx context.Context, rec domain.PipelineRecord) error {
	if rec.ID == "" || rec.UUID == "" {
		return fmt.Errorf("pipeline record needs id and uuid")
	}
	_, err := s.db.ExecContext(ctx, upsertPipelineSQL,
		rec.ID, rec.UUID, rec.Name, rec.Description)
	if err != nil {
		return fmt.Errorf("failed to upsert pipeline %s: %w", rec.ID, err)
	}
	return nil
}

// seedFile is the layout of a pipeline registry seed file
type seedFile struct {
	Pipelines []domain.PipelineRecord `yaml:"pipelines"`
}

// ParseSeed parses a YAML seed document
func ParseSeed(data []byte) ([]domain.PipelineRecord, error) {
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline seed: %w", err)
	}
	return seed.Pipelines, nil
}

// Seed loads pipeline records from a YAML file into the registry
func (s *PipelineStore) Seed(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read pipeline seed: %w", err)
	}
	records, err := ParseSeed(data)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	for _, rec := range records {
		if rec.ID == "" || rec.UUID == "" {
			return 0, fmt.Errorf("pipeline seed entry needs id and uuid: %+v", rec)
		}
		if _, err := tx.ExecContext(ctx, upsertPipelineSQL,
			rec.ID, rec.UUID, rec.Name, rec.Description); err != nil {
			return 0, fmt.Errorf("failed to seed pipeline %s: %w", rec.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}

	s.logger.Info("pipeline registry seeded",
		zap.String("file", path),
		zap.Int("pipelines", len(records)))

	return len(records), nil
}

// GetApp lets the registry stand in for the remote application registry in
// local mode: an application is known when a pipeline is registered for it.
func (s *PipelineStore) GetApp(ctx context.Context, appID string) (*domain.AppDetails, error) {
	rec, err := s.FindByAppID(ctx, appID)
	if err != nil {
		if errors.Is(err, domain.ErrPipelineNotFound) {
			return nil, &domain.RemoteError{
				Service:    "pipelines",
				StatusCode: 404,
				Message:    fmt.Sprintf("no pipeline registered for %s", appID),
				NotFound:   true,
			}
		}
		return nil, err
	}
	return &domain.AppDetails{ID: rec.ID, Name: rec.Name}, nil
}
