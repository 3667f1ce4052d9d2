package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// SQLiteGateway is the sqlite-backed persistence gateway
type SQLiteGateway struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSQLiteGateway opens the database and ensures the schema exists
func NewSQLiteGateway(path string, logger zerolog.Logger) (*SQLiteGateway, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	g := &SQLiteGateway{
		db:     db,
		logger: logger.With().Str("component", "store").Logger(),
	}

	if err := g.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	g.logger.Info().Str("path", path).Msg("Session store opened")
	return g, nil
}

func (g *SQLiteGateway) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			version TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			doc TEXT
		);
	`
	_, err := g.db.Exec(schema)
	return err
}

// UpsertSession creates the durable row if absent, preserving an existing
// row's version on conflict.
func (g *SQLiteGateway) UpsertSession(ctx context.Context, id, version string) error {
	_, err := g.db.ExecContext(ctx,
		`INSERT INTO sessions (id, version) VALUES (?, ?)
			ON CONFLICT (id) DO NOTHING`,
		id, version,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert session row: %w", err)
	}

	g.logger.Debug().Str("sessionId", id).Str("version", version).Msg("Session row upserted")
	return nil
}

// UpdateDocument stores the document snapshot for an existing row
func (g *SQLiteGateway) UpdateDocument(ctx context.Context, id, doc string) error {
	res, err := g.db.ExecContext(ctx,
		`UPDATE sessions SET doc = ? WHERE id = ?`,
		doc, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return ErrRowNotFound
	}

	g.logger.Debug().Str("sessionId", id).Int("docBytes", len(doc)).Msg("Document updated")
	return nil
}

// GetSession reads one durable row
func (g *SQLiteGateway) GetSession(ctx context.Context, id string) (*Session, error) {
	row := g.db.QueryRowContext(ctx,
		`SELECT id, version, created_at, doc FROM sessions WHERE id = ?`,
		id,
	)

	var s Session
	var doc sql.NullString
	if err := row.Scan(&s.ID, &s.Version, &s.CreatedAt, &doc); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRowNotFound
		}
		return nil, fmt.Errorf("failed to read session row: %w", err)
	}

	if doc.Valid {
		s.Doc = &doc.String
	}
	return &s, nil
}

// Close closes the database
func (g *SQLiteGateway) Close() error {
	return g.db.Close()
}
