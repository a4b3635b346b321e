package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// snapshotLockKey is the advisory lock taken by every Save transaction.
const snapshotLockKey = 0x726f6c6c // "roll"

const (
	splitTrain = "train"
	splitTest  = "test"
)

// Postgres manages a PostgreSQL connection pool and stores the snapshot with
// one pgvector row per sample and a single model_state row. It is safe for
// concurrent use.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres ensures the schema is initialized and opens the connection pool.
func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("invalid database URL: %w", err)
	}

	// Initialize schema (Auto-Migration) on a single connection, since the
	// vector type only exists once the extension is created.
	conn, err := pgx.ConnectConfig(ctx, cfg.ConnConfig.Copy())
	if err != nil {
		return nil, err
	}
	err = initSchema(ctx, conn)
	conn.Close(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	cfg.AfterConnect = pgxvec.RegisterTypes
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// initSchema creates the necessary tables and vector extension if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS face_samples (
			id BIGSERIAL PRIMARY KEY,
			label TEXT NOT NULL,
			split TEXT NOT NULL CHECK (split IN ('train', 'test')),
			position INT NOT NULL,
			embedding VECTOR NOT NULL
		);
		CREATE TABLE IF NOT EXISTS model_state (
			id INT PRIMARY KEY CHECK (id = 1),
			schema_version INT NOT NULL,
			dimension INT NOT NULL,
			label_encoder JSONB NOT NULL,
			classifier JSONB NOT NULL,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS face_samples_split_idx ON face_samples (split, position);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close releases every pooled connection.
func (s *Postgres) Close(ctx context.Context) {
	s.pool.Close()
}

// Load reads the model state row and every sample from one read-only
// repeatable-read transaction, so a concurrent Save is either fully visible or
// not at all. A database without a model_state row yields an empty snapshot.
func (s *Postgres) Load(ctx context.Context) (*Snapshot, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("starting read transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	snap := Empty()

	var encoderJSON, classifierJSON []byte
	err = tx.QueryRow(ctx, `
		SELECT schema_version, dimension, label_encoder, classifier, updated_at
		FROM model_state WHERE id = 1
	`).Scan(&snap.SchemaVersion, &snap.Dimension, &encoderJSON, &classifierJSON, &snap.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return snap, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading model state: %w", err)
	}

	if err := json.Unmarshal(encoderJSON, &snap.Encoder); err != nil {
		return nil, fmt.Errorf("%w: label encoder: %v", ErrCorruptSnapshot, err)
	}
	if err := json.Unmarshal(classifierJSON, snap.Classifier); err != nil {
		return nil, fmt.Errorf("%w: classifier: %v", ErrCorruptSnapshot, err)
	}

	rows, err := tx.Query(ctx, `SELECT label, split, embedding FROM face_samples ORDER BY split DESC, position ASC`)
	if err != nil {
		return nil, fmt.Errorf("loading samples: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var label, split string
		var vec pgvector.Vector
		if err := rows.Scan(&label, &split, &vec); err != nil {
			return nil, fmt.Errorf("scanning sample: %w", err)
		}
		smp := Sample{Label: label, Embedding: toFloat64(vec.Slice())}
		switch split {
		case splitTrain:
			snap.Train = append(snap.Train, smp)
		case splitTest:
			snap.Test = append(snap.Test, smp)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating samples: %w", err)
	}

	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return snap, nil
}

// Save rewrites every table in a single transaction. The advisory lock
// serializes writers across processes sharing the database.
func (s *Postgres) Save(ctx context.Context, snap *Snapshot) error {
	encoderJSON, err := json.Marshal(snap.Encoder)
	if err != nil {
		return fmt.Errorf("encoding label encoder: %w", err)
	}
	classifierJSON, err := json.Marshal(snap.Classifier)
	if err != nil {
		return fmt.Errorf("encoding classifier: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", int64(snapshotLockKey)); err != nil {
		return fmt.Errorf("acquiring snapshot lock: %w", err)
	}
	if _, err := tx.Exec(ctx, "DELETE FROM face_samples"); err != nil {
		return fmt.Errorf("clearing samples: %w", err)
	}

	rows := make([][]any, 0, len(snap.Train)+len(snap.Test))
	for i, smp := range snap.Train {
		rows = append(rows, []any{smp.Label, splitTrain, i, pgvector.NewVector(toFloat32(smp.Embedding))})
	}
	for i, smp := range snap.Test {
		rows = append(rows, []any{smp.Label, splitTest, i, pgvector.NewVector(toFloat32(smp.Embedding))})
	}
	if len(rows) > 0 {
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"face_samples"},
			[]string{"label", "split", "position", "embedding"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("copying samples: %w", err)
		}
	}

	snap.SchemaVersion = SchemaVersion
	snap.UpdatedAt = time.Now().UTC()
	_, err = tx.Exec(ctx, `
		INSERT INTO model_state (id, schema_version, dimension, label_encoder, classifier, updated_at)
		VALUES (1, $1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			schema_version = EXCLUDED.schema_version,
			dimension = EXCLUDED.dimension,
			label_encoder = EXCLUDED.label_encoder,
			classifier = EXCLUDED.classifier,
			updated_at = EXCLUDED.updated_at
	`, snap.SchemaVersion, snap.Dimension, encoderJSON, classifierJSON, snap.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving model state: %w", err)
	}

	return tx.Commit(ctx)
}

// Reset removes every sample and the model state.
func (s *Postgres) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE face_samples, model_state RESTART IDENTITY`)
	return err
}

func toFloat32(vec []float64) []float32 {
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(v)
	}
	return out
}

func toFloat64(vec []float32) []float64 {
	out := make([]float64, len(vec))
	for i, v := range vec {
		out[i] = float64(v)
	}
	return out
}
