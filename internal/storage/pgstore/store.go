// Package pgstore keeps the record store in PostgreSQL. Each batch runs in
// one SQL transaction.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/storage"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/pkg/postgres"
)

// Schema is applied by EnsureSchema. Every statement is idempotent.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS documents (
	    doc_key TEXT PRIMARY KEY,
	    id      TEXT NOT NULL,
	    data    BYTEA NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS mapped_results (
	    id          BIGSERIAL PRIMARY KEY,
	    index_name  TEXT NOT NULL,
	    doc_key     TEXT NOT NULL,
	    reduce_key  TEXT NOT NULL,
	    bucket      INTEGER NOT NULL,
	    data        BYTEA NOT NULL,
	    created_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS mapped_results_by_doc ON mapped_results (index_name, doc_key)`,
	`CREATE INDEX IF NOT EXISTS mapped_results_by_key ON mapped_results (index_name, reduce_key, bucket)`,
	`CREATE TABLE IF NOT EXISTS reduced_results (
	    id            BIGSERIAL PRIMARY KEY,
	    index_name    TEXT NOT NULL,
	    reduce_key    TEXT NOT NULL,
	    level         INTEGER NOT NULL,
	    source_bucket INTEGER NOT NULL,
	    bucket        INTEGER NOT NULL,
	    data          BYTEA NOT NULL,
	    created_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS reduced_results_by_key ON reduced_results (index_name, reduce_key, level, source_bucket)`,
	`CREATE TABLE IF NOT EXISTS scheduled_reductions (
	    index_name   TEXT NOT NULL,
	    level        INTEGER NOT NULL,
	    reduce_key   TEXT NOT NULL,
	    bucket       INTEGER NOT NULL,
	    scheduled_at TIMESTAMPTZ NOT NULL,
	    PRIMARY KEY (index_name, level, reduce_key, bucket)
	)`,
}

type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

var _ storage.Store = (*Store)(nil)

func New(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "pg-store"),
	}
}

// EnsureSchema creates the tables the store needs when they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if err := s.db.Exec(ctx, Schema...); err != nil {
		return fmt.Errorf("creating record store schema: %w", err)
	}
	s.logger.Info("record store schema ready")
	return nil
}

func (s *Store) Batch(ctx context.Context, fn func(storage.Actions) error) error {
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		return fn(&actions{ctx: ctx, tx: tx})
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}

type actions struct {
	ctx context.Context
	tx  *sql.Tx
}

var _ storage.Actions = (*actions)(nil)

func (a *actions) GetDocument(id string) (document.Document, error) {
	var (
		storedID string
		data     []byte
	)
	err := a.tx.QueryRowContext(a.ctx,
		`SELECT id, data FROM documents WHERE doc_key = $1`, strings.ToLower(id),
	).Scan(&storedID, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return document.Document{}, fmt.Errorf("%w: %s", storage.ErrDocumentNotFound, id)
	}
	if err != nil {
		return document.Document{}, fmt.Errorf("querying document %s: %w", id, err)
	}
	obj, err := document.UnmarshalObject(data)
	if err != nil {
		return document.Document{}, err
	}
	return document.Document{ID: storedID, Data: obj}, nil
}

func (a *actions) PutDocument(doc document.Document) error {
	data, err := document.MarshalObject(doc.Data)
	if err != nil {
		return fmt.Errorf("encoding document %s: %w", doc.ID, err)
	}
	_, err = a.tx.ExecContext(a.ctx,
		`INSERT INTO documents (doc_key, id, data) VALUES ($1, $2, $3)
		 ON CONFLICT (doc_key) DO UPDATE SET id = EXCLUDED.id, data = EXCLUDED.data`,
		strings.ToLower(doc.ID), doc.ID, data,
	)
	if err != nil {
		return fmt.Errorf("saving document %s: %w", doc.ID, err)
	}
	return nil
}

func (a *actions) DeleteDocument(id string) error {
	_, err := a.tx.ExecContext(a.ctx, `DELETE FROM documents WHERE doc_key = $1`, strings.ToLower(id))
	if err != nil {
		return fmt.Errorf("deleting document %s: %w", id, err)
	}
	return nil
}

func (a *actions) ScanDocuments(fn func(document.Document) error) error {
	rows, err := a.tx.QueryContext(a.ctx, `SELECT id, data FROM documents ORDER BY doc_key`)
	if err != nil {
		return fmt.Errorf("scanning documents: %w", err)
	}
	var docs []document.Document
	for rows.Next() {
		var (
			id   string
			data []byte
		)
		if err := rows.Scan(&id, &data); err != nil {
			rows.Close()
			return fmt.Errorf("scanning document row: %w", err)
		}
		obj, err := document.UnmarshalObject(data)
		if err != nil {
			rows.Close()
			return err
		}
		docs = append(docs, document.Document{ID: id, Data: obj})
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}
	// fn may issue statements of its own, which lib/pq refuses while rows
	// are still open on the transaction.
	for _, doc := range docs {
		if err := fn(doc); err != nil {
			return err
		}
	}
	return nil
}

func (a *actions) PutMappedResult(r storage.MappedResult) error {
	data, err := document.MarshalObject(r.Data)
	if err != nil {
		return fmt.Errorf("encoding mapped result: %w", err)
	}
	_, err = a.tx.ExecContext(a.ctx,
		`INSERT INTO mapped_results (index_name, doc_key, reduce_key, bucket, data, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		r.Index, strings.ToLower(r.DocumentID), r.ReduceKey, r.Bucket, data, r.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving mapped result: %w", err)
	}
	return nil
}

func (a *actions) DeleteMappedResultsForDocument(index, documentID string) ([]storage.ReduceKeyAndBucket, error) {
	rows, err := a.tx.QueryContext(a.ctx,
		`DELETE FROM mapped_results WHERE index_name = $1 AND doc_key = $2 RETURNING bucket, reduce_key`,
		index, strings.ToLower(documentID),
	)
	if err != nil {
		return nil, fmt.Errorf("deleting mapped results of %s: %w", documentID, err)
	}
	defer rows.Close()
	var keys []storage.ReduceKeyAndBucket
	for rows.Next() {
		var k storage.ReduceKeyAndBucket
		if err := rows.Scan(&k.Bucket, &k.ReduceKey); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}
	return storage.DedupeKeys(keys), nil
}

func (a *actions) queryObjects(query string, args ...any) ([]*document.Object, error) {
	rows, err := a.tx.QueryContext(a.ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*document.Object
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		obj, err := document.UnmarshalObject(data)
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, rows.Err()
}

func (a *actions) GetMappedResults(index, reduceKey string, bucket int) ([]*document.Object, error) {
	out, err := a.queryObjects(
		`SELECT data FROM mapped_results WHERE index_name = $1 AND reduce_key = $2 AND bucket = $3 ORDER BY id`,
		index, reduceKey, bucket,
	)
	if err != nil {
		return nil, fmt.Errorf("querying mapped results: %w", err)
	}
	return out, nil
}

func (a *actions) ScheduleReductions(index string, level int, keys []storage.ReduceKeyAndBucket) error {
	now := time.Now().UTC()
	for _, k := range keys {
		_, err := a.tx.ExecContext(a.ctx,
			`INSERT INTO scheduled_reductions (index_name, level, reduce_key, bucket, scheduled_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (index_name, level, reduce_key, bucket) DO UPDATE SET scheduled_at = EXCLUDED.scheduled_at`,
			index, level, k.ReduceKey, k.Bucket, now,
		)
		if err != nil {
			return fmt.Errorf("scheduling reduction: %w", err)
		}
	}
	return nil
}

func (a *actions) ScheduledReductions(index string, level int) ([]storage.ReduceKeyAndBucket, error) {
	rows, err := a.tx.QueryContext(a.ctx,
		`SELECT bucket, reduce_key FROM scheduled_reductions WHERE index_name = $1 AND level = $2`,
		index, level,
	)
	if err != nil {
		return nil, fmt.Errorf("querying scheduled reductions: %w", err)
	}
	defer rows.Close()
	var out []storage.ReduceKeyAndBucket
	for rows.Next() {
		var k storage.ReduceKeyAndBucket
		if err := rows.Scan(&k.Bucket, &k.ReduceKey); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// collation-independent order, same as the other stores
	slices.SortFunc(out, storage.CompareKeys)
	return out, nil
}

func (a *actions) DeleteScheduledReductions(index string, level int, keys []storage.ReduceKeyAndBucket) error {
	for _, k := range keys {
		_, err := a.tx.ExecContext(a.ctx,
			`DELETE FROM scheduled_reductions WHERE index_name = $1 AND level = $2 AND reduce_key = $3 AND bucket = $4`,
			index, level, k.ReduceKey, k.Bucket,
		)
		if err != nil {
			return fmt.Errorf("deleting scheduled reduction: %w", err)
		}
	}
	return nil
}

func (a *actions) PutReducedResult(r storage.ReducedResult) error {
	data, err := document.MarshalObject(r.Data)
	if err != nil {
		return fmt.Errorf("encoding reduced result: %w", err)
	}
	_, err = a.tx.ExecContext(a.ctx,
		`INSERT INTO reduced_results (index_name, reduce_key, level, source_bucket, bucket, data, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.Index, r.ReduceKey, r.Level, r.SourceBucket, r.Bucket, data, r.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving reduced result: %w", err)
	}
	return nil
}

func (a *actions) DeleteReducedResults(index, reduceKey string, level, sourceBucket int) error {
	_, err := a.tx.ExecContext(a.ctx,
		`DELETE FROM reduced_results WHERE index_name = $1 AND reduce_key = $2 AND level = $3 AND source_bucket = $4`,
		index, reduceKey, level, sourceBucket,
	)
	if err != nil {
		return fmt.Errorf("deleting reduced results: %w", err)
	}
	return nil
}

func (a *actions) GetReducedResults(index, reduceKey string, level, bucket int) ([]*document.Object, error) {
	var (
		out []*document.Object
		err error
	)
	if bucket == storage.AllBuckets {
		out, err = a.queryObjects(
			`SELECT data FROM reduced_results WHERE index_name = $1 AND reduce_key = $2 AND level = $3
			 ORDER BY source_bucket, id`,
			index, reduceKey, level,
		)
	} else {
		out, err = a.queryObjects(
			`SELECT data FROM reduced_results WHERE index_name = $1 AND reduce_key = $2 AND level = $3 AND bucket = $4
			 ORDER BY source_bucket, id`,
			index, reduceKey, level, bucket,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("querying reduced results: %w", err)
	}
	return out, nil
}

func (a *actions) DeleteIndex(index string) error {
	for _, table := range []string{"mapped_results", "reduced_results", "scheduled_reductions"} {
		if _, err := a.tx.ExecContext(a.ctx, `DELETE FROM `+table+` WHERE index_name = $1`, index); err != nil {
			return fmt.Errorf("deleting %s of index %s: %w", table, index, err)
		}
	}
	return nil
}

func (a *actions) MaybePulse() {}
