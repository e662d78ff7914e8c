// Copyright 2026 The Meridian Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/meridian-observability/meridian/lib/clock"
	"github.com/meridian-observability/meridian/lib/codec"
	"github.com/meridian-observability/meridian/lib/record"
	"github.com/meridian-observability/meridian/lib/sqlitepool"
)

// storeSchema is the retention store: one flat table keyed by record
// id. Dimension values get their own columns so the query surface can
// filter without decoding blobs; the metric and annotation maps travel
// as CBOR.
const storeSchema = `
CREATE TABLE IF NOT EXISTS records (
	id TEXT PRIMARY KEY,
	time_unix_nanos INTEGER NOT NULL,
	cluster TEXT NOT NULL,
	service TEXT NOT NULL,
	host TEXT NOT NULL,
	metrics BLOB NOT NULL,
	annotations BLOB NOT NULL,
	stored_unix_nanos INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS records_by_time ON records (time_unix_nanos);
CREATE INDEX IF NOT EXISTS records_by_dimensions ON records (cluster, service, host, time_unix_nanos);
`

// Store persists records for the retention window and serves the
// query action. Insertion is keyed by record id with INSERT OR IGNORE:
// a record's id is its identity, so re-ingesting the same id (producer
// retry, duplicate batch) is a no-op rather than a second row.
type Store struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

// StoreConfig holds the parameters for opening a store.
type StoreConfig struct {
	// Path is the SQLite database file. The parent directory must
	// exist.
	Path string

	// PoolSize is the number of pooled connections. Defaults to 4.
	PoolSize int

	// Clock provides insertion timestamps and retention decisions.
	Clock clock.Clock

	// Logger receives operational messages.
	Logger *slog.Logger
}

// OpenStore opens the retention store, creating the database file and
// schema as needed.
func OpenStore(cfg StoreConfig) (*Store, error) {
	if cfg.Clock == nil {
		return nil, fmt.Errorf("record store: Clock is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("record store: Logger is required")
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Logger:   cfg.Logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, storeSchema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("record store: %w", err)
	}

	return &Store{
		pool:   pool,
		clock:  cfg.Clock,
		logger: cfg.Logger,
	}, nil
}

// Close closes the underlying pool, blocking until borrowed
// connections are returned.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Insert writes a batch of records in one IMMEDIATE transaction and
// returns how many were new. Records whose id is already present are
// skipped.
func (s *Store) Insert(ctx context.Context, records []*record.Record) (inserted int, err error) {
	if len(records) == 0 {
		return 0, nil
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return 0, fmt.Errorf("record store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	storedAt := s.clock.Now().UnixNano()
	for _, r := range records {
		metricsBlob, err := codec.Marshal(r.Metrics())
		if err != nil {
			return inserted, fmt.Errorf("record store: encoding metrics for %s: %w", r.ID(), err)
		}
		annotationsBlob, err := codec.Marshal(r.Annotations())
		if err != nil {
			return inserted, fmt.Errorf("record store: encoding annotations for %s: %w", r.ID(), err)
		}

		err = sqlitex.Execute(conn, `
			INSERT OR IGNORE INTO records
				(id, time_unix_nanos, cluster, service, host, metrics, annotations, stored_unix_nanos)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{
				Args: []any{
					r.ID(),
					r.Time().UnixNano(),
					r.Dimension(record.ClusterDimension),
					r.Dimension(record.ServiceDimension),
					r.Dimension(record.HostDimension),
					metricsBlob,
					annotationsBlob,
					storedAt,
				},
			})
		if err != nil {
			return inserted, fmt.Errorf("record store: inserting %s: %w", r.ID(), err)
		}
		inserted += conn.Changes()
	}
	return inserted, nil
}

// QueryFilter selects stored records. Empty dimension fields match
// everything; zero times leave that end of the range open.
type QueryFilter struct {
	Cluster string    `cbor:"cluster,omitempty"`
	Service string    `cbor:"service,omitempty"`
	Host    string    `cbor:"host,omitempty"`
	Since   time.Time `cbor:"since,omitempty"`
	Until   time.Time `cbor:"until,omitempty"`
	Limit   int       `cbor:"limit,omitempty"`
}

// maxQueryLimit bounds a single query response.
const maxQueryLimit = 10000

// StoredRecord is a query result row.
type StoredRecord struct {
	ID          string                   `cbor:"id" json:"id"`
	Time        time.Time                `cbor:"time" json:"time"`
	Metrics     map[string]record.Metric `cbor:"metrics" json:"metrics"`
	Annotations map[string]string        `cbor:"annotations" json:"annotations"`
}

// Query returns stored records matching the filter, newest first.
func (s *Store) Query(ctx context.Context, filter QueryFilter) ([]StoredRecord, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var conditions []string
	var args []any
	addCondition := func(condition string, arg any) {
		conditions = append(conditions, condition)
		args = append(args, arg)
	}
	if filter.Cluster != "" {
		addCondition("cluster = ?", filter.Cluster)
	}
	if filter.Service != "" {
		addCondition("service = ?", filter.Service)
	}
	if filter.Host != "" {
		addCondition("host = ?", filter.Host)
	}
	if !filter.Since.IsZero() {
		addCondition("time_unix_nanos >= ?", filter.Since.UnixNano())
	}
	if !filter.Until.IsZero() {
		addCondition("time_unix_nanos < ?", filter.Until.UnixNano())
	}

	limit := filter.Limit
	if limit <= 0 || limit > maxQueryLimit {
		limit = maxQueryLimit
	}

	query := "SELECT id, time_unix_nanos, metrics, annotations FROM records"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY time_unix_nanos DESC LIMIT ?"
	args = append(args, limit)

	var results []StoredRecord
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			row := StoredRecord{
				ID:   stmt.ColumnText(0),
				Time: time.Unix(0, stmt.ColumnInt64(1)).UTC(),
			}

			metricsBlob := make([]byte, stmt.ColumnLen(2))
			stmt.ColumnBytes(2, metricsBlob)
			if err := codec.Unmarshal(metricsBlob, &row.Metrics); err != nil {
				return fmt.Errorf("decoding metrics for %s: %w", row.ID, err)
			}

			annotationsBlob := make([]byte, stmt.ColumnLen(3))
			stmt.ColumnBytes(3, annotationsBlob)
			if err := codec.Unmarshal(annotationsBlob, &row.Annotations); err != nil {
				return fmt.Errorf("decoding annotations for %s: %w", row.ID, err)
			}

			results = append(results, row)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("record store: query: %w", err)
	}
	return results, nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	var count int64
	err = sqlitex.Execute(conn, "SELECT COUNT(*) FROM records", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			count = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("record store: count: %w", err)
	}
	return count, nil
}

// Sweep deletes records whose event time is older than the retention
// window and returns how many were removed.
func (s *Store) Sweep(ctx context.Context, retention time.Duration) (int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	cutoff := s.clock.Now().Add(-retention).UnixNano()
	err = sqlitex.Execute(conn,
		"DELETE FROM records WHERE time_unix_nanos < ?",
		&sqlitex.ExecOptions{Args: []any{cutoff}})
	if err != nil {
		return 0, fmt.Errorf("record store: sweep: %w", err)
	}
	return conn.Changes(), nil
}
