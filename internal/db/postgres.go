package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/XSAM/otelsql"
	_ "github.com/lib/pq"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const messagesSchema = `
CREATE TABLE IF NOT EXISTS messages (
	id                UUID PRIMARY KEY,
	timestamp         BIGINT NOT NULL,
	sender_id         UUID NOT NULL,
	receiver_id       UUID NOT NULL,
	status            TEXT NOT NULL,
	type              TEXT NOT NULL,
	encrypted_content BYTEA NOT NULL,
	iv                BYTEA NOT NULL
);
CREATE INDEX IF NOT EXISTS messages_pair_idx ON messages (sender_id, receiver_id, timestamp);
`

// OpenPostgres opens a traced PostgreSQL pool, waits for it to answer and
// bootstraps the messages table.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	conn, err := otelsql.Open("postgres", dsn,
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
	)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := otelsql.RegisterDBStatsMetrics(conn, otelsql.WithAttributes(semconv.DBSystemPostgreSQL)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("register db stats: %w", err)
	}
	conn.SetMaxOpenConns(5)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := conn.ExecContext(ctx, messagesSchema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}
	return conn, nil
}
