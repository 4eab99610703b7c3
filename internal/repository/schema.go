package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS sellers (
		id                BIGSERIAL PRIMARY KEY,
		lat               DOUBLE PRECISION,
		lng               DOUBLE PRECISION,
		service_radius_km DOUBLE PRECISION NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS couriers (
		id         BIGSERIAL PRIMARY KEY,
		lat        DOUBLE PRECISION,
		lng        DOUBLE PRECISION,
		online     BOOLEAN NOT NULL DEFAULT false,
		active     BOOLEAN NOT NULL DEFAULT true,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id                       TEXT PRIMARY KEY,
		status                   TEXT NOT NULL,
		assigned_courier_id      BIGINT REFERENCES couriers(id),
		assigned_at              TIMESTAMPTZ,
		delivery_address_summary TEXT NOT NULL DEFAULT '',
		total_cents              BIGINT NOT NULL DEFAULT 0,
		rejection_reason         TEXT NOT NULL DEFAULT '',
		declined_count           INTEGER NOT NULL DEFAULT 0,
		updated_at               TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS orders_assigned_courier_idx ON orders (assigned_courier_id, status)`,
	`CREATE TABLE IF NOT EXISTS order_sellers (
		order_id   TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		seller_id  BIGINT NOT NULL REFERENCES sellers(id),
		product_id TEXT NOT NULL,
		quantity   INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (order_id, seller_id, product_id)
	)`,
	`CREATE TABLE IF NOT EXISTS dispatch_outcomes (
		id         UUID PRIMARY KEY,
		order_id   TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		resolution TEXT NOT NULL,
		courier_id BIGINT,
		reason     TEXT NOT NULL,
		declined   INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL
	)`,
}

// EnsureSchema creates the tables dispatch reads and writes if they do not exist.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
