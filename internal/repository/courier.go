package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"marketplace-dispatch/internal/domain"
)

// CourierRepo represents courier repository.
type CourierRepo struct{ db *pgxpool.Pool }

// NewCourierRepo creates a new CourierRepo.
func NewCourierRepo(db *pgxpool.Pool) *CourierRepo { return &CourierRepo{db: db} }

const courierColumns = `
	c.id, c.lat, c.lng, c.online, c.active,
	EXISTS (
		SELECT 1 FROM orders o
		WHERE o.assigned_courier_id = c.id AND o.status = ANY($1)
	) AS busy`

func scanCourier(row pgx.Row) (domain.Courier, error) {
	var (
		c        domain.Courier
		lat, lng *float64
	)
	if err := row.Scan(&c.ID, &lat, &lng, &c.Online, &c.Active, &c.Busy); err != nil {
		return domain.Courier{}, err
	}
	c.Location = point(lat, lng)
	return c, nil
}

// Get - returns courier by its ID.
func (r *CourierRepo) Get(ctx context.Context, id int64) (*domain.Courier, error) {
	c, err := scanCourier(r.db.QueryRow(ctx,
		`SELECT `+courierColumns+` FROM couriers c WHERE c.id = $2`,
		domain.HoldsCourierStatuses(), id,
	))
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, wrap(fmt.Sprintf("get courier %d", id), err)
	}
	return &c, nil
}

// ListEligible returns online, active couriers that hold no unfinished assignment, ordered by id.
func (r *CourierRepo) ListEligible(ctx context.Context) ([]domain.Courier, error) {
	rows, err := r.db.Query(ctx, `
		SELECT * FROM (
			SELECT `+courierColumns+`
			FROM couriers c
			WHERE c.online AND c.active
		) q
		WHERE NOT q.busy
		ORDER BY q.id
	`, domain.HoldsCourierStatuses())
	if err != nil {
		return nil, wrap("list eligible couriers", err)
	}
	defer rows.Close()

	out := make([]domain.Courier, 0)
	for rows.Next() {
		c, err := scanCourier(rows)
		if err != nil {
			return nil, fmt.Errorf("scan courier: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list eligible couriers", err)
	}
	return out, nil
}
