package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"marketplace-dispatch/internal/domain"
)

// SellerRepo represents seller repository.
type SellerRepo struct{ db *pgxpool.Pool }

// NewSellerRepo creates a new SellerRepo.
func NewSellerRepo(db *pgxpool.Pool) *SellerRepo { return &SellerRepo{db: db} }

// Locations returns the sellers with the given ids. Unknown ids are skipped.
func (r *SellerRepo) Locations(ctx context.Context, ids []int64) ([]domain.Seller, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, lat, lng, service_radius_km
		FROM sellers
		WHERE id = ANY($1)
		ORDER BY id
	`, ids)
	if err != nil {
		return nil, wrap("seller locations", err)
	}
	defer rows.Close()

	out := make([]domain.Seller, 0, len(ids))
	for rows.Next() {
		var (
			s        domain.Seller
			lat, lng *float64
		)
		if err := rows.Scan(&s.ID, &lat, &lng, &s.ServiceRadiusKm); err != nil {
			return nil, fmt.Errorf("scan seller: %w", err)
		}
		s.Location = point(lat, lng)
		out = append(out, s)
	}
	return out, rows.Err()
}

func point(lat, lng *float64) *domain.Point {
	if lat == nil || lng == nil {
		return nil
	}
	return &domain.Point{Lat: *lat, Lng: *lng}
}
