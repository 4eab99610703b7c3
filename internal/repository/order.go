package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"marketplace-dispatch/internal/domain"
	"marketplace-dispatch/internal/ports/dispatchtx"
)

// OrderRepo represents order repository.
type OrderRepo struct {
	db *pgxpool.Pool
}

// NewOrderRepo creates a new OrderRepo.
func NewOrderRepo(db *pgxpool.Pool) *OrderRepo {
	return &OrderRepo{db: db}
}

const selectOrder = `
	SELECT id, status, assigned_courier_id, assigned_at,
	       delivery_address_summary, total_cents, rejection_reason, declined_count
	FROM orders
	WHERE id = $1`

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		o      domain.Order
		status string
	)
	err := row.Scan(&o.ID, &status, &o.AssignedCourierID, &o.AssignedAt,
		&o.DeliveryAddressSummary, &o.TotalCents, &o.RejectionReason, &o.DeclinedCount)
	if err != nil {
		return nil, err
	}
	o.Status = domain.OrderStatus(status)
	return &o, nil
}

// GetSnapshot returns the order with its seller groupings, or (nil, nil) if it does not exist.
func (r *OrderRepo) GetSnapshot(ctx context.Context, orderID string) (*domain.Order, error) {
	o, err := scanOrder(r.db.QueryRow(ctx, selectOrder, orderID))
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, wrap(fmt.Sprintf("get order %q", orderID), err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT seller_id, product_id, quantity
		FROM order_sellers
		WHERE order_id = $1
		ORDER BY seller_id, product_id
	`, orderID)
	if err != nil {
		return nil, wrap(fmt.Sprintf("get order %q sellers", orderID), err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			sellerID int64
			it       domain.Item
		)
		if err := rows.Scan(&sellerID, &it.ProductID, &it.Quantity); err != nil {
			return nil, fmt.Errorf("scan order seller: %w", err)
		}
		if n := len(o.Sellers); n > 0 && o.Sellers[n-1].SellerID == sellerID {
			o.Sellers[n-1].Items = append(o.Sellers[n-1].Items, it)
			continue
		}
		o.Sellers = append(o.Sellers, domain.SellerGroup{SellerID: sellerID, Items: []domain.Item{it}})
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(fmt.Sprintf("get order %q sellers", orderID), err)
	}
	return o, nil
}

// ListOutcomes returns the audit records of an order, oldest first.
func (r *OrderRepo) ListOutcomes(ctx context.Context, orderID string) ([]domain.DispatchOutcome, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, order_id, resolution, courier_id, reason, declined, created_at
		FROM dispatch_outcomes
		WHERE order_id = $1
		ORDER BY created_at, id
	`, orderID)
	if err != nil {
		return nil, wrap(fmt.Sprintf("list outcomes %q", orderID), err)
	}
	defer rows.Close()

	out := make([]domain.DispatchOutcome, 0)
	for rows.Next() {
		var (
			o          domain.DispatchOutcome
			resolution string
			reason     string
		)
		if err := rows.Scan(&o.ID, &o.OrderID, &resolution, &o.CourierID, &reason, &o.Declined, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.Resolution = domain.Resolution(resolution)
		o.Reason = domain.OutcomeReason(reason)
		out = append(out, o)
	}
	return out, rows.Err()
}

// WithTx opens a transaction and executes fn within it.
func (r *OrderRepo) WithTx(ctx context.Context, fn func(tx dispatchtx.Repository) error) (err error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrap("begin tx", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(&TxRepo{tx: tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("rollback tx: %w (original error: %s)", rbErr, err.Error())
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return wrap("commit tx", err)
	}
	return nil
}

// TxRepo represents transaction repository.
type TxRepo struct {
	tx pgx.Tx
}

// GetOrder - get order by id and lock its row.
func (r *TxRepo) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	o, err := scanOrder(r.tx.QueryRow(ctx, selectOrder+` FOR UPDATE`, orderID))
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, wrap(fmt.Sprintf("get order %q", orderID), err)
	}
	return o, nil
}

// AssignCourier - write-once assignment guarded by the unassigned, dispatchable condition.
func (r *TxRepo) AssignCourier(ctx context.Context, orderID string, courierID int64, at time.Time) (bool, error) {
	ct, err := r.tx.Exec(ctx, `
		UPDATE orders
		SET assigned_courier_id = $2,
		    assigned_at = $3,
		    status = $4,
		    updated_at = now()
		WHERE id = $1
		  AND assigned_courier_id IS NULL
		  AND status = $5
	`, orderID, courierID, at, string(domain.OrderStatusCourierAssigned), string(domain.OrderStatusReadyForPickup))
	if err != nil {
		return false, wrap(fmt.Sprintf("assign courier %d to %q", courierID, orderID), err)
	}
	return ct.RowsAffected() == 1, nil
}

// MarkExhausted - terminal rejection of an order nobody accepted.
func (r *TxRepo) MarkExhausted(ctx context.Context, orderID string, reason domain.OutcomeReason, declined int) (bool, error) {
	ct, err := r.tx.Exec(ctx, `
		UPDATE orders
		SET status = $2,
		    rejection_reason = $3,
		    declined_count = $4,
		    updated_at = now()
		WHERE id = $1
		  AND assigned_courier_id IS NULL
		  AND status = $5
	`, orderID, string(domain.OrderStatusNoCourier), string(reason), declined, string(domain.OrderStatusReadyForPickup))
	if err != nil {
		return false, wrap(fmt.Sprintf("mark order %q exhausted", orderID), err)
	}
	return ct.RowsAffected() == 1, nil
}

// InsertOutcome - insert a dispatch outcome.
func (r *TxRepo) InsertOutcome(ctx context.Context, o *domain.DispatchOutcome) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO dispatch_outcomes (id, order_id, resolution, courier_id, reason, declined, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, o.ID, o.OrderID, string(o.Resolution), o.CourierID, string(o.Reason), o.Declined, o.CreatedAt)
	if err != nil {
		return wrap("insert outcome", err)
	}
	return nil
}
