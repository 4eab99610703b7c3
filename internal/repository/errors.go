package repository

import (
	"context"
	"errors"
	"fmt"

	"marketplace-dispatch/internal/apperr"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// IsDuplicate - signals that the error is a duplicate key violation.
func IsDuplicate(err error) bool {
	var pgerr *pgconn.PgError
	return errors.As(err, &pgerr) && pgerr.Code == "23505"
}

// IsNotFound - signals that the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// IsTransient reports connection-level failures after which the statement may be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}
	var pgerr *pgconn.PgError
	if errors.As(err, &pgerr) {
		// serialization_failure, deadlock_detected, admin_shutdown, cannot_connect_now
		switch pgerr.Code {
		case "40001", "40P01", "57P01", "57P03":
			return true
		}
		return false
	}
	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr)
}

// wrap annotates err with op and marks transient failures as apperr.ErrUnavailable.
func wrap(op string, err error) error {
	if IsTransient(err) {
		return fmt.Errorf("%s: %w: %w", op, apperr.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
