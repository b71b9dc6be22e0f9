// Package postgres implements the price and trace repositories on PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/homefit-remodel/api/internal/repositories"
)

// SQLSTATE codes and classes that change how callers react to a failure.
const (
	sqlstateUniqueViolation      = "23505"
	sqlstateSerializationFailure = "40001"
	sqlstateDeadlockDetected     = "40P01"
	sqlstateTooManyConnections   = "53300"
	sqlstateAdminShutdown        = "57P01"
	sqlstateCannotConnectNow     = "57P03"
	sqlstateConnectionClass      = "08"
)

// wrapError maps pgx failures onto repository error categories. Context errors pass through.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repositories.NewStoreError(op, repositories.StoreErrorNotFound, "", err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == sqlstateUniqueViolation,
			pgErr.Code == sqlstateSerializationFailure,
			pgErr.Code == sqlstateDeadlockDetected:
			return repositories.NewStoreError(op, repositories.StoreErrorConflict, pgErr.Message, err)
		case strings.HasPrefix(pgErr.Code, sqlstateConnectionClass),
			pgErr.Code == sqlstateTooManyConnections,
			pgErr.Code == sqlstateAdminShutdown,
			pgErr.Code == sqlstateCannotConnectNow:
			return repositories.NewStoreError(op, repositories.StoreErrorUnavailable, pgErr.Message, err)
		}
		return repositories.NewStoreError(op, repositories.StoreErrorUnknown, pgErr.Message, err)
	}

	var connectErr *pgconn.ConnectError
	var netErr net.Error
	if errors.As(err, &connectErr) || errors.As(err, &netErr) || pgconn.Timeout(err) {
		return repositories.NewStoreError(op, repositories.StoreErrorUnavailable, "", err)
	}
	return repositories.NewStoreError(op, repositories.StoreErrorUnknown, "", err)
}
