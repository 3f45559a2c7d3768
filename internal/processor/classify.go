package processor

import (
	"context"
	"errors"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
)

// retryablePgCodes is the explicit safelist of PostgreSQL error codes
// treated as transient: connection/transport failures, admin shutdowns,
// serialization/deadlock conflicts, and too-many-connections. Anything
// not on this list is non-retryable — classification never falls back
// to blocklisting by message substring, per spec.md §4.3.
var retryablePgCodes = map[string]bool{
	"08000": true, // connection_exception
	"08003": true, // connection_does_not_exist
	"08006": true, // connection_failure
	"57P01": true, // admin_shutdown
	"57P02": true, // crash_shutdown
	"57P03": true, // cannot_connect_now
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"53300": true, // too_many_connections
}

// IsRetryable classifies err as retryable (transient infrastructure
// failure) or not, using the safelist above plus context deadlines and
// network errors the pgx driver surfaces directly. An error this
// classifier cannot recognize is non-retryable: unknown errors fail
// fast rather than being guessed at.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return retryablePgCodes[pgErr.Code]
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}

	return false
}
