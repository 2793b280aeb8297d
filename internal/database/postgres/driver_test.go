package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/koustreak/mediavault/internal/database"
	"github.com/koustreak/mediavault/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want errs.ErrKind
	}{
		{"no rows", pgx.ErrNoRows, errs.ErrKindNotFound},
		{"unique", &pgconn.PgError{Code: pgUniqueViolation}, errs.ErrKindConflict},
		{"canceled statement", &pgconn.PgError{Code: pgQueryCanceled}, errs.ErrKindTimeout},
		{"connection class", &pgconn.PgError{Code: "08006"}, errs.ErrKindUnavailable},
		{"auth class", &pgconn.PgError{Code: "28P01"}, errs.ErrKindUnauthorized},
		{"undefined table", &pgconn.PgError{Code: "42P01"}, errs.ErrKindStorageFailure},
		{"deadline", context.DeadlineExceeded, errs.ErrKindTimeout},
		{"network", errors.New("connection refused"), errs.ErrKindUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errs.KindOf(mapError(tt.err, "op")))
		})
	}
	assert.NoError(t, mapError(nil, "op"))
}

func TestNew_InvalidDSN(t *testing.T) {
	_, err := New(context.Background(), database.DefaultConfig(database.DriverPostgres, "postgres://%zz"))
	require.Error(t, err)
	assert.True(t, errs.IsInvalidInput(err))
}
