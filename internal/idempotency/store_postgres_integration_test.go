//go:build integration

package idempotency_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"meldeboks/internal/idempotency"
	"meldeboks/pkg/testutil/containers"
)

func TestPostgresGuard(t *testing.T) {
	pg := containers.NewPostgresContainer(t)
	guard := idempotency.NewPostgresGuard(pg.DB)
	ctx := context.Background()

	key := idempotency.Key("purge-event", "abc")

	out, err := guard.TryReserve(ctx, key)
	require.NoError(t, err)
	require.Equal(t, idempotency.Reserved, out)

	out, err = guard.TryReserve(ctx, key)
	require.NoError(t, err)
	require.Equal(t, idempotency.AlreadyExists, out)

	require.NoError(t, guard.Release(ctx, key))

	out, err = guard.TryReserve(ctx, key)
	require.NoError(t, err)
	require.Equal(t, idempotency.Reserved, out)
}
