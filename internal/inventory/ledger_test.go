package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/ticketbooth/pkg/db/dbtest"
)

func TestSortedIDsDedupesAndOrders(t *testing.T) {
	a := uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	b := uuid.MustParse("00000000-0000-0000-0000-00000000000b")
	c := uuid.MustParse("00000000-0000-0000-0000-00000000000c")

	got := SortedIDs([]uuid.UUID{c, a, c, b, a})
	assert.Equal(t, []uuid.UUID{a, b, c}, got)
}

func TestLockTiersSkipsMissing(t *testing.T) {
	conn := dbtest.Open(t)
	eventID := uuid.New()
	ga := dbtest.SeedTier(t, conn, eventID, "GA", 10)
	missing := uuid.New()

	err := conn.Transaction(func(tx *gorm.DB) error {
		locked, err := NewRepository(conn).WithTx(tx).LockTiers(context.Background(), []uuid.UUID{missing, ga.ID, ga.ID})
		require.NoError(t, err)
		require.Len(t, locked, 1)
		assert.Equal(t, "GA", locked[ga.ID].Name)
		return nil
	})
	require.NoError(t, err)
}

func TestIncrementGuardsCapacity(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	tier := dbtest.SeedTier(t, conn, uuid.New(), "GA", 3, dbtest.WithSold(1))

	require.NoError(t, repo.Increment(context.Background(), tier.ID, 2))
	assert.Equal(t, 3, dbtest.ReloadTier(t, conn, tier.ID).SoldQuantity)

	err := repo.Increment(context.Background(), tier.ID, 1)
	assert.True(t, errors.Is(err, ErrInsufficientCapacity))
	assert.Equal(t, 3, dbtest.ReloadTier(t, conn, tier.ID).SoldQuantity)

	assert.Error(t, repo.Increment(context.Background(), tier.ID, 0))
}

func TestDecrementNeverGoesNegative(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	tier := dbtest.SeedTier(t, conn, uuid.New(), "VIP", 5, dbtest.WithSold(2))

	require.NoError(t, repo.Decrement(context.Background(), tier.ID, 0))
	require.NoError(t, repo.Decrement(context.Background(), tier.ID, 2))
	assert.Equal(t, 0, dbtest.ReloadTier(t, conn, tier.ID).SoldQuantity)

	err := repo.Decrement(context.Background(), tier.ID, 1)
	assert.True(t, errors.Is(err, ErrOversubtract))
	assert.Equal(t, 0, dbtest.ReloadTier(t, conn, tier.ID).SoldQuantity)
}
