package db

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/ticketbooth/pkg/logger"
)

type seat struct {
	ID    int
	Label string
}

func openSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&seat{}))
	return conn
}

func countSeats(t *testing.T, conn *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, conn.Model(&seat{}).Count(&n).Error)
	return n
}

func TestWithTxCommitsOnlyOnSuccess(t *testing.T) {
	conn := openSQLite(t)
	client := FromConn(conn)
	ctx := context.Background()

	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&seat{Label: "A1"}).Error
	}))
	assert.Equal(t, int64(1), countSeats(t, conn))

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		require.NoError(t, tx.Create(&seat{Label: "A2"}).Error)
		return errors.New("capacity exceeded")
	})
	assert.EqualError(t, err, "capacity exceeded")
	assert.Equal(t, int64(1), countSeats(t, conn))
}

func TestWithTxRollsBackOnPanic(t *testing.T) {
	conn := openSQLite(t)
	client := FromConn(conn)

	assert.Panics(t, func() {
		_ = client.WithTx(context.Background(), func(tx *gorm.DB) error {
			tx.Create(&seat{Label: "B1"})
			panic("boom")
		})
	})
	assert.Zero(t, countSeats(t, conn))
}

func TestApplyLockTimeoutSkipsSQLite(t *testing.T) {
	assert.NoError(t, ApplyLockTimeout(openSQLite(t), 5*time.Second))
}

func TestPing(t *testing.T) {
	assert.NoError(t, FromConn(openSQLite(t)).Ping(context.Background()))
}

func TestQueryLoggerReportsSlowAndFailedStatements(t *testing.T) {
	var buf bytes.Buffer
	ql := newQueryLogger(logger.New(logger.Options{Output: &buf, Level: zerolog.DebugLevel}), 100*time.Millisecond)
	ctx := context.Background()
	stmt := func() (string, int64) { return "UPDATE ticket_tiers SET sold_quantity = 3", 1 }

	ql.Trace(ctx, time.Now(), stmt, nil)
	ql.Trace(ctx, time.Now(), stmt, gormlogger.ErrRecordNotFound)
	assert.Empty(t, buf.String())

	ql.Trace(ctx, time.Now().Add(-time.Second), stmt, nil)
	assert.Contains(t, buf.String(), `"db.slow_query"`)
	assert.Contains(t, buf.String(), "ticket_tiers")

	buf.Reset()
	ql.Trace(ctx, time.Now(), stmt, errors.New("deadlock detected"))
	assert.Contains(t, buf.String(), `"db.query_failed"`)
	assert.Contains(t, buf.String(), "deadlock detected")
}

func TestQueryLoggerWithoutLoggerDiscards(t *testing.T) {
	assert.Equal(t, gormlogger.Discard, newQueryLogger(nil, time.Second))
}

func TestErrorClassification(t *testing.T) {
	unique := fmt.Errorf("insert: %w", &pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "orders_order_number_key"})
	assert.True(t, IsUniqueViolation(unique, ""))
	assert.True(t, IsUniqueViolation(unique, "orders_order_number_key"))
	assert.False(t, IsUniqueViolation(unique, "tickets_ticket_code_key"))
	assert.True(t, IsUniqueViolation(errors.New("UNIQUE constraint failed: orders.order_number"), "order_number"))

	lock := &pgconn.PgError{Code: pgerrcode.LockNotAvailable}
	assert.True(t, IsLockTimeout(lock))
	assert.True(t, IsTransient(lock))
	assert.True(t, IsSerializationFailure(&pgconn.PgError{Code: pgerrcode.DeadlockDetected}))
	assert.True(t, IsCheckViolation(&pgconn.PgError{Code: pgerrcode.CheckViolation}))
	assert.False(t, IsTransient(errors.New("other")))
}
