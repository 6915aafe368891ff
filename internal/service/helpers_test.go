package service

import (
	"context"
	"testing"
	"time"

	"sharetips/internal/config"
	"sharetips/internal/infrastructure/lock"
	"sharetips/internal/model"
	"sharetips/internal/testutil"
	"sharetips/pkg/clock"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	platformID = int64(1)
	gatewayID  = int64(2)
	alice      = int64(10)
	bob        = int64(20)
	carol      = int64(30)
)

var testStart = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	return &config.Config{
		AppEnv: "test",
		Database: config.DatabaseConfig{
			Driver:          "sqlite",
			LockWaitTimeout: 5 * time.Second,
		},
		Kafka: config.KafkaConfig{
			Topic: config.KafkaTopicConfig{
				PaymentConfirmed: "payment.confirmed",
				Notifications:    "sharetips.notifications",
			},
		},
		Lock: config.LockConfig{
			Backend:       "local",
			WaitTimeout:   10 * time.Second,
			RetryInterval: 10 * time.Millisecond,
			TTL:           30 * time.Second,
		},
		Business: config.BusinessConfig{
			CommissionRate:          "0.10",
			SubscriptionDuration:    30 * 24 * time.Hour,
			ExpirySweepBatchSize:    2,
			OutboxMaxRetryCount:     3,
			PlatformWalletOwnerID:   platformID,
			GatewayWalletOwnerID:    gatewayID,
			PaymentEventMaxAttempts: 3,
		},
	}
}

type fixture struct {
	svc   *Services
	db    *gorm.DB
	clock *clock.Fake
	ctx   context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, testConfig())
}

func newFixtureWith(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t)
	clk := clock.NewFake(testStart)

	svc, err := New(db, lock.NewLocalLocker(), clk, cfg)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, svc.Ledger.EnsureSystemWallets(ctx))
	testutil.SeedUsers(t, db, alice, bob, carol)

	return &fixture{svc: svc, db: db, clock: clk, ctx: ctx}
}

func (f *fixture) balance(t *testing.T, ownerID int64) int64 {
	t.Helper()
	view, err := f.svc.Wallet.GetWallet(f.ctx, ownerID)
	require.NoError(t, err)
	return view.AvailableCents
}

func (f *fixture) entriesFor(t *testing.T, ref string) []*model.WalletTransaction {
	t.Helper()
	var entries []*model.WalletTransaction
	require.NoError(t, f.db.Where("reference_id = ?", ref).Order("id ASC").Find(&entries).Error)
	return entries
}

func (f *fixture) requireBalanced(t *testing.T, ref string) {
	t.Helper()
	sum, err := f.svc.Ledger.VerifyReference(f.ctx, ref)
	require.NoError(t, err)
	require.Zero(t, sum, "entries of %s must sum to zero", ref)
}

func (f *fixture) outboxTypes(t *testing.T) []string {
	t.Helper()
	var types []string
	require.NoError(t, f.db.Model(&model.OutboxMessage{}).Order("id ASC").Pluck("event_type", &types).Error)
	return types
}
