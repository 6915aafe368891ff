package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"sharetips/internal/apperr"
	"sharetips/internal/infrastructure/lock"
	"sharetips/internal/model"
	"sharetips/internal/testutil"
	"sharetips/pkg/clock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func purchaseTransfer(ref string, payer, receiver, gross int64) TransferRequest {
	return TransferRequest{
		ReferenceID: ref,
		PayerID:     payer,
		ReceiverID:  receiver,
		GrossCents:  gross,
		Purpose:     PurposePurchase,
	}
}

func TestCommission_RoundsUp(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		gross int64
		want  int64
	}{
		{gross: 500, want: 50},
		{gross: 1000, want: 100},
		{gross: 1, want: 1},
		{gross: 9, want: 1},
		{gross: 11, want: 2},
		{gross: 999, want: 100},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.gross), func(t *testing.T) {
			assert.Equal(t, tt.want, f.svc.Ledger.Commission(tt.gross))
		})
	}
}

func TestCommission_ZeroRate(t *testing.T) {
	cfg := testConfig()
	cfg.Business.CommissionRate = "0"
	f := newFixtureWith(t, cfg)
	testutil.SetBalance(t, f.db, alice, 100)

	res, err := f.svc.Ledger.Transfer(f.ctx, purchaseTransfer("ref-zero", alice, bob, 100))
	require.NoError(t, err)

	assert.Zero(t, res.CommissionCents)
	assert.Equal(t, int64(100), res.NetCents)
	assert.Len(t, res.Entries, 3, "the commission entry is written even when it is zero")
	f.requireBalanced(t, "ref-zero")
}

func TestTransfer_MovesFundsAndWritesBalancedTriple(t *testing.T) {
	f := newFixture(t)
	testutil.SetBalance(t, f.db, alice, 1000)

	res, err := f.svc.Ledger.Transfer(f.ctx, purchaseTransfer("ref-1", alice, bob, 500))
	require.NoError(t, err)

	assert.False(t, res.Replayed)
	assert.Equal(t, int64(500), res.GrossCents)
	assert.Equal(t, int64(50), res.CommissionCents)
	assert.Equal(t, int64(450), res.NetCents)

	assert.Equal(t, int64(500), f.balance(t, alice))
	assert.Equal(t, int64(450), f.balance(t, bob))
	assert.Equal(t, int64(50), f.balance(t, platformID))

	bobWallet, err := f.svc.Wallet.GetWallet(f.ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, int64(450), bobWallet.TotalEarnedCents)

	entries := f.entriesFor(t, "ref-1")
	require.Len(t, entries, 3)
	byKind := map[model.TransactionKind]*model.WalletTransaction{}
	for _, e := range entries {
		byKind[e.Kind] = e
		assert.Equal(t, entries[0].CreatedAt, e.CreatedAt, "entries share one timestamp")
		assert.Equal(t, model.TransactionStatusCompleted, e.Status)
	}
	assert.Equal(t, int64(-500), byKind[model.KindPurchaseDebit].AmountCents)
	assert.Equal(t, int64(500), byKind[model.KindPurchaseDebit].BalanceAfterCents)
	assert.Equal(t, int64(450), byKind[model.KindPurchaseCredit].AmountCents)
	assert.Equal(t, int64(50), byKind[model.KindCommission].AmountCents)
	assert.Equal(t, platformID, byKind[model.KindCommission].OwnerID)

	f.requireBalanced(t, "ref-1")
}

func TestTransfer_SameReferenceIsAppliedOnce(t *testing.T) {
	f := newFixture(t)
	testutil.SetBalance(t, f.db, alice, 1000)

	first, err := f.svc.Ledger.Transfer(f.ctx, purchaseTransfer("ref-dup", alice, bob, 300))
	require.NoError(t, err)

	hookRan := false
	second, err := f.svc.Ledger.Transfer(f.ctx, purchaseTransfer("ref-dup", alice, bob, 300), func(*gorm.DB) error {
		hookRan = true
		return nil
	})
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.False(t, hookRan, "hooks do not run on replay")
	assert.Equal(t, first.CommissionCents, second.CommissionCents)
	assert.Equal(t, first.NetCents, second.NetCents)
	assert.Len(t, f.entriesFor(t, "ref-dup"), 3)
	assert.Equal(t, int64(700), f.balance(t, alice))
}

func TestTransfer_InsufficientFundsTakesNoAction(t *testing.T) {
	f := newFixture(t)
	testutil.SetBalance(t, f.db, alice, 499)

	_, err := f.svc.Ledger.Transfer(f.ctx, purchaseTransfer("ref-poor", alice, bob, 500))
	require.ErrorIs(t, err, apperr.ErrInsufficientFunds)
	assert.False(t, apperr.IsRetryable(err))

	assert.Equal(t, int64(499), f.balance(t, alice))
	assert.Zero(t, f.balance(t, bob))
	assert.Empty(t, f.entriesFor(t, "ref-poor"))
}

func TestTransfer_HookFailureRollsBackEverything(t *testing.T) {
	f := newFixture(t)
	testutil.SetBalance(t, f.db, alice, 1000)

	boom := fmt.Errorf("disk full")
	_, err := f.svc.Ledger.Transfer(f.ctx, purchaseTransfer("ref-boom", alice, bob, 500), func(*gorm.DB) error {
		return boom
	})
	require.ErrorIs(t, err, apperr.ErrStorageFailure)
	assert.True(t, apperr.IsRetryable(err))
	assert.Equal(t, apperr.GenericMessage, apperr.PublicMessage(err))

	assert.Equal(t, int64(1000), f.balance(t, alice))
	assert.Zero(t, f.balance(t, bob))
	assert.Empty(t, f.entriesFor(t, "ref-boom"))
}

func TestTransfer_RejectsInvalidRequests(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		req  TransferRequest
		want error
	}{
		{name: "self transfer", req: purchaseTransfer("r", alice, alice, 10), want: apperr.ErrInvalidRequest},
		{name: "zero amount", req: purchaseTransfer("r", alice, bob, 0), want: apperr.ErrInvalidAmount},
		{name: "negative amount", req: purchaseTransfer("r", alice, bob, -5), want: apperr.ErrInvalidAmount},
		{name: "missing reference", req: purchaseTransfer("", alice, bob, 10), want: apperr.ErrInvalidRequest},
		{name: "platform wallet", req: purchaseTransfer("r", platformID, bob, 10), want: apperr.ErrInvalidRequest},
		{name: "unknown purpose", req: TransferRequest{ReferenceID: "r", PayerID: alice, ReceiverID: bob, GrossCents: 10, Purpose: "gift"}, want: apperr.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Ledger.Transfer(f.ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestTransfer_OppositeDirectionsDoNotDeadlock(t *testing.T) {
	f := newFixture(t)
	testutil.SetBalance(t, f.db, alice, 10_000)
	testutil.SetBalance(t, f.db, bob, 10_000)

	const rounds = 40
	var wg sync.WaitGroup
	errs := make(chan error, rounds*2)

	for i := 0; i < rounds; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Ledger.Transfer(f.ctx, purchaseTransfer(fmt.Sprintf("ab-%d", i), alice, bob, 100))
			errs <- err
		}(i)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Ledger.Transfer(f.ctx, purchaseTransfer(fmt.Sprintf("ba-%d", i), bob, alice, 100))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	// each direction paid 10 commission per round
	assert.Equal(t, int64(10_000-rounds*10), f.balance(t, alice))
	assert.Equal(t, int64(10_000-rounds*10), f.balance(t, bob))
	assert.Equal(t, int64(rounds*2*10), f.balance(t, platformID))

	for i := 0; i < rounds; i++ {
		f.requireBalanced(t, fmt.Sprintf("ab-%d", i))
		f.requireBalanced(t, fmt.Sprintf("ba-%d", i))
	}
}

func TestTransfer_ConcurrentSpendNeverOverdraws(t *testing.T) {
	f := newFixture(t)
	testutil.SetBalance(t, f.db, alice, 1000)

	const attempts = 25
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, rejected := 0, 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			receiver := bob
			if i%2 == 0 {
				receiver = carol
			}
			_, err := f.svc.Ledger.Transfer(f.ctx, purchaseTransfer(fmt.Sprintf("spend-%d", i), alice, receiver, 100))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
				return
			}
			assert.ErrorIs(t, err, apperr.ErrInsufficientFunds)
			rejected++
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	assert.Equal(t, attempts-10, rejected)
	assert.Zero(t, f.balance(t, alice))
}

func TestDeposit_IsIdempotentAndBalanced(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Ledger.Deposit(f.ctx, "pay-1", alice, 2500)
	require.NoError(t, err)
	assert.False(t, res.Replayed)

	again, err := f.svc.Ledger.Deposit(f.ctx, "pay-1", alice, 2500)
	require.NoError(t, err)
	assert.True(t, again.Replayed)

	assert.Equal(t, int64(2500), f.balance(t, alice))
	assert.Equal(t, int64(-2500), f.balance(t, gatewayID))
	f.requireBalanced(t, "pay-1")

	wallet, err := f.svc.Wallet.GetWallet(f.ctx, alice)
	require.NoError(t, err)
	assert.Zero(t, wallet.TotalEarnedCents, "deposits are not earnings")
}

func TestPayout_RequestThenSettle(t *testing.T) {
	f := newFixture(t)
	testutil.SetBalance(t, f.db, bob, 800)

	_, err := f.svc.Ledger.RequestPayout(f.ctx, "PAY-1", bob, 300)
	require.NoError(t, err)

	wallet, err := f.svc.Wallet.GetWallet(f.ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, int64(500), wallet.AvailableCents)
	assert.Equal(t, int64(300), wallet.PendingPayoutCents)

	res, err := f.svc.Ledger.CompletePayout(f.ctx, "PAY-1", bob, true)
	require.NoError(t, err)
	assert.False(t, res.Replayed)

	again, err := f.svc.Ledger.CompletePayout(f.ctx, "PAY-1", bob, true)
	require.NoError(t, err)
	assert.True(t, again.Replayed)

	wallet, err = f.svc.Wallet.GetWallet(f.ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, int64(500), wallet.AvailableCents)
	assert.Zero(t, wallet.PendingPayoutCents)
	f.requireBalanced(t, "PAY-1")
}

func TestPayout_FailedPayoutReturnsFunds(t *testing.T) {
	f := newFixture(t)
	testutil.SetBalance(t, f.db, bob, 800)

	_, err := f.svc.Ledger.RequestPayout(f.ctx, "PAY-2", bob, 800)
	require.NoError(t, err)
	_, err = f.svc.Ledger.CompletePayout(f.ctx, "PAY-2", bob, false)
	require.NoError(t, err)

	// a late success report for the same payout is ignored
	res, err := f.svc.Ledger.CompletePayout(f.ctx, "PAY-2", bob, true)
	require.NoError(t, err)
	assert.True(t, res.Replayed)

	wallet, err := f.svc.Wallet.GetWallet(f.ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, int64(800), wallet.AvailableCents)
	assert.Zero(t, wallet.PendingPayoutCents)
	f.requireBalanced(t, "PAY-2")
}

func TestPayout_Errors(t *testing.T) {
	f := newFixture(t)
	testutil.SetBalance(t, f.db, bob, 100)

	_, err := f.svc.Ledger.RequestPayout(f.ctx, "PAY-3", bob, 101)
	assert.ErrorIs(t, err, apperr.ErrInsufficientFunds)

	_, err = f.svc.Ledger.CompletePayout(f.ctx, "PAY-unknown", bob, true)
	assert.ErrorIs(t, err, apperr.ErrInvalidRequest)
}

func TestAdjust(t *testing.T) {
	f := newFixture(t)
	testutil.SetBalance(t, f.db, alice, 100)

	_, err := f.svc.Ledger.Adjust(f.ctx, "ADJ-1", alice, 40, "goodwill credit")
	require.NoError(t, err)
	_, err = f.svc.Ledger.Adjust(f.ctx, "ADJ-2", alice, -140, "chargeback")
	require.NoError(t, err)
	_, err = f.svc.Ledger.Adjust(f.ctx, "ADJ-3", alice, -1, "overdraw")
	assert.ErrorIs(t, err, apperr.ErrInsufficientFunds)
	_, err = f.svc.Ledger.Adjust(f.ctx, "ADJ-4", alice, 0, "noop")
	assert.ErrorIs(t, err, apperr.ErrInvalidAmount)

	assert.Zero(t, f.balance(t, alice))
	assert.Equal(t, int64(100), f.balance(t, platformID))
	f.requireBalanced(t, "ADJ-1")
	f.requireBalanced(t, "ADJ-2")
}

func TestLedger_LockTimeoutIsRetryable(t *testing.T) {
	cfg := testConfig()
	cfg.Lock.WaitTimeout = 50 * time.Millisecond
	db := testutil.NewTestDB(t)
	locker := lock.NewLocalLocker()
	ledger, err := NewLedgerService(db, locker, clock.NewFake(testStart), cfg)
	require.NoError(t, err)

	// another instance holds bob's wallet
	held, err := locker.Obtain(context.Background(), lock.WalletKey(bob))
	require.NoError(t, err)
	defer held.Release(context.Background())

	_, err = ledger.Transfer(context.Background(), purchaseTransfer("ref-busy", alice, bob, 10))
	require.ErrorIs(t, err, apperr.ErrLockTimeout)
	assert.True(t, apperr.IsRetryable(err))
	assert.Equal(t, apperr.GenericMessage, apperr.PublicMessage(err))
}

func TestTransfer_DisjointPairsDoNotWait(t *testing.T) {
	const dave = int64(40)
	cfg := testConfig()
	cfg.Lock.WaitTimeout = 50 * time.Millisecond
	db := testutil.NewTestDB(t)
	locker := lock.NewLocalLocker()
	ledger, err := NewLedgerService(db, locker, clock.NewFake(testStart), cfg)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, ledger.EnsureSystemWallets(ctx))
	testutil.SetBalance(t, db, alice, 1000)
	testutil.SetBalance(t, db, carol, 1000)

	var platformBefore model.Wallet
	require.NoError(t, db.Where("owner_id = ?", platformID).First(&platformBefore).Error)

	// a transfer between alice and bob is in flight
	release, err := lock.AcquireWallets(ctx, locker, time.Second, alice, bob)
	require.NoError(t, err)
	defer release()

	_, err = ledger.Transfer(ctx, purchaseTransfer("ref-carol-dave", carol, dave, 300))
	require.NoError(t, err)
	_, err = ledger.Transfer(ctx, purchaseTransfer("ref-dave-carol", dave, carol, 100))
	require.NoError(t, err)

	_, err = ledger.Transfer(ctx, purchaseTransfer("ref-alice-carol", alice, carol, 100))
	require.ErrorIs(t, err, apperr.ErrLockTimeout)

	// commission landed on the platform without its row being written
	var platformAfter model.Wallet
	require.NoError(t, db.Where("owner_id = ?", platformID).First(&platformAfter).Error)
	assert.Equal(t, platformBefore.Version, platformAfter.Version)
	assert.True(t, platformBefore.UpdatedAt.Equal(platformAfter.UpdatedAt))
	var commission model.WalletTransaction
	require.NoError(t, db.Where("reference_id = ? AND kind = ?", "ref-carol-dave", model.KindCommission).First(&commission).Error)
	assert.Equal(t, platformBefore.ID, commission.WalletID)
}

func TestPayout_ReferenceBelongsToOneWallet(t *testing.T) {
	f := newFixture(t)
	testutil.SetBalance(t, f.db, alice, 1000)
	testutil.SetBalance(t, f.db, bob, 1000)

	mine, err := f.svc.Payout.Request(f.ctx, "", alice, 300)
	require.NoError(t, err)

	_, err = f.svc.Payout.Request(f.ctx, mine.PayoutNo, bob, 300)
	require.ErrorIs(t, err, apperr.ErrInvalidRequest)
	_, err = f.svc.Ledger.CompletePayout(f.ctx, mine.PayoutNo, bob, false)
	require.ErrorIs(t, err, apperr.ErrInvalidRequest)

	wallet, err := f.svc.Wallet.GetWallet(f.ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), wallet.AvailableCents)
	assert.Zero(t, wallet.PendingPayoutCents)
	assert.Len(t, f.entriesFor(t, mine.PayoutNo), 2)
	f.requireBalanced(t, mine.PayoutNo)
}

func TestLedger_ReferenceCarriesOneOperation(t *testing.T) {
	f := newFixture(t)
	testutil.SetBalance(t, f.db, alice, 1000)

	_, err := f.svc.Ledger.Transfer(f.ctx, purchaseTransfer("PUR-shared", alice, bob, 500))
	require.NoError(t, err)

	_, err = f.svc.Ledger.RequestPayout(f.ctx, "PUR-shared", bob, 100)
	assert.ErrorIs(t, err, apperr.ErrInvalidRequest)
	_, err = f.svc.Ledger.Deposit(f.ctx, "PUR-shared", carol, 100)
	assert.ErrorIs(t, err, apperr.ErrInvalidRequest)
	_, err = f.svc.Payout.Request(f.ctx, "PUR-shared", bob, 100)
	assert.ErrorIs(t, err, apperr.ErrInvalidRequest)

	// same reference, different payer
	_, err = f.svc.Ledger.Transfer(f.ctx, purchaseTransfer("PUR-shared", carol, bob, 500))
	assert.ErrorIs(t, err, apperr.ErrInvalidRequest)

	assert.Len(t, f.entriesFor(t, "PUR-shared"), 3)
	assert.Equal(t, int64(450), f.balance(t, bob))
	f.requireBalanced(t, "PUR-shared")
}
