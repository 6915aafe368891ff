package service

import (
	"encoding/json"
	"testing"

	"sharetips/internal/apperr"
	"sharetips/internal/model"
	"sharetips/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) event(t *testing.T, ref string) *model.PaymentEvent {
	t.Helper()
	var evt model.PaymentEvent
	require.NoError(t, f.db.Where("reference_id = ?", ref).First(&evt).Error)
	return &evt
}

func TestHandleConfirmation_Deposit(t *testing.T) {
	f := newFixture(t)

	conf := model.PaymentConfirmation{
		Version:          1,
		ReferenceID:      "gw-1",
		PayerID:          alice,
		GrossAmountCents: 1500,
		Purpose:          model.PaymentPurposeDeposit,
	}
	require.NoError(t, f.svc.Payment.HandleConfirmation(f.ctx, conf))
	// redelivery
	require.NoError(t, f.svc.Payment.HandleConfirmation(f.ctx, conf))

	assert.Equal(t, int64(1500), f.balance(t, alice))
	evt := f.event(t, "gw-1")
	assert.Equal(t, model.PaymentEventStatusProcessed, evt.Status)
	assert.Equal(t, "ok", evt.Result)
	f.requireBalanced(t, "gw-1")
}

func TestHandleConfirmation_TicketPurchase(t *testing.T) {
	f := newFixture(t)
	ticket := testutil.SeedTicket(t, f.db, bob, 500, false)

	conf := model.PaymentConfirmation{
		Version:          1,
		ReferenceID:      "gw-2",
		PayerID:          alice,
		PayeeID:          bob,
		GrossAmountCents: 500,
		Purpose:          model.PaymentPurposeTicketPurchase,
		TicketID:         ticket.ID,
	}
	require.NoError(t, f.svc.Payment.HandleConfirmation(f.ctx, conf))
	require.NoError(t, f.svc.Payment.HandleConfirmation(f.ctx, conf))

	assert.Zero(t, f.balance(t, alice))
	assert.Equal(t, int64(450), f.balance(t, bob))
	assert.Equal(t, int64(-500), f.balance(t, gatewayID))

	access, err := f.svc.Access.Resolve(f.ctx, alice, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, AccessPurchase, access.AccessType)
	assert.Equal(t, model.PaymentEventStatusProcessed, f.event(t, "gw-2").Status)
}

func TestHandleConfirmation_Subscription(t *testing.T) {
	f := newFixture(t)

	conf := model.PaymentConfirmation{
		Version:          1,
		ReferenceID:      "gw-3",
		PayerID:          alice,
		PayeeID:          bob,
		GrossAmountCents: 1000,
		Purpose:          model.PaymentPurposeSubscription,
	}
	require.NoError(t, f.svc.Payment.HandleConfirmation(f.ctx, conf))

	active, err := f.svc.Subscription.ListActive(f.ctx, alice)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, bob, active[0].TipsterID)
	assert.Zero(t, f.balance(t, alice))
}

func TestHandleConfirmation_BusinessRejectionKeepsDeposit(t *testing.T) {
	f := newFixture(t)
	ticket := testutil.SeedTicket(t, f.db, alice, 500, false)

	// paying for one's own ticket
	conf := model.PaymentConfirmation{
		Version:          1,
		ReferenceID:      "gw-4",
		PayerID:          alice,
		PayeeID:          alice,
		GrossAmountCents: 500,
		Purpose:          model.PaymentPurposeTicketPurchase,
		TicketID:         ticket.ID,
	}
	require.NoError(t, f.svc.Payment.HandleConfirmation(f.ctx, conf))

	evt := f.event(t, "gw-4")
	assert.Equal(t, model.PaymentEventStatusRejected, evt.Status)
	assert.Equal(t, string(apperr.CodeSelfPurchase), evt.Result)
	assert.Equal(t, int64(500), f.balance(t, alice))
}

func TestHandleConfirmation_InvalidPayloads(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		conf model.PaymentConfirmation
	}{
		{name: "no reference", conf: model.PaymentConfirmation{PayerID: alice, GrossAmountCents: 1, Purpose: model.PaymentPurposeDeposit}},
		{name: "no amount", conf: model.PaymentConfirmation{ReferenceID: "x", PayerID: alice, Purpose: model.PaymentPurposeDeposit}},
		{name: "future version", conf: model.PaymentConfirmation{Version: 2, ReferenceID: "x", PayerID: alice, GrossAmountCents: 1, Purpose: model.PaymentPurposeDeposit}},
		{name: "purchase without ticket", conf: model.PaymentConfirmation{ReferenceID: "x", PayerID: alice, GrossAmountCents: 1, Purpose: model.PaymentPurposeTicketPurchase}},
		{name: "subscription without payee", conf: model.PaymentConfirmation{ReferenceID: "x", PayerID: alice, GrossAmountCents: 1, Purpose: model.PaymentPurposeSubscription}},
		{name: "unknown purpose", conf: model.PaymentConfirmation{ReferenceID: "x", PayerID: alice, GrossAmountCents: 1, Purpose: "tip"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.svc.Payment.HandleConfirmation(f.ctx, tt.conf)
			require.Error(t, err)
			assert.False(t, apperr.IsRetryable(err))
		})
	}

	var count int64
	require.NoError(t, f.db.Model(&model.PaymentEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestHandleMessage(t *testing.T) {
	f := newFixture(t)

	assert.NoError(t, f.svc.Payment.HandleMessage(f.ctx, []byte("k"), []byte("{not json")), "garbage is acknowledged")

	bad, err := json.Marshal(model.PaymentConfirmation{ReferenceID: "gw-5", PayerID: alice, Purpose: model.PaymentPurposeDeposit})
	require.NoError(t, err)
	assert.NoError(t, f.svc.Payment.HandleMessage(f.ctx, []byte("gw-5"), bad), "invalid confirmations are acknowledged")

	good, err := json.Marshal(model.PaymentConfirmation{
		Version:          1,
		ReferenceID:      "gw-6",
		PayerID:          bob,
		GrossAmountCents: 250,
		Purpose:          model.PaymentPurposeDeposit,
	})
	require.NoError(t, err)
	require.NoError(t, f.svc.Payment.HandleMessage(f.ctx, []byte("gw-6"), good))
	assert.Equal(t, int64(250), f.balance(t, bob))
}

func TestReprocess_FinishesStaleEvent(t *testing.T) {
	f := newFixture(t)

	evt := &model.PaymentEvent{
		ReferenceID:      "gw-7",
		PayerID:          alice,
		GrossAmountCents: 300,
		Purpose:          model.PaymentPurposeDeposit,
		Status:           model.PaymentEventStatusReceived,
	}
	require.NoError(t, f.db.Create(evt).Error)
	// the first attempt deposited, then died before finishing the event
	_, err := f.svc.Ledger.Deposit(f.ctx, "gw-7", alice, 300)
	require.NoError(t, err)

	require.NoError(t, f.svc.Payment.Reprocess(f.ctx, evt))

	assert.Equal(t, int64(300), f.balance(t, alice))
	assert.Equal(t, model.PaymentEventStatusProcessed, f.event(t, "gw-7").Status)
}

func TestHandleConfirmation_SubscriptionPaidElsewhereIsRejected(t *testing.T) {
	f := newFixture(t)
	testutil.SetBalance(t, f.db, alice, 1000)

	existing, err := f.svc.Subscription.Subscribe(f.ctx, alice, bob, 1000)
	require.NoError(t, err)

	conf := model.PaymentConfirmation{
		Version:          1,
		ReferenceID:      "gw-8",
		PayerID:          alice,
		PayeeID:          bob,
		GrossAmountCents: 1000,
		Purpose:          model.PaymentPurposeSubscription,
	}
	require.NoError(t, f.svc.Payment.HandleConfirmation(f.ctx, conf))

	evt := f.event(t, "gw-8")
	assert.Equal(t, model.PaymentEventStatusRejected, evt.Status)
	assert.Equal(t, string(apperr.CodeAlreadySubscribed), evt.Result)
	// the deposit stands
	assert.Equal(t, int64(1000), f.balance(t, alice))

	active, err := f.svc.Subscription.ListActive(f.ctx, alice)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, existing.SubscriptionNo, active[0].SubscriptionNo)
	assert.Nil(t, active[0].PaymentRef)
}

func TestHandleConfirmation_TicketOwnedElsewhereIsRejected(t *testing.T) {
	f := newFixture(t)
	testutil.SetBalance(t, f.db, alice, 500)
	ticket := testutil.SeedTicket(t, f.db, bob, 500, false)

	_, err := f.svc.Purchase.Purchase(f.ctx, alice, ticket.ID)
	require.NoError(t, err)

	conf := model.PaymentConfirmation{
		Version:          1,
		ReferenceID:      "gw-9",
		PayerID:          alice,
		PayeeID:          bob,
		GrossAmountCents: 500,
		Purpose:          model.PaymentPurposeTicketPurchase,
		TicketID:         ticket.ID,
	}
	require.NoError(t, f.svc.Payment.HandleConfirmation(f.ctx, conf))

	evt := f.event(t, "gw-9")
	assert.Equal(t, model.PaymentEventStatusRejected, evt.Status)
	assert.Equal(t, string(apperr.CodeAlreadyPurchased), evt.Result)
	assert.Equal(t, int64(500), f.balance(t, alice))
	assert.Equal(t, int64(450), f.balance(t, bob))
}

func TestReprocess_SubscriptionAlreadyCreatedByThisPayment(t *testing.T) {
	f := newFixture(t)

	evt := &model.PaymentEvent{
		ReferenceID:      "gw-10",
		PayerID:          alice,
		PayeeID:          bob,
		GrossAmountCents: 1000,
		Purpose:          model.PaymentPurposeSubscription,
		Status:           model.PaymentEventStatusReceived,
	}
	require.NoError(t, f.db.Create(evt).Error)
	// the first attempt deposited and subscribed, then died before finishing the event
	_, err := f.svc.Ledger.Deposit(f.ctx, "gw-10", alice, 1000)
	require.NoError(t, err)
	first, err := f.svc.Subscription.SubscribeForPayment(f.ctx, alice, bob, 1000, "gw-10")
	require.NoError(t, err)

	require.NoError(t, f.svc.Payment.Reprocess(f.ctx, evt))

	got := f.event(t, "gw-10")
	assert.Equal(t, model.PaymentEventStatusProcessed, got.Status)
	assert.Equal(t, "ok", got.Result)
	assert.Zero(t, f.balance(t, alice))
	assert.Equal(t, int64(900), f.balance(t, bob))

	sub, err := f.svc.Subscription.GetBySubscriptionNo(f.ctx, first.SubscriptionNo)
	require.NoError(t, err)
	require.NotNil(t, sub.PaymentRef)
	assert.Equal(t, "gw-10", *sub.PaymentRef)
}

func TestReprocess_PurchaseAlreadyCreatedByThisPayment(t *testing.T) {
	f := newFixture(t)
	ticket := testutil.SeedTicket(t, f.db, bob, 500, false)

	evt := &model.PaymentEvent{
		ReferenceID:      "gw-11",
		PayerID:          alice,
		PayeeID:          bob,
		GrossAmountCents: 500,
		Purpose:          model.PaymentPurposeTicketPurchase,
		TicketID:         ticket.ID,
		Status:           model.PaymentEventStatusReceived,
	}
	require.NoError(t, f.db.Create(evt).Error)
	_, err := f.svc.Ledger.Deposit(f.ctx, "gw-11", alice, 500)
	require.NoError(t, err)
	_, err = f.svc.Purchase.PurchaseForPayment(f.ctx, alice, ticket.ID, "gw-11")
	require.NoError(t, err)

	require.NoError(t, f.svc.Payment.Reprocess(f.ctx, evt))

	assert.Equal(t, model.PaymentEventStatusProcessed, f.event(t, "gw-11").Status)
	assert.Zero(t, f.balance(t, alice))
	assert.Equal(t, int64(450), f.balance(t, bob))
}
