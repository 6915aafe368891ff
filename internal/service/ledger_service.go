package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"sharetips/internal/apperr"
	"sharetips/internal/config"
	"sharetips/internal/infrastructure/lock"
	"sharetips/internal/metrics"
	"sharetips/internal/model"
	"sharetips/internal/repository"
	"sharetips/pkg/clock"
	"sharetips/pkg/idgen"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TxHook runs inside the ledger's database transaction after the entries are
// written. Returning an error rolls back the entries too.
type TxHook func(tx *gorm.DB) error

type TransferPurpose string

const (
	PurposePurchase     TransferPurpose = "purchase"
	PurposeSubscription TransferPurpose = "subscription"
)

func (p TransferPurpose) kinds() (debit, credit model.TransactionKind, err error) {
	switch p {
	case PurposePurchase:
		return model.KindPurchaseDebit, model.KindPurchaseCredit, nil
	case PurposeSubscription:
		return model.KindSubscriptionDebit, model.KindSubscriptionCredit, nil
	default:
		return "", "", apperr.ErrInvalidRequest.Withf("unknown transfer purpose %q", p)
	}
}

type TransferRequest struct {
	ReferenceID string
	PayerID     int64
	ReceiverID  int64
	GrossCents  int64
	Purpose     TransferPurpose
	Remark      string
}

// PostingResult is the set of entries one reference id produced. Replayed is
// true when the entries already existed and nothing was applied.
type PostingResult struct {
	ReferenceID string
	Entries     []*model.WalletTransaction
	Replayed    bool
}

type TransferResult struct {
	PostingResult
	GrossCents      int64
	CommissionCents int64
	NetCents        int64
}

// LedgerService is the only writer of wallet balances and ledger entries.
//
// Every posting follows the same protocol: take the application locks of the
// user wallets involved in ascending owner id order, open a transaction, look
// for entries already written under the reference id, lock the wallet rows in
// the same order, apply balance changes and insert the entries. The platform
// and gateway wallets are never locked. They only receive entries.
type LedgerService struct {
	db              *gorm.DB
	walletRepo      *repository.WalletRepository
	transactionRepo *repository.TransactionRepository
	locker          lock.Locker
	clock           clock.Clock

	rate       decimal.Decimal
	lockWait   time.Duration
	rowWait    time.Duration
	platformID int64
	gatewayID  int64

	sysMu      sync.Mutex
	sysWallets map[int64]int64 // owner id -> wallet id
}

func NewLedgerService(db *gorm.DB, locker lock.Locker, clk clock.Clock, cfg *config.Config) (*LedgerService, error) {
	rate, err := cfg.Business.Rate()
	if err != nil {
		return nil, fmt.Errorf("commission rate: %w", err)
	}
	return &LedgerService{
		db:              db,
		walletRepo:      repository.NewWalletRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		locker:          locker,
		clock:           clk,
		rate:            rate,
		lockWait:        cfg.Lock.WaitTimeout,
		rowWait:         cfg.Database.LockWaitTimeout,
		platformID:      cfg.Business.PlatformWalletOwnerID,
		gatewayID:       cfg.Business.GatewayWalletOwnerID,
	}, nil
}

// Commission returns ceil(gross * rate) in cents.
func (s *LedgerService) Commission(grossCents int64) int64 {
	return decimal.NewFromInt(grossCents).Mul(s.rate).Ceil().IntPart()
}

func (s *LedgerService) PlatformWalletID() int64 { return s.platformID }

func (s *LedgerService) isSystem(ownerID int64) bool {
	return ownerID == s.platformID || ownerID == s.gatewayID
}

// EnsureSystemWallets creates the platform and gateway wallet rows and
// remembers their ids. Postings stamp system entries from that cache and
// never read or write the system rows themselves.
func (s *LedgerService) EnsureSystemWallets(ctx context.Context) error {
	_, err := s.systemWalletIDs(ctx)
	return err
}

func (s *LedgerService) systemWalletIDs(ctx context.Context) (map[int64]int64, error) {
	s.sysMu.Lock()
	defer s.sysMu.Unlock()
	if s.sysWallets != nil {
		return s.sysWallets, nil
	}

	if err := s.walletRepo.EnsureExist(ctx, nil, s.platformID, s.gatewayID); err != nil {
		return nil, err
	}
	wallets, err := s.walletRepo.ListByOwners(ctx, s.platformID, s.gatewayID)
	if err != nil {
		return nil, err
	}
	ids := make(map[int64]int64, len(wallets))
	for _, w := range wallets {
		ids[w.OwnerID] = w.ID
	}
	if len(ids) != 2 {
		return nil, fmt.Errorf("system wallets %d and %d not found", s.platformID, s.gatewayID)
	}
	s.sysWallets = ids
	return ids, nil
}

// Transfer moves GrossCents from payer to receiver and withholds the
// commission for the platform. The three entries share ReferenceID and sum to
// zero. hooks run in the same transaction; they are skipped on replay.
func (s *LedgerService) Transfer(ctx context.Context, req TransferRequest, hooks ...TxHook) (*TransferResult, error) {
	if req.ReferenceID == "" {
		return nil, apperr.ErrInvalidRequest.Withf("reference id is required")
	}
	if req.GrossCents <= 0 {
		return nil, apperr.ErrInvalidAmount
	}
	if req.PayerID == req.ReceiverID {
		return nil, apperr.ErrInvalidRequest.Withf("payer and receiver must differ")
	}
	if s.isSystem(req.PayerID) || s.isSystem(req.ReceiverID) {
		return nil, apperr.ErrInvalidRequest.Withf("system wallets cannot take part in a transfer")
	}
	debitKind, creditKind, err := req.Purpose.kinds()
	if err != nil {
		return nil, err
	}

	commission := s.Commission(req.GrossCents)
	net := req.GrossCents - commission

	op := posting{
		name:   "transfer",
		ref:    req.ReferenceID,
		owners: []int64{req.PayerID, req.ReceiverID},
		kinds:  []model.TransactionKind{debitKind, creditKind, model.KindCommission},
		hooks:  hooks,
		plan: func(wallets map[int64]*model.Wallet, _ []*model.WalletTransaction) (*plan, error) {
			if wallets[req.PayerID].AvailableCents < req.GrossCents {
				return nil, apperr.ErrInsufficientFunds
			}
			return &plan{
				deltas: map[int64]repository.WalletDelta{
					req.PayerID:    {AvailableCents: -req.GrossCents},
					req.ReceiverID: {AvailableCents: net, TotalEarnedCents: net},
				},
				entries: []*model.WalletTransaction{
					entry(req.PayerID, -req.GrossCents, debitKind, req.Remark),
					entry(req.ReceiverID, net, creditKind, req.Remark),
					entry(s.platformID, commission, model.KindCommission, req.Remark),
				},
			}, nil
		},
	}

	posted, err := s.post(ctx, op)
	if err != nil {
		return nil, err
	}

	result := &TransferResult{PostingResult: *posted}
	for _, e := range posted.Entries {
		switch e.Kind {
		case debitKind:
			result.GrossCents = -e.AmountCents
		case creditKind:
			result.NetCents = e.AmountCents
		case model.KindCommission:
			result.CommissionCents = e.AmountCents
		}
	}
	if !posted.Replayed {
		metrics.RecordCommission(result.CommissionCents)
	}

	zap.L().Info("[Ledger] transfer",
		zap.String("reference_id", req.ReferenceID),
		zap.Int64("payer_id", req.PayerID),
		zap.Int64("receiver_id", req.ReceiverID),
		zap.Int64("gross_cents", result.GrossCents),
		zap.Int64("commission_cents", result.CommissionCents),
		zap.Bool("replayed", posted.Replayed),
	)
	return result, nil
}

// Deposit credits funds the payment gateway has confirmed. The counter entry
// lands on the gateway clearing wallet.
func (s *LedgerService) Deposit(ctx context.Context, referenceID string, ownerID, amountCents int64) (*PostingResult, error) {
	if err := s.validateSingle(referenceID, ownerID); err != nil {
		return nil, err
	}
	if amountCents <= 0 {
		return nil, apperr.ErrInvalidAmount
	}

	return s.post(ctx, posting{
		name:   "deposit",
		ref:    referenceID,
		owners: []int64{ownerID},
		kinds:  []model.TransactionKind{model.KindDeposit, model.KindDepositClearing},
		plan: func(map[int64]*model.Wallet, []*model.WalletTransaction) (*plan, error) {
			return &plan{
				deltas: map[int64]repository.WalletDelta{ownerID: {AvailableCents: amountCents}},
				entries: []*model.WalletTransaction{
					entry(ownerID, amountCents, model.KindDeposit, "deposit"),
					entry(s.gatewayID, -amountCents, model.KindDepositClearing, "deposit"),
				},
			}, nil
		},
	})
}

// RequestPayout moves amountCents from available to pending payout. The
// entries stay PENDING until CompletePayout settles or reverses them.
func (s *LedgerService) RequestPayout(ctx context.Context, referenceID string, ownerID, amountCents int64) (*PostingResult, error) {
	if err := s.validateSingle(referenceID, ownerID); err != nil {
		return nil, err
	}
	if amountCents <= 0 {
		return nil, apperr.ErrInvalidAmount
	}

	return s.post(ctx, posting{
		name:    "payout_request",
		ref:     referenceID,
		owners:  []int64{ownerID},
		kinds:   []model.TransactionKind{model.KindWithdrawal, model.KindWithdrawalClearing},
		related: []model.TransactionKind{model.KindPayoutSettled, model.KindPayoutReversed, model.KindPayoutReversalClearing},
		plan: func(wallets map[int64]*model.Wallet, _ []*model.WalletTransaction) (*plan, error) {
			if wallets[ownerID].AvailableCents < amountCents {
				return nil, apperr.ErrInsufficientFunds
			}
			debit := entry(ownerID, -amountCents, model.KindWithdrawal, "payout requested")
			clearing := entry(s.gatewayID, amountCents, model.KindWithdrawalClearing, "payout requested")
			debit.Status = model.TransactionStatusPending
			clearing.Status = model.TransactionStatusPending
			return &plan{
				deltas: map[int64]repository.WalletDelta{
					ownerID: {AvailableCents: -amountCents, PendingPayoutCents: amountCents},
				},
				entries: []*model.WalletTransaction{debit, clearing},
			}, nil
		},
	})
}

// CompletePayout closes a payout requested under referenceID. A paid payout
// clears pending payout; a failed one returns the money to available.
func (s *LedgerService) CompletePayout(ctx context.Context, referenceID string, ownerID int64, paid bool) (*PostingResult, error) {
	if err := s.validateSingle(referenceID, ownerID); err != nil {
		return nil, err
	}

	return s.post(ctx, posting{
		name:    "payout_complete",
		ref:     referenceID,
		owners:  []int64{ownerID},
		kinds:   []model.TransactionKind{model.KindPayoutSettled, model.KindPayoutReversed, model.KindPayoutReversalClearing},
		related: []model.TransactionKind{model.KindWithdrawal, model.KindWithdrawalClearing},
		plan: func(_ map[int64]*model.Wallet, existing []*model.WalletTransaction) (*plan, error) {
			var amount int64
			for _, e := range existing {
				if e.Kind == model.KindWithdrawal && e.OwnerID == ownerID {
					amount = -e.AmountCents
				}
			}
			if amount <= 0 {
				return nil, apperr.ErrInvalidRequest.Withf("no payout requested under %s", referenceID)
			}

			if paid {
				return &plan{
					deltas: map[int64]repository.WalletDelta{ownerID: {PendingPayoutCents: -amount}},
					entries: []*model.WalletTransaction{
						entry(ownerID, 0, model.KindPayoutSettled, fmt.Sprintf("payout of %d settled", amount)),
					},
				}, nil
			}
			return &plan{
				deltas: map[int64]repository.WalletDelta{
					ownerID: {AvailableCents: amount, PendingPayoutCents: -amount},
				},
				entries: []*model.WalletTransaction{
					entry(ownerID, amount, model.KindPayoutReversed, "payout failed"),
					entry(s.gatewayID, -amount, model.KindPayoutReversalClearing, "payout failed"),
				},
			}, nil
		},
	})
}

// Adjust applies a signed manual correction, offset on the platform wallet.
func (s *LedgerService) Adjust(ctx context.Context, referenceID string, ownerID, amountCents int64, remark string) (*PostingResult, error) {
	if err := s.validateSingle(referenceID, ownerID); err != nil {
		return nil, err
	}
	if amountCents == 0 {
		return nil, apperr.ErrInvalidAmount
	}

	return s.post(ctx, posting{
		name:   "adjustment",
		ref:    referenceID,
		owners: []int64{ownerID},
		kinds:  []model.TransactionKind{model.KindManualAdjustment, model.KindAdjustmentOffset},
		plan: func(wallets map[int64]*model.Wallet, _ []*model.WalletTransaction) (*plan, error) {
			if wallets[ownerID].AvailableCents+amountCents < 0 {
				return nil, apperr.ErrInsufficientFunds
			}
			return &plan{
				deltas: map[int64]repository.WalletDelta{ownerID: {AvailableCents: amountCents}},
				entries: []*model.WalletTransaction{
					entry(ownerID, amountCents, model.KindManualAdjustment, remark),
					entry(s.platformID, -amountCents, model.KindAdjustmentOffset, remark),
				},
			}, nil
		},
	})
}

// VerifyReference returns the sum of the entries of referenceID. Anything but
// zero means the ledger is broken.
func (s *LedgerService) VerifyReference(ctx context.Context, referenceID string) (int64, error) {
	sum, err := s.transactionRepo.SumByReference(ctx, referenceID)
	if err != nil {
		return 0, apperr.FromStorage(err)
	}
	return sum, nil
}

func (s *LedgerService) validateSingle(referenceID string, ownerID int64) error {
	if referenceID == "" {
		return apperr.ErrInvalidRequest.Withf("reference id is required")
	}
	if s.isSystem(ownerID) {
		return apperr.ErrInvalidRequest.Withf("system wallets cannot be posted to directly")
	}
	return nil
}

// ============================================================================
// Posting protocol
// ============================================================================

type plan struct {
	deltas  map[int64]repository.WalletDelta
	entries []*model.WalletTransaction
}

type posting struct {
	name   string
	ref    string
	owners []int64
	// kinds are the entry kinds this operation writes. Existing entries of
	// these kinds under ref mean the operation already ran.
	kinds []model.TransactionKind
	// related are the kinds written by the other steps of the same
	// operation, which may share ref. Anything else there belongs elsewhere.
	related []model.TransactionKind
	plan    func(wallets map[int64]*model.Wallet, existing []*model.WalletTransaction) (*plan, error)
	hooks   []TxHook
}

var errReferenceTaken = errors.New("reference id written concurrently")

func entry(ownerID, amount int64, kind model.TransactionKind, remark string) *model.WalletTransaction {
	return &model.WalletTransaction{
		OwnerID:     ownerID,
		AmountCents: amount,
		Kind:        kind,
		Status:      model.TransactionStatusCompleted,
		Remark:      remark,
	}
}

func (s *LedgerService) post(ctx context.Context, op posting) (result *PostingResult, err error) {
	start := time.Now()
	defer func() {
		outcome := "applied"
		switch {
		case err != nil:
			outcome = string(apperr.CodeOf(err))
		case result.Replayed:
			outcome = "replayed"
		}
		metrics.RecordPosting(op.name, outcome, time.Since(start).Seconds())
	}()

	sys, err := s.systemWalletIDs(ctx)
	if err != nil {
		return nil, apperr.FromStorage(err)
	}

	release, err := lock.AcquireWallets(ctx, s.locker, s.lockWait, op.owners...)
	if err != nil {
		zap.L().Warn("[Ledger] wallet lock timeout",
			zap.String("operation", op.name),
			zap.String("reference_id", op.ref),
			zap.Int64s("owner_ids", op.owners),
		)
		return nil, apperr.ErrLockTimeout.Wrap(err)
	}
	defer release()

	// missing wallets are created before the transaction opens; inside it
	// the only wallet statements are the FOR UPDATE read and the updates
	if err := s.walletRepo.CreateMissing(ctx, op.owners...); err != nil {
		return nil, apperr.FromStorage(err)
	}

	var written []*model.WalletTransaction
	replayed := false

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repository.SetLockWaitTimeout(tx, s.rowWait); err != nil {
			return err
		}

		existing, err := s.transactionRepo.ListByReference(ctx, tx, op.ref)
		if err != nil {
			return err
		}
		prior, err := s.priorEntries(op, existing)
		if err != nil {
			return err
		}
		if len(prior) > 0 {
			written = prior
			replayed = true
			return nil
		}

		locked, err := s.walletRepo.LockForUpdate(ctx, tx, op.owners...)
		if err != nil {
			return err
		}
		wallets := make(map[int64]*model.Wallet, len(locked))
		for _, w := range locked {
			wallets[w.OwnerID] = w
		}

		p, err := op.plan(wallets, existing)
		if err != nil {
			return err
		}

		if err := s.checkBalanced(p.entries); err != nil {
			return err
		}

		s.stamp(op.ref, wallets, sys, p)

		owners := make([]int64, 0, len(p.deltas))
		for owner := range p.deltas {
			owners = append(owners, owner)
		}
		slices.Sort(owners)
		for _, owner := range owners {
			if err := s.walletRepo.Apply(ctx, tx, wallets[owner].ID, p.deltas[owner]); err != nil {
				if errors.Is(err, repository.ErrBalanceNotEnough) {
					return apperr.ErrInsufficientFunds
				}
				return err
			}
		}

		if err := s.transactionRepo.CreateBatch(ctx, tx, p.entries); err != nil {
			if apperr.IsUniqueViolation(err) {
				return errReferenceTaken
			}
			return err
		}

		for _, hook := range op.hooks {
			if err := hook(tx); err != nil {
				return err
			}
		}

		written = p.entries
		return nil
	})

	if errors.Is(err, errReferenceTaken) {
		// another posting of the same reference committed between our check
		// and insert; report its entries
		existing, lerr := s.transactionRepo.ListByReference(ctx, nil, op.ref)
		if lerr != nil {
			return nil, apperr.FromStorage(lerr)
		}
		written, err = s.priorEntries(op, existing)
		replayed = true
	}
	if err != nil {
		return nil, apperr.FromStorage(err)
	}

	return &PostingResult{ReferenceID: op.ref, Entries: written, Replayed: replayed}, nil
}

// stamp fills in the fields every entry of one posting shares.
func (s *LedgerService) stamp(ref string, wallets map[int64]*model.Wallet, sys map[int64]int64, p *plan) {
	now := s.clock.Now()
	for _, e := range p.entries {
		e.TransactionNo = idgen.GenerateTransactionNo()
		e.ReferenceID = ref
		e.CreatedAt = now

		if w, ok := wallets[e.OwnerID]; ok {
			e.WalletID = w.ID
			e.BalanceAfterCents = w.AvailableCents + p.deltas[e.OwnerID].AvailableCents
			continue
		}
		e.WalletID = sys[e.OwnerID]
	}
}

// priorEntries returns the entries op already wrote under its reference id.
// A reference id carries the steps of one operation on one user wallet;
// entries of any other kind or user make op invalid.
func (s *LedgerService) priorEntries(op posting, existing []*model.WalletTransaction) ([]*model.WalletTransaction, error) {
	var prior []*model.WalletTransaction
	for _, e := range existing {
		own := slices.Contains(op.kinds, e.Kind)
		if !own && !slices.Contains(op.related, e.Kind) {
			return nil, apperr.ErrInvalidRequest.Withf("reference id %s is already used by another operation", op.ref)
		}
		if !s.isSystem(e.OwnerID) && !slices.Contains(op.owners, e.OwnerID) {
			return nil, apperr.ErrInvalidRequest.Withf("reference id %s belongs to another wallet", op.ref)
		}
		if own {
			prior = append(prior, e)
		}
	}
	return prior, nil
}

func (s *LedgerService) checkBalanced(entries []*model.WalletTransaction) error {
	var sum int64
	for _, e := range entries {
		sum += e.AmountCents
	}
	if sum != 0 {
		return fmt.Errorf("unbalanced posting: entries sum to %d", sum)
	}
	return nil
}
