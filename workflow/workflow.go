// Package workflow runs the transaction approval state machine: a
// user-submitted deposit, withdrawal or transfer becomes a pending
// transaction, the approver decides, and the decision is applied
// atomically against the stored account or reversed without trace.
package workflow

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"interest-bank-bot/ledger"
	"interest-bank-bot/store"
)

// Action identifies what a pending transaction does with the money.
type Action int

const (
	ActionDeposit Action = iota
	ActionWithdraw
	ActionTransfer
)

// Label is the Vietnamese verb used in user-facing messages.
func (a Action) Label() string {
	switch a {
	case ActionDeposit:
		return "nạp"
	case ActionWithdraw:
		return "rút"
	case ActionTransfer:
		return "chuyển khoản"
	}
	return "?"
}

// Status tracks a pending transaction's lifecycle. Approved and denied
// are terminal; resolved entries leave the pending map.
type Status int

const (
	StatusPending Status = iota
	StatusApproved
	StatusDenied
)

var (
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInsufficientFunds = errors.New("amount exceeds available balance")
	ErrUnknownRecipient  = errors.New("recipient has no account")
	ErrNoPending         = errors.New("no pending transaction")
	ErrAlreadyPending    = errors.New("a transaction is already awaiting approval")
)

// Requester identifies who submitted a request and where replies go.
type Requester struct {
	ID     int64
	ChatID int64
	Name   string
}

// PendingTransaction is one submitted, not-yet-resolved request.
type PendingTransaction struct {
	ID              uuid.UUID
	Action          Action
	Amount          float64
	RequesterID     int64
	RequesterChatID int64
	RequesterName   string
	RecipientID     int64 // transfers only
	Status          Status
	CreatedAt       time.Time

	busy bool // claimed by an in-progress approve or deny
}

// Workflow owns every pending transaction from creation to resolution.
// Pending entries are keyed by transaction id so the approver's
// callback resolves the right request no matter whose chat it arrives
// in, with at most one entry in flight per requester.
type Workflow struct {
	store    *store.Store
	engine   ledger.Engine
	locks    *ledger.UserLocks
	notifier Notifier
	log      *zap.SugaredLogger

	mu          sync.Mutex
	pending     map[uuid.UUID]*PendingTransaction
	byRequester map[int64]uuid.UUID

	now func() time.Time
}

func New(st *store.Store, engine ledger.Engine, locks *ledger.UserLocks, notifier Notifier, log *zap.SugaredLogger) *Workflow {
	return &Workflow{
		store:       st,
		engine:      engine,
		locks:       locks,
		notifier:    notifier,
		log:         log,
		pending:     make(map[uuid.UUID]*PendingTransaction),
		byRequester: make(map[int64]uuid.UUID),
		now:         time.Now,
	}
}

// RequestDeposit validates and queues a deposit for approval.
func (w *Workflow) RequestDeposit(req Requester, amount float64) (*PendingTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	return w.submit(req, ActionDeposit, amount, 0)
}

// RequestWithdraw validates affordability at submission time and queues
// a withdrawal for approval.
func (w *Workflow) RequestWithdraw(req Requester, amount float64) (*PendingTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	acct, err := w.store.Get(req.ID)
	if err != nil {
		return nil, fmt.Errorf("load requester %d: %w", req.ID, err)
	}
	if !w.engine.CanAfford(acct, amount) {
		return nil, ErrInsufficientFunds
	}
	return w.submit(req, ActionWithdraw, amount, 0)
}

// RequestTransfer resolves the recipient, validates affordability and
// queues a transfer for approval.
func (w *Workflow) RequestTransfer(req Requester, recipientID int64, amount float64) (*PendingTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if _, err := w.store.Get(recipientID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnknownRecipient
		}
		return nil, fmt.Errorf("load recipient %d: %w", recipientID, err)
	}
	acct, err := w.store.Get(req.ID)
	if err != nil {
		return nil, fmt.Errorf("load requester %d: %w", req.ID, err)
	}
	if !w.engine.CanAfford(acct, amount) {
		return nil, ErrInsufficientFunds
	}
	return w.submit(req, ActionTransfer, amount, recipientID)
}

func (w *Workflow) submit(req Requester, action Action, amount float64, recipientID int64) (*PendingTransaction, error) {
	tx := &PendingTransaction{
		ID:              uuid.New(),
		Action:          action,
		Amount:          amount,
		RequesterID:     req.ID,
		RequesterChatID: req.ChatID,
		RequesterName:   req.Name,
		RecipientID:     recipientID,
		Status:          StatusPending,
		CreatedAt:       w.now(),
	}

	w.mu.Lock()
	if id, ok := w.byRequester[req.ID]; ok {
		w.mu.Unlock()
		w.log.Infow("request rejected, one already pending",
			"requester", req.ID, "pending_tx", id)
		return nil, ErrAlreadyPending
	}
	w.pending[tx.ID] = tx
	w.byRequester[req.ID] = tx.ID
	w.mu.Unlock()

	w.notifyUser(tx.RequesterChatID, "🔄 Đang xử lý giao dịch...")

	msg := fmt.Sprintf(
		"📥 Người dùng %s (ID: %d) đã %s tiền: %s VND\nBạn có muốn duyệt không?",
		req.Name, req.ID, action.Label(), formatAmount(amount))
	if action == ActionTransfer {
		msg = fmt.Sprintf(
			"📥 Người dùng %s (ID: %d) đã %s tiền: %s VND đến người dùng (ID: %d)\nBạn có muốn duyệt không?",
			req.Name, req.ID, action.Label(), formatAmount(amount), recipientID)
	}
	if err := w.notifier.NotifyApprover(msg, tx.ID); err != nil {
		// Left pending; the TTL sweep will expire it if the approver
		// never sees it.
		w.log.Errorw("approver notification failed", "tx", tx.ID, "err", err)
	}

	w.log.Infow("transaction submitted",
		"tx", tx.ID, "action", action.Label(), "amount", amount, "requester", req.ID)
	return tx, nil
}

// Approve applies a pending transaction. Affordability is re-validated
// against the balance stored NOW, not the one seen at submission, so a
// requester who spent their balance through another path in the
// meantime cannot double-spend.
//
// A domain rejection (insufficient funds, vanished recipient) resolves
// the transaction and tells the requester why. A storage failure keeps
// the entry pending with no partial mutation, so the approver can retry
// or deny.
func (w *Workflow) Approve(txID uuid.UUID) error {
	tx, ok := w.take(txID)
	if !ok {
		return ErrNoPending
	}

	var err error
	switch tx.Action {
	case ActionDeposit:
		err = w.applyDeposit(tx)
	case ActionWithdraw:
		err = w.applyWithdraw(tx)
	case ActionTransfer:
		err = w.applyTransfer(tx)
	}

	switch {
	case err == nil:
		tx.Status = StatusApproved
		w.clear(tx)
		w.notifyUser(tx.RequesterChatID,
			fmt.Sprintf("✅ Giao dịch %s tiền %s VND thành công!", tx.Action.Label(), formatAmount(tx.Amount)))
		w.log.Infow("transaction approved", "tx", tx.ID, "action", tx.Action.Label(), "amount", tx.Amount)
	case errors.Is(err, ErrInsufficientFunds):
		tx.Status = StatusDenied
		w.clear(tx)
		w.notifyUser(tx.RequesterChatID,
			fmt.Sprintf("❌ Giao dịch %s tiền %s VND thất bại do số dư không đủ!", tx.Action.Label(), formatAmount(tx.Amount)))
	case errors.Is(err, ErrUnknownRecipient):
		tx.Status = StatusDenied
		w.clear(tx)
		w.notifyUser(tx.RequesterChatID, "❌ Người nhận không tồn tại.")
	default:
		// Storage failure: nothing was applied, entry stays pending.
		w.release(tx)
		w.notifyUser(tx.RequesterChatID, "❌ Đã xảy ra lỗi khi xử lý yêu cầu của bạn. Vui lòng thử lại.")
		w.log.Errorw("transaction apply failed", "tx", tx.ID, "err", err)
	}
	return err
}

// Deny resolves a pending transaction without touching any balance.
// Denying an already-resolved id returns ErrNoPending and changes
// nothing, so a double tap on the deny button is harmless.
func (w *Workflow) Deny(txID uuid.UUID) error {
	tx, ok := w.take(txID)
	if !ok {
		return ErrNoPending
	}
	tx.Status = StatusDenied
	w.clear(tx)
	w.notifyUser(tx.RequesterChatID,
		fmt.Sprintf("❌ Giao dịch %s tiền %s VND đã bị từ chối!", tx.Action.Label(), formatAmount(tx.Amount)))
	w.log.Infow("transaction denied", "tx", tx.ID)
	return nil
}

// ExpireStale auto-denies pending transactions older than ttl. Driven
// by the cron sweep; keeps unanswered requests from leaking forever.
func (w *Workflow) ExpireStale(ttl time.Duration) {
	cutoff := w.now().Add(-ttl)

	w.mu.Lock()
	var stale []*PendingTransaction
	for _, tx := range w.pending {
		if tx.CreatedAt.Before(cutoff) {
			stale = append(stale, tx)
		}
	}
	w.mu.Unlock()

	for _, tx := range stale {
		if err := w.Deny(tx.ID); err == nil {
			w.log.Warnw("pending transaction expired", "tx", tx.ID, "age", w.now().Sub(tx.CreatedAt))
		}
	}
}

// PendingCount reports how many transactions await the approver.
func (w *Workflow) PendingCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// take claims a pending transaction for resolution. A claimed entry is
// invisible to a racing approve or deny until released.
func (w *Workflow) take(txID uuid.UUID) (*PendingTransaction, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	tx, ok := w.pending[txID]
	if !ok || tx.busy {
		return nil, false
	}
	tx.busy = true
	return tx, true
}

func (w *Workflow) release(tx *PendingTransaction) {
	w.mu.Lock()
	defer w.mu.Unlock()
	tx.busy = false
}

func (w *Workflow) clear(tx *PendingTransaction) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.pending, tx.ID)
	delete(w.byRequester, tx.RequesterID)
}

func (w *Workflow) applyDeposit(tx *PendingTransaction) error {
	unlock := w.locks.Lock(tx.RequesterID)
	defer unlock()

	acct, err := w.store.Get(tx.RequesterID)
	if err != nil {
		return fmt.Errorf("load requester %d: %w", tx.RequesterID, err)
	}
	acct.DepositedAmount += tx.Amount
	return w.store.Upsert(acct)
}

func (w *Workflow) applyWithdraw(tx *PendingTransaction) error {
	unlock := w.locks.Lock(tx.RequesterID)
	defer unlock()

	acct, err := w.store.Get(tx.RequesterID)
	if err != nil {
		return fmt.Errorf("load requester %d: %w", tx.RequesterID, err)
	}
	if !w.engine.CanAfford(acct, tx.Amount) {
		return ErrInsufficientFunds
	}
	acct.DepositedAmount = debit(acct.DepositedAmount, tx.Amount)
	acct.WithdrawnAmount += tx.Amount
	return w.store.Upsert(acct)
}

func (w *Workflow) applyTransfer(tx *PendingTransaction) error {
	unlock := w.locks.LockPair(tx.RequesterID, tx.RecipientID)
	defer unlock()

	acct, err := w.store.Get(tx.RequesterID)
	if err != nil {
		return fmt.Errorf("load requester %d: %w", tx.RequesterID, err)
	}
	if !w.engine.CanAfford(acct, tx.Amount) {
		return ErrInsufficientFunds
	}
	acct.DepositedAmount = debit(acct.DepositedAmount, tx.Amount)
	err = w.store.ApplyTransfer(acct, tx.RecipientID, tx.Amount)
	if errors.Is(err, store.ErrNotFound) {
		return ErrUnknownRecipient
	}
	return err
}

func (w *Workflow) notifyUser(chatID int64, text string) {
	if err := w.notifier.NotifyUser(chatID, text); err != nil {
		w.log.Errorw("user notification failed", "chat", chatID, "err", err)
	}
}

// debit subtracts amount from the principal, flooring at zero. An
// affordable amount may exceed the principal when the remainder is
// covered by accrued interest, which is never persisted as principal.
func debit(deposited, amount float64) float64 {
	if amount >= deposited {
		return 0
	}
	return deposited - amount
}

func formatAmount(amount float64) string {
	if amount == float64(int64(amount)) {
		return fmt.Sprintf("%d", int64(amount))
	}
	return fmt.Sprintf("%.2f", amount)
}
