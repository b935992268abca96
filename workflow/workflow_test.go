package workflow

import (
	"errors"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"interest-bank-bot/ledger"
	"interest-bank-bot/model"
	"interest-bank-bot/store"
)

type fakeNotifier struct {
	mu           sync.Mutex
	userMsgs     map[int64][]string
	approverMsgs []string
	approverTxs  []uuid.UUID
	failDelivery bool
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{userMsgs: make(map[int64][]string)}
}

func (f *fakeNotifier) NotifyUser(chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDelivery {
		return errors.New("delivery failed")
	}
	f.userMsgs[chatID] = append(f.userMsgs[chatID], text)
	return nil
}

func (f *fakeNotifier) NotifyApprover(text string, txID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDelivery {
		return errors.New("delivery failed")
	}
	f.approverMsgs = append(f.approverMsgs, text)
	f.approverTxs = append(f.approverTxs, txID)
	return nil
}

func (f *fakeNotifier) lastUserMsg(chatID int64) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.userMsgs[chatID]
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1]
}

func (f *fakeNotifier) approverCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.approverMsgs)
}

func newTestWorkflow(t *testing.T) (*Workflow, *store.Store, *fakeNotifier) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.AutoMigrate(&model.Account{}); err != nil {
		t.Fatal(err)
	}
	key := make([]byte, 32)
	cipher, err := store.NewCipher(key)
	if err != nil {
		t.Fatal(err)
	}
	st := store.New(db, cipher)
	notifier := newFakeNotifier()
	wf := New(st, ledger.Engine{Rate: 0.00005}, ledger.NewUserLocks(), notifier, zap.NewNop().Sugar())
	return wf, st, notifier
}

func mustUpsert(t *testing.T, st *store.Store, acct *model.Account) {
	t.Helper()
	if err := st.Upsert(acct); err != nil {
		t.Fatal(err)
	}
}

func requester(id int64) Requester {
	return Requester{ID: id, ChatID: id, Name: "Người dùng"}
}

func TestDepositScenario(t *testing.T) {
	wf, st, notifier := newTestWorkflow(t)
	mustUpsert(t, st, &model.Account{UserID: 1})

	tx, err := wf.RequestDeposit(requester(1), 1000)
	if err != nil {
		t.Fatal(err)
	}
	if notifier.approverCount() != 1 {
		t.Fatalf("approver notifications = %d, want 1", notifier.approverCount())
	}
	if got := notifier.lastUserMsg(1); !strings.Contains(got, "Đang xử lý") {
		t.Fatalf("requester not told processing began: %q", got)
	}

	if err := wf.Approve(tx.ID); err != nil {
		t.Fatal(err)
	}
	acct, err := st.Get(1)
	if err != nil {
		t.Fatal(err)
	}
	if acct.DepositedAmount != 1000 {
		t.Fatalf("deposited = %v, want 1000", acct.DepositedAmount)
	}
	if got := notifier.lastUserMsg(1); !strings.Contains(got, "thành công") {
		t.Fatalf("requester not told of success: %q", got)
	}
	if wf.PendingCount() != 0 {
		t.Fatal("pending transaction not cleared after approval")
	}
}

func TestRequestRejectsNonPositiveAmounts(t *testing.T) {
	wf, st, notifier := newTestWorkflow(t)
	mustUpsert(t, st, &model.Account{UserID: 1, DepositedAmount: 100})
	mustUpsert(t, st, &model.Account{UserID: 2})

	tests := []struct {
		name   string
		submit func() error
	}{
		{"deposit zero", func() error { _, err := wf.RequestDeposit(requester(1), 0); return err }},
		{"deposit negative", func() error { _, err := wf.RequestDeposit(requester(1), -5); return err }},
		{"withdraw zero", func() error { _, err := wf.RequestWithdraw(requester(1), 0); return err }},
		{"transfer negative", func() error { _, err := wf.RequestTransfer(requester(1), 2, -1); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.submit(); !errors.Is(err, ErrInvalidAmount) {
				t.Fatalf("err = %v, want ErrInvalidAmount", err)
			}
		})
	}
	if notifier.approverCount() != 0 {
		t.Fatal("validation errors must never reach the approver")
	}
}

func TestWithdrawInsufficientAtSubmission(t *testing.T) {
	wf, st, notifier := newTestWorkflow(t)
	mustUpsert(t, st, &model.Account{UserID: 1, DepositedAmount: 100, ClickCount: 0})

	if _, err := wf.RequestWithdraw(requester(1), 200); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if notifier.approverCount() != 0 {
		t.Fatal("rejected withdrawal must not notify the approver")
	}
}

func TestWithdrawCountsAccruedInterest(t *testing.T) {
	wf, st, _ := newTestWorkflow(t)
	// 100 principal + 1000 clicks * 0.005 = 105 available.
	mustUpsert(t, st, &model.Account{UserID: 1, DepositedAmount: 100, ClickCount: 1000})

	tx, err := wf.RequestWithdraw(requester(1), 105)
	if err != nil {
		t.Fatal(err)
	}
	if err := wf.Approve(tx.ID); err != nil {
		t.Fatal(err)
	}

	acct, _ := st.Get(1)
	if acct.DepositedAmount != 0 {
		t.Fatalf("deposited = %v, want 0 (principal floors at zero)", acct.DepositedAmount)
	}
	if acct.WithdrawnAmount != 105 {
		t.Fatalf("withdrawn = %v, want 105", acct.WithdrawnAmount)
	}
}

func TestTransferToUnknownRecipient(t *testing.T) {
	wf, st, notifier := newTestWorkflow(t)
	mustUpsert(t, st, &model.Account{UserID: 1, DepositedAmount: 100})

	if _, err := wf.RequestTransfer(requester(1), 999999, 50); !errors.Is(err, ErrUnknownRecipient) {
		t.Fatalf("err = %v, want ErrUnknownRecipient", err)
	}
	if notifier.approverCount() != 0 {
		t.Fatal("rejected transfer must not notify the approver")
	}
}

func TestTransferApproved(t *testing.T) {
	wf, st, _ := newTestWorkflow(t)
	mustUpsert(t, st, &model.Account{UserID: 1, DepositedAmount: 150})
	mustUpsert(t, st, &model.Account{UserID: 2, DepositedAmount: 10})

	tx, err := wf.RequestTransfer(requester(1), 2, 50)
	if err != nil {
		t.Fatal(err)
	}
	if err := wf.Approve(tx.ID); err != nil {
		t.Fatal(err)
	}

	a1, _ := st.Get(1)
	a2, _ := st.Get(2)
	if a1.DepositedAmount != 100 {
		t.Fatalf("sender deposited = %v, want 100", a1.DepositedAmount)
	}
	if a2.DepositedAmount != 60 {
		t.Fatalf("recipient deposited = %v, want 60", a2.DepositedAmount)
	}
}

func TestApproveRevalidatesCurrentBalance(t *testing.T) {
	wf, st, notifier := newTestWorkflow(t)
	mustUpsert(t, st, &model.Account{UserID: 1, DepositedAmount: 150})

	// Valid at submission: 100 <= 150.
	tx, err := wf.RequestWithdraw(requester(1), 100)
	if err != nil {
		t.Fatal(err)
	}

	// Balance drains through a second path before the approver acts.
	mustUpsert(t, st, &model.Account{UserID: 1, DepositedAmount: 50})

	if err := wf.Approve(tx.ID); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	acct, _ := st.Get(1)
	if acct.DepositedAmount != 50 {
		t.Fatalf("deposited = %v after rejected approval, want 50 untouched", acct.DepositedAmount)
	}
	if got := notifier.lastUserMsg(1); !strings.Contains(got, "số dư không đủ") {
		t.Fatalf("requester not told why: %q", got)
	}
	if wf.PendingCount() != 0 {
		t.Fatal("rejected approval must clear the pending transaction")
	}
}

func TestApproveAfterRecipientVanishes(t *testing.T) {
	wf, st, _ := newTestWorkflow(t)
	mustUpsert(t, st, &model.Account{UserID: 1, DepositedAmount: 150})
	mustUpsert(t, st, &model.Account{UserID: 2})

	tx, err := wf.RequestTransfer(requester(1), 2, 50)
	if err != nil {
		t.Fatal(err)
	}

	// Recipient row disappears between submission and approval.
	if err := st.Delete(2); err != nil {
		t.Fatal(err)
	}

	if err := wf.Approve(tx.ID); !errors.Is(err, ErrUnknownRecipient) {
		t.Fatalf("err = %v, want ErrUnknownRecipient", err)
	}
	acct, _ := st.Get(1)
	if acct.DepositedAmount != 150 {
		t.Fatalf("deposited = %v, want 150 untouched", acct.DepositedAmount)
	}
}

func TestDenyIdempotent(t *testing.T) {
	wf, st, notifier := newTestWorkflow(t)
	mustUpsert(t, st, &model.Account{UserID: 1})

	tx, err := wf.RequestDeposit(requester(1), 1000)
	if err != nil {
		t.Fatal(err)
	}

	if err := wf.Deny(tx.ID); err != nil {
		t.Fatal(err)
	}
	if got := notifier.lastUserMsg(1); !strings.Contains(got, "từ chối") {
		t.Fatalf("requester not told of denial: %q", got)
	}
	msgsAfterFirst := len(notifier.userMsgs[1])

	if err := wf.Deny(tx.ID); !errors.Is(err, ErrNoPending) {
		t.Fatalf("second deny = %v, want ErrNoPending", err)
	}
	if len(notifier.userMsgs[1]) != msgsAfterFirst {
		t.Fatal("second deny must not notify anyone")
	}

	acct, _ := st.Get(1)
	if acct.DepositedAmount != 0 {
		t.Fatalf("deny mutated the balance: %v", acct.DepositedAmount)
	}
}

func TestApproveUnknownTransaction(t *testing.T) {
	wf, _, _ := newTestWorkflow(t)
	if err := wf.Approve(uuid.New()); !errors.Is(err, ErrNoPending) {
		t.Fatalf("err = %v, want ErrNoPending", err)
	}
}

func TestOnePendingPerRequester(t *testing.T) {
	wf, st, _ := newTestWorkflow(t)
	mustUpsert(t, st, &model.Account{UserID: 1})
	mustUpsert(t, st, &model.Account{UserID: 2})

	tx, err := wf.RequestDeposit(requester(1), 100)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wf.RequestDeposit(requester(1), 200); !errors.Is(err, ErrAlreadyPending) {
		t.Fatalf("second request = %v, want ErrAlreadyPending", err)
	}
	// Other requesters are unaffected.
	if _, err := wf.RequestDeposit(requester(2), 200); err != nil {
		t.Fatalf("other requester blocked: %v", err)
	}
	// Resolution frees the slot.
	if err := wf.Deny(tx.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := wf.RequestDeposit(requester(1), 200); err != nil {
		t.Fatalf("request after denial = %v, want nil", err)
	}
}

func TestExpireStale(t *testing.T) {
	wf, st, notifier := newTestWorkflow(t)
	mustUpsert(t, st, &model.Account{UserID: 1})
	mustUpsert(t, st, &model.Account{UserID: 2})

	now := time.Unix(1_000_000, 0)
	wf.now = func() time.Time { return now }

	if _, err := wf.RequestDeposit(requester(1), 100); err != nil {
		t.Fatal(err)
	}

	now = now.Add(23 * time.Hour)
	if _, err := wf.RequestDeposit(requester(2), 100); err != nil {
		t.Fatal(err)
	}

	now = now.Add(2 * time.Hour)
	wf.ExpireStale(24 * time.Hour)

	if wf.PendingCount() != 1 {
		t.Fatalf("pending = %d after sweep, want 1 (only the stale one expires)", wf.PendingCount())
	}
	if got := notifier.lastUserMsg(1); !strings.Contains(got, "từ chối") {
		t.Fatalf("expired requester not notified: %q", got)
	}
}

func TestDeliveryFailureDoesNotRollBack(t *testing.T) {
	wf, st, notifier := newTestWorkflow(t)
	mustUpsert(t, st, &model.Account{UserID: 1})

	tx, err := wf.RequestDeposit(requester(1), 500)
	if err != nil {
		t.Fatal(err)
	}

	notifier.failDelivery = true
	if err := wf.Approve(tx.ID); err != nil {
		t.Fatalf("approve failed on notification error: %v", err)
	}
	acct, _ := st.Get(1)
	if acct.DepositedAmount != 500 {
		t.Fatalf("deposited = %v, want 500 despite failed delivery", acct.DepositedAmount)
	}
}

func TestAffordabilityProperty(t *testing.T) {
	wf, st, _ := newTestWorkflow(t)
	engine := ledger.Engine{Rate: 0.00005}
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 200; i++ {
		userID := int64(i + 1)
		deposited := rng.Float64() * 10000
		clicks := rng.Int63n(2000)
		amount := rng.Float64() * 12000

		mustUpsert(t, st, &model.Account{UserID: userID, DepositedAmount: deposited, ClickCount: clicks})
		available := engine.AvailableBalance(&model.Account{DepositedAmount: deposited, ClickCount: clicks})

		tx, err := wf.RequestWithdraw(requester(userID), amount)
		if amount > available {
			if !errors.Is(err, ErrInsufficientFunds) {
				t.Fatalf("amount %v > available %v accepted: %v", amount, available, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("amount %v <= available %v rejected: %v", amount, available, err)
		}
		if err := wf.Approve(tx.ID); err != nil {
			t.Fatalf("approval of affordable withdrawal failed: %v", err)
		}
		acct, _ := st.Get(userID)
		if acct.DepositedAmount < 0 {
			t.Fatalf("principal went negative: %v", acct.DepositedAmount)
		}
	}
}
