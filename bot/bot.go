package bot

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/telebot.v3"

	"interest-bank-bot/ledger"
	"interest-bank-bot/model"
	"interest-bank-bot/store"
	"interest-bank-bot/workflow"
)

// Conversation states for multi-step inputs.
const (
	StateNone = iota
	StateWaitDeposit
	StateWaitWithdraw
	StateWaitTransferRecipient
	StateWaitTransferAmount
	StateWaitAccountNumber
	StateWaitBankName
	StateWaitPhoneNumber
)

// Bot wires the Telegram transport to the ledger and the approval
// workflow. It also implements workflow.Notifier.
type Bot struct {
	B       *telebot.Bot
	Store   *store.Store
	Engine  ledger.Engine
	Accrual *ledger.Accrual
	Locks   *ledger.UserLocks

	adminID int64
	log     *zap.SugaredLogger
	wf      *workflow.Workflow

	// State management
	states    map[int64]int
	tempData  map[int64]map[string]string
	stateLock sync.RWMutex
}

// Keyboards
var (
	// Main Menu
	menuBtnClick    = telebot.Btn{Text: "Click để tăng lãi suất"}
	menuBtnDeposit  = telebot.Btn{Text: "Nạp tiền"}
	menuBtnWithdraw = telebot.Btn{Text: "Rút tiền"}
	menuBtnTransfer = telebot.Btn{Text: "Chuyển khoản"}
	menuBtnBalance  = telebot.Btn{Text: "Kiểm tra số dư"}
	menuBtnInfo     = telebot.Btn{Text: "Thông tin"}
	menuKeyboard    = &telebot.ReplyMarkup{ResizeKeyboard: true}

	// Inline Buttons
	btnConfirmAccrual = telebot.Btn{Text: "Cập nhật thu nhập", Unique: "update_income"}
	btnApprove        = telebot.Btn{Text: "Duyệt", Unique: "approve_tx"}
	btnDeny           = telebot.Btn{Text: "Không Duyệt", Unique: "deny_tx"}
	btnSetAccountNum  = telebot.Btn{Text: "Cập nhật số tài khoản", Unique: "set_account_num"}
	btnSetBankName    = telebot.Btn{Text: "Cập nhật tên ngân hàng", Unique: "set_bank_name"}
	btnSetPhone       = telebot.Btn{Text: "Cập nhật số điện thoại", Unique: "set_phone"}
)

func NewBot(token string, adminID int64, st *store.Store, engine ledger.Engine, accrual *ledger.Accrual, locks *ledger.UserLocks, log *zap.SugaredLogger) (*Bot, error) {
	bot := &Bot{
		Store:    st,
		Engine:   engine,
		Accrual:  accrual,
		Locks:    locks,
		adminID:  adminID,
		log:      log,
		states:   make(map[int64]int),
		tempData: make(map[int64]map[string]string),
	}

	pref := telebot.Settings{
		Token:  token,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
		// Uncaught handler failures go to the approver as diagnostics.
		OnError: bot.reportError,
	}

	b, err := telebot.NewBot(pref)
	if err != nil {
		return nil, err
	}
	bot.B = b

	// Init keyboards
	menuKeyboard.Reply(
		menuKeyboard.Row(menuBtnClick),
		menuKeyboard.Row(menuBtnDeposit, menuBtnWithdraw),
		menuKeyboard.Row(menuBtnTransfer, menuBtnBalance),
		menuKeyboard.Row(menuBtnInfo),
	)

	bot.registerHandlers()
	return bot, nil
}

// SetWorkflow injects the approval workflow. The workflow needs the
// bot as its Notifier, so it is built after the bot and wired in here.
func (bot *Bot) SetWorkflow(wf *workflow.Workflow) {
	bot.wf = wf
}

func (bot *Bot) Start() {
	bot.B.Start()
}

func (bot *Bot) registerHandlers() {
	// Commands
	bot.B.Handle("/start", bot.handleStart)

	// Menu Buttons
	bot.B.Handle(&menuBtnClick, bot.handleClick)
	bot.B.Handle(&menuBtnDeposit, bot.handleDeposit)
	bot.B.Handle(&menuBtnWithdraw, bot.handleWithdraw)
	bot.B.Handle(&menuBtnTransfer, bot.handleTransfer)
	bot.B.Handle(&menuBtnBalance, bot.handleBalance)
	bot.B.Handle(&menuBtnInfo, bot.handleInfo)

	// Inline Buttons
	bot.B.Handle(&btnConfirmAccrual, bot.handleConfirmAccrual)
	bot.B.Handle(&btnApprove, bot.handleApprove)
	bot.B.Handle(&btnDeny, bot.handleDeny)
	bot.B.Handle(&btnSetAccountNum, bot.handleSetFieldBtn(StateWaitAccountNumber, "Vui lòng nhập số tài khoản mới:"))
	bot.B.Handle(&btnSetBankName, bot.handleSetFieldBtn(StateWaitBankName, "Vui lòng nhập tên ngân hàng mới:"))
	bot.B.Handle(&btnSetPhone, bot.handleSetFieldBtn(StateWaitPhoneNumber, "Vui lòng nhập số điện thoại mới:"))

	// Generic Text Handler (for inputs)
	bot.B.Handle(telebot.OnText, bot.handleText)
}

// Helper to manage state
func (bot *Bot) setState(userID int64, state int) {
	bot.stateLock.Lock()
	defer bot.stateLock.Unlock()
	bot.states[userID] = state
	if state == StateNone {
		delete(bot.tempData, userID)
	}
}

func (bot *Bot) getState(userID int64) int {
	bot.stateLock.RLock()
	defer bot.stateLock.RUnlock()
	return bot.states[userID]
}

func (bot *Bot) setTempData(userID int64, key, value string) {
	bot.stateLock.Lock()
	defer bot.stateLock.Unlock()
	if bot.tempData[userID] == nil {
		bot.tempData[userID] = make(map[string]string)
	}
	bot.tempData[userID][key] = value
}

func (bot *Bot) getTempData(userID int64, key string) string {
	bot.stateLock.RLock()
	defer bot.stateLock.RUnlock()
	if bot.tempData[userID] == nil {
		return ""
	}
	return bot.tempData[userID][key]
}

func (bot *Bot) requester(c telebot.Context) workflow.Requester {
	sender := c.Sender()
	name := sender.FirstName
	if sender.LastName != "" {
		name += " " + sender.LastName
	}
	return workflow.Requester{ID: sender.ID, ChatID: c.Chat().ID, Name: name}
}

// --- workflow.Notifier ---

func (bot *Bot) NotifyUser(chatID int64, text string) error {
	_, err := bot.B.Send(&telebot.User{ID: chatID}, text)
	return err
}

func (bot *Bot) NotifyApprover(text string, txID uuid.UUID) error {
	menu := &telebot.ReplyMarkup{}
	menu.Inline(
		menu.Row(menu.Data(btnApprove.Text, btnApprove.Unique, txID.String())),
		menu.Row(menu.Data(btnDeny.Text, btnDeny.Unique, txID.String())),
	)
	_, err := bot.B.Send(&telebot.User{ID: bot.adminID}, text, menu)
	return err
}

// --- Handlers ---

func (bot *Bot) handleStart(c telebot.Context) error {
	userID := c.Sender().ID
	if _, err := bot.Store.Get(userID); errors.Is(err, store.ErrNotFound) {
		acct := &model.Account{UserID: userID, CreatedAt: time.Now(), UpdatedAt: time.Now()}
		if err := bot.Store.Upsert(acct); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}
	bot.setState(userID, StateNone)

	name := c.Sender().FirstName
	if c.Sender().LastName != "" {
		name += " " + c.Sender().LastName
	}
	return c.Send("Chào "+name+"! Hãy chọn menu 👇", menuKeyboard)
}

// First accrual step: open the confirmation window if the click
// cool-down has elapsed. Counters are untouched until confirmation.
func (bot *Bot) handleClick(c telebot.Context) error {
	bot.setState(c.Sender().ID, StateNone)
	if !bot.Accrual.Click(c.Sender().ID) {
		return c.Send("Vui lòng chờ một chút trước khi nhấn lại!")
	}

	menu := &telebot.ReplyMarkup{}
	menu.Inline(menu.Row(btnConfirmAccrual))
	return c.Send("📆 Click để cập nhật thu nhập!", menu)
}

// Second accrual step: credit one click to the sender's account and
// persist the new counters.
func (bot *Bot) handleConfirmAccrual(c telebot.Context) error {
	userID := c.Sender().ID

	unlock := bot.Locks.Lock(userID)
	defer unlock()

	acct, err := bot.Store.Get(userID)
	if err != nil {
		return err
	}

	progress, ok := bot.Accrual.ConfirmAccrual(userID, acct)
	if !ok {
		return c.Respond(&telebot.CallbackResponse{Text: "Vui lòng chờ một chút trước khi cập nhật!"})
	}
	if err := bot.Store.Upsert(acct); err != nil {
		return err
	}

	c.Respond(&telebot.CallbackResponse{Text: "🤑 Cập nhật thành công!"})
	return c.Edit(progressMessage(progress), c.Message().ReplyMarkup)
}

func (bot *Bot) handleDeposit(c telebot.Context) error {
	bot.setState(c.Sender().ID, StateWaitDeposit)
	return c.Send("Vui lòng nhập số tiền bạn muốn nạp vào:")
}

func (bot *Bot) handleWithdraw(c telebot.Context) error {
	bot.setState(c.Sender().ID, StateWaitWithdraw)
	return c.Send("Vui lòng nhập số tiền bạn muốn rút:")
}

func (bot *Bot) handleTransfer(c telebot.Context) error {
	bot.setState(c.Sender().ID, StateWaitTransferRecipient)
	return c.Send("Vui lòng nhập ID người nhận:")
}

func (bot *Bot) handleBalance(c telebot.Context) error {
	bot.setState(c.Sender().ID, StateNone)
	acct, err := bot.Store.Get(c.Sender().ID)
	if err != nil {
		return err
	}
	return c.Send(balanceMessage(bot.Engine, acct))
}

func (bot *Bot) handleInfo(c telebot.Context) error {
	bot.setState(c.Sender().ID, StateNone)
	acct, err := bot.Store.Get(c.Sender().ID)
	if err != nil {
		return err
	}

	menu := &telebot.ReplyMarkup{}
	menu.Inline(
		menu.Row(btnSetAccountNum),
		menu.Row(btnSetBankName),
		menu.Row(btnSetPhone),
	)
	return c.Send(accountInfoMessage(acct), menu)
}

func (bot *Bot) handleSetFieldBtn(state int, prompt string) telebot.HandlerFunc {
	return func(c telebot.Context) error {
		c.Respond()
		bot.setState(c.Sender().ID, state)
		return c.Send(prompt)
	}
}

// --- Approver actions ---

func (bot *Bot) handleApprove(c telebot.Context) error {
	if c.Sender().ID != bot.adminID {
		return c.Respond(&telebot.CallbackResponse{Text: "Bạn không có quyền duyệt giao dịch."})
	}
	txID, err := uuid.Parse(c.Data())
	if err != nil {
		return c.Respond(&telebot.CallbackResponse{Text: "Giao dịch không hợp lệ."})
	}

	switch err := bot.wf.Approve(txID); {
	case err == nil:
		return c.Respond(&telebot.CallbackResponse{Text: "Giao dịch đã được phê duyệt!"})
	case errors.Is(err, workflow.ErrNoPending):
		return c.Respond(&telebot.CallbackResponse{Text: "Giao dịch đã được xử lý trước đó."})
	case errors.Is(err, workflow.ErrInsufficientFunds), errors.Is(err, workflow.ErrUnknownRecipient):
		// Requester already told why; just close the button press.
		return c.Respond(&telebot.CallbackResponse{Text: "Giao dịch không thể thực hiện."})
	default:
		return err
	}
}

func (bot *Bot) handleDeny(c telebot.Context) error {
	if c.Sender().ID != bot.adminID {
		return c.Respond(&telebot.CallbackResponse{Text: "Bạn không có quyền duyệt giao dịch."})
	}
	txID, err := uuid.Parse(c.Data())
	if err != nil {
		return c.Respond(&telebot.CallbackResponse{Text: "Giao dịch không hợp lệ."})
	}

	// A second deny of the same id is a no-op.
	if err := bot.wf.Deny(txID); errors.Is(err, workflow.ErrNoPending) {
		return c.Respond(&telebot.CallbackResponse{Text: "Giao dịch đã được xử lý trước đó."})
	} else if err != nil {
		return err
	}
	return c.Respond(&telebot.CallbackResponse{Text: "Giao dịch đã bị từ chối."})
}

// Global Text Handler (State Machine)
func (bot *Bot) handleText(c telebot.Context) error {
	userID := c.Sender().ID
	state := bot.getState(userID)

	switch state {
	case StateWaitDeposit:
		bot.setState(userID, StateNone)
		amount, err := strconv.ParseFloat(c.Text(), 64)
		if err != nil {
			return c.Send("Vui lòng nhập một số hợp lệ.")
		}
		_, err = bot.wf.RequestDeposit(bot.requester(c), amount)
		return bot.replyRequestOutcome(c, err, "Số tiền nạp phải lớn hơn 0.")

	case StateWaitWithdraw:
		bot.setState(userID, StateNone)
		amount, err := strconv.ParseFloat(c.Text(), 64)
		if err != nil {
			return c.Send("Vui lòng nhập một số hợp lệ.")
		}
		_, err = bot.wf.RequestWithdraw(bot.requester(c), amount)
		return bot.replyRequestOutcome(c, err, "Số tiền rút phải lớn hơn 0.")

	case StateWaitTransferRecipient:
		recipientID, err := strconv.ParseInt(c.Text(), 10, 64)
		if err != nil {
			bot.setState(userID, StateNone)
			return c.Send("Vui lòng nhập một ID người dùng hợp lệ.")
		}
		recipient, err := bot.Store.Get(recipientID)
		if errors.Is(err, store.ErrNotFound) {
			bot.setState(userID, StateNone)
			return c.Send("❌ Người nhận không tồn tại.")
		} else if err != nil {
			return err
		}
		bot.setTempData(userID, "recipient_id", c.Text())
		bot.setState(userID, StateWaitTransferAmount)
		if err := c.Send(recipientInfoMessage(recipient)); err != nil {
			return err
		}
		return c.Send("Vui lòng nhập số tiền bạn muốn chuyển khoản:")

	case StateWaitTransferAmount:
		recipientID, _ := strconv.ParseInt(bot.getTempData(userID, "recipient_id"), 10, 64)
		bot.setState(userID, StateNone)
		amount, err := strconv.ParseFloat(c.Text(), 64)
		if err != nil {
			return c.Send("Vui lòng nhập một số hợp lệ.")
		}
		_, err = bot.wf.RequestTransfer(bot.requester(c), recipientID, amount)
		return bot.replyRequestOutcome(c, err, "Số tiền chuyển khoản phải lớn hơn 0.")

	case StateWaitAccountNumber:
		return bot.updateAccountField(c, func(acct *model.Account) { acct.AccountNumber = c.Text() },
			"✅ Số tài khoản đã được cập nhật thành công!")
	case StateWaitBankName:
		return bot.updateAccountField(c, func(acct *model.Account) { acct.BankName = c.Text() },
			"✅ Tên ngân hàng đã được cập nhật thành công!")
	case StateWaitPhoneNumber:
		return bot.updateAccountField(c, func(acct *model.Account) { acct.PhoneNumber = c.Text() },
			"✅ Số điện thoại đã được cập nhật thành công!")
	}

	return nil
}

// replyRequestOutcome maps workflow submission errors to their user
// messages. A nil error needs no reply here: the workflow already told
// the requester that processing has begun.
func (bot *Bot) replyRequestOutcome(c telebot.Context, err error, invalidAmountMsg string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, workflow.ErrInvalidAmount):
		return c.Send(invalidAmountMsg)
	case errors.Is(err, workflow.ErrInsufficientFunds):
		return c.Send("Số tiền rút không thể lớn hơn tổng số dư khả dụng.")
	case errors.Is(err, workflow.ErrUnknownRecipient):
		return c.Send("❌ Người nhận không tồn tại.")
	case errors.Is(err, workflow.ErrAlreadyPending):
		return c.Send("⚠️ Bạn đã có một giao dịch đang chờ duyệt.")
	default:
		return err
	}
}

func (bot *Bot) updateAccountField(c telebot.Context, apply func(*model.Account), confirmation string) error {
	userID := c.Sender().ID
	bot.setState(userID, StateNone)

	unlock := bot.Locks.Lock(userID)
	defer unlock()

	acct, err := bot.Store.Get(userID)
	if err != nil {
		return err
	}
	apply(acct)
	if err := bot.Store.Upsert(acct); err != nil {
		return err
	}
	return c.Send(confirmation)
}

// reportError sends an uncaught handler failure to the approver and
// apologizes generically to the user whose update triggered it.
func (bot *Bot) reportError(err error, c telebot.Context) {
	bot.log.Errorw("handler failed", "err", err)
	if c != nil && c.Chat() != nil {
		bot.NotifyUser(c.Chat().ID, "❌ Đã xảy ra lỗi! Vui lòng thử lại sau.")
	}
	if nerr := bot.NotifyUser(bot.adminID, "❌ Một lỗi đã xảy ra trong bot: "+err.Error()); nerr != nil {
		bot.log.Errorw("approver diagnostic failed", "err", nerr)
	}
}
