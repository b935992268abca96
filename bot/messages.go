package bot

import (
	"fmt"

	"interest-bank-bot/ledger"
	"interest-bank-bot/model"
)

func progressMessage(p ledger.Progress) string {
	return fmt.Sprintf(
		"📆 Số lần nhấn hôm nay: %d / %d\n"+
			"♻️ Tiến độ: %.2f %%\n"+
			"💵 Lãi suất của 1 lần click: %.2f VND\n"+
			"💰 Số tiền đã nạp vào: %v VND\n"+
			"💰 Thu nhập hôm nay: %.2f VND\n",
		p.Clicks, p.Target, p.Percent, p.InterestPerClick, p.Deposited, p.IncomeToday)
}

func balanceMessage(engine ledger.Engine, acct *model.Account) string {
	income := engine.AccruedIncome(acct.DepositedAmount, acct.ClickCount)
	return fmt.Sprintf(
		"💰 Số tiền đã nạp vào: %v VND\n"+
			"📈 Lãi suất từ số tiền đã nạp: %.2f VND\n"+
			"💵 Tổng số dư khả dụng: %.2f VND\n"+
			"💰 Số tiền đã rút: %v VND",
		acct.DepositedAmount, income, engine.AvailableBalance(acct), acct.WithdrawnAmount)
}

func accountInfoMessage(acct *model.Account) string {
	return fmt.Sprintf(
		"📋 Thông tin tài khoản:\n"+
			"Số tài khoản: %s\n"+
			"Tên ngân hàng: %s\n"+
			"Số điện thoại: %s\n",
		orUnset(acct.AccountNumber), orUnset(acct.BankName), orUnset(acct.PhoneNumber))
}

func recipientInfoMessage(acct *model.Account) string {
	return fmt.Sprintf(
		"🧾 Thông tin người nhận:\n"+
			"ID: %d\n"+
			"Số tài khoản: %s\n"+
			"Tên ngân hàng: %s\n"+
			"Số điện thoại: %s\n"+
			"Số tiền đã nạp: %v VND\n"+
			"Số tiền đã rút: %v VND\n",
		acct.UserID, orUnset(acct.AccountNumber), orUnset(acct.BankName),
		orUnset(acct.PhoneNumber), acct.DepositedAmount, acct.WithdrawnAmount)
}

func orUnset(s string) string {
	if s == "" {
		return "Chưa cập nhật"
	}
	return s
}
