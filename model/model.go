package model

import (
	"time"
)

// Account is the persisted financial record, one row per Telegram user.
// AccountNumber, BankName and PhoneNumber are stored encrypted; the
// store encrypts on write and decrypts on read, so values on this
// struct are plaintext everywhere outside the store.
type Account struct {
	UserID    int64 `gorm:"primaryKey"` // Telegram User ID
	CreatedAt time.Time
	UpdatedAt time.Time

	AccountNumber string
	BankName      string
	PhoneNumber   string

	DepositedAmount float64 // principal currently held, never negative
	WithdrawnAmount float64 // cumulative historical withdrawals
	IncomeToday     float64 // interest accrued from clicks
	ClickCount      int64   // accrual events credited to this account
}
