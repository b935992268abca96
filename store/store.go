// Package store persists account records in sqlite through gorm.
// The three free-text fields are encrypted before they reach the
// database and decrypted on read; numeric fields stay plaintext.
package store

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"interest-bank-bot/model"
)

// ErrNotFound is returned when no account row exists for a user id.
var ErrNotFound = errors.New("account not found")

// Store owns all reads and writes of persisted accounts.
type Store struct {
	db     *gorm.DB
	cipher *Cipher
}

func New(db *gorm.DB, cipher *Cipher) *Store {
	return &Store{db: db, cipher: cipher}
}

// Get fetches and decrypts one account. A record whose encrypted
// fields cannot be opened is reported as an error, never returned
// with garbage in place of plaintext.
func (s *Store) Get(userID int64) (*model.Account, error) {
	var acct model.Account
	if err := s.db.First(&acct, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load account %d: %w", userID, err)
	}
	if err := s.openFields(&acct); err != nil {
		return nil, fmt.Errorf("decrypt account %d: %w", userID, err)
	}
	return &acct, nil
}

// Upsert writes the full record in a single atomic save, keyed by
// UserID. The caller's struct is not modified; encryption happens on
// a copy.
func (s *Store) Upsert(acct *model.Account) error {
	row := *acct
	if err := s.sealFields(&row); err != nil {
		return fmt.Errorf("encrypt account %d: %w", acct.UserID, err)
	}
	if err := s.db.Save(&row).Error; err != nil {
		return fmt.Errorf("save account %d: %w", acct.UserID, err)
	}
	return nil
}

// Delete removes an account row.
func (s *Store) Delete(userID int64) error {
	res := s.db.Delete(&model.Account{}, userID)
	if res.Error != nil {
		return fmt.Errorf("delete account %d: %w", userID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Credit increments a recipient's principal with one UPDATE, without
// touching the caller's in-memory state.
func (s *Store) Credit(recipientID int64, amount float64) error {
	return s.credit(s.db, recipientID, amount)
}

// ApplyTransfer persists the requester's debited record and credits the
// recipient inside one database transaction: either both legs land or
// neither does.
func (s *Store) ApplyTransfer(from *model.Account, recipientID int64, amount float64) error {
	row := *from
	if err := s.sealFields(&row); err != nil {
		return fmt.Errorf("encrypt account %d: %w", from.UserID, err)
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&row).Error; err != nil {
			return fmt.Errorf("save account %d: %w", from.UserID, err)
		}
		return s.credit(tx, recipientID, amount)
	})
}

func (s *Store) credit(db *gorm.DB, recipientID int64, amount float64) error {
	res := db.Model(&model.Account{}).
		Where("user_id = ?", recipientID).
		UpdateColumn("deposited_amount", gorm.Expr("deposited_amount + ?", amount))
	if res.Error != nil {
		return fmt.Errorf("credit account %d: %w", recipientID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) sealFields(acct *model.Account) error {
	var err error
	if acct.AccountNumber, err = s.cipher.Seal(acct.AccountNumber); err != nil {
		return err
	}
	if acct.BankName, err = s.cipher.Seal(acct.BankName); err != nil {
		return err
	}
	acct.PhoneNumber, err = s.cipher.Seal(acct.PhoneNumber)
	return err
}

func (s *Store) openFields(acct *model.Account) error {
	var err error
	if acct.AccountNumber, err = s.cipher.Open(acct.AccountNumber); err != nil {
		return err
	}
	if acct.BankName, err = s.cipher.Open(acct.BankName); err != nil {
		return err
	}
	acct.PhoneNumber, err = s.cipher.Open(acct.PhoneNumber)
	return err
}
