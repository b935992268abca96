package workflow

import "github.com/google/uuid"

// Notifier delivers text to users and to the approver. Implemented by
// the bot transport; the workflow never talks to Telegram directly.
//
// Delivery failures are logged by the caller and not retried. A failed
// notification never rolls back an already-applied transaction.
type Notifier interface {
	// NotifyUser sends plain text to a user's chat.
	NotifyUser(chatID int64, text string) error
	// NotifyApprover sends text to the approver with approve/deny
	// controls bound to the given transaction id.
	NotifyApprover(text string, txID uuid.UUID) error
}
