package events

import "time"

// Type enumerates the notifications pushed to UI sessions.
type Type string

const (
	TypeBalanceUpdate  Type = "balance_update"
	TypeTradeOpened    Type = "trade_opened"
	TypeTradeCompleted Type = "trade_completed"
)

// Event is one notification for a single user.
type Event struct {
	Type    Type      `json:"type"`
	UserID  string    `json:"user_id"`
	Payload any       `json:"payload"`
	At      time.Time `json:"at"`
}

// Publisher accepts events for best-effort delivery. Implementations must not
// block the caller.
type Publisher interface {
	Publish(evt Event)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(Event) {}
