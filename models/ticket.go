package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TicketStatus string

const (
	TicketPending     TicketStatus = "pending"
	TicketValid       TicketStatus = "valid"
	TicketUsed        TicketStatus = "used"
	TicketCancelled   TicketStatus = "cancelled"
	TicketTransferred TicketStatus = "transferred"
)

func (s TicketStatus) Valid() bool {
	switch s {
	case TicketPending, TicketValid, TicketUsed, TicketCancelled, TicketTransferred:
		return true
	}
	return false
}

type Attendee struct {
	Name     string `json:"name"`
	Document string `json:"document"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
}

type Ticket struct {
	ID              string          `json:"id"`
	EventID         string          `json:"event_id"`
	LotID           string          `json:"lot_id"`
	TicketTypeID    string          `json:"ticket_type_id"`
	PurchaserID     string          `json:"purchaser_id,omitempty"` // empty for guests
	PaymentRef      string          `json:"payment_ref"`
	PaymentID       string          `json:"payment_id,omitempty"`
	QRCode          string          `json:"qr_code"`
	ValidationToken string          `json:"-"`
	Attendee        Attendee        `json:"attendee"`
	Price           decimal.Decimal `json:"price"`
	Status          TicketStatus    `json:"status"`
	PurchasedAt     time.Time       `json:"purchased_at"`
	UsedAt          *time.Time      `json:"used_at,omitempty"`
	Notes           string          `json:"notes,omitempty"`
}

type ScanOutcome string

const (
	ScanValid          ScanOutcome = "valid"
	ScanAlreadyUsed    ScanOutcome = "already_used"
	ScanCancelled      ScanOutcome = "cancelled"
	ScanTransferred    ScanOutcome = "transferred"
	ScanPendingPayment ScanOutcome = "pending_payment"
	ScanNotFound       ScanOutcome = "not_found"
	ScanWrongEvent     ScanOutcome = "wrong_event"
)

// ScanAttempt is an append-only audit row written for every authorized scan.
type ScanAttempt struct {
	ID        string      `json:"id"`
	TicketID  string      `json:"ticket_id,omitempty"` // empty when the code matched nothing
	EventID   string      `json:"event_id"`            // event the scanner was operating at
	ActorID   string      `json:"actor_id"`
	Outcome   ScanOutcome `json:"outcome"`
	Location  string      `json:"location,omitempty"`
	ScannedAt time.Time   `json:"scanned_at"`
}
