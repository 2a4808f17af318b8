package services

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// maxReferenceLength is the gateway's limit for external_reference.
const maxReferenceLength = 256

// Reference is the decoded external_reference of a payment. It is one of
// OrderReference, TicketBatchReference or UnrecognizedReference.
type Reference interface {
	Kind() string
}

type OrderReference struct {
	OrderID string
}

type TicketBatchReference struct {
	Batch     string
	TicketIDs []string
}

type UnrecognizedReference struct {
	Raw string
}

func (OrderReference) Kind() string        { return "order" }
func (TicketBatchReference) Kind() string  { return "tickets" }
func (UnrecognizedReference) Kind() string { return "unrecognized" }

type ticketBatchJSON struct {
	Kind  string   `json:"kind"`
	Batch string   `json:"batch"`
	IDs   []string `json:"ids"`
}

var orderIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// EncodeTicketBatch renders the external reference for a ticket purchase.
func EncodeTicketBatch(batch string, ticketIDs []string) (string, error) {
	b, err := json.Marshal(ticketBatchJSON{Kind: "tickets", Batch: batch, IDs: ticketIDs})
	if err != nil {
		return "", err
	}
	if len(b) > maxReferenceLength {
		return "", fmt.Errorf("ticket batch reference is %d bytes, limit is %d", len(b), maxReferenceLength)
	}
	return string(b), nil
}

// DecodeReference never fails: anything that is neither a ticket batch nor
// a plain order id comes back as UnrecognizedReference.
func DecodeReference(raw string) Reference {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "{") {
		var b ticketBatchJSON
		if err := json.Unmarshal([]byte(s), &b); err != nil || b.Kind != "tickets" || len(b.IDs) == 0 {
			return UnrecognizedReference{Raw: raw}
		}
		for _, id := range b.IDs {
			if id == "" {
				return UnrecognizedReference{Raw: raw}
			}
		}
		return TicketBatchReference{Batch: b.Batch, TicketIDs: b.IDs}
	}
	if orderIDPattern.MatchString(s) {
		return OrderReference{OrderID: s}
	}
	return UnrecognizedReference{Raw: raw}
}
