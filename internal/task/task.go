package task

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the pipeline stage a task has reached.
type Status string

const (
	// StatusPending means the order was received from the cloud but not yet
	// handed to the billing terminal.
	StatusPending Status = "PENDING"
	// StatusProcessed means the export artifact was written and the agent is
	// waiting for the terminal to confirm billing.
	StatusProcessed Status = "PROCESSED"
	// StatusBilled means the terminal confirmed billing and the invoice
	// number is recorded.
	StatusBilled Status = "BILLED"
	// StatusSynced means the cloud acknowledged the billing confirmation.
	StatusSynced Status = "SYNCED"
)

// Statuses lists every status in pipeline order.
var Statuses = []Status{StatusPending, StatusProcessed, StatusBilled, StatusSynced}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s.index() >= 0
}

// Next returns the status that follows s, or "" if s is terminal or unknown.
func (s Status) Next() Status {
	i := s.index()
	if i < 0 || i == len(Statuses)-1 {
		return ""
	}
	return Statuses[i+1]
}

// Prev returns the status that precedes s, or "" if s is the first status or
// unknown.
func (s Status) Prev() Status {
	i := s.index()
	if i <= 0 {
		return ""
	}
	return Statuses[i-1]
}

func (s Status) index() int {
	for i, st := range Statuses {
		if st == s {
			return i
		}
	}
	return -1
}

// ParseStatus converts a string to a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}

// Task is the local record of one cloud order moving through the billing
// handoff.
type Task struct {
	// ID is assigned by the cloud order system and is the idempotency key.
	ID string `json:"id"`

	// OrderNumber is the terminal-facing reference and names the files
	// exchanged with the billing terminal. Unique across tasks.
	OrderNumber string `json:"orderNumber"`

	// Items holds the order's line items exactly as received. The agent
	// only decodes them to render the export artifact.
	Items json.RawMessage `json:"items"`

	// TotalAmount is informational; it is never recomputed.
	TotalAmount float64 `json:"totalAmount"`

	Status Status `json:"status"`

	// InvoiceNumber is set once, on the transition to BILLED.
	InvoiceNumber string `json:"invoiceNumber,omitempty"`

	// RetryCount counts failed attempts at the current stage. It resets
	// when the task advances.
	RetryCount int `json:"retryCount"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Item is one line of an order as the storefront sends it.
type Item struct {
	Name  string  `json:"name"`
	Size  string  `json:"size"`
	Price float64 `json:"price"`
	Qty   int     `json:"qty"`
}

// DecodeItems parses the opaque items payload of a task.
// A null or empty payload decodes to an empty slice.
func DecodeItems(raw json.RawMessage) ([]Item, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return []Item{}, nil
	}
	var items []Item
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	return items, nil
}
