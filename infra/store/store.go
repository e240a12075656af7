package store

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Status is the canonical transaction status vocabulary. Every
// driver-specific status string maps into one of these.
type Status string

const (
	StatusPending  Status = "pending"
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
	StatusRefunded Status = "refunded"
)

// Terminal reports whether a status ends the transaction lifecycle.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusRefunded
}

// ErrNotFound is returned when no transaction matches a lookup.
var ErrNotFound = errors.New("transaction not found")

// JSONMap is a free-form JSON object stored as a TEXT column.
type JSONMap map[string]any

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON column: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(src any) error {
	if src == nil {
		*m = nil
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported JSON column type %T", src)
	}
	if len(data) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(data, m)
}

// Transaction is the durable record of one payment lifecycle event. It
// is created when an outbound call is initiated, or at first sight of
// an inbound confirmation with no prior match, and mutated into a
// terminal state by whichever confirmation arrives first.
type Transaction struct {
	ID             string    `json:"id"`
	PayableType    string    `json:"payableType,omitempty"`
	PayableID      string    `json:"payableId,omitempty"`
	UserType       string    `json:"userType,omitempty"`
	UserID         string    `json:"userId,omitempty"`
	Driver         string    `json:"driver"`
	Action         string    `json:"action"`
	Status         Status    `json:"status"`
	TransactionID  string    `json:"transactionId,omitempty"`
	ReferenceID    string    `json:"referenceId,omitempty"`
	Amount         *float64  `json:"amount,omitempty"`
	Currency       string    `json:"currency,omitempty"`
	RequestPayload JSONMap   `json:"requestPayload,omitempty"`
	ResponseData   JSONMap   `json:"responseData,omitempty"`
	UserPayload    JSONMap   `json:"userPayloadData,omitempty"`
	Metadata       JSONMap   `json:"metadata,omitempty"`
	HTTPStatusCode int       `json:"httpStatusCode,omitempty"`
	ErrorMessage   string    `json:"errorMessage,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// IsSuccessful is derived from Status so the two can never disagree.
func (t *Transaction) IsSuccessful() bool {
	return t.Status == StatusSuccess
}

// MergeResponseData merges inbound provider data into the cumulative
// response snapshot. Existing keys are preserved under nested maps and
// overwritten at the leaves, so reapplying the same delivery is a no-op.
func (t *Transaction) MergeResponseData(data JSONMap) {
	t.ResponseData = MergeJSON(t.ResponseData, data)
}

// MergeJSON deep-merges src into dst and returns the result. Nested
// maps merge recursively; scalar collisions take the src value.
func MergeJSON(dst, src JSONMap) JSONMap {
	if dst == nil {
		dst = JSONMap{}
	}
	for key, value := range src {
		existing, ok := dst[key]
		if ok {
			dstMap, dstOK := existing.(map[string]any)
			srcMap, srcOK := value.(map[string]any)
			if dstOK && srcOK {
				dst[key] = map[string]any(MergeJSON(dstMap, srcMap))
				continue
			}
		}
		dst[key] = value
	}
	return dst
}

// TransactionStore is the durable record store for payment lifecycles.
type TransactionStore interface {
	// Create inserts a new transaction. A missing ID is generated.
	Create(ctx context.Context, txn *Transaction) error

	// Update persists a mutated transaction.
	Update(ctx context.Context, txn *Transaction) error

	// Get returns a transaction by primary key.
	Get(ctx context.Context, id string) (*Transaction, error)

	// FindLatest returns the most recently created transaction for the
	// driver whose transaction_id or reference_id equals externalID.
	FindLatest(ctx context.Context, driver, externalID string) (*Transaction, error)

	// Reconcile runs find-or-create-then-update as one atomic unit.
	// apply receives the matched transaction (found=true) or a fresh
	// zero-value one (found=false) and mutates it; the store then
	// inserts or updates accordingly. A uniqueness conflict on
	// (driver, transaction_id) during insert means a concurrent
	// handler created the record first; the conflict is resolved by
	// re-matching and applying as an update.
	Reconcile(ctx context.Context, driver, externalID string, apply func(txn *Transaction, found bool) error) (*Transaction, error)

	// LatestForPayable returns the newest transaction owned by a payable.
	LatestForPayable(ctx context.Context, payableType, payableID string) (*Transaction, error)

	// TotalPaid sums the amounts of successful pay transactions for a payable.
	TotalPaid(ctx context.Context, payableType, payableID string) (float64, error)

	// HasSuccessfulPayment reports whether a payable has any successful payment.
	HasSuccessfulPayment(ctx context.Context, payableType, payableID string) (bool, error)
}
