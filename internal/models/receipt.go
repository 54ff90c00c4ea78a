package models

import (
	"time"

	"github.com/google/uuid"
)

type Category string

const (
	CategoryFood      Category = "food"
	CategoryTransport Category = "transport"
	CategoryLodging   Category = "lodging"
	CategoryOptical   Category = "optical"
	CategoryOther     Category = "other"
)

// Categories lists every recognized category in display order.
func Categories() []Category {
	return []Category{
		CategoryFood,
		CategoryTransport,
		CategoryLodging,
		CategoryOptical,
		CategoryOther,
	}
}

func (c Category) Valid() bool {
	switch c {
	case CategoryFood, CategoryTransport, CategoryLodging, CategoryOptical, CategoryOther:
		return true
	}
	return false
}

// ReceiptItem is a single line item extracted from a receipt image.
// The list is stored as a jsonb column on the receipt row.
type ReceiptItem struct {
	Name       string  `json:"name"`
	Quantity   float64 `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	TotalPrice float64 `json:"total_price"`
}

// Receipt is the persisted extraction result. UpdatedAt doubles as the
// optimistic-lock token: an update only succeeds while the stored value
// still equals the one the caller last read.
type Receipt struct {
	ID           uuid.UUID     `db:"id"`
	UserID       uuid.UUID     `db:"user_id"`
	OriginalFile string        `db:"original_file"`
	Merchant     string        `db:"merchant"`
	Amount       float64       `db:"amount"`
	Date         time.Time     `db:"date"`
	Category     Category      `db:"category"`
	Items        []ReceiptItem `db:"items"`
	IsVerified   bool          `db:"is_verified"`
	CreatedAt    time.Time     `db:"created_at"`
	UpdatedAt    time.Time     `db:"updated_at"`
}
