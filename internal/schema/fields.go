package schema

import (
	"strings"
	"time"

	"receiptly/internal/models"
)

// Field-level checks backing the verification workflow's inline
// validation. Each returns nil when the single staged value is
// acceptable, so one bad field never blocks editing the others.

func CheckMerchant(merchant string) *FieldError {
	merchant = strings.TrimSpace(merchant)
	if len(merchant) < MinMerchantLen {
		return &FieldError{Field: "merchant", Message: "Merchant name must be at least 2 characters"}
	}
	if len(merchant) > MaxMerchantLen {
		return &FieldError{Field: "merchant", Message: "Merchant name cannot exceed 100 characters"}
	}
	return nil
}

func CheckAmount(amount float64) *FieldError {
	if amount <= 0 {
		return &FieldError{Field: "amount", Message: "Amount must be positive"}
	}
	if amount > MaxAmount {
		return &FieldError{Field: "amount", Message: "Amount cannot exceed 100,000"}
	}
	return nil
}

func CheckDate(date time.Time) *FieldError {
	if date.IsZero() {
		return &FieldError{Field: "date", Message: "Date is required"}
	}
	if date.Before(minDate) {
		return &FieldError{Field: "date", Message: "Date cannot be before 2000"}
	}
	if date.After(time.Now()) {
		return &FieldError{Field: "date", Message: "Date cannot be in the future"}
	}
	return nil
}

// CheckCategory recognizes enum members case-insensitively but never
// maps unknown values to a fallback.
func CheckCategory(category string) (models.Category, *FieldError) {
	c := models.Category(strings.ToLower(strings.TrimSpace(category)))
	if !c.Valid() {
		return "", &FieldError{Field: "category", Message: "Invalid category provided"}
	}
	return c, nil
}

// ParseDate exposes the extraction date coercion for callers staging
// user-entered corrections.
func ParseDate(s string) (time.Time, *FieldError) {
	return parseDate(s)
}
