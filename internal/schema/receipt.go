// Package schema is the sole gate between untrusted extracted JSON and
// persistence. It normalizes the loose payload the model produced and
// either returns a fully-typed receipt or the complete list of violated
// fields. Nothing is coerced: garbage is rejected, not repaired.
package schema

import (
	"fmt"
	"math"
	"strings"
	"time"

	"receiptly/internal/models"

	"github.com/go-playground/validator/v10"
)

const (
	MinMerchantLen = 2
	MaxMerchantLen = 100
	MaxAmount      = 100_000
)

// earliest acceptable receipt date
var minDate = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError enumerates every violated field, not just the first.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return "receipt validation failed: " + strings.Join(parts, "; ")
}

// ReceiptData is the validated, fully-typed extraction payload.
type ReceiptData struct {
	Merchant string
	Amount   float64
	Date     time.Time
	Category models.Category
	Items    []models.ReceiptItem
}

// receiptFields carries the rules the validator library can express as
// struct tags; date range and items are checked separately.
type receiptFields struct {
	Merchant string          `validate:"required,min=2,max=100"`
	Amount   float64         `validate:"gt=0,lte=100000"`
	Category models.Category `validate:"required,category"`
}

type itemFields struct {
	Name       string  `validate:"min=2"`
	Quantity   float64 `validate:"gt=0"`
	UnitPrice  float64 `validate:"gt=0"`
	TotalPrice float64 `validate:"gt=0"`
}

type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New()

	// Unknown categories fail outright. Mapping garbage to "other"
	// would make it impossible to tell bad extractions from valid
	// other-category receipts.
	_ = v.RegisterValidation("category", func(fl validator.FieldLevel) bool {
		return models.Category(fl.Field().String()).Valid()
	})

	return &Validator{validate: v}
}

// Validate normalizes and validates a raw extraction. On failure it
// returns a *ValidationError listing all violations.
func (s *Validator) Validate(raw RawReceipt) (*ReceiptData, error) {
	var fieldErrs []FieldError

	merchant := strings.TrimSpace(raw.Merchant)
	amount := round2(raw.Amount.Value())
	category := models.Category(strings.ToLower(strings.TrimSpace(raw.Category)))

	fields := receiptFields{
		Merchant: merchant,
		Amount:   amount,
		Category: category,
	}
	if err := s.validate.Struct(fields); err != nil {
		var verrs validator.ValidationErrors
		if ok := asValidationErrors(err, &verrs); !ok {
			return nil, err
		}
		for _, fe := range verrs {
			fieldErrs = append(fieldErrs, translateFieldError(fe))
		}
	}

	// Date is coerced strictly: a missing or unparseable date fails
	// validation instead of silently becoming "now".
	date, dateErr := parseDate(raw.Date)
	switch {
	case dateErr != nil:
		fieldErrs = append(fieldErrs, *dateErr)
	case date.Before(minDate):
		fieldErrs = append(fieldErrs, FieldError{Field: "date", Message: "Date cannot be before 2000"})
	case date.After(time.Now()):
		fieldErrs = append(fieldErrs, FieldError{Field: "date", Message: "Date cannot be in the future"})
	}

	// One invalid item invalidates the whole extraction; partial item
	// lists are never persisted.
	var items []models.ReceiptItem
	for i, raw := range raw.Items {
		item := models.ReceiptItem{
			Name:       strings.TrimSpace(raw.Name),
			Quantity:   raw.Quantity.Value(),
			UnitPrice:  round2(raw.UnitPrice.Value()),
			TotalPrice: round2(raw.TotalPrice.Value()),
		}
		fieldErrs = append(fieldErrs, s.validateItem(i, item)...)
		items = append(items, item)
	}

	if len(fieldErrs) > 0 {
		return nil, &ValidationError{Fields: fieldErrs}
	}

	return &ReceiptData{
		Merchant: merchant,
		Amount:   amount,
		Date:     date,
		Category: category,
		Items:    items,
	}, nil
}

func (s *Validator) validateItem(index int, item models.ReceiptItem) []FieldError {
	fields := itemFields{
		Name:       item.Name,
		Quantity:   item.Quantity,
		UnitPrice:  item.UnitPrice,
		TotalPrice: item.TotalPrice,
	}
	err := s.validate.Struct(fields)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if ok := asValidationErrors(err, &verrs); !ok {
		return []FieldError{{Field: fmt.Sprintf("items[%d]", index), Message: "Invalid line item"}}
	}

	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		var msg string
		var name string
		switch fe.StructField() {
		case "Name":
			name, msg = "name", "Item name too short"
		case "Quantity":
			name, msg = "quantity", "Item quantity must be positive"
		case "UnitPrice":
			name, msg = "unit_price", "Item unit price must be positive"
		case "TotalPrice":
			name, msg = "total_price", "Item line total must be positive"
		}
		out = append(out, FieldError{
			Field:   fmt.Sprintf("items[%d].%s", index, name),
			Message: msg,
		})
	}
	return out
}

func translateFieldError(fe validator.FieldError) FieldError {
	switch fe.StructField() {
	case "Merchant":
		switch fe.Tag() {
		case "required", "min":
			return FieldError{Field: "merchant", Message: "Merchant name must be at least 2 characters"}
		case "max":
			return FieldError{Field: "merchant", Message: "Merchant name cannot exceed 100 characters"}
		}
	case "Amount":
		switch fe.Tag() {
		case "gt":
			return FieldError{Field: "amount", Message: "Amount must be positive"}
		case "lte":
			return FieldError{Field: "amount", Message: "Amount cannot exceed 100,000"}
		}
	case "Category":
		return FieldError{Field: "category", Message: "Invalid category provided"}
	}
	return FieldError{Field: strings.ToLower(fe.StructField()), Message: "Invalid value"}
}

// dateLayouts covers the formats vision models actually emit: ISO
// dates, full timestamps, and US-style slashed dates.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"01/02/2006",
	"2006/01/02",
}

func parseDate(s string) (time.Time, *FieldError) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, &FieldError{Field: "date", Message: "Date is required"}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &FieldError{Field: "date", Message: "Invalid date format"}
}

func round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Round(v*100) / 100
}
