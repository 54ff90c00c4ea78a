package schema

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"receiptly/internal/models"
)

func validRaw() RawReceipt {
	return RawReceipt{
		Merchant: "Acme Corp",
		Amount:   FlexNumber(12.50),
		Date:     "2024-01-01",
		Category: "other",
	}
}

func mustFail(t *testing.T, raw RawReceipt) *ValidationError {
	t.Helper()
	_, err := NewValidator().Validate(raw)
	if err == nil {
		t.Fatal("expected validation to fail")
	}
	verr, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T: %v", err, err)
	}
	return verr
}

func hasField(verr *ValidationError, field string) bool {
	for _, fe := range verr.Fields {
		if fe.Field == field {
			return true
		}
	}
	return false
}

func TestValidateAcceptsCleanExtraction(t *testing.T) {
	data, err := NewValidator().Validate(validRaw())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if data.Merchant != "Acme Corp" {
		t.Errorf("merchant = %q", data.Merchant)
	}
	if data.Amount != 12.50 {
		t.Errorf("amount = %v", data.Amount)
	}
	if data.Category != models.CategoryOther {
		t.Errorf("category = %q", data.Category)
	}
	if want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC); !data.Date.Equal(want) {
		t.Errorf("date = %v, want %v", data.Date, want)
	}
}

func TestValidateTrimsAndRounds(t *testing.T) {
	raw := validRaw()
	raw.Merchant = "  Acme Corp  "
	raw.Amount = FlexNumber(12.505)

	data, err := NewValidator().Validate(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if data.Merchant != "Acme Corp" {
		t.Errorf("merchant not trimmed: %q", data.Merchant)
	}
	if data.Amount != 12.51 {
		t.Errorf("amount not rounded to 2 decimals: %v", data.Amount)
	}
}

func TestValidateMerchantRules(t *testing.T) {
	raw := validRaw()
	raw.Merchant = "A"
	if !hasField(mustFail(t, raw), "merchant") {
		t.Error("short merchant not reported")
	}

	raw.Merchant = strings.Repeat("x", 101)
	if !hasField(mustFail(t, raw), "merchant") {
		t.Error("long merchant not reported")
	}
}

func TestValidateAmountRules(t *testing.T) {
	for _, amount := range []float64{0, -5, 100_000.01} {
		raw := validRaw()
		raw.Amount = FlexNumber(amount)
		if !hasField(mustFail(t, raw), "amount") {
			t.Errorf("amount %v not reported", amount)
		}
	}

	raw := validRaw()
	raw.Amount = FlexNumber(100_000)
	if _, err := NewValidator().Validate(raw); err != nil {
		t.Errorf("amount at upper bound rejected: %v", err)
	}
}

func TestValidateDateRules(t *testing.T) {
	cases := map[string]string{
		"missing":       "",
		"unparseable":   "not-a-date",
		"before 2000":   "1999-12-31",
		"in the future": time.Now().AddDate(1, 0, 0).Format("2006-01-02"),
	}
	for name, date := range cases {
		raw := validRaw()
		raw.Date = date
		if !hasField(mustFail(t, raw), "date") {
			t.Errorf("%s date not reported", name)
		}
	}
}

func TestValidateDateLayouts(t *testing.T) {
	for _, date := range []string{"2024-01-01", "01/15/2024", "2024/01/15", "2024-01-01T10:30:00Z"} {
		raw := validRaw()
		raw.Date = date
		if _, err := NewValidator().Validate(raw); err != nil {
			t.Errorf("date %q rejected: %v", date, err)
		}
	}
}

func TestValidateUnknownCategoryRejectedNotCoerced(t *testing.T) {
	raw := validRaw()
	raw.Category = "groceries"
	verr := mustFail(t, raw)
	if !hasField(verr, "category") {
		t.Fatal("unknown category not reported")
	}
}

func TestValidateCategoryCaseInsensitive(t *testing.T) {
	raw := validRaw()
	raw.Category = "Optical"
	data, err := NewValidator().Validate(raw)
	if err != nil {
		t.Fatalf("capitalized known category rejected: %v", err)
	}
	if data.Category != models.CategoryOptical {
		t.Errorf("category = %q", data.Category)
	}
}

func TestValidateItems(t *testing.T) {
	raw := validRaw()
	raw.Items = []RawItem{
		{Name: "Lentillas Acuvue", Quantity: 6, UnitPrice: 27.08, TotalPrice: 162.45},
		{Name: "x", Quantity: 0, UnitPrice: 1, TotalPrice: 1},
	}

	verr := mustFail(t, raw)
	if !hasField(verr, "items[1].name") {
		t.Error("short item name not reported")
	}
	if !hasField(verr, "items[1].quantity") {
		t.Error("zero item quantity not reported")
	}
	if hasField(verr, "items[0].name") {
		t.Error("valid item reported as invalid")
	}
}

func TestValidateReportsAllViolations(t *testing.T) {
	raw := RawReceipt{
		Merchant: "x",
		Amount:   FlexNumber(-1),
		Date:     "",
		Category: "bogus",
	}
	verr := mustFail(t, raw)
	for _, field := range []string{"merchant", "amount", "date", "category"} {
		if !hasField(verr, field) {
			t.Errorf("field %q missing from %v", field, verr.Fields)
		}
	}
}

func TestFlexNumberAcceptsStringsAndNumbers(t *testing.T) {
	var raw RawReceipt
	payload := `{"merchant":"Acme Corp","amount":"324900.50","date":"2024-01-01","category":"other"}`
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if raw.Amount.Value() != 324900.50 {
		t.Errorf("quoted amount = %v", raw.Amount.Value())
	}

	payload = `{"merchant":"Acme Corp","amount":12.5,"date":"2024-01-01","category":"other"}`
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if raw.Amount.Value() != 12.5 {
		t.Errorf("numeric amount = %v", raw.Amount.Value())
	}
}

func TestFlexNumberGarbageFailsAmountValidation(t *testing.T) {
	var raw RawReceipt
	payload := `{"merchant":"Acme Corp","amount":"lots","date":"2024-01-01","category":"other"}`
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !hasField(mustFail(t, raw), "amount") {
		t.Error("garbage amount not reported against the amount field")
	}
}

func TestCheckFieldHelpers(t *testing.T) {
	if CheckMerchant("ok") != nil {
		t.Error("CheckMerchant rejected valid name")
	}
	if CheckMerchant("x") == nil {
		t.Error("CheckMerchant accepted 1-char name")
	}
	if CheckAmount(10) != nil {
		t.Error("CheckAmount rejected valid amount")
	}
	if CheckAmount(0) == nil {
		t.Error("CheckAmount accepted zero")
	}
	if CheckDate(time.Now().Add(24*time.Hour)) == nil {
		t.Error("CheckDate accepted future date")
	}
	if _, fe := CheckCategory("food"); fe != nil {
		t.Error("CheckCategory rejected food")
	}
	if _, fe := CheckCategory("snacks"); fe == nil {
		t.Error("CheckCategory accepted unknown value")
	}
}
