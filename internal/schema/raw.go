package schema

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// RawReceipt is the loosely-typed payload parsed out of the model's
// free-form response. Every field is suspect until Validate accepts it.
type RawReceipt struct {
	Merchant string     `json:"merchant"`
	Amount   FlexNumber `json:"amount"`
	Date     string     `json:"date"`
	Category string     `json:"category"`
	Items    []RawItem  `json:"items"`
}

type RawItem struct {
	Name       string     `json:"name"`
	Quantity   FlexNumber `json:"quantity"`
	UnitPrice  FlexNumber `json:"unit_price"`
	TotalPrice FlexNumber `json:"total_price"`
}

// FlexNumber accepts both JSON numbers and quoted numeric strings;
// vision models switch between the two freely. Unparseable values
// become NaN so the violation is reported against the field rather
// than failing the whole parse.
type FlexNumber float64

func (n *FlexNumber) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*n = 0
		return nil
	}

	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		str = strings.TrimSpace(str)
		if str == "" {
			*n = 0
			return nil
		}
		f, err := strconv.ParseFloat(str, 64)
		if err != nil {
			*n = FlexNumber(math.NaN())
			return nil
		}
		*n = FlexNumber(f)
		return nil
	}

	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*n = FlexNumber(f)
	return nil
}

func (n FlexNumber) Value() float64 {
	return float64(n)
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	return errors.As(err, target)
}
