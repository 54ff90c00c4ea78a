package dto

// ProcessReceiptRequest triggers the extraction pipeline for an
// already-uploaded image. UserID must match the authenticated caller.
type ProcessReceiptRequest struct {
	FilePath string `json:"filePath"`
	UserID   string `json:"userId"`
}

type ReceiptItemResponse struct {
	Name       string  `json:"name"`
	Quantity   float64 `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	TotalPrice float64 `json:"total_price"`
}

type ReceiptResponse struct {
	ID           string                `json:"id"`
	OriginalFile string                `json:"original_file"`
	Merchant     string                `json:"merchant"`
	Amount       float64               `json:"amount"`
	Date         string                `json:"date"`
	Category     string                `json:"category"`
	Items        []ReceiptItemResponse `json:"items,omitempty"`
	IsVerified   bool                  `json:"is_verified"`
	ImageURL     string                `json:"image_url,omitempty"`
	CreatedAt    string                `json:"created_at"`
	UpdatedAt    string                `json:"updated_at"`
}

// UpdateReceiptRequest stages corrections against the copy identified
// by UpdatedAt, the caller's optimistic-lock token. Nil fields are left
// untouched.
type UpdateReceiptRequest struct {
	Merchant  *string  `json:"merchant"`
	Amount    *float64 `json:"amount"`
	Date      *string  `json:"date"`
	Category  *string  `json:"category"`
	UpdatedAt string   `json:"updatedAt"`
}

// VerifyReceiptRequest commits the full set of staged fields and flips
// the verified flag in one atomic update.
type VerifyReceiptRequest struct {
	Merchant  string  `json:"merchant"`
	Amount    float64 `json:"amount"`
	Date      string  `json:"date"`
	Category  string  `json:"category"`
	UpdatedAt string  `json:"updatedAt"`
}

type ChartDatum struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Color string  `json:"color"`
}

type UploadReceiptResponse struct {
	FilePath string `json:"filePath"`
}
