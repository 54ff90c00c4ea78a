package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"receiptly/internal/dto"
	"receiptly/internal/files"
	"receiptly/internal/models"
	"receiptly/internal/repository"
	"receiptly/internal/schema"
	"receiptly/pkg/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrImageDownload marks a storage read failure ahead of extraction.
var ErrImageDownload = errors.New("failed to download image")

// InputError is a 400-class request problem: missing parameters,
// rejected uploads, malformed tokens.
type InputError struct {
	Message string
}

func (e *InputError) Error() string {
	return e.Message
}

type receiptStore interface {
	Create(ctx context.Context, receipt *models.Receipt) error
	GetByID(ctx context.Context, id, userID uuid.UUID) (*models.Receipt, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Receipt, error)
	Update(ctx context.Context, id, userID uuid.UUID, expectedUpdatedAt time.Time, fields map[string]any) (*models.Receipt, error)
	Delete(ctx context.Context, id, userID uuid.UUID) error
}

type objectStore interface {
	Upload(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error)
	Download(ctx context.Context, bucket, path string) ([]byte, error)
	SignedURL(ctx context.Context, bucket, path string) (string, error)
	Move(ctx context.Context, bucket, src, dst string) error
	Delete(ctx context.Context, bucket, path string) error
}

type extractor interface {
	Extract(ctx context.Context, image []byte, mimeType string) (*schema.RawReceipt, error)
}

// ReceiptService runs the capture pipeline (upload, extraction,
// validation, persistence) and the verification workflow on top of it.
type ReceiptService struct {
	receipts  receiptStore
	storage   objectStore
	extractor extractor
	validator *schema.Validator
	bucket    string
	allowWebP bool
	logger    *zap.Logger
}

func NewReceiptService(
	receipts receiptStore,
	store objectStore,
	extractor extractor,
	validator *schema.Validator,
	bucket string,
	allowWebP bool,
	logger *zap.Logger,
) *ReceiptService {
	return &ReceiptService{
		receipts:  receipts,
		storage:   store,
		extractor: extractor,
		validator: validator,
		bucket:    bucket,
		allowWebP: allowWebP,
		logger:    logger,
	}
}

// Upload validates a candidate image server-side (the client-side check
// is untrusted) and stores it under the pending prefix.
func (s *ReceiptService) Upload(ctx context.Context, userID uuid.UUID, filename, contentType string, data []byte) (*dto.UploadReceiptResponse, error) {
	result := files.Validate(int64(len(data)), contentType, files.Options{AllowWebP: s.allowWebP})
	if !result.Valid {
		return nil, &InputError{Message: result.Reason}
	}

	name := uuid.New().String() + strings.ToLower(path.Ext(filename))
	objectPath := storage.ObjectPath(storage.StatusPending, userID.String(), name)

	stored, err := s.storage.Upload(ctx, s.bucket, objectPath, data, contentType)
	if err != nil {
		return nil, fmt.Errorf("failed to store receipt image: %w", err)
	}

	return &dto.UploadReceiptResponse{FilePath: stored}, nil
}

// Process runs one pipeline pass: download, extract, validate, persist.
// The resulting receipt is unverified until the user confirms it.
func (s *ReceiptService) Process(ctx context.Context, userID uuid.UUID, filePath string) (*dto.ReceiptResponse, error) {
	image, err := s.storage.Download(ctx, s.bucket, filePath)
	if err != nil {
		s.logger.Error("Receipt image download failed",
			zap.String("path", filePath),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %s", ErrImageDownload, filePath)
	}

	raw, err := s.extractor.Extract(ctx, image, mimeFromPath(filePath))
	if err != nil {
		return nil, err
	}

	data, err := s.validator.Validate(*raw)
	if err != nil {
		return nil, err
	}

	// Only accepted images move out of the pending prefix; a failed
	// move is logged but does not fail the pipeline.
	finalPath := filePath
	if processed, ok := processedPath(filePath); ok {
		if err := s.storage.Move(ctx, s.bucket, filePath, processed); err != nil {
			s.logger.Warn("Failed to move processed image", zap.Error(err))
		} else {
			finalPath = processed
		}
	}

	receipt := &models.Receipt{
		UserID:       userID,
		OriginalFile: finalPath,
		Merchant:     sanitizeUTF8(data.Merchant),
		Amount:       data.Amount,
		Date:         data.Date,
		Category:     data.Category,
		Items:        sanitizeItems(data.Items),
	}

	if err := s.receipts.Create(ctx, receipt); err != nil {
		return nil, fmt.Errorf("failed to store receipt: %w", err)
	}

	s.logger.Info("Receipt extracted and stored",
		zap.String("receipt_id", receipt.ID.String()),
		zap.String("merchant", receipt.Merchant),
		zap.String("category", string(receipt.Category)),
	)

	resp := toReceiptResponse(receipt)
	return &resp, nil
}

func (s *ReceiptService) List(ctx context.Context, userID uuid.UUID) ([]dto.ReceiptResponse, error) {
	receipts, err := s.receipts.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	responses := make([]dto.ReceiptResponse, len(receipts))
	for i, receipt := range receipts {
		responses[i] = toReceiptResponse(receipt)
	}
	return responses, nil
}

// Get returns one receipt with a signed read URL for its source image,
// so the verification view can show them side by side.
func (s *ReceiptService) Get(ctx context.Context, userID, id uuid.UUID) (*dto.ReceiptResponse, error) {
	receipt, err := s.receipts.GetByID(ctx, id, userID)
	if err != nil {
		return nil, err
	}

	resp := toReceiptResponse(receipt)
	url, err := s.storage.SignedURL(ctx, s.bucket, receipt.OriginalFile)
	if err != nil {
		s.logger.Warn("Failed to generate signed image URL", zap.Error(err))
	} else {
		resp.ImageURL = url
	}
	return &resp, nil
}

// Update applies staged corrections without touching the verified flag.
// Each provided field is validated independently; all violations are
// reported together.
func (s *ReceiptService) Update(ctx context.Context, userID, id uuid.UUID, req dto.UpdateReceiptRequest) (*dto.ReceiptResponse, error) {
	token, err := parseToken(req.UpdatedAt)
	if err != nil {
		return nil, err
	}

	var fieldErrs []schema.FieldError
	fields := make(map[string]any)

	if req.Merchant != nil {
		merchant := strings.TrimSpace(*req.Merchant)
		if fe := schema.CheckMerchant(merchant); fe != nil {
			fieldErrs = append(fieldErrs, *fe)
		} else {
			fields["merchant"] = sanitizeUTF8(merchant)
		}
	}
	if req.Amount != nil {
		if fe := schema.CheckAmount(*req.Amount); fe != nil {
			fieldErrs = append(fieldErrs, *fe)
		} else {
			fields["amount"] = *req.Amount
		}
	}
	if req.Date != nil {
		date, fe := schema.ParseDate(*req.Date)
		if fe == nil {
			fe = schema.CheckDate(date)
		}
		if fe != nil {
			fieldErrs = append(fieldErrs, *fe)
		} else {
			fields["date"] = date
		}
	}
	if req.Category != nil {
		category, fe := schema.CheckCategory(*req.Category)
		if fe != nil {
			fieldErrs = append(fieldErrs, *fe)
		} else {
			fields["category"] = category
		}
	}

	if len(fieldErrs) > 0 {
		return nil, &schema.ValidationError{Fields: fieldErrs}
	}
	if len(fields) == 0 {
		return nil, &InputError{Message: "No fields to update"}
	}

	return s.applyUpdate(ctx, userID, id, token, fields)
}

// Verify commits all staged fields plus the verified flag in one
// atomic, optimistically-locked update. Partial commits do not exist.
func (s *ReceiptService) Verify(ctx context.Context, userID, id uuid.UUID, req dto.VerifyReceiptRequest) (*dto.ReceiptResponse, error) {
	token, err := parseToken(req.UpdatedAt)
	if err != nil {
		return nil, err
	}

	var fieldErrs []schema.FieldError
	merchant := strings.TrimSpace(req.Merchant)
	if fe := schema.CheckMerchant(merchant); fe != nil {
		fieldErrs = append(fieldErrs, *fe)
	}
	if fe := schema.CheckAmount(req.Amount); fe != nil {
		fieldErrs = append(fieldErrs, *fe)
	}
	date, dateErr := schema.ParseDate(req.Date)
	if dateErr == nil {
		dateErr = schema.CheckDate(date)
	}
	if dateErr != nil {
		fieldErrs = append(fieldErrs, *dateErr)
	}
	category, catErr := schema.CheckCategory(req.Category)
	if catErr != nil {
		fieldErrs = append(fieldErrs, *catErr)
	}
	if len(fieldErrs) > 0 {
		return nil, &schema.ValidationError{Fields: fieldErrs}
	}

	fields := map[string]any{
		"merchant":    sanitizeUTF8(merchant),
		"amount":      req.Amount,
		"date":        date,
		"category":    category,
		"is_verified": true,
	}

	return s.applyUpdate(ctx, userID, id, token, fields)
}

func (s *ReceiptService) applyUpdate(ctx context.Context, userID, id uuid.UUID, token time.Time, fields map[string]any) (*dto.ReceiptResponse, error) {
	// Distinguish missing/foreign receipts from stale tokens before the
	// conditional write.
	if _, err := s.receipts.GetByID(ctx, id, userID); err != nil {
		return nil, err
	}

	receipt, err := s.receipts.Update(ctx, id, userID, token, fields)
	if err != nil {
		return nil, err
	}

	resp := toReceiptResponse(receipt)
	return &resp, nil
}

// Delete removes the receipt and its stored image. Receipts the caller
// does not own are treated as already gone.
func (s *ReceiptService) Delete(ctx context.Context, userID, id uuid.UUID) error {
	receipt, err := s.receipts.GetByID(ctx, id, userID)
	if err != nil {
		if errors.Is(err, repository.ErrReceiptNotFound) {
			return nil
		}
		return err
	}

	if err := s.storage.Delete(ctx, s.bucket, receipt.OriginalFile); err != nil {
		s.logger.Warn("Failed to delete receipt image",
			zap.String("path", receipt.OriginalFile),
			zap.Error(err),
		)
	}

	return s.receipts.Delete(ctx, id, userID)
}

// CategoryChart folds the user's verified spending into per-category
// chart entries.
func (s *ReceiptService) CategoryChart(ctx context.Context, userID uuid.UUID) ([]dto.ChartDatum, error) {
	receipts, err := s.receipts.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return BuildCategoryChart(receipts), nil
}

func parseToken(raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, &InputError{Message: "updatedAt token is required"}
	}
	token, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, &InputError{Message: "Invalid updatedAt token"}
	}
	return token, nil
}

func processedPath(filePath string) (string, bool) {
	pendingPrefix := storage.StatusPending + "/"
	if !strings.HasPrefix(filePath, pendingPrefix) {
		return "", false
	}
	return storage.StatusProcessed + "/" + strings.TrimPrefix(filePath, pendingPrefix), true
}

func mimeFromPath(filePath string) string {
	switch strings.ToLower(path.Ext(filePath)) {
	case ".png":
		return files.MimePNG
	case ".webp":
		return files.MimeWebP
	default:
		return files.MimeJPEG
	}
}

func sanitizeItems(items []models.ReceiptItem) []models.ReceiptItem {
	for i := range items {
		items[i].Name = sanitizeUTF8(items[i].Name)
	}
	return items
}

func toReceiptResponse(receipt *models.Receipt) dto.ReceiptResponse {
	items := make([]dto.ReceiptItemResponse, len(receipt.Items))
	for i, item := range receipt.Items {
		items[i] = dto.ReceiptItemResponse{
			Name:       item.Name,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			TotalPrice: item.TotalPrice,
		}
	}

	return dto.ReceiptResponse{
		ID:           receipt.ID.String(),
		OriginalFile: receipt.OriginalFile,
		Merchant:     receipt.Merchant,
		Amount:       receipt.Amount,
		Date:         receipt.Date.Format(time.RFC3339),
		Category:     string(receipt.Category),
		Items:        items,
		IsVerified:   receipt.IsVerified,
		CreatedAt:    receipt.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    receipt.UpdatedAt.Format(time.RFC3339Nano),
	}
}
