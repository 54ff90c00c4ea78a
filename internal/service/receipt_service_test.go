package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"receiptly/internal/dto"
	"receiptly/internal/models"
	"receiptly/internal/repository"
	"receiptly/internal/schema"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type fakeReceiptStore struct {
	receipts map[uuid.UUID]*models.Receipt
}

func newFakeReceiptStore() *fakeReceiptStore {
	return &fakeReceiptStore{receipts: make(map[uuid.UUID]*models.Receipt)}
}

func (f *fakeReceiptStore) Create(_ context.Context, receipt *models.Receipt) error {
	now := time.Now()
	receipt.ID = uuid.New()
	receipt.CreatedAt = now
	receipt.UpdatedAt = now
	clone := *receipt
	f.receipts[receipt.ID] = &clone
	return nil
}

func (f *fakeReceiptStore) GetByID(_ context.Context, id, userID uuid.UUID) (*models.Receipt, error) {
	receipt, ok := f.receipts[id]
	if !ok || receipt.UserID != userID {
		return nil, repository.ErrReceiptNotFound
	}
	clone := *receipt
	return &clone, nil
}

func (f *fakeReceiptStore) ListByUser(_ context.Context, userID uuid.UUID) ([]*models.Receipt, error) {
	var out []*models.Receipt
	for _, receipt := range f.receipts {
		if receipt.UserID == userID {
			clone := *receipt
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (f *fakeReceiptStore) Update(_ context.Context, id, userID uuid.UUID, expectedUpdatedAt time.Time, fields map[string]any) (*models.Receipt, error) {
	receipt, ok := f.receipts[id]
	if !ok || receipt.UserID != userID || !receipt.UpdatedAt.Equal(expectedUpdatedAt) {
		return nil, repository.ErrReceiptConflict
	}
	for key, value := range fields {
		switch key {
		case "merchant":
			receipt.Merchant = value.(string)
		case "amount":
			receipt.Amount = value.(float64)
		case "date":
			receipt.Date = value.(time.Time)
		case "category":
			receipt.Category = value.(models.Category)
		case "is_verified":
			receipt.IsVerified = value.(bool)
		}
	}
	receipt.UpdatedAt = time.Now()
	clone := *receipt
	return &clone, nil
}

func (f *fakeReceiptStore) Delete(_ context.Context, id, userID uuid.UUID) error {
	if receipt, ok := f.receipts[id]; ok && receipt.UserID == userID {
		delete(f.receipts, id)
	}
	return nil
}

type fakeObjectStore struct {
	objects    map[string][]byte
	moved      [][2]string
	deleted    []string
	failGet    bool
	failMove   bool
	failSign   bool
	failDelete bool
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: map[string][]byte{}}
}

func (f *fakeObjectStore) Upload(_ context.Context, _, path string, data []byte, _ string) (string, error) {
	f.objects[path] = data
	return path, nil
}

func (f *fakeObjectStore) Download(_ context.Context, _, path string) ([]byte, error) {
	if f.failGet {
		return nil, errors.New("object unavailable")
	}
	data, ok := f.objects[path]
	if !ok {
		return nil, errors.New("no such object")
	}
	return data, nil
}

func (f *fakeObjectStore) SignedURL(_ context.Context, _, path string) (string, error) {
	if f.failSign {
		return "", errors.New("signing failed")
	}
	return "https://signed.example/" + path, nil
}

func (f *fakeObjectStore) Move(_ context.Context, _, src, dst string) error {
	if f.failMove {
		return errors.New("move failed")
	}
	f.objects[dst] = f.objects[src]
	delete(f.objects, src)
	f.moved = append(f.moved, [2]string{src, dst})
	return nil
}

func (f *fakeObjectStore) Delete(_ context.Context, _, path string) error {
	if f.failDelete {
		return errors.New("delete failed")
	}
	delete(f.objects, path)
	f.deleted = append(f.deleted, path)
	return nil
}

type fakeExtractor struct {
	raw *schema.RawReceipt
	err error
}

func (f *fakeExtractor) Extract(context.Context, []byte, string) (*schema.RawReceipt, error) {
	return f.raw, f.err
}

func validRaw() *schema.RawReceipt {
	return &schema.RawReceipt{
		Merchant: "  Cafe Milano  ",
		Amount:   schema.FlexNumber(42.805),
		Date:     "2024-03-15",
		Category: "Food",
		Items: []schema.RawItem{
			{Name: "Espresso", Quantity: 2, UnitPrice: 3.50, TotalPrice: 7.00},
		},
	}
}

func newTestService(store *fakeReceiptStore, objects *fakeObjectStore, ex extractor) *ReceiptService {
	return NewReceiptService(store, objects, ex, schema.NewValidator(), "receipts", false, zap.NewNop())
}

func TestUploadRejectsInvalidFiles(t *testing.T) {
	svc := newTestService(newFakeReceiptStore(), newFakeObjectStore(), &fakeExtractor{})
	userID := uuid.New()

	cases := []struct {
		name        string
		contentType string
		size        int
	}{
		{"pdf", "application/pdf", 100},
		{"webp disabled", "image/webp", 100},
		{"oversize", "image/jpeg", 10*1024*1024 + 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Upload(context.Background(), userID, "r.jpg", tc.contentType, make([]byte, tc.size))
			var inputErr *InputError
			if !errors.As(err, &inputErr) {
				t.Fatalf("want InputError, got %v", err)
			}
		})
	}
}

func TestUploadStoresUnderPendingPrefix(t *testing.T) {
	objects := newFakeObjectStore()
	svc := newTestService(newFakeReceiptStore(), objects, &fakeExtractor{})
	userID := uuid.New()

	resp, err := svc.Upload(context.Background(), userID, "photo.jpg", "image/jpeg", []byte("img"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	wantPrefix := "pending/" + userID.String() + "/"
	if !strings.HasPrefix(resp.FilePath, wantPrefix) {
		t.Errorf("path %q missing prefix %q", resp.FilePath, wantPrefix)
	}
	if !strings.HasSuffix(resp.FilePath, ".jpg") {
		t.Errorf("path %q lost its extension", resp.FilePath)
	}
	if _, ok := objects.objects[resp.FilePath]; !ok {
		t.Error("object was not stored")
	}
}

func TestProcessPipelineSuccess(t *testing.T) {
	store := newFakeReceiptStore()
	objects := newFakeObjectStore()
	svc := newTestService(store, objects, &fakeExtractor{raw: validRaw()})
	userID := uuid.New()

	filePath := "pending/" + userID.String() + "/a.jpg"
	objects.objects[filePath] = []byte("img")

	resp, err := svc.Process(context.Background(), userID, filePath)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if resp.Merchant != "Cafe Milano" {
		t.Errorf("merchant not trimmed: %q", resp.Merchant)
	}
	if resp.Amount != 42.81 {
		t.Errorf("amount not rounded: %v", resp.Amount)
	}
	if resp.Category != "food" {
		t.Errorf("category not normalized: %q", resp.Category)
	}
	if resp.IsVerified {
		t.Error("fresh extraction must start unverified")
	}
	wantPath := "processed/" + userID.String() + "/a.jpg"
	if resp.OriginalFile != wantPath {
		t.Errorf("image not moved: %q", resp.OriginalFile)
	}
	if len(objects.moved) != 1 {
		t.Errorf("expected one move, got %v", objects.moved)
	}
	if resp.UpdatedAt == "" {
		t.Error("response must carry the lock token")
	}
}

func TestProcessFailedMoveDoesNotFailPipeline(t *testing.T) {
	store := newFakeReceiptStore()
	objects := newFakeObjectStore()
	objects.failMove = true
	svc := newTestService(store, objects, &fakeExtractor{raw: validRaw()})
	userID := uuid.New()

	filePath := "pending/" + userID.String() + "/a.jpg"
	objects.objects[filePath] = []byte("img")

	resp, err := svc.Process(context.Background(), userID, filePath)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if resp.OriginalFile != filePath {
		t.Errorf("failed move must keep the pending path, got %q", resp.OriginalFile)
	}
}

func TestProcessDownloadFailure(t *testing.T) {
	objects := newFakeObjectStore()
	objects.failGet = true
	svc := newTestService(newFakeReceiptStore(), objects, &fakeExtractor{raw: validRaw()})

	_, err := svc.Process(context.Background(), uuid.New(), "pending/u/a.jpg")
	if !errors.Is(err, ErrImageDownload) {
		t.Fatalf("want ErrImageDownload, got %v", err)
	}
}

func TestProcessValidationFailurePersistsNothing(t *testing.T) {
	store := newFakeReceiptStore()
	objects := newFakeObjectStore()
	raw := validRaw()
	raw.Merchant = "X"
	raw.Date = "1999-05-05"
	svc := newTestService(store, objects, &fakeExtractor{raw: raw})
	userID := uuid.New()

	filePath := "pending/" + userID.String() + "/a.jpg"
	objects.objects[filePath] = []byte("img")

	_, err := svc.Process(context.Background(), userID, filePath)
	var verr *schema.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("want ValidationError, got %v", err)
	}
	if len(verr.Fields) != 2 {
		t.Errorf("expected both violations reported, got %+v", verr.Fields)
	}
	if len(store.receipts) != 0 {
		t.Error("rejected extraction must not be persisted")
	}
	if len(objects.moved) != 0 {
		t.Error("rejected image must stay under pending")
	}
}

func processOne(t *testing.T, svc *ReceiptService, objects *fakeObjectStore, userID uuid.UUID) *dto.ReceiptResponse {
	t.Helper()
	filePath := "pending/" + userID.String() + "/a.jpg"
	objects.objects[filePath] = []byte("img")
	resp, err := svc.Process(context.Background(), userID, filePath)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	return resp
}

func TestUpdateStaleTokenConflicts(t *testing.T) {
	store := newFakeReceiptStore()
	objects := newFakeObjectStore()
	svc := newTestService(store, objects, &fakeExtractor{raw: validRaw()})
	userID := uuid.New()

	created := processOne(t, svc, objects, userID)
	id := uuid.MustParse(created.ID)
	merchant := "Corrected Name"

	first, err := svc.Update(context.Background(), userID, id, dto.UpdateReceiptRequest{
		Merchant:  &merchant,
		UpdatedAt: created.UpdatedAt,
	})
	if err != nil {
		t.Fatalf("first update: %v", err)
	}
	if first.Merchant != merchant {
		t.Errorf("merchant = %q", first.Merchant)
	}

	// Same token again: the row has moved on.
	_, err = svc.Update(context.Background(), userID, id, dto.UpdateReceiptRequest{
		Merchant:  &merchant,
		UpdatedAt: created.UpdatedAt,
	})
	if !errors.Is(err, repository.ErrReceiptConflict) {
		t.Fatalf("want ErrReceiptConflict, got %v", err)
	}
}

func TestUpdateRejectsMalformedToken(t *testing.T) {
	svc := newTestService(newFakeReceiptStore(), newFakeObjectStore(), &fakeExtractor{})
	merchant := "Name"

	_, err := svc.Update(context.Background(), uuid.New(), uuid.New(), dto.UpdateReceiptRequest{
		Merchant:  &merchant,
		UpdatedAt: "yesterday",
	})
	var inputErr *InputError
	if !errors.As(err, &inputErr) {
		t.Fatalf("want InputError, got %v", err)
	}
}

func TestUpdateDoesNotTouchVerifiedFlag(t *testing.T) {
	store := newFakeReceiptStore()
	objects := newFakeObjectStore()
	svc := newTestService(store, objects, &fakeExtractor{raw: validRaw()})
	userID := uuid.New()

	created := processOne(t, svc, objects, userID)
	id := uuid.MustParse(created.ID)

	verified, err := svc.Verify(context.Background(), userID, id, dto.VerifyReceiptRequest{
		Merchant:  created.Merchant,
		Amount:    created.Amount,
		Date:      "2024-03-15",
		Category:  created.Category,
		UpdatedAt: created.UpdatedAt,
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !verified.IsVerified {
		t.Fatal("verify did not set the flag")
	}

	merchant := "Post-verification Edit"
	updated, err := svc.Update(context.Background(), userID, id, dto.UpdateReceiptRequest{
		Merchant:  &merchant,
		UpdatedAt: verified.UpdatedAt,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.IsVerified {
		t.Error("plain edits must not clear the verified flag")
	}
}

func TestVerifyReportsAllViolations(t *testing.T) {
	store := newFakeReceiptStore()
	objects := newFakeObjectStore()
	svc := newTestService(store, objects, &fakeExtractor{raw: validRaw()})
	userID := uuid.New()

	created := processOne(t, svc, objects, userID)
	id := uuid.MustParse(created.ID)

	_, err := svc.Verify(context.Background(), userID, id, dto.VerifyReceiptRequest{
		Merchant:  "X",
		Amount:    -5,
		Date:      "not-a-date",
		Category:  "groceries",
		UpdatedAt: created.UpdatedAt,
	})
	var verr *schema.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("want ValidationError, got %v", err)
	}
	if len(verr.Fields) != 4 {
		t.Errorf("expected 4 violations, got %+v", verr.Fields)
	}

	// Nothing may have been committed.
	got, err := store.GetByID(context.Background(), id, userID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.IsVerified {
		t.Error("failed verification must not flip the flag")
	}
}

func TestGetAttachesSignedURL(t *testing.T) {
	store := newFakeReceiptStore()
	objects := newFakeObjectStore()
	svc := newTestService(store, objects, &fakeExtractor{raw: validRaw()})
	userID := uuid.New()

	created := processOne(t, svc, objects, userID)

	got, err := svc.Get(context.Background(), userID, uuid.MustParse(created.ID))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !strings.HasPrefix(got.ImageURL, "https://signed.example/") {
		t.Errorf("missing signed URL: %q", got.ImageURL)
	}

	// A signing failure degrades to a response without the URL.
	objects.failSign = true
	got, err = svc.Get(context.Background(), userID, uuid.MustParse(created.ID))
	if err != nil {
		t.Fatalf("get with failed signing: %v", err)
	}
	if got.ImageURL != "" {
		t.Errorf("expected empty image URL, got %q", got.ImageURL)
	}
}

func TestForeignReceiptBehavesAsMissing(t *testing.T) {
	store := newFakeReceiptStore()
	objects := newFakeObjectStore()
	svc := newTestService(store, objects, &fakeExtractor{raw: validRaw()})
	owner := uuid.New()

	created := processOne(t, svc, objects, owner)
	id := uuid.MustParse(created.ID)
	stranger := uuid.New()

	if _, err := svc.Get(context.Background(), stranger, id); !errors.Is(err, repository.ErrReceiptNotFound) {
		t.Errorf("foreign get: %v", err)
	}

	merchant := "Hijacked"
	_, err := svc.Update(context.Background(), stranger, id, dto.UpdateReceiptRequest{
		Merchant:  &merchant,
		UpdatedAt: created.UpdatedAt,
	})
	if !errors.Is(err, repository.ErrReceiptNotFound) {
		t.Errorf("foreign update: %v", err)
	}

	if err := svc.Delete(context.Background(), stranger, id); err != nil {
		t.Errorf("foreign delete must be silent: %v", err)
	}
	if _, err := store.GetByID(context.Background(), id, owner); err != nil {
		t.Errorf("receipt must survive foreign delete: %v", err)
	}
}

func TestDeleteRemovesImageAndRow(t *testing.T) {
	store := newFakeReceiptStore()
	objects := newFakeObjectStore()
	svc := newTestService(store, objects, &fakeExtractor{raw: validRaw()})
	userID := uuid.New()

	created := processOne(t, svc, objects, userID)
	id := uuid.MustParse(created.ID)

	if err := svc.Delete(context.Background(), userID, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(objects.deleted) != 1 {
		t.Errorf("image was not deleted: %v", objects.deleted)
	}
	if _, err := store.GetByID(context.Background(), id, userID); !errors.Is(err, repository.ErrReceiptNotFound) {
		t.Errorf("row was not deleted: %v", err)
	}

	// Deleting again is a no-op success.
	if err := svc.Delete(context.Background(), userID, id); err != nil {
		t.Errorf("repeat delete: %v", err)
	}
}
