package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"receiptly/internal/models"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var (
	// ErrReceiptNotFound is returned when no row matches (id, user_id).
	// Rows owned by other users are reported exactly the same way.
	ErrReceiptNotFound = errors.New("receipt not found")

	// ErrReceiptConflict is returned when a conditional update matched
	// zero rows because the caller's updated_at token went stale.
	ErrReceiptConflict = errors.New("receipt was modified by another process")
)

const receiptColumns = "id, user_id, original_file, merchant, amount, date, category, items, is_verified, created_at, updated_at"

type ReceiptRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewReceiptRepository(db *pgxpool.Pool, logger *zap.Logger) *ReceiptRepository {
	return &ReceiptRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new unverified receipt. Generated id and timestamps
// are written back into the passed struct.
func (r *ReceiptRepository) Create(ctx context.Context, receipt *models.Receipt) error {
	items, err := marshalItems(receipt.Items)
	if err != nil {
		return err
	}

	now := time.Now()
	receipt.ID = uuid.New()
	receipt.CreatedAt = now
	receipt.UpdatedAt = now

	query := squirrel.Insert("receipts").
		Columns("id", "user_id", "original_file", "merchant", "amount", "date", "category", "items", "is_verified", "created_at", "updated_at").
		Values(receipt.ID, receipt.UserID, receipt.OriginalFile, receipt.Merchant, receipt.Amount, receipt.Date, receipt.Category, items, receipt.IsVerified, receipt.CreatedAt, receipt.UpdatedAt).
		PlaceholderFormat(squirrel.Dollar)

	sql, args, err := query.ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, sql, args...)
	return err
}

// GetByID fetches a receipt only when it belongs to userID. Anything
// else, including another user's receipt, is ErrReceiptNotFound.
func (r *ReceiptRepository) GetByID(ctx context.Context, id, userID uuid.UUID) (*models.Receipt, error) {
	query := squirrel.Select(receiptColumns).
		From("receipts").
		Where(squirrel.Eq{"id": id, "user_id": userID}).
		PlaceholderFormat(squirrel.Dollar)

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}

	receipt, err := scanReceipt(r.db.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReceiptNotFound
		}
		return nil, err
	}
	return receipt, nil
}

// ListByUser returns all of a user's receipts, newest purchase first.
func (r *ReceiptRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Receipt, error) {
	query := squirrel.Select(receiptColumns).
		From("receipts").
		Where(squirrel.Eq{"user_id": userID}).
		OrderBy("date DESC").
		PlaceholderFormat(squirrel.Dollar)

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var receipts []*models.Receipt
	for rows.Next() {
		receipt, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, receipt)
	}
	return receipts, rows.Err()
}

// Update applies fields through a compare-and-swap on updated_at: the
// write only lands while the stored token still equals expectedUpdatedAt.
// Zero matched rows means a concurrent writer won; the caller must
// re-fetch and retry.
func (r *ReceiptRepository) Update(ctx context.Context, id, userID uuid.UUID, expectedUpdatedAt time.Time, fields map[string]any) (*models.Receipt, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("no fields to update")
	}

	query := squirrel.Update("receipts").
		SetMap(fields).
		Set("updated_at", time.Now()).
		Where(squirrel.Eq{
			"id":         id,
			"user_id":    userID,
			"updated_at": expectedUpdatedAt,
		}).
		Suffix("RETURNING " + receiptColumns).
		PlaceholderFormat(squirrel.Dollar)

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}

	receipt, err := scanReceipt(r.db.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReceiptConflict
		}
		return nil, err
	}

	r.logger.Info("Receipt updated",
		zap.String("receipt_id", id.String()),
		zap.Time("new_token", receipt.UpdatedAt),
	)
	return receipt, nil
}

// Delete removes a receipt when the caller owns it. Deleting a missing
// or foreign receipt is a silent no-op, never an existence disclosure.
func (r *ReceiptRepository) Delete(ctx context.Context, id, userID uuid.UUID) error {
	query := squirrel.Delete("receipts").
		Where(squirrel.Eq{"id": id, "user_id": userID}).
		PlaceholderFormat(squirrel.Dollar)

	sql, args, err := query.ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, sql, args...)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReceipt(row rowScanner) (*models.Receipt, error) {
	var receipt models.Receipt
	var items []byte
	if err := row.Scan(
		&receipt.ID, &receipt.UserID, &receipt.OriginalFile, &receipt.Merchant,
		&receipt.Amount, &receipt.Date, &receipt.Category, &items,
		&receipt.IsVerified, &receipt.CreatedAt, &receipt.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &receipt.Items); err != nil {
			return nil, fmt.Errorf("failed to decode receipt items: %w", err)
		}
	}
	return &receipt, nil
}

// marshalItems encodes the line-item list for the jsonb column; an
// empty list is stored as NULL.
func marshalItems(items []models.ReceiptItem) ([]byte, error) {
	if len(items) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("failed to encode receipt items: %w", err)
	}
	return data, nil
}
