package handlers

import (
	"errors"
	"io"

	"receiptly/internal/dto"
	"receiptly/internal/repository"
	"receiptly/internal/schema"
	"receiptly/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ReceiptHandler struct {
	receiptService *service.ReceiptService
	logger         *zap.Logger
}

func NewReceiptHandler(receiptService *service.ReceiptService, logger *zap.Logger) *ReceiptHandler {
	return &ReceiptHandler{
		receiptService: receiptService,
		logger:         logger,
	}
}

// Upload godoc
// @Summary Upload a receipt image
// @Description Upload a receipt photo for later extraction
// @Tags receipts
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Receipt image (JPEG or PNG, max 10MB)"
// @Security Bearer
// @Success 201 {object} dto.Response
// @Failure 400 {object} dto.Response
// @Failure 401 {object} dto.Response
// @Router /api/v1/receipts/upload [post]
func (h *ReceiptHandler) Upload(c *fiber.Ctx) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}

	file, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.Failure("File is required"))
	}

	src, err := file.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.Failure("Failed to open file"))
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.Failure("Failed to read file"))
	}

	contentType := file.Header.Get("Content-Type")
	resp, err := h.receiptService.Upload(c.Context(), userID, file.Filename, contentType, data)
	if err != nil {
		return h.respondError(c, err, "Failed to upload receipt")
	}

	return c.Status(fiber.StatusCreated).JSON(dto.Success("Receipt uploaded successfully", resp))
}

// Process godoc
// @Summary Extract receipt data
// @Description Run AI extraction on an uploaded receipt image
// @Tags receipts
// @Accept json
// @Produce json
// @Param request body dto.ProcessReceiptRequest true "Process request"
// @Security Bearer
// @Success 201 {object} dto.Response
// @Failure 400 {object} dto.Response
// @Failure 401 {object} dto.Response
// @Router /api/v1/receipts/process [post]
func (h *ReceiptHandler) Process(c *fiber.Ctx) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}

	var req dto.ProcessReceiptRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.Failure("Invalid request body"))
	}
	if req.FilePath == "" || req.UserID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.Failure("File path and user ID are required"))
	}
	// The body's user ID is client-supplied; it must match the token.
	if req.UserID != userID.String() {
		return c.Status(fiber.StatusForbidden).JSON(dto.Failure("User ID does not match authenticated user"))
	}

	resp, err := h.receiptService.Process(c.Context(), userID, req.FilePath)
	if err != nil {
		return h.respondError(c, err, "Failed to process receipt")
	}

	return c.Status(fiber.StatusCreated).JSON(dto.Success("Receipt processed successfully", resp))
}

// List godoc
// @Summary List receipts
// @Tags receipts
// @Produce json
// @Security Bearer
// @Success 200 {object} dto.Response
// @Failure 401 {object} dto.Response
// @Router /api/v1/receipts [get]
func (h *ReceiptHandler) List(c *fiber.Ctx) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}

	receipts, err := h.receiptService.List(c.Context(), userID)
	if err != nil {
		return h.respondError(c, err, "Failed to list receipts")
	}

	return c.JSON(dto.Success("Receipts retrieved successfully", receipts))
}

// Get godoc
// @Summary Get one receipt
// @Description Get a receipt with a signed URL for its source image
// @Tags receipts
// @Produce json
// @Param id path string true "Receipt ID"
// @Security Bearer
// @Success 200 {object} dto.Response
// @Failure 404 {object} dto.Response
// @Router /api/v1/receipts/{id} [get]
func (h *ReceiptHandler) Get(c *fiber.Ctx) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.Failure("Invalid receipt ID"))
	}

	receipt, err := h.receiptService.Get(c.Context(), userID, id)
	if err != nil {
		return h.respondError(c, err, "Failed to get receipt")
	}

	return c.JSON(dto.Success("Receipt retrieved successfully", receipt))
}

// Update godoc
// @Summary Update receipt fields
// @Description Stage corrections against the copy identified by the updatedAt token
// @Tags receipts
// @Accept json
// @Produce json
// @Param id path string true "Receipt ID"
// @Param request body dto.UpdateReceiptRequest true "Fields to update"
// @Security Bearer
// @Success 200 {object} dto.Response
// @Failure 409 {object} dto.Response
// @Router /api/v1/receipts/{id} [put]
func (h *ReceiptHandler) Update(c *fiber.Ctx) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.Failure("Invalid receipt ID"))
	}

	var req dto.UpdateReceiptRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.Failure("Invalid request body"))
	}

	receipt, err := h.receiptService.Update(c.Context(), userID, id, req)
	if err != nil {
		return h.respondError(c, err, "Failed to update receipt")
	}

	return c.JSON(dto.Success("Receipt updated successfully", receipt))
}

// Verify godoc
// @Summary Verify a receipt
// @Description Commit all fields and mark the receipt as human-verified
// @Tags receipts
// @Accept json
// @Produce json
// @Param id path string true "Receipt ID"
// @Param request body dto.VerifyReceiptRequest true "Verified fields"
// @Security Bearer
// @Success 200 {object} dto.Response
// @Failure 409 {object} dto.Response
// @Router /api/v1/receipts/{id}/verify [post]
func (h *ReceiptHandler) Verify(c *fiber.Ctx) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.Failure("Invalid receipt ID"))
	}

	var req dto.VerifyReceiptRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.Failure("Invalid request body"))
	}

	receipt, err := h.receiptService.Verify(c.Context(), userID, id, req)
	if err != nil {
		return h.respondError(c, err, "Failed to verify receipt")
	}

	return c.JSON(dto.Success("Receipt verified successfully", receipt))
}

// Delete godoc
// @Summary Delete a receipt
// @Description Delete a receipt and its stored image
// @Tags receipts
// @Produce json
// @Param id path string true "Receipt ID"
// @Security Bearer
// @Success 200 {object} dto.Response
// @Router /api/v1/receipts/{id} [delete]
func (h *ReceiptHandler) Delete(c *fiber.Ctx) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.Failure("Invalid receipt ID"))
	}

	if err := h.receiptService.Delete(c.Context(), userID, id); err != nil {
		return h.respondError(c, err, "Failed to delete receipt")
	}

	return c.JSON(dto.Success("Receipt deleted successfully", nil))
}

// Chart godoc
// @Summary Spending chart data
// @Description Aggregate verified spending per category
// @Tags receipts
// @Produce json
// @Security Bearer
// @Success 200 {object} dto.Response
// @Router /api/v1/receipts/chart [get]
func (h *ReceiptHandler) Chart(c *fiber.Ctx) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}

	data, err := h.receiptService.CategoryChart(c.Context(), userID)
	if err != nil {
		return h.respondError(c, err, "Failed to build chart data")
	}

	return c.JSON(dto.Success("Chart data retrieved successfully", data))
}

// respondError maps service failures onto envelope responses. Every
// branch keeps the {isSuccess, message} shape.
func (h *ReceiptHandler) respondError(c *fiber.Ctx, err error, fallback string) error {
	var inputErr *service.InputError
	if errors.As(err, &inputErr) {
		return c.Status(fiber.StatusBadRequest).JSON(dto.Failure(inputErr.Message))
	}

	var validationErr *schema.ValidationError
	if errors.As(err, &validationErr) {
		resp := dto.Failure(validationErr.Error())
		resp.Data = validationErr.Fields
		return c.Status(fiber.StatusUnprocessableEntity).JSON(resp)
	}

	switch {
	case errors.Is(err, repository.ErrReceiptNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.Failure("Receipt not found"))
	case errors.Is(err, repository.ErrReceiptConflict):
		return c.Status(fiber.StatusConflict).JSON(dto.Failure(
			"Receipt may have been modified by another process. Please refresh and try again"))
	case errors.Is(err, service.ErrInvalidDataFormat):
		h.logger.Error("Extraction returned unusable data", zap.Error(err))
		return c.Status(fiber.StatusUnprocessableEntity).JSON(dto.Failure("AI returned invalid data format"))
	case errors.Is(err, service.ErrImageDownload):
		h.logger.Error("Receipt image unavailable", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.Failure("Failed to download image"))
	}

	h.logger.Error(fallback, zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(dto.Failure(fallback))
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(dto.Failure("Unauthorized"))
}

func getUserID(c *fiber.Ctx) (uuid.UUID, error) {
	userIDStr, ok := c.Locals("userID").(string)
	if !ok {
		return uuid.Nil, fiber.ErrUnauthorized
	}
	return uuid.Parse(userIDStr)
}
