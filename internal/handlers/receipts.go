package handlers

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/Jenks18/kara-sub001/internal/config"
	"github.com/Jenks18/kara-sub001/internal/database"
	"github.com/Jenks18/kara-sub001/internal/middleware"
	"github.com/Jenks18/kara-sub001/internal/models"
	"github.com/Jenks18/kara-sub001/internal/services"
)

// Enqueuer hands a receipt to the processing pipeline. Implemented by
// pipeline.WorkerPool.
type Enqueuer interface {
	Enqueue(id uuid.UUID) bool
}

// ReceiptHandler handles receipt ingestion and status endpoints
type ReceiptHandler struct {
	db       *database.DB
	cfg      *config.Config
	storage  *services.StorageService
	queue    Enqueuer
	validate *validator.Validate
}

// NewReceiptHandler creates a new receipt handler
func NewReceiptHandler(db *database.DB, cfg *config.Config, storage *services.StorageService, queue Enqueuer) *ReceiptHandler {
	return &ReceiptHandler{
		db:       db,
		cfg:      cfg,
		storage:  storage,
		queue:    queue,
		validate: validator.New(),
	}
}

// SubmitRequest is the JSON body for URL-based receipt submission
type SubmitRequest struct {
	ImageURL          string   `json:"image_url" validate:"required,url"`
	Latitude          *float64 `json:"latitude" validate:"omitempty,latitude"`
	Longitude         *float64 `json:"longitude" validate:"omitempty,longitude"`
	LocationAccuracyM *float64 `json:"location_accuracy_m" validate:"omitempty,gte=0"`
}

// SubmitResponse wraps the created receipt with ingestion hints
type SubmitResponse struct {
	Receipt          *models.RawReceipt `json:"receipt"`
	Queued           bool               `json:"queued"`
	DuplicateOfCount int                `json:"duplicate_of_count,omitempty"`
}

// SubmitReceipt ingests a receipt either as a multipart image upload or as a
// JSON body referencing an already-hosted image URL. Processing is
// asynchronous; the response is 202 with the pending record.
func (h *ReceiptHandler) SubmitReceipt(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	if userID == "" {
		return Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	if strings.HasPrefix(c.Get("Content-Type"), "multipart/form-data") {
		return h.submitUpload(c, userID)
	}
	return h.submitURL(c, userID)
}

func (h *ReceiptHandler) submitURL(c *fiber.Ctx, userID string) error {
	var req SubmitRequest
	if err := c.BodyParser(&req); err != nil {
		return Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validate.Struct(&req); err != nil {
		return Error(c, fiber.StatusBadRequest, "validation failed: "+err.Error())
	}
	if (req.Latitude == nil) != (req.Longitude == nil) {
		return Error(c, fiber.StatusBadRequest, "latitude and longitude must be provided together")
	}

	return h.createAndEnqueue(c, &models.CreateRawReceiptRequest{
		UserID:            userID,
		ImageURL:          req.ImageURL,
		Latitude:          req.Latitude,
		Longitude:         req.Longitude,
		LocationAccuracyM: req.LocationAccuracyM,
	})
}

func (h *ReceiptHandler) submitUpload(c *fiber.Ctx, userID string) error {
	if h.storage == nil {
		return Error(c, fiber.StatusServiceUnavailable,
			"image uploads are disabled; submit an image_url instead")
	}

	file, err := c.FormFile("image")
	if err != nil {
		return Error(c, fiber.StatusBadRequest, "image file is required")
	}

	contentType := file.Header.Get("Content-Type")
	if !isValidImageType(contentType) {
		return Error(c, fiber.StatusBadRequest, "invalid image type. Supported: JPEG, PNG, WebP")
	}
	if file.Size > h.cfg.MaxUploadBytes {
		return Error(c, fiber.StatusBadRequest,
			fmt.Sprintf("file too large. Maximum size is %dMB", h.cfg.MaxUploadBytes/(1024*1024)))
	}

	lat, lon, accuracy, err := parseCoordinates(c)
	if err != nil {
		return Error(c, fiber.StatusBadRequest, err.Error())
	}

	src, err := file.Open()
	if err != nil {
		return Error(c, fiber.StatusInternalServerError, "failed to read file")
	}
	defer src.Close()

	imageBytes, err := io.ReadAll(src)
	if err != nil {
		return Error(c, fiber.StatusInternalServerError, "failed to read file")
	}

	sum := sha256.Sum256(imageBytes)
	imageHash := hex.EncodeToString(sum[:])

	key := generateObjectKey(userID, file.Filename)
	if _, err := h.storage.Upload(c.Context(), key, bytes.NewReader(imageBytes), file.Size, contentType); err != nil {
		return Error(c, fiber.StatusInternalServerError, "failed to upload image")
	}

	return h.createAndEnqueue(c, &models.CreateRawReceiptRequest{
		UserID:            userID,
		ImageURL:          h.storage.ObjectURL(key),
		ImageHash:         &imageHash,
		Latitude:          lat,
		Longitude:         lon,
		LocationAccuracyM: accuracy,
	})
}

func (h *ReceiptHandler) createAndEnqueue(c *fiber.Ctx, req *models.CreateRawReceiptRequest) error {
	resp := SubmitResponse{}

	// Same image bytes submitted before is worth surfacing, but it is the
	// caller's decision: storage and processing stay per-submission.
	if req.ImageHash != nil {
		count, err := h.db.CountByImageHash(c.Context(), req.UserID, *req.ImageHash)
		if err != nil {
			log.Printf("Warning: Failed to check image hash for user %s: %v", req.UserID, err)
		} else {
			resp.DuplicateOfCount = count
		}
	}

	receipt, err := h.db.CreateRawReceipt(c.Context(), req)
	if err != nil {
		return Error(c, fiber.StatusInternalServerError, "failed to create receipt record")
	}

	resp.Receipt = receipt
	resp.Queued = h.queue.Enqueue(receipt.ID)
	// A full queue is not an error: the requeue poller picks pending rows up.

	return Accepted(c, resp)
}

// ListReceipts returns a paginated list of the user's receipts
func (h *ReceiptHandler) ListReceipts(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	if userID == "" {
		return Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	params := &models.RawReceiptListParams{
		UserID: userID,
		Limit:  c.QueryInt("limit", 20),
		Offset: c.QueryInt("offset", 0),
	}

	if status := c.Query("status"); status != "" {
		s := models.ProcessingStatus(status)
		switch s {
		case models.ProcessingStatusPending, models.ProcessingStatusScanning,
			models.ProcessingStatusParsed, models.ProcessingStatusNeedsReview,
			models.ProcessingStatusError:
			params.Status = &s
		default:
			return Error(c, fiber.StatusBadRequest, "invalid status filter")
		}
	}

	if params.Limit < 1 || params.Limit > 100 {
		params.Limit = 20
	}
	if params.Offset < 0 {
		params.Offset = 0
	}

	receipts, total, err := h.db.ListRawReceipts(c.Context(), params)
	if err != nil {
		return Error(c, fiber.StatusInternalServerError, "failed to list receipts")
	}

	return SuccessWithMeta(c, receipts, total, params.Limit, params.Offset)
}

// GetReceipt returns a single raw receipt with its processing status
func (h *ReceiptHandler) GetReceipt(c *fiber.Ctx) error {
	receipt, err := h.ownedReceipt(c)
	if err != nil {
		return err
	}
	return Success(c, receipt)
}

// GetReceiptResult returns the parsed result for a receipt
func (h *ReceiptHandler) GetReceiptResult(c *fiber.Ctx) error {
	receipt, err := h.ownedReceipt(c)
	if err != nil {
		return err
	}

	parsed, err := h.db.GetParsedReceiptByRawID(c.Context(), receipt.ID)
	if err != nil {
		if err == database.ErrParsedReceiptNotFound {
			return Error(c, fiber.StatusNotFound,
				fmt.Sprintf("no parsed result (processing status: %s)", receipt.Status))
		}
		return Error(c, fiber.StatusInternalServerError, "failed to get parsed result")
	}

	return Success(c, parsed)
}

// GetReceiptLog returns the processing audit trail for a receipt
func (h *ReceiptHandler) GetReceiptLog(c *fiber.Ctx) error {
	receipt, err := h.ownedReceipt(c)
	if err != nil {
		return err
	}

	entries, err := h.db.ListProcessingLog(c.Context(), receipt.ID)
	if err != nil {
		return Error(c, fiber.StatusInternalServerError, "failed to get processing log")
	}

	return Success(c, entries)
}

// GetReceiptImage returns a presigned URL when the image lives in our
// object store, or the original URL for externally hosted images.
func (h *ReceiptHandler) GetReceiptImage(c *fiber.Ctx) error {
	receipt, err := h.ownedReceipt(c)
	if err != nil {
		return err
	}

	if _, key, ok := services.ParseObjectURL(receipt.ImageURL); ok {
		if h.storage == nil {
			return Error(c, fiber.StatusServiceUnavailable, "image storage is not configured")
		}
		url, err := h.storage.GetPresignedURL(c.Context(), key, 1*time.Hour)
		if err != nil {
			return Error(c, fiber.StatusInternalServerError, "failed to generate image URL")
		}
		return Success(c, fiber.Map{"url": url})
	}

	return Success(c, fiber.Map{"url": receipt.ImageURL})
}

// ownedReceipt loads the receipt in :id and enforces ownership. On failure
// it writes the error response and returns it.
func (h *ReceiptHandler) ownedReceipt(c *fiber.Ctx) (*models.RawReceipt, error) {
	userID := middleware.GetUserID(c)
	if userID == "" {
		return nil, Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return nil, Error(c, fiber.StatusBadRequest, "invalid receipt ID")
	}

	receipt, err := h.db.GetRawReceiptByID(c.Context(), id)
	if err != nil {
		if err == database.ErrRawReceiptNotFound {
			return nil, Error(c, fiber.StatusNotFound, "receipt not found")
		}
		return nil, Error(c, fiber.StatusInternalServerError, "failed to get receipt")
	}

	if receipt.UserID != userID {
		return nil, Error(c, fiber.StatusForbidden, "access denied")
	}

	return receipt, nil
}

// parseCoordinates reads optional form-value coordinates
func parseCoordinates(c *fiber.Ctx) (lat, lon, accuracy *float64, err error) {
	parse := func(field string, min, max float64) (*float64, error) {
		raw := c.FormValue(field)
		if raw == "" {
			return nil, nil
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < min || v > max {
			return nil, fmt.Errorf("invalid %s", field)
		}
		return &v, nil
	}

	if lat, err = parse("latitude", -90, 90); err != nil {
		return nil, nil, nil, err
	}
	if lon, err = parse("longitude", -180, 180); err != nil {
		return nil, nil, nil, err
	}
	if (lat == nil) != (lon == nil) {
		return nil, nil, nil, fmt.Errorf("latitude and longitude must be provided together")
	}
	if accuracy, err = parse("location_accuracy_m", 0, 100000); err != nil {
		return nil, nil, nil, err
	}
	return lat, lon, accuracy, nil
}

// isValidImageType checks if the content type is a valid image
func isValidImageType(contentType string) bool {
	validTypes := []string{
		"image/jpeg",
		"image/jpg",
		"image/png",
		"image/webp",
	}

	for _, t := range validTypes {
		if strings.EqualFold(contentType, t) {
			return true
		}
	}
	return false
}

// generateObjectKey generates a unique object key for a receipt image
func generateObjectKey(userID, filename string) string {
	timestamp := time.Now().UnixNano()
	ext := ""
	if idx := strings.LastIndex(filename, "."); idx != -1 {
		ext = strings.ToLower(filename[idx:])
	}
	if ext == "" {
		ext = ".jpg"
	}
	return fmt.Sprintf("receipts/%s/%d%s", userID, timestamp, ext)
}
