package handlers

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Jenks18/kara-sub001/internal/config"
)

type nopQueue struct{}

func (nopQueue) Enqueue(uuid.UUID) bool { return true }

func TestSubmitUploadWithoutStorageRejectsCleanly(t *testing.T) {
	t.Parallel()

	// Storage is nil when S3 credentials are not configured; the multipart
	// path must refuse the upload instead of panicking.
	h := NewReceiptHandler(nil, &config.Config{}, nil, nopQueue{})

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Post("/receipts", func(c *fiber.Ctx) error {
		c.Locals("user_id", "user-1")
		return c.Next()
	}, h.SubmitReceipt)

	req := httptest.NewRequest("POST", "/receipts", nil)
	req.Header.Set("Content-Type", "multipart/form-data; boundary=b")

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "image uploads are disabled")
}
