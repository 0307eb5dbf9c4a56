//go:build cgo && !windows

package services

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/otiai10/gosseract/v2"
)

// OCRService extracts text from receipt images via tesseract. The underlying
// client is not safe for concurrent use, so calls are serialized; the worker
// pool bounds how much work queues up here.
type OCRService struct {
	mu     sync.Mutex
	client *gosseract.Client
}

// NewOCRService creates a new OCR service
func NewOCRService() (*OCRService, error) {
	client := gosseract.NewClient()

	if err := client.SetLanguage("eng"); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set OCR language: %w", err)
	}

	// PSM 6 = assume a single uniform block of text, which suits thermal
	// receipt layouts.
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set page segmentation mode: %w", err)
	}

	return &OCRService{client: client}, nil
}

// ExtractText runs OCR over the image bytes. The context deadline is honored
// by abandoning the wait; tesseract itself cannot be interrupted mid-page.
func (s *OCRService) ExtractText(ctx context.Context, imageBytes []byte) (string, error) {
	type ocrOutcome struct {
		text string
		err  error
	}
	done := make(chan ocrOutcome, 1)

	go func() {
		text, err := s.extract(imageBytes)
		done <- ocrOutcome{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case outcome := <-done:
		return outcome.text, outcome.err
	}
}

func (s *OCRService) extract(imageBytes []byte) (string, error) {
	tmpFile, err := os.CreateTemp("", "receipt-*.jpg")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.Write(imageBytes); err != nil {
		tmpFile.Close()
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	tmpFile.Close()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.client.SetImage(tmpFile.Name()); err != nil {
		return "", fmt.Errorf("failed to set image: %w", err)
	}

	text, err := s.client.Text()
	if err != nil {
		return "", fmt.Errorf("failed to extract text: %w", err)
	}
	return text, nil
}

// Close releases OCR resources
func (s *OCRService) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
