//go:build !cgo || windows

package services

import (
	"context"
	"errors"
)

// OCRService stub for Windows; tesseract bindings need cgo and a unix build
type OCRService struct{}

// NewOCRService creates a new OCR service (not available on Windows)
func NewOCRService() (*OCRService, error) {
	return nil, errors.New("OCR service is not available on Windows - run in Docker container")
}

// ExtractText runs OCR over the image bytes
func (s *OCRService) ExtractText(ctx context.Context, imageBytes []byte) (string, error) {
	return "", errors.New("OCR service is not available on Windows")
}

// Close releases OCR resources
func (s *OCRService) Close() error {
	return nil
}
