package services

import (
	"context"
	"errors"
)

// TextReader turns an image into raw text. OCRService is the real
// implementation; NoOCR stands in when tesseract is unavailable.
type TextReader interface {
	ExtractText(ctx context.Context, imageBytes []byte) (string, error)
}

// ErrOCRUnavailable is returned when no OCR engine is configured
var ErrOCRUnavailable = errors.New("ocr engine not available")

// NoOCR degrades the text branch to nothing, leaving the QR/portal branch
// as the only extraction strategy.
type NoOCR struct{}

func (NoOCR) ExtractText(context.Context, []byte) (string, error) {
	return "", ErrOCRUnavailable
}
