package services

import (
	"bytes"
	"context"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/url"
	"strings"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"

	"github.com/Jenks18/kara-sub001/internal/models"
)

// QRScanner decodes QR payloads from receipt images and, when the payload
// points at a supported verification portal, verifies the invoice with it.
type QRScanner struct {
	portal      *PortalVerifier
	portalHosts []string
}

// NewQRScanner creates a scanner. portalHosts is the allow-list of
// government verification-portal domains.
func NewQRScanner(portal *PortalVerifier, portalHosts []string) *QRScanner {
	return &QRScanner{portal: portal, portalHosts: portalHosts}
}

// Verify decodes a QR code from the image and classifies its payload.
// Absence of a QR code is a valid outcome (Found=false), not an error; the
// receipt simply routes to template extraction only.
func (s *QRScanner) Verify(ctx context.Context, imageBytes []byte) models.QRResult {
	text, found := decodeQR(imageBytes)
	if !found {
		return models.QRResult{Found: false, DataType: models.QRDataNone}
	}

	result := models.QRResult{Found: true, RawText: text}
	result.DataType, result.URL = classifyPayload(text, s.portalHosts)

	if result.DataType == models.QRDataPortalURL {
		result.PortalData = s.portal.Verify(ctx, result.URL)
	}

	return result
}

// decodeQR attempts both image orientations before giving up. Thermal
// receipts are routinely photographed upside down.
func decodeQR(imageBytes []byte) (string, bool) {
	img, _, err := image.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return "", false
	}

	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}
	reader := qrcode.NewQRCodeReader()

	for _, candidate := range []image.Image{img, rotate180(img)} {
		bmp, err := gozxing.NewBinaryBitmapFromImage(candidate)
		if err != nil {
			continue
		}
		if result, err := reader.Decode(bmp, hints); err == nil {
			return result.GetText(), true
		}
	}

	return "", false
}

// classifyPayload decides what a decoded payload is: a supported portal URL,
// some other URL, or plain text.
func classifyPayload(text string, portalHosts []string) (models.QRDataType, string) {
	u, err := url.Parse(strings.TrimSpace(text))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return models.QRDataPlainText, ""
	}

	host := strings.ToLower(u.Hostname())
	for _, allowed := range portalHosts {
		allowed = strings.ToLower(allowed)
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return models.QRDataPortalURL, u.String()
		}
	}

	return models.QRDataURL, u.String()
}

func rotate180(src image.Image) image.Image {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			dst.Set(b.Dx()-1-x, b.Dy()-1-y, src.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}
