package services

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/stretchr/testify/require"

	"github.com/Jenks18/kara-sub001/internal/models"
)

var testPortalHosts = []string{"itax.kra.go.ke", "kra.go.ke"}

// qrImage renders content as a QR code PNG
func qrImage(t *testing.T, content string) []byte {
	t.Helper()

	writer := qrcode.NewQRCodeWriter()
	matrix, err := writer.Encode(content, gozxing.BarcodeFormat_QR_CODE, 256, 256, nil)
	require.NoError(t, err)

	img := image.NewGray(image.Rect(0, 0, matrix.GetWidth(), matrix.GetHeight()))
	for y := 0; y < matrix.GetHeight(); y++ {
		for x := 0; x < matrix.GetWidth(); x++ {
			if matrix.Get(x, y) {
				img.SetGray(x, y, color.Gray{Y: 0})
			} else {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func rotatePNG(t *testing.T, imageBytes []byte) []byte {
	t.Helper()
	img, _, err := image.Decode(bytes.NewReader(imageBytes))
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, rotate180(img)))
	return buf.Bytes()
}

func TestVerifyDecodesPlainTextQR(t *testing.T) {
	t.Parallel()
	s := NewQRScanner(nil, testPortalHosts)

	result := s.Verify(context.Background(), qrImage(t, "THANK YOU FOR SHOPPING"))

	require.True(t, result.Found)
	require.Equal(t, models.QRDataPlainText, result.DataType)
	require.Equal(t, "THANK YOU FOR SHOPPING", result.RawText)
	require.Nil(t, result.PortalData)
}

func TestVerifyDecodesUpsideDownQR(t *testing.T) {
	t.Parallel()
	s := NewQRScanner(nil, testPortalHosts)

	upsideDown := rotatePNG(t, qrImage(t, "ROTATED RECEIPT"))
	result := s.Verify(context.Background(), upsideDown)

	require.True(t, result.Found)
	require.Equal(t, "ROTATED RECEIPT", result.RawText)
}

func TestVerifyNonPortalURL(t *testing.T) {
	t.Parallel()
	s := NewQRScanner(nil, testPortalHosts)

	result := s.Verify(context.Background(), qrImage(t, "https://example.com/promo"))

	require.True(t, result.Found)
	require.Equal(t, models.QRDataURL, result.DataType)
	require.Equal(t, "https://example.com/promo", result.URL)
	require.Nil(t, result.PortalData)
}

func TestVerifyPortalURLTriggersVerification(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(kraInvoicePage))
	}))
	defer srv.Close()

	// The QR carries a portal-host URL; the fetcher is pointed at the test
	// server so no real portal is contacted.
	portal := NewPortalVerifier(redirectingFetcher{target: srv.URL})
	s := NewQRScanner(portal, testPortalHosts)

	qrURL := "https://itax.kra.go.ke/KRA-Portal/invoiceChk.htm?actionCode=loadPage&invoiceNo=0010002900000123"
	result := s.Verify(context.Background(), qrImage(t, qrURL))

	require.True(t, result.Found)
	require.Equal(t, models.QRDataPortalURL, result.DataType)
	require.NotNil(t, result.PortalData)
	require.True(t, result.PortalData.Verified)
	require.True(t, result.PortalVerified())
	require.Equal(t, 1250.00, *result.PortalData.TotalAmount)
}

// redirectingFetcher sends every request to a fixed test server
type redirectingFetcher struct {
	target string
}

func (f redirectingFetcher) Get(ctx context.Context, url string) (*http.Response, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.target, nil)
	if err != nil {
		return nil, err
	}
	return client.Do(req)
}

func TestVerifyNoQRCode(t *testing.T) {
	t.Parallel()
	s := NewQRScanner(nil, testPortalHosts)

	// A blank image decodes fine but contains no QR code.
	blank := image.NewGray(image.Rect(0, 0, 64, 64))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, blank))

	result := s.Verify(context.Background(), buf.Bytes())

	require.False(t, result.Found)
	require.Equal(t, models.QRDataNone, result.DataType)
}

func TestVerifyUnreadableImage(t *testing.T) {
	t.Parallel()
	s := NewQRScanner(nil, testPortalHosts)

	result := s.Verify(context.Background(), []byte("not an image"))

	require.False(t, result.Found)
}

func TestClassifyPayload(t *testing.T) {
	t.Parallel()

	cases := []struct {
		text     string
		wantType models.QRDataType
		wantURL  string
	}{
		{"https://itax.kra.go.ke/KRA-Portal/invoiceChk.htm?invoiceNo=123", models.QRDataPortalURL, "https://itax.kra.go.ke/KRA-Portal/invoiceChk.htm?invoiceNo=123"},
		{"http://etims.kra.go.ke/check/123", models.QRDataPortalURL, "http://etims.kra.go.ke/check/123"},
		{"https://example.com/x", models.QRDataURL, "https://example.com/x"},
		{"https://notkra.go.ke.evil.com/x", models.QRDataURL, "https://notkra.go.ke.evil.com/x"},
		{"0010002900000123", models.QRDataPlainText, ""},
		{"ftp://itax.kra.go.ke/x", models.QRDataPlainText, ""},
		{"  https://ITAX.KRA.GO.KE/path  ", models.QRDataPortalURL, "https://ITAX.KRA.GO.KE/path"},
	}

	for _, tc := range cases {
		gotType, gotURL := classifyPayload(tc.text, testPortalHosts)
		require.Equal(t, tc.wantType, gotType, "payload %q", tc.text)
		require.Equal(t, tc.wantURL, gotURL, "payload %q", tc.text)
	}
}
