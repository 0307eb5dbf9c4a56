package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// 2-cell and 4-cell rows, matching the KRA invoice page layout.
const kraInvoicePage = `<html><body>
<table>
<tr><td>Control Unit Invoice Number</td><td>0010002900000123</td></tr>
<tr><td>Trader System Invoice No</td><td>INV-2025-0042</td>
    <td>Invoice Date</td><td>14/03/2025</td></tr>
<tr><td>Supplier Name</td><td>NAIVAS LIMITED</td></tr>
<tr><td>Total Taxable Amount</td><td>1,077.59</td>
    <td>Total Tax Amount</td><td>172.41</td></tr>
<tr><td>Total Invoice Amount</td><td>KES 1,250.00</td></tr>
</table>
</body></html>`

func testClient(maxRetries int) *RetryingClient {
	return &RetryingClient{
		client:     &http.Client{Timeout: 5 * time.Second},
		maxRetries: maxRetries,
		backoff:    time.Millisecond,
	}
}

func TestVerifyParsesInvoicePage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(kraInvoicePage))
	}))
	defer srv.Close()

	v := NewPortalVerifier(testClient(0))
	result := v.Verify(context.Background(), srv.URL)

	require.True(t, result.Verified)
	require.Empty(t, result.Error)
	require.Equal(t, "0010002900000123", result.InvoiceNumber)
	require.Equal(t, "INV-2025-0042", result.TraderInvoiceNumber)
	require.Equal(t, "NAIVAS LIMITED", result.MerchantName)
	require.Equal(t, 1250.00, *result.TotalAmount)
	require.Equal(t, 1077.59, *result.TaxableAmount)
	require.Equal(t, 172.41, *result.VATAmount)
	require.Equal(t, time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC), *result.InvoiceDate)
}

func TestVerifyRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(kraInvoicePage))
	}))
	defer srv.Close()

	v := NewPortalVerifier(testClient(2))
	result := v.Verify(context.Background(), srv.URL)

	require.True(t, result.Verified)
	require.EqualValues(t, 3, atomic.LoadInt32(&attempts))
}

func TestVerifyDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	v := NewPortalVerifier(testClient(2))
	result := v.Verify(context.Background(), srv.URL)

	require.False(t, result.Verified)
	require.Contains(t, result.Error, "404")
	require.EqualValues(t, 1, atomic.LoadInt32(&attempts))
}

func TestVerifyRetryBudgetExhausted(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	v := NewPortalVerifier(testClient(1))
	result := v.Verify(context.Background(), srv.URL)

	require.False(t, result.Verified)
	require.Contains(t, result.Error, "portal unreachable")
}

func TestVerifySchemaMismatch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><h1>Session expired, please solve the captcha</h1></body></html>`))
	}))
	defer srv.Close()

	v := NewPortalVerifier(testClient(0))
	result := v.Verify(context.Background(), srv.URL)

	require.False(t, result.Verified)
	require.Contains(t, result.Error, "schema mismatch")
	// The snippet helps diagnose portal layout changes from the audit log.
	require.Contains(t, result.Error, "Session expired")
}

func TestVerifyIncompleteInvoiceTable(t *testing.T) {
	t.Parallel()

	// A recognizable table that lacks the total: not authoritative.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><table>
<tr><td>Control Unit Invoice Number</td><td>0010002900000123</td></tr>
</table></body></html>`))
	}))
	defer srv.Close()

	v := NewPortalVerifier(testClient(0))
	result := v.Verify(context.Background(), srv.URL)

	require.False(t, result.Verified)
	require.Equal(t, "0010002900000123", result.InvoiceNumber)
	require.Nil(t, result.TotalAmount)
	require.Contains(t, result.Error, "invoice number or total missing")
}

func TestVerifyUnreachablePortal(t *testing.T) {
	t.Parallel()

	v := NewPortalVerifier(testClient(0))
	result := v.Verify(context.Background(), "http://127.0.0.1:1/invoice")

	require.False(t, result.Verified)
	require.Contains(t, result.Error, "portal unreachable")
}

func TestVerifyContextCancellation(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	v := NewPortalVerifier(testClient(0))
	result := v.Verify(ctx, srv.URL)

	require.False(t, result.Verified)
	require.Contains(t, result.Error, "portal unreachable")
}
