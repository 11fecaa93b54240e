package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempPDF(t *testing.T) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "artifact-*.pdf")
	require.NoError(t, err)
	_, err = f.Write([]byte("%PDF-1.4\n%fake pdf body for mime sniffing\n"))
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}

func TestClient_ExtractPurchaseOrder_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "pdf", r.Header.Get("X-Extract-Kind"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"po_number":"PO-1","supplier":{"name":"Acme"},"line_items":[{"sku":"a","description":"Widget","quantity":2,"unit_price":9.99}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, BackoffConfig{})
	result, err := c.ExtractPurchaseOrder(context.Background(), writeTempPDF(t))
	require.NoError(t, err)
	assert.Equal(t, "PO-1", result.PONumber)
	assert.Equal(t, "Acme", result.Supplier.Name)
	require.Len(t, result.LineItems, 1)
	assert.Equal(t, "a", result.LineItems[0].SKU)
}

func TestClient_ExtractPurchaseOrder_RetriesTransientThenSucceeds(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"po_number":"PO-2","line_items":[]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, BackoffConfig{InitialInterval: 1, MaxInterval: 2, MaxElapsedTime: 2000000000})
	result, err := c.ExtractPurchaseOrder(context.Background(), writeTempPDF(t))
	require.NoError(t, err)
	assert.Equal(t, "PO-2", result.PONumber)
	assert.Equal(t, 2, attempts)
}

func TestClient_ExtractPurchaseOrder_ClientErrorIsPermanent(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(srv.URL, BackoffConfig{InitialInterval: 1, MaxInterval: 2, MaxElapsedTime: 2000000000})
	_, err := c.ExtractPurchaseOrder(context.Background(), writeTempPDF(t))
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDetectKind_RoutesPDF(t *testing.T) {
	kind, err := detectKind(writeTempPDF(t))
	require.NoError(t, err)
	assert.Equal(t, "pdf", kind)
}
