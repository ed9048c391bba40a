package profitloss

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (http.Handler, *serviceFixture) {
	t.Helper()
	f := newServiceFixture(t)
	r := chi.NewRouter()
	r.Route("/profit-loss", NewHandler(nil, f.svc, 1<<20).MountRoutes)
	return r, f
}

func multipartUpload(t *testing.T, name, body string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("uploadedBy", "cashier"))
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func doUpload(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	buf, contentType := multipartUpload(t, "january.csv", body)
	req := httptest.NewRequest(http.MethodPost, "/profit-loss/upload", buf)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleUpload(t *testing.T) {
	h, f := newTestRouter(t)

	rec := doUpload(t, h, januaryCSV)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Equal(t, RecordSummary{TotalRecords: 3, SuccessRecords: 2, ErrorRecords: 1}, res.Summary)
	require.Equal(t, 1000.0, res.Totals.TotalPayment)

	sheets, err := f.ledger.ListUploads(t.Context(), UploadFilter{})
	require.NoError(t, err)
	require.Len(t, sheets, 1)
	require.Equal(t, "cashier", sheets[0].UploadedBy)

	rec = doUpload(t, h, januaryCSV)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleUploadRequiresFile(t *testing.T) {
	h, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/profit-loss/upload", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleUploadPersistenceFailure(t *testing.T) {
	h, f := newTestRouter(t)
	f.ledger.commitErr = errors.New("connection reset")

	rec := doUpload(t, h, januaryCSV)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	var body struct {
		Title  string `json:"title"`
		Result struct {
			UploadID string            `json:"uploadId"`
			Results  []json.RawMessage `json:"results"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "Persistence Failed", body.Title)
	require.Len(t, body.Result.Results, 3)

	f.ledger.commitErr = nil
	req := httptest.NewRequest(http.MethodPost, "/profit-loss/uploads/"+body.Result.UploadID+"/commit", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), `"status":"completed"`)
}

func TestHandleRowEditing(t *testing.T) {
	h, f := newTestRouter(t)
	res := f.upload(t, januaryCSV)
	base := "/profit-loss/uploads/" + res.UploadID.String()

	req := httptest.NewRequest(http.MethodPut, base+"/rows/3", strings.NewReader(`{"costPrice":320,"status":"Delivered"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sheet UploadedSheet
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sheet))
	require.Equal(t, 180.0, sheet.ProfitSummary.TotalProfit)

	req = httptest.NewRequest(http.MethodPut, base+"/rows/3", strings.NewReader(`{"quantity":-1}`))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, base+"/rows/9", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, base+"/rows/abc", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAddRow(t *testing.T) {
	h, f := newTestRouter(t)
	res := f.upload(t, januaryCSV)
	base := "/profit-loss/uploads/" + res.UploadID.String()

	req := httptest.NewRequest(http.MethodPost, base+"/rows", strings.NewReader(`{"orderId":"A-9","sku":"COMBO-1","soldPrice":650,"date":"2024-01-25T00:00:00Z"}`))
	req.Header.Set("X-User", "ops")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var sheet UploadedSheet
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sheet))
	require.Equal(t, 4, sheet.TotalRecords)
	require.Equal(t, 350.0, sheet.ProfitSummary.TotalProfit)
	require.Equal(t, "ops", f.audit.logs[len(f.audit.logs)-1].Actor)

	req = httptest.NewRequest(http.MethodPost, base+"/rows", strings.NewReader(`{"sku":"COMBO-1","quantity":0.5,"costPrice":-1}`))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPost, base+"/rows", strings.NewReader(`{}`))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRTOProducts(t *testing.T) {
	h, f := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/profit-loss/rto-products", strings.NewReader(`{"productId":1,"category":"RTO","quantity":3,"reason":"damaged"}`))
	req.Header.Set("X-User", "store")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var item RTOProduct
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &item))
	require.Equal(t, 750.0, item.TotalValue)
	require.Equal(t, "damaged", item.Reason)
	require.Len(t, f.ledger.items, 1)

	req = httptest.NewRequest(http.MethodPost, "/profit-loss/rto-products", strings.NewReader(`{"category":"RTO"}`))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/profit-loss/rto-products", strings.NewReader(`{"productId":404}`))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, "/profit-loss/rto-products/"+item.ID.String(), nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Empty(t, f.ledger.items)

	req = httptest.NewRequest(http.MethodDelete, "/profit-loss/rto-products/"+item.ID.String(), nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, "/profit-loss/rto-products/nope", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleUploadLifecycle(t *testing.T) {
	h, f := newTestRouter(t)
	res := f.upload(t, januaryCSV)
	base := "/profit-loss/uploads/" + res.UploadID.String()

	req := httptest.NewRequest(http.MethodPatch, base, strings.NewReader(`{"status":"processed","notes":"matched bank"}`))
	req.Header.Set("X-User", "auditor")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), `"notes":"matched bank"`)
	require.Equal(t, "auditor", f.audit.logs[len(f.audit.logs)-1].Actor)

	req = httptest.NewRequest(http.MethodPatch, base, strings.NewReader(`{"status":"archived"}`))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, base, nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"deleted":true,"deletedEntries":3}`, rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, base, nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/profit-loss/uploads/not-a-uuid", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleReports(t *testing.T) {
	h, f := newTestRouter(t)
	f.upload(t, januaryCSV)

	cases := []struct {
		path   string
		status int
		body   string
	}{
		{"/profit-loss/monthly", http.StatusOK, `"month":"2024-01"`},
		{"/profit-loss/?startDate=2024-01-01&endDate=2024-01-31", http.StatusOK, `"entryCount":2`},
		{"/profit-loss/monthly?startDate=2024-03-01&endDate=2024-01-01", http.StatusBadRequest, ""},
		{"/profit-loss/monthly?includeSales=maybe", http.StatusBadRequest, ""},
		{"/profit-loss/entries?sku=combo&limit=1", http.StatusOK, `"count":1`},
		{"/profit-loss/entries?limit=-4", http.StatusBadRequest, ""},
		{"/profit-loss/stats", http.StatusOK, `"totalSheets":1`},
		{"/profit-loss/combo-details/COMBO-1", http.StatusOK, `"unitCost":300`},
		{"/profit-loss/combo-details/NOPE", http.StatusNotFound, ""},
		{"/profit-loss/rto-products?category=rpu", http.StatusOK, `"count":2`},
		{"/profit-loss/uploads/latest", http.StatusOK, `"fileName":"january.csv"`},
		{"/profit-loss/uploads?status=completed", http.StatusOK, `"count":1`},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			if tc.body != "" {
				require.Contains(t, rec.Body.String(), tc.body)
			}
		})
	}
}

func TestParseQueryDateEndOfDay(t *testing.T) {
	end, err := parseQueryDate("2024-01-31", true)
	require.NoError(t, err)
	require.Equal(t, 23, end.Hour())
	require.Equal(t, 31, end.Day())

	_, err = parseQueryDate("31/01/2024", false)
	require.Error(t, err)
}
