package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ntrivedi/adviceparser/constants"
	"github.com/ntrivedi/adviceparser/internal/batch"
	"github.com/ntrivedi/adviceparser/internal/export"
	"github.com/ntrivedi/adviceparser/internal/extract"
	"github.com/ntrivedi/adviceparser/internal/parser"
	"github.com/ntrivedi/adviceparser/internal/pipeline"
	"github.com/ntrivedi/adviceparser/internal/store"
)

type passthroughExtractor struct{}

func (passthroughExtractor) Extract(_ context.Context, doc extract.Document) (extract.Result, error) {
	return extract.Result{Text: string(doc.Data), Format: constants.TXT, Method: "passthrough"}, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	st, err := store.OpenSQLite(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	pipe := pipeline.New(passthroughExtractor{}, parser.NewRegistry(nil), st, pipeline.Options{}, nil)
	orch := batch.New(pipe, st, batch.WithWorkers(2), batch.WithItemTimeout(time.Second))
	orch.Start(context.Background())
	t.Cleanup(orch.Shutdown)

	return New(orch, pipe, export.NewService(st, nil), st, t.TempDir(), nil)
}

func multipartBody(t *testing.T, field string, files map[string][]byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for name, data := range files {
		part, err := w.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListCustomers(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/customers", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Customers []string `json:"customers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Customers, "Hindustan Zinc India Ltd")
}

func TestParseSingleUpload(t *testing.T) {
	s := newTestServer(t)

	body, ctype := multipartBody(t, "file", map[string][]byte{
		"advice.txt": []byte("HINDUSTAN ZINC\nPAYMENT ADVICE\nUTR: SRVTEST001\nAmount: 2,500.00\n"),
	}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/advices", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Parser string `json:"parser"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "HindustanZincParser", resp.Parser)
}

func TestParseSingleDuplicateConflict(t *testing.T) {
	s := newTestServer(t)
	send := func() *httptest.ResponseRecorder {
		body, ctype := multipartBody(t, "file", map[string][]byte{
			"advice.txt": []byte("advice\nUTR: SRVDUP0001\nAmount: 10.00\n"),
		}, nil)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/advices", body)
		req.Header.Set("Content-Type", ctype)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusCreated, send().Code)
	assert.Equal(t, http.StatusConflict, send().Code)
}

func TestBatchLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)

	body, ctype := multipartBody(t, "files", map[string][]byte{
		"a.txt": []byte("advice\nUTR: HTTPB00001\nAmount: 10.00\n"),
		"b.txt": []byte("advice\nUTR: HTTPB00002\nAmount: 20.00\n"),
	}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/batches", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var submitted struct {
		BatchID string `json:"batch_id"`
		Total   int    `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	assert.Equal(t, 2, submitted.Total)

	deadline := time.Now().Add(10 * time.Second)
	var status struct {
		Status    string `json:"status"`
		Succeeded int    `json:"succeeded"`
	}
	for time.Now().Before(deadline) {
		rec = httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/batches/"+submitted.BatchID+"/status", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
		if status.Status == string(constants.BatchCompleted) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, string(constants.BatchCompleted), status.Status)
	assert.Equal(t, 2, status.Succeeded)

	// Reprocess with nothing failed is a conflict.
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/batches/"+submitted.BatchID+"/reprocess", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Exported workbook is non-empty XLSX.
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/batches/"+submitted.BatchID+"/export", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Body.Bytes())
}

func TestGetBatchInvalidID(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/batches/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetBatchNotFound(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/batches/6f1e0a1a-9c7e-4f7a-96a2-58e2f2a1d001", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
