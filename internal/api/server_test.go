package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridoc-ai/remediation-engine/internal/autofix"
	"github.com/veridoc-ai/remediation-engine/internal/credit"
	"github.com/veridoc-ai/remediation-engine/internal/domain"
	"github.com/veridoc-ai/remediation-engine/internal/observability"
	"github.com/veridoc-ai/remediation-engine/internal/pipeline"
	"github.com/veridoc-ai/remediation-engine/internal/scan"
	"github.com/veridoc-ai/remediation-engine/internal/suggest"
	"github.com/veridoc-ai/remediation-engine/internal/tagging"
	"github.com/veridoc-ai/remediation-engine/internal/validate"
)

type memLedger struct{ balance int }

func (m *memLedger) GetBalance(context.Context, string) (credit.Balance, error) {
	return credit.Balance{Remaining: m.balance}, nil
}

func (m *memLedger) Deduct(_ context.Context, _ string, amount int, _, _ string) (int, error) {
	m.balance -= amount
	return m.balance, nil
}

func (m *memLedger) Add(_ context.Context, _ string, amount int, _, _ string) (int, error) {
	m.balance += amount
	return m.balance, nil
}

type passTagger struct{}

func (passTagger) Tag(_ context.Context, data []byte, _ string) (*tagging.Result, error) {
	return &tagging.Result{Bytes: data}, nil
}

type cleanScanner struct{}

func (cleanScanner) Scan(context.Context, []byte, string, string) (*scan.Report, error) {
	return &scan.Report{}, nil
}

type noopBackend struct{}

func (noopBackend) Suggest(context.Context, domain.Issue) (string, error) { return "n/a", nil }

func testServer(t *testing.T) *Server {
	t.Helper()
	log := observability.Nop()

	validator := validate.NewValidatorWithPageCounter(validate.Config{
		MaxFileSize: 1 << 20,
		Thresholds:  validate.Thresholds{MinCharsPerPage: 1, LargeFileSize: 1 << 30, MaxBytesPerChar: 1 << 20},
	}, log, func([]byte) (int, error) { return 1, nil })

	suggester := suggest.NewGenerator(noopBackend{}, nil, suggest.Config{MaxPerRun: 1}, log)

	orch := pipeline.NewOrchestrator(
		validator,
		credit.NewMeter(&memLedger{balance: 100}, log),
		passTagger{},
		cleanScanner{},
		autofix.NewEngineWithFixers(nil, nil, log),
		suggester,
		pipeline.NewMemoryRegistry(),
		log,
	)
	return NewServer(orch, 1<<20, log)
}

func multipartUpload(t *testing.T, userID, fileName string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("userId", userID))
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, fileName))
	hdr.Set("Content-Type", "application/pdf")
	fw, err := w.CreatePart(hdr)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestHealthEndpoint(t *testing.T) {
	router := testServer(t).Router()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateRunAndPoll(t *testing.T) {
	router := testServer(t).Router()

	body, contentType := multipartUpload(t, "u1", "doc.pdf", []byte("%PDF-1.7\nstream\n(hello world text) Tj\nendstream\n"))
	req := httptest.NewRequest(http.MethodPost, "/v1/runs", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var created createRunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.RunID)

	// The run executes in the background; poll until it leaves the
	// pending set.
	deadline := time.Now().Add(5 * time.Second)
	for {
		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/"+created.RunID, nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var status runStatusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
		if status.State == string(pipeline.StateCompleted) {
			require.NotNil(t, status.Result)
			break
		}
		require.False(t, time.Now().After(deadline), "run never completed, state %s", status.State)
		time.Sleep(10 * time.Millisecond)
	}

	// Cancelling a finished run is a no-op, not an error.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/runs/"+created.RunID+"/cancel", strings.NewReader("")))
	require.Equal(t, http.StatusOK, rec.Code)

	var cancelled cancelRunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cancelled))
	assert.False(t, cancelled.Cancelled)
	assert.Equal(t, string(pipeline.StateCompleted), cancelled.State)
}

func TestCreateRunRequiresUser(t *testing.T) {
	router := testServer(t).Router()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", "doc.pdf")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("%PDF-1.7"))
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/runs", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRunInvalidID(t *testing.T) {
	router := testServer(t).Router()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRunNotFound(t *testing.T) {
	router := testServer(t).Router()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/00000000-0000-0000-0000-000000000001", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelUnknownRunNotFound(t *testing.T) {
	router := testServer(t).Router()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/runs/00000000-0000-0000-0000-000000000001/cancel", strings.NewReader(""))
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusForCode(t *testing.T) {
	assert.Equal(t, http.StatusUnprocessableEntity, StatusForCode(domain.CodeInvalidFormat))
	assert.Equal(t, http.StatusRequestEntityTooLarge, StatusForCode(domain.CodeTooLarge))
	assert.Equal(t, http.StatusPaymentRequired, StatusForCode(domain.CodeInsufficientCredit))
	assert.Equal(t, http.StatusConflict, StatusForCode(domain.CodeCancelled))
	assert.Equal(t, http.StatusInternalServerError, StatusForCode(domain.CodeUnhandledFailure))
}
