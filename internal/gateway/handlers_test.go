package gateway_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/forgo/writeway/internal/config"
	"github.com/forgo/writeway/internal/gateway"
	"github.com/forgo/writeway/internal/ledger"
	"github.com/forgo/writeway/internal/model"
	"github.com/forgo/writeway/internal/testing/testdb"
)

// fakePublisher records published messages and can be made to fail.
type fakePublisher struct {
	fail        bool
	published   []publishedMsg
}

type publishedMsg struct {
	subject string
	data    []byte
	dedupID string
}

func (f *fakePublisher) Publish(ctx context.Context, subject string, data []byte, dedupID string) error {
	if f.fail {
		return context.DeadlineExceeded
	}
	f.published = append(f.published, publishedMsg{subject: subject, data: data, dedupID: dedupID})
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func newTestServer(t *testing.T, pub *fakePublisher) (*gateway.Server, *testdb.TestDB) {
	t.Helper()
	tdb := testdb.New(t)
	admitter := gateway.NewAdmitter(config.AdmissionConfig{
		MaxInFlight:      10,
		BreakerThreshold: 3,
		BreakerResetMS:   100,
	})
	reader := ledger.NewReader(tdb.Store)
	return gateway.NewServer(admitter, pub, reader), tdb
}

func TestHandleWrite_MissingIdempotencyKey_Returns400(t *testing.T) {
	pub := &fakePublisher{}
	srv, tdb := newTestServer(t, pub)
	defer tdb.Close()

	mux := http.NewServeMux()
	srv.Routes(mux)

	req := httptest.NewRequest(http.MethodPost, "/users", strings.NewReader(`{"name":"a","email":"a@x"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleWrite_ValidRequest_Returns202AndPublishes(t *testing.T) {
	pub := &fakePublisher{}
	srv, tdb := newTestServer(t, pub)
	defer tdb.Close()

	mux := http.NewServeMux()
	srv.Routes(mux)

	opID := uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/users", strings.NewReader(`{"name":"Alice","email":"a@x"}`))
	req.Header.Set("Idempotency-Key", opID.String())
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp model.AcceptedResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, "accepted", resp.Status)
	require.Equal(t, opID, resp.OperationID)

	require.Len(t, pub.published, 1)
	require.Equal(t, "writes.users", pub.published[0].subject)
	require.Equal(t, opID.String(), pub.published[0].dedupID)
}

func TestHandleWrite_PublishFailure_ReturnsUpstreamError(t *testing.T) {
	pub := &fakePublisher{fail: true}
	srv, tdb := newTestServer(t, pub)
	defer tdb.Close()

	mux := http.NewServeMux()
	srv.Routes(mux)

	req := httptest.NewRequest(http.MethodPost, "/users", strings.NewReader(`{"name":"Alice","email":"a@x"}`))
	req.Header.Set("Idempotency-Key", uuid.New().String())
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHandleWrite_AdmissionBackpressure_Returns503WithRetryAfter(t *testing.T) {
	tdb := testdb.New(t)
	defer tdb.Close()

	admitter := gateway.NewAdmitter(config.AdmissionConfig{
		MaxInFlight:      1,
		BreakerThreshold: 3,
		BreakerResetMS:   100,
	})
	pub := &fakePublisher{}
	reader := ledger.NewReader(tdb.Store)
	srv := gateway.NewServer(admitter, pub, reader)

	mux := http.NewServeMux()
	srv.Routes(mux)

	// Hold the only in-flight slot directly via the admitter.
	_, err := admitter.Admit()
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/users", strings.NewReader(`{"name":"Alice","email":"a@x"}`))
	req.Header.Set("Idempotency-Key", uuid.New().String())
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestHandleStatus_UnknownOperation_ReturnsPending(t *testing.T) {
	pub := &fakePublisher{}
	srv, tdb := newTestServer(t, pub)
	defer tdb.Close()

	mux := http.NewServeMux()
	srv.Routes(mux)

	req := httptest.NewRequest(http.MethodGet, "/status/"+uuid.New().String(), nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp model.StatusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, model.StatusPending, resp.Status)
}

func TestHandleStatus_CompletedOperation_ReturnsEntityID(t *testing.T) {
	pub := &fakePublisher{}
	srv, tdb := newTestServer(t, pub)
	defer tdb.Close()

	op := model.Operation{
		OperationID: uuid.New(),
		EntityTable: model.TableUsers,
		EntityID:    uuid.New(),
		OpType:      model.OpCreate,
		CreatedAt:   time.Now(),
	}
	ctx := tdb.Ctx()
	tx, err := tdb.Store.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tdb.Store.InsertPendingOperation(ctx, tx, op))
	require.NoError(t, tdb.Store.CompleteOperation(ctx, tx, op.OperationID, time.Now()))
	require.NoError(t, tx.Commit(ctx))

	mux := http.NewServeMux()
	srv.Routes(mux)

	req := httptest.NewRequest(http.MethodGet, "/status/"+op.OperationID.String(), nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp model.StatusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, model.StatusCompleted, resp.Status)
	require.NotNil(t, resp.EntityID)
}

func TestHandleHealth_ReturnsAdmissionSnapshot(t *testing.T) {
	pub := &fakePublisher{}
	srv, tdb := newTestServer(t, pub)
	defer tdb.Close()

	mux := http.NewServeMux()
	srv.Routes(mux)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"circuit_state":"closed"`)
}
