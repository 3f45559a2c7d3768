// Package tests contains black-box end-to-end acceptance tests for the
// write pipeline, exercising the gateway, processor, and CDC consumer
// together against real Postgres, Redis, and NATS JetStream instances.
//
// To run tests:
//  1. Start Postgres, Redis, and a NATS server with JetStream enabled
//     (nats-server -js).
//  2. Run tests: go test ./tests/...
//
// Environment variables:
//
//	TEST_POSTGRES_DSN - Postgres DSN (see internal/testing/testdb)
//	TEST_REDIS_ADDR   - Redis address (default: localhost:6379)
//	TEST_NATS_URL     - NATS URL (default: nats://localhost:4222)
package tests

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/forgo/writeway/internal/cache"
	"github.com/forgo/writeway/internal/cdc"
	"github.com/forgo/writeway/internal/config"
	"github.com/forgo/writeway/internal/gateway"
	"github.com/forgo/writeway/internal/ledger"
	"github.com/forgo/writeway/internal/model"
	"github.com/forgo/writeway/internal/processor"
	"github.com/forgo/writeway/internal/queue"
	"github.com/forgo/writeway/internal/testing/testdb"
)

/*
FEATURE: Durable Idempotent Write Pipeline
DOMAIN: Write Gateway / Durable Queue / Write Processor / Cache Keystore / CDC Consumer

ACCEPTANCE CRITERIA:
===================

AC-PIPE-001: Happy Path
  GIVEN a client submitting a well-formed users write with a fresh
    Idempotency-Key
  WHEN the gateway accepts it and the processor consumes it
  THEN the status reader eventually reports completed with an entity_id

AC-PIPE-002: Duplicate Submission
  GIVEN an operation already completed
  WHEN the same Idempotency-Key is submitted again
  THEN the gateway still accepts the request (at-least-once delivery
    contract) but the processor's second delivery is a no-op: no second
    domain row, status remains completed

AC-PIPE-003: Non-Retryable Domain Failure
  GIVEN a write whose domain insert violates a constraint the
    classifier does not consider transient
  WHEN the processor attempts it
  THEN the operation is recorded as failed on the first attempt and
    never redelivered

AC-PIPE-004: Retryable Failure Exhausts Retries to DLQ
  GIVEN a handler whose domain insert always fails with a retryable
    Postgres error code
  WHEN delivery is attempted MaxDeliver times
  THEN the message is routed to the dead-letter stream and an operator
    can list it with ListDLQMessages, the call cmd/admin-requeue uses

AC-PIPE-005: CDC Invalidation
  GIVEN a cached entry tracked under the users namespace
  WHEN a CDC event for a users row arrives
  THEN the cache consumer invalidates the namespace and the entry is
    gone
*/

func testPostgresAvailable(t *testing.T) {
	t.Helper()
	if os.Getenv("TEST_POSTGRES_DSN") == "" {
		t.Skip("set TEST_POSTGRES_DSN to run black-box pipeline tests against a real Postgres instance")
	}
}

func testRedisAddr() string {
	if addr := os.Getenv("TEST_REDIS_ADDR"); addr != "" {
		return addr
	}
	return "localhost:6379"
}

func testNatsURL() string {
	if url := os.Getenv("TEST_NATS_URL"); url != "" {
		return url
	}
	return "nats://localhost:4222"
}

var streamCounter int64

func uniqueStreamName(prefix string) string {
	n := atomic.AddInt64(&streamCounter, 1)
	return prefix + "_" + strconv.FormatInt(time.Now().UnixNano(), 10) + "_" + strconv.FormatInt(n, 10)
}

// pipelineEnv wires one instance of every pipeline component against real
// backing stores, under stream/subject names unique to this test run so
// parallel test processes never collide.
type pipelineEnv struct {
	tdb          *testdb.TestDB
	cache        *cache.Keystore
	natsClient   *queue.NatsClient
	httpServer   *httptest.Server
	writesStream string
	dlqStream    string
	cdcStream    string
	maxDeliver   int
}

func newPipelineEnv(t *testing.T, maxDeliver int) *pipelineEnv {
	t.Helper()
	testPostgresAvailable(t)

	tdb := testdb.New(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ck, err := cache.New(ctx, config.CacheConfig{
		Addr:         testRedisAddr(),
		EntryTTL:     5 * time.Second,
		SetTTLFactor: 3,
	})
	require.NoError(t, err)

	natsClient, err := queue.Connect(testNatsURL())
	require.NoError(t, err)

	writesStream := uniqueStreamName("WRITES")
	dlqStream := uniqueStreamName("WRITES_DLQ")
	cdcStream := uniqueStreamName("CDC")

	require.NoError(t, natsClient.EnsureStream(ctx, queue.StreamSpec{
		Name:     writesStream,
		Subjects: []string{writesStream + ".*"},
	}))
	require.NoError(t, natsClient.EnsureStream(ctx, queue.StreamSpec{
		Name:     dlqStream,
		Subjects: []string{dlqStream + ".*"},
	}))
	require.NoError(t, natsClient.EnsureStream(ctx, queue.StreamSpec{
		Name:     cdcStream,
		Subjects: []string{cdcStream + ".*"},
	}))

	env := &pipelineEnv{
		tdb:          tdb,
		cache:        ck,
		natsClient:   natsClient,
		writesStream: writesStream,
		dlqStream:    dlqStream,
		cdcStream:    cdcStream,
		maxDeliver:   maxDeliver,
	}

	publisher := queue.NewPublisher(natsClient)
	admitter := gateway.NewAdmitter(config.AdmissionConfig{
		MaxInFlight:      50,
		BreakerThreshold: 5,
		BreakerResetMS:   200,
	})
	reader := ledger.NewReader(tdb.Store)
	srv := gateway.NewServer(admitter, &subjectRewritingPublisher{inner: publisher, prefix: writesStream}, reader)

	mux := http.NewServeMux()
	srv.Routes(mux)
	env.httpServer = httptest.NewServer(mux)

	t.Cleanup(func() {
		env.httpServer.Close()
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cleanupCancel()
		_ = natsClient.DeleteStream(cleanupCtx, writesStream)
		_ = natsClient.DeleteStream(cleanupCtx, dlqStream)
		_ = natsClient.DeleteStream(cleanupCtx, cdcStream)
		natsClient.Close()
		ck.Close()
		tdb.Close()
	})

	return env
}

// subjectRewritingPublisher prefixes "writes.<table>" subjects with a
// test-unique stream name, so each test run's gateway publishes onto its
// own isolated stream instead of the shared production subject space.
type subjectRewritingPublisher struct {
	inner  queue.Publisher
	prefix string
}

func (p *subjectRewritingPublisher) Publish(ctx context.Context, subject string, data []byte, dedupID string) error {
	return p.inner.Publish(ctx, p.prefix+"."+subject[len("writes."):], data, dedupID)
}
func (p *subjectRewritingPublisher) Close() error { return p.inner.Close() }

// runProcessor starts one consumer goroutine for handler against env's
// writes stream, canceled when the test ends.
func (env *pipelineEnv) runProcessor(t *testing.T, handler processor.TableHandler, dlqPublisher queue.Publisher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	consumer, err := queue.NewConsumer(ctx, env.natsClient, queue.ConsumerSpec{
		Stream:        env.writesStream,
		Durable:       "test-processor-" + string(handler.Table),
		FilterSubject: env.writesStream + "." + string(handler.Table),
		AckWait:       5 * time.Second,
		MaxDeliver:    env.maxDeliver,
	})
	require.NoError(t, err)

	deps := processor.Deps{
		Store:      env.tdb.Store,
		Cache:      env.cache,
		DLQ:        dlqPublisher,
		MaxDeliver: env.maxDeliver,
	}

	go func() {
		_ = processor.ConsumeTable(ctx, consumer, deps, handler)
	}()
}

// dlqPublisher returns a Publisher that writes under this test's isolated
// dead-letter stream name instead of the shared "writes-dlq.*" subject
// space, matching subjectRewritingPublisher's prefixing scheme for the
// writes stream.
func (env *pipelineEnv) dlqPublisher() queue.Publisher {
	return &subjectRewritingDLQPublisher{inner: queue.NewPublisher(env.natsClient), prefix: env.dlqStream}
}

type subjectRewritingDLQPublisher struct {
	inner  queue.Publisher
	prefix string
}

func (p *subjectRewritingDLQPublisher) Publish(ctx context.Context, subject string, data []byte, dedupID string) error {
	return p.inner.Publish(ctx, p.prefix+"."+subject[len("writes-dlq."):], data, dedupID)
}
func (p *subjectRewritingDLQPublisher) Close() error { return p.inner.Close() }

func (env *pipelineEnv) submitWrite(t *testing.T, path, body string, idempotencyKey uuid.UUID) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, env.httpServer.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Idempotency-Key", idempotencyKey.String())
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func (env *pipelineEnv) status(t *testing.T, operationID uuid.UUID) model.StatusResponse {
	t.Helper()
	resp, err := http.Get(env.httpServer.URL + "/status/" + operationID.String())
	require.NoError(t, err)
	defer resp.Body.Close()

	var out model.StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestPipeline_HappyPath_WriteCompletesAndIsReadable(t *testing.T) {
	env := newPipelineEnv(t, 5)
	env.runProcessor(t, processor.UsersHandler(), env.dlqPublisher())

	opID := uuid.New()
	resp := env.submitWrite(t, "/users", `{"name":"Alice","email":"alice-`+opID.String()+`@example.com"}`, opID)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	require.Eventually(t, func() bool {
		return env.status(t, opID).Status == model.StatusCompleted
	}, 10*time.Second, 100*time.Millisecond)

	final := env.status(t, opID)
	require.NotNil(t, final.EntityID)
}

func TestPipeline_DuplicateSubmission_IsIdempotent(t *testing.T) {
	env := newPipelineEnv(t, 5)
	env.runProcessor(t, processor.UsersHandler(), env.dlqPublisher())

	opID := uuid.New()
	body := `{"name":"Bob","email":"bob-` + opID.String() + `@example.com"}`

	resp1 := env.submitWrite(t, "/users", body, opID)
	require.Equal(t, http.StatusAccepted, resp1.StatusCode)
	resp1.Body.Close()

	require.Eventually(t, func() bool {
		return env.status(t, opID).Status == model.StatusCompleted
	}, 10*time.Second, 100*time.Millisecond)

	firstEntityID := env.status(t, opID).EntityID
	require.NotNil(t, firstEntityID)

	resp2 := env.submitWrite(t, "/users", body, opID)
	require.Equal(t, http.StatusAccepted, resp2.StatusCode)
	resp2.Body.Close()

	time.Sleep(500 * time.Millisecond)

	second := env.status(t, opID)
	require.Equal(t, model.StatusCompleted, second.Status)
	require.Equal(t, *firstEntityID, *second.EntityID)
}

func TestPipeline_NonRetryableFailure_RecordsFailedWithoutRedelivery(t *testing.T) {
	env := newPipelineEnv(t, 5)
	env.runProcessor(t, processor.UsersHandler(), env.dlqPublisher())

	opID := uuid.New()
	// Missing required email field: fails validation inside InsertDomain,
	// a plain fmt.Errorf the classifier treats as non-retryable.
	resp := env.submitWrite(t, "/users", `{"name":"NoEmail"}`, opID)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	require.Eventually(t, func() bool {
		return env.status(t, opID).Status == model.StatusFailed
	}, 10*time.Second, 100*time.Millisecond)

	final := env.status(t, opID)
	require.NotNil(t, final.Error)
}

func TestPipeline_RetryableFailure_ExhaustsToDLQ(t *testing.T) {
	env := newPipelineEnv(t, 2)

	alwaysRetryable := processor.TableHandler{
		Table: model.TableUsers,
		InsertDomain: func(ctx context.Context, tx pgx.Tx, entityID uuid.UUID, data map[string]any) error {
			return &pgconn.PgError{Code: "08006", Message: "simulated connection failure"}
		},
		Namespace: func(entityID uuid.UUID) string { return "users" },
	}
	dlqPub := env.dlqPublisher()
	env.runProcessor(t, alwaysRetryable, dlqPub)

	opID := uuid.New()
	resp := env.submitWrite(t, "/users", `{"name":"Retry","email":"retry@example.com"}`, opID)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	var messages []queue.DLQMessage
	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		var err error
		messages, err = env.natsClient.ListDLQMessages(ctx, env.dlqStream)
		return err == nil && len(messages) > 0
	}, 15*time.Second, 200*time.Millisecond)

	require.Len(t, messages, 1)
}

func TestPipeline_CDCInvalidation_RemovesTrackedEntry(t *testing.T) {
	env := newPipelineEnv(t, 5)

	ctx := context.Background()
	require.NoError(t, env.cache.PutTracked(ctx, "users", "users:list:page1", "stale-page"))

	cdcConsumer, err := queue.NewMultiSubjectConsumer(ctx, env.natsClient, queue.MultiConsumerSpec{
		Stream:         env.cdcStream,
		Durable:        "test-cdc",
		FilterSubjects: []string{env.cdcStream + ".users", env.cdcStream + ".orders"},
		AckWait:        5 * time.Second,
		MaxDeliver:     5,
	})
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	c := cdc.New(env.cache)
	go func() {
		_ = cdc.Run(runCtx, cdcConsumer, c)
	}()

	publisher := queue.NewPublisher(env.natsClient)
	event := model.CDCEvent{Op: model.CDCUpdate, Table: model.TableUsers, SourceTimestamp: time.Now()}
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	require.NoError(t, publisher.Publish(ctx, env.cdcStream+".users", payload, uuid.New().String()))

	require.Eventually(t, func() bool {
		_, err := env.cache.Get(ctx, "users:list:page1")
		return err != nil
	}, 10*time.Second, 100*time.Millisecond)
}
