package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/wardsync/internal/ir"
	"github.com/roach88/wardsync/internal/remote"
	"github.com/roach88/wardsync/internal/schedule"
)

func newTestServer(t *testing.T, opts ...ServerOption) (*remote.MemoryBackend, *Client) {
	t.Helper()
	backend := remote.NewMemoryBackend()
	srv := httptest.NewServer(NewServer(backend, opts...))
	t.Cleanup(srv.Close)

	client, err := NewClient(srv.URL,
		WithBearerToken("secret"),
		WithReconnectBackoff(schedule.Backoff{Base: 10 * time.Millisecond, Max: 50 * time.Millisecond}))
	require.NoError(t, err)
	return backend, client
}

type chanSink struct {
	mu      sync.Mutex
	batches []remote.Batch
	errs    []error
}

func (s *chanSink) OnBatch(b remote.Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, b)
}

func (s *chanSink) OnError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *chanSink) snapshot() ([]remote.Batch, []error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]remote.Batch(nil), s.batches...), append([]error(nil), s.errs...)
}

func TestClient_ApplyMutationIdempotent(t *testing.T) {
	backend, client := newTestServer(t)
	ctx := context.Background()

	m := remote.Mutation{
		Collection:     "patients",
		EntityID:       "p1",
		Operation:      ir.OpUpdate,
		Payload:        ir.Document{"diagnosis": "pneumonia", "bed": 3},
		IdempotencyKey: "k1",
		Timestamp:      10,
	}
	require.NoError(t, client.ApplyMutation(ctx, m))
	require.NoError(t, client.ApplyMutation(ctx, m))

	assert.Len(t, backend.Applied(), 1)
	doc, ok := backend.Doc("patients", "p1")
	require.True(t, ok)
	assert.Equal(t, "pneumonia", doc["diagnosis"])
	bed, ok := doc.Int64("bed")
	assert.True(t, ok)
	assert.Equal(t, int64(3), bed)
}

func TestClient_ErrorMapping(t *testing.T) {
	backend, client := newTestServer(t)
	ctx := context.Background()
	m := remote.Mutation{Collection: "patients", EntityID: "p1", Operation: ir.OpUpdate, IdempotencyKey: "k"}

	tests := []struct {
		name string
		fail error
		kind remote.Kind
		code remote.Code
	}{
		{"permission", remote.Permanent(remote.CodePermissionDenied, errors.New("rules")), remote.KindPermanent, remote.CodePermissionDenied},
		{"not found", remote.Permanent(remote.CodeNotFound, nil), remote.KindPermanent, remote.CodeNotFound},
		{"invalid", remote.Permanent(remote.CodeInvalid, nil), remote.KindPermanent, remote.CodeInvalid},
		{"timeout", remote.Transient(remote.CodeTimeout, nil), remote.KindTransient, remote.CodeTimeout},
		{"unavailable", remote.Transient(remote.CodeUnavailable, nil), remote.KindTransient, remote.CodeUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend.FailNext(tt.fail)
			err := client.ApplyMutation(ctx, m)
			var re *remote.Error
			require.ErrorAs(t, err, &re)
			assert.Equal(t, tt.kind, re.Kind)
			assert.Equal(t, tt.code, re.Code)
		})
	}
}

func TestStatusMapping(t *testing.T) {
	assert.Equal(t, http.StatusForbidden, statusFor(remote.CodePermissionDenied))
	assert.Equal(t, http.StatusNotFound, statusFor(remote.CodeNotFound))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(remote.CodeInvalid))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(remote.CodeUnavailable))
	assert.Equal(t, http.StatusGatewayTimeout, statusFor(remote.CodeTimeout))

	assert.Equal(t, remote.CodePermissionDenied, codeFor(http.StatusUnauthorized))
	assert.Equal(t, remote.CodeUnavailable, codeFor(http.StatusBadGateway))
	assert.Equal(t, remote.CodeInvalid, codeFor(http.StatusBadRequest))
	assert.Equal(t, remote.CodeTimeout, codeFor(http.StatusRequestTimeout))
}

func TestClient_Probe(t *testing.T) {
	backend, client := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, client.Probe(ctx))

	backend.SetOffline(true)
	err := client.Probe(ctx)
	assert.True(t, remote.IsTransient(err))
}

func TestClient_ProbeUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, err := NewClient(url)
	require.NoError(t, err)
	assert.True(t, remote.IsTransient(client.Probe(context.Background())))
}

func TestServer_RequiresToken(t *testing.T) {
	_, client := newTestServer(t, WithToken("other"))

	err := client.Probe(context.Background())
	assert.True(t, remote.IsPermanent(err))
	var re *remote.Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, remote.CodePermissionDenied, re.Code)
}

func TestServer_RejectsMismatchedKey(t *testing.T) {
	backend := remote.NewMemoryBackend()
	srv := httptest.NewServer(NewServer(backend))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/mutations",
		strings.NewReader(`{"collection":"patients","entity_id":"p1","operation":"update","idempotency_key":"a"}`))
	require.NoError(t, err)
	req.Header.Set(IdempotencyHeader, "b")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Empty(t, backend.Applied())
}

func TestNewClient_RejectsScheme(t *testing.T) {
	_, err := NewClient("ftp://example.com")
	assert.Error(t, err)
}

func TestClient_Subscribe(t *testing.T) {
	backend, client := newTestServer(t)
	ctx := context.Background()
	backend.Put("patients", ir.Document{"id": "p1", "unitId": "icu", "updatedAt": 5})
	backend.Put("patients", ir.Document{"id": "p2", "unitId": "ward"})

	sink := &chanSink{}
	sub, err := client.Subscribe(ctx, remote.Query{Collection: "patients", Field: "unitId", Value: "icu"}, sink)
	require.NoError(t, err)
	defer sub.Close()

	require.Eventually(t, func() bool {
		b, _ := sink.snapshot()
		return len(b) == 1
	}, 2*time.Second, 5*time.Millisecond)

	b, _ := sink.snapshot()
	require.Len(t, b[0].Docs, 1)
	assert.Equal(t, "p1", b[0].Docs[0].ID())
	assert.Equal(t, int64(5), b[0].Docs[0].UpdatedAt())

	backend.Put("patients", ir.Document{"id": "p3", "unitId": "icu"})
	require.Eventually(t, func() bool {
		b, _ := sink.snapshot()
		return len(b) == 2 && len(b[1].Docs) == 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestClient_SubscribeSurfacesOutage(t *testing.T) {
	backend, client := newTestServer(t)
	sink := &chanSink{}
	sub, err := client.Subscribe(context.Background(), remote.Query{Collection: "units"}, sink)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		b, _ := sink.snapshot()
		return len(b) == 1
	}, 2*time.Second, 5*time.Millisecond)

	backend.SetOffline(true)
	require.Eventually(t, func() bool {
		_, errs := sink.snapshot()
		return len(errs) >= 1
	}, 2*time.Second, 5*time.Millisecond)
	_, errs := sink.snapshot()
	assert.True(t, remote.IsTransient(errs[0]))

	backend.Put("units", ir.Document{"id": "u1"})
	backend.SetOffline(false)
	require.Eventually(t, func() bool {
		b, _ := sink.snapshot()
		return len(b) == 2 && len(b[1].Docs) == 1
	}, 2*time.Second, 5*time.Millisecond)

	sub.Close()
	sub.Close()
	before, _ := sink.snapshot()
	backend.Put("units", ir.Document{"id": "u2"})
	time.Sleep(20 * time.Millisecond)
	after, _ := sink.snapshot()
	assert.Equal(t, len(before), len(after), "no batches after Close")
}

func TestClient_SubscribeReconnects(t *testing.T) {
	backend := remote.NewMemoryBackend()
	handler := NewServer(backend)

	var mu sync.Mutex
	reject := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		r1 := reject
		mu.Unlock()
		if r1 {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		handler.ServeHTTP(w, r)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, WithReconnectBackoff(schedule.Backoff{Base: 5 * time.Millisecond, Max: 20 * time.Millisecond}))
	require.NoError(t, err)

	sink := &chanSink{}
	sub, err := client.Subscribe(context.Background(), remote.Query{Collection: "units"}, sink)
	require.NoError(t, err)
	defer sub.Close()

	require.Eventually(t, func() bool {
		_, errs := sink.snapshot()
		return len(errs) >= 2
	}, 2*time.Second, 5*time.Millisecond, "every failed dial is surfaced")

	mu.Lock()
	reject = false
	mu.Unlock()

	require.Eventually(t, func() bool {
		b, _ := sink.snapshot()
		return len(b) >= 1
	}, 2*time.Second, 5*time.Millisecond, "subscription recovers after the outage")
}

func TestParseQuery(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, `/v1/subscribe?collection=patients&field=bed&value=3&deleted=true`, nil)
	q, err := parseQuery(r)
	require.NoError(t, err)
	assert.True(t, q.Deleted)
	assert.True(t, q.Matches(ir.Document{"bed": 3, "deletedAt": 1}))

	r = httptest.NewRequest(http.MethodGet, `/v1/subscribe`, nil)
	_, err = parseQuery(r)
	assert.True(t, remote.IsPermanent(err))
}
