package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ArpitMishra17/active-graph-kg/application/ports"
	"github.com/ArpitMishra17/active-graph-kg/domain/connector"
	"github.com/ArpitMishra17/active-graph-kg/infrastructure/config"
	"github.com/ArpitMishra17/active-graph-kg/infrastructure/connectors"
	"github.com/ArpitMishra17/active-graph-kg/interfaces/http/rest/middleware"
	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
	"github.com/ArpitMishra17/active-graph-kg/pkg/observability"
)

type fakeQueue struct {
	refs  []ports.QueueRef
	items []connector.ChangeItem
	err   error
}

func (q *fakeQueue) Enqueue(_ context.Context, ref ports.QueueRef, items []connector.ChangeItem) (int, error) {
	if q.err != nil {
		return 0, q.err
	}
	q.refs = append(q.refs, ref)
	q.items = append(q.items, items...)
	return len(items), nil
}

func (q *fakeQueue) Dequeue(context.Context, []ports.QueueRef, time.Duration) (ports.QueueRef, *connector.ChangeItem, error) {
	return ports.QueueRef{}, nil, nil
}
func (q *fakeQueue) DeadLetter(context.Context, ports.QueueRef, connector.ChangeItem, string) error {
	return nil
}
func (q *fakeQueue) ActiveQueues(context.Context) ([]ports.QueueRef, error) { return nil, nil }
func (q *fakeQueue) Depth(context.Context, ports.QueueRef) (int64, error)   { return 0, nil }
func (q *fakeQueue) DLQDepth(context.Context, ports.QueueRef) (int64, error) {
	return 0, nil
}

type fakeDeduper struct {
	first bool
	err   error
}

func (d *fakeDeduper) FirstSeen(context.Context, string) (bool, error) {
	return d.first, d.err
}

type stubVerifier struct{ err error }

func (v stubVerifier) Verify(context.Context, *connectors.SNSMessage) error { return v.err }

func newWebhookFixture(cfg config.WebhookConfig) (*WebhookHandler, *fakeQueue, *observability.Collector) {
	queue := &fakeQueue{}
	metrics := observability.NewCollector()
	h := NewWebhookHandler(queue, &fakeDeduper{first: true}, nil, cfg, metrics, zap.NewNop())
	return h, queue, metrics
}

func postS3(t *testing.T, h *WebhookHandler, msg connectors.SNSMessage) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(msg)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/_webhooks/s3", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.S3(rec, req)
	return rec
}

func s3Notification(records string) connectors.SNSMessage {
	return connectors.SNSMessage{
		Type:      connectors.SNSTypeNotification,
		MessageID: "msg-1",
		TopicARN:  "arn:aws:sns:us-east-1:123:activekg-s3-acme",
		Message:   records,
	}
}

func TestS3WebhookSubscriptionConfirmation(t *testing.T) {
	h, queue, _ := newWebhookFixture(config.WebhookConfig{})

	rec := postS3(t, h, connectors.SNSMessage{
		Type:         connectors.SNSTypeSubscriptionConfirmation,
		TopicARN:     "arn:aws:sns:us-east-1:123:activekg-s3-acme",
		SubscribeURL: "https://sns.example/confirm",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "subscription_pending", resp["status"])
	assert.Equal(t, "https://sns.example/confirm", resp["subscribe_url"])
	assert.Empty(t, queue.items)
}

func TestS3WebhookEnqueuesRecords(t *testing.T) {
	h, queue, _ := newWebhookFixture(config.WebhookConfig{})

	message := `{"Records":[
		{"eventName":"ObjectCreated:Put","eventTime":"2026-03-01T12:00:00Z",
		 "s3":{"bucket":{"name":"docs"},"object":{"key":"reports%2Fq1.pdf","eTag":"abc"}}},
		{"eventName":"ObjectRemoved:Delete",
		 "s3":{"bucket":{"name":"docs"},"object":{"key":"old.txt"}}},
		{"eventName":"LifecycleTransition",
		 "s3":{"bucket":{"name":"docs"},"object":{"key":"noise"}}}
	]}`
	rec := postS3(t, h, s3Notification(message))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "queued", resp["status"])
	assert.Equal(t, float64(2), resp["count"])
	assert.Equal(t, "acme", resp["tenant_id"])

	require.Len(t, queue.items, 2)
	assert.Equal(t, "s3://docs/reports/q1.pdf", queue.items[0].URI)
	assert.Equal(t, connector.OpUpsert, queue.items[0].Operation)
	assert.Equal(t, "abc", queue.items[0].ETag)
	assert.Equal(t, "s3://docs/old.txt", queue.items[1].URI)
	assert.Equal(t, connector.OpDeleted, queue.items[1].Operation)
	require.Len(t, queue.refs, 1)
	assert.Equal(t, connector.ProviderS3, queue.refs[0].Provider)
	assert.Equal(t, "acme", queue.refs[0].TenantID)
}

func TestS3WebhookDuplicate(t *testing.T) {
	h, queue, metrics := newWebhookFixture(config.WebhookConfig{})
	h.deduper = &fakeDeduper{first: false}

	rec := postS3(t, h, s3Notification(`{"Records":[]}`))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "duplicate")
	assert.Empty(t, queue.refs)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.WebhookReplay))
}

func TestS3WebhookDedupFailsOpen(t *testing.T) {
	h, _, _ := newWebhookFixture(config.WebhookConfig{})
	h.deduper = &fakeDeduper{err: errors.New("redis down")}

	rec := postS3(t, h, s3Notification(`{"Records":[]}`))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "queued")
}

func TestS3WebhookTopicAllowlist(t *testing.T) {
	h, queue, metrics := newWebhookFixture(config.WebhookConfig{
		TopicAllowlist: map[string][]string{
			"acme": {"arn:aws:sns:*:123:activekg-s3-acme"},
		},
	})

	// Matching tenant and pattern passes.
	rec := postS3(t, h, s3Notification(`{"Records":[]}`))
	require.Equal(t, http.StatusOK, rec.Code)

	// Tenant absent from a populated allowlist is rejected.
	msg := s3Notification(`{"Records":[]}`)
	msg.TopicARN = "arn:aws:sns:us-east-1:123:activekg-s3-rogue"
	rec = postS3(t, h, msg)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.WebhookTopicRejected.WithLabelValues("rogue")))
	assert.Len(t, queue.refs, 1)
}

func TestS3WebhookVerification(t *testing.T) {
	h, _, _ := newWebhookFixture(config.WebhookConfig{})

	h.sns = stubVerifier{err: pkgerrors.NewDependencyError("sns certificate", errors.New("timeout"))}
	rec := postS3(t, h, s3Notification(`{"Records":[]}`))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	h.sns = stubVerifier{err: pkgerrors.NewAuthError("signature mismatch")}
	rec = postS3(t, h, s3Notification(`{"Records":[]}`))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	h.sns = stubVerifier{}
	rec = postS3(t, h, s3Notification(`{"Records":[]}`))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestS3WebhookRejectsUnknownType(t *testing.T) {
	h, _, _ := newWebhookFixture(config.WebhookConfig{})
	rec := postS3(t, h, connectors.SNSMessage{Type: "Mystery"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestS3WebhookMalformedEventPayload(t *testing.T) {
	h, _, _ := newWebhookFixture(config.WebhookConfig{})
	rec := postS3(t, h, s3Notification(`not json`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestS3WebhookBodyCap(t *testing.T) {
	h, _, _ := newWebhookFixture(config.WebhookConfig{})

	confirmation := func(pad int) []byte {
		body, err := json.Marshal(connectors.SNSMessage{
			Type:         connectors.SNSTypeSubscriptionConfirmation,
			TopicARN:     "arn:aws:sns:us-east-1:123:activekg-s3-acme",
			Subject:      strings.Repeat("x", pad),
			SubscribeURL: "https://sns.example/confirm",
		})
		require.NoError(t, err)
		return body
	}

	atCap := confirmation(64)
	capped := middleware.MaxBytes(int64(len(atCap)))(http.HandlerFunc(h.S3))

	post := func(body []byte) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/_webhooks/s3", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		capped.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, post(atCap).Code)
	assert.Equal(t, http.StatusRequestEntityTooLarge, post(confirmation(65)).Code)
}

func TestTenantFromTopic(t *testing.T) {
	assert.Equal(t, "acme", tenantFromTopic("arn:aws:sns:us-east-1:123:activekg-s3-acme"))
	assert.Equal(t, "default", tenantFromTopic("arn:aws:sns:us-east-1:123:other-topic"))
	assert.Equal(t, "default", tenantFromTopic("arn:aws:sns:us-east-1:123:activekg-s3-"))
	assert.Equal(t, "default", tenantFromTopic(""))
}

func postGCS(t *testing.T, h *WebhookHandler, secret, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(payload))
	if secret != "" {
		req.Header.Set("X-Webhook-Secret", secret)
	}
	rec := httptest.NewRecorder()
	h.GCS(rec, req)
	return rec
}

func TestGCSWebhookSecret(t *testing.T) {
	h, _, _ := newWebhookFixture(config.WebhookConfig{})
	rec := postGCS(t, h, "anything", "/_webhooks/gcs", map[string]string{})
	assert.Equal(t, http.StatusForbidden, rec.Code, "unconfigured secret rejects everything")

	h, _, _ = newWebhookFixture(config.WebhookConfig{GCSSecret: "s3cret"})
	rec = postGCS(t, h, "wrong", "/_webhooks/gcs", map[string]string{})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGCSWebhookEnqueues(t *testing.T) {
	h, queue, _ := newWebhookFixture(config.WebhookConfig{GCSSecret: "s3cret"})

	rec := postGCS(t, h, "s3cret", "/_webhooks/gcs", gcsNotification{
		Bucket:    "kb",
		Name:      "guides/setup.md",
		EventType: "OBJECT_FINALIZE",
		ETag:      "v2",
		Updated:   "2026-03-01T12:00:00Z",
		TenantID:  "acme",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, queue.items, 1)
	assert.Equal(t, "gs://kb/guides/setup.md", queue.items[0].URI)
	assert.Equal(t, connector.OpUpsert, queue.items[0].Operation)
	assert.Equal(t, "acme", queue.items[0].TenantID)
	assert.Equal(t, connector.ProviderGCS, queue.refs[0].Provider)
}

func TestGCSWebhookDeleteAndTenantFallback(t *testing.T) {
	h, queue, _ := newWebhookFixture(config.WebhookConfig{GCSSecret: "s3cret"})

	rec := postGCS(t, h, "s3cret", "/_webhooks/gcs?tenant_id=beta", gcsNotification{
		Bucket:    "kb",
		Name:      "gone.md",
		EventType: "OBJECT_DELETE",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, connector.OpDeleted, queue.items[0].Operation)
	assert.Equal(t, "beta", queue.items[0].TenantID)

	rec = postGCS(t, h, "s3cret", "/_webhooks/gcs", gcsNotification{
		Bucket:    "kb",
		Name:      "x.md",
		EventType: "OBJECT_FINALIZE",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "default", queue.items[1].TenantID)
}

func TestGCSWebhookRejectsUnknownEvent(t *testing.T) {
	h, _, _ := newWebhookFixture(config.WebhookConfig{GCSSecret: "s3cret"})
	rec := postGCS(t, h, "s3cret", "/_webhooks/gcs", gcsNotification{
		Bucket:    "kb",
		Name:      "x.md",
		EventType: "OBJECT_METADATA_UPDATE",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
