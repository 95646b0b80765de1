package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/ArpitMishra17/active-graph-kg/application/ports"
	"github.com/ArpitMishra17/active-graph-kg/domain/connector"
	"github.com/ArpitMishra17/active-graph-kg/infrastructure/config"
	"github.com/ArpitMishra17/active-graph-kg/infrastructure/connectors"
	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
	"github.com/ArpitMishra17/active-graph-kg/pkg/observability"
)

// topicTenantPrefix strips deployment naming off SNS topics so the
// trailing segment is the tenant: activekg-s3-acme notifies acme.
const topicTenantPrefix = "activekg-s3-"

type snsVerifier interface {
	Verify(ctx context.Context, msg *connectors.SNSMessage) error
}

// WebhookHandler ingests push notifications from object stores. These
// endpoints are unauthenticated by JWT; S3 messages carry an SNS
// signature and GCS posts carry a shared secret instead.
type WebhookHandler struct {
	queue     ports.IngestQueue
	deduper   ports.WebhookDeduper
	sns       snsVerifier
	allowlist map[string][]string
	gcsSecret string
	metrics   *observability.Collector
	logger    *zap.Logger
}

func NewWebhookHandler(queue ports.IngestQueue, deduper ports.WebhookDeduper, sns *connectors.SNSVerifier,
	cfg config.WebhookConfig, metrics *observability.Collector, logger *zap.Logger) *WebhookHandler {
	h := &WebhookHandler{
		queue:     queue,
		deduper:   deduper,
		allowlist: cfg.TopicAllowlist,
		gcsSecret: cfg.GCSSecret,
		metrics:   metrics,
		logger:    logger,
	}
	if sns != nil {
		h.sns = sns
	}
	return h
}

// s3Event is the S3 notification payload embedded in an SNS message.
type s3Event struct {
	Records []s3EventRecord `json:"Records"`
}

type s3EventRecord struct {
	EventName string `json:"eventName"`
	EventTime string `json:"eventTime"`
	S3        struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key  string `json:"key"`
			ETag string `json:"eTag"`
		} `json:"object"`
	} `json:"s3"`
}

// S3 handles an SNS-wrapped S3 bucket notification.
func (h *WebhookHandler) S3(w http.ResponseWriter, r *http.Request) {
	var msg connectors.SNSMessage
	if err := decodeJSON(r, &msg); err != nil {
		respondError(h.logger, w, r, err)
		return
	}

	if h.sns != nil {
		if err := h.sns.Verify(r.Context(), &msg); err != nil {
			if pkgerrors.IsDependency(err) {
				respondError(h.logger, w, r, err)
				return
			}
			h.logger.Warn("sns message rejected",
				zap.String("message_id", msg.MessageID),
				zap.String("topic_arn", msg.TopicARN),
				zap.Error(err))
			respondError(h.logger, w, r, forbidden("SNS signature verification failed"))
			return
		}
	}

	switch msg.Type {
	case connectors.SNSTypeSubscriptionConfirmation:
		// Confirmation stays manual: an operator follows the URL after
		// checking the topic is one of ours.
		h.logger.Info("sns subscription confirmation received",
			zap.String("topic_arn", msg.TopicARN))
		respondJSON(w, http.StatusOK, map[string]string{
			"status":        "subscription_pending",
			"subscribe_url": msg.SubscribeURL,
		})
		return
	case connectors.SNSTypeUnsubscribeConfirmation:
		respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	case connectors.SNSTypeNotification:
	default:
		respondError(h.logger, w, r, pkgerrors.NewValidationError("unsupported SNS message type: "+msg.Type))
		return
	}

	if msg.MessageID != "" && h.deduper != nil {
		first, err := h.deduper.FirstSeen(r.Context(), msg.MessageID)
		switch {
		case err != nil:
			// Dedup is best-effort: ingestion is idempotent downstream,
			// so a replay beats dropping a real change.
			h.logger.Warn("webhook dedup unavailable", zap.Error(err))
		case !first:
			h.metrics.WebhookReplay.Inc()
			respondJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
			return
		}
	}

	tenantID := tenantFromTopic(msg.TopicARN)
	if !topicAllowed(h.allowlist, tenantID, msg.TopicARN) {
		h.metrics.WebhookTopicRejected.WithLabelValues(tenantID).Inc()
		h.logger.Warn("webhook topic rejected",
			zap.String("tenant_id", tenantID),
			zap.String("topic_arn", msg.TopicARN))
		respondError(h.logger, w, r, forbidden("topic not allowed"))
		return
	}

	items, err := parseS3Records(msg.Message, tenantID)
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}

	count := 0
	if len(items) > 0 {
		ref := ports.QueueRef{Provider: connector.ProviderS3, TenantID: tenantID}
		count, err = h.queue.Enqueue(r.Context(), ref, items)
		if err != nil {
			respondError(h.logger, w, r, err)
			return
		}
	}

	h.logger.Info("s3 webhook accepted",
		zap.String("tenant_id", tenantID),
		zap.Int("count", count))
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "queued",
		"count":     count,
		"tenant_id": tenantID,
	})
}

// gcsNotification is the JSON push body GCS sends for bucket changes.
type gcsNotification struct {
	Bucket    string `json:"bucket"`
	Name      string `json:"name"`
	EventType string `json:"event_type"`
	ETag      string `json:"etag,omitempty"`
	Updated   string `json:"updated,omitempty"`
	TenantID  string `json:"tenant_id,omitempty"`
}

// GCS handles a Cloud Storage push notification authenticated by the
// shared webhook secret.
func (h *WebhookHandler) GCS(w http.ResponseWriter, r *http.Request) {
	if h.gcsSecret == "" {
		respondError(h.logger, w, r, forbidden("GCS webhook is not configured"))
		return
	}
	provided := r.Header.Get("X-Webhook-Secret")
	if subtle.ConstantTimeCompare([]byte(provided), []byte(h.gcsSecret)) != 1 {
		respondError(h.logger, w, r, forbidden("invalid webhook secret"))
		return
	}

	var note gcsNotification
	if err := decodeJSON(r, &note); err != nil {
		respondError(h.logger, w, r, err)
		return
	}
	if note.Bucket == "" || note.Name == "" {
		respondError(h.logger, w, r, pkgerrors.NewValidationError("bucket and name are required"))
		return
	}

	var op string
	switch note.EventType {
	case "OBJECT_FINALIZE":
		op = connector.OpUpsert
	case "OBJECT_DELETE":
		op = connector.OpDeleted
	default:
		respondError(h.logger, w, r, pkgerrors.NewValidationError("unsupported event type: "+note.EventType))
		return
	}

	tenantID := note.TenantID
	if tenantID == "" {
		tenantID = r.URL.Query().Get("tenant_id")
	}
	if tenantID == "" {
		tenantID = "default"
	}

	item := connector.ChangeItem{
		URI:        "gs://" + note.Bucket + "/" + note.Name,
		Operation:  op,
		ETag:       note.ETag,
		ModifiedAt: note.Updated,
		TenantID:   tenantID,
	}
	ref := ports.QueueRef{Provider: connector.ProviderGCS, TenantID: tenantID}
	count, err := h.queue.Enqueue(r.Context(), ref, []connector.ChangeItem{item})
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}

	h.logger.Info("gcs webhook accepted",
		zap.String("tenant_id", tenantID),
		zap.String("bucket", note.Bucket))
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "queued",
		"count":     count,
		"tenant_id": tenantID,
	})
}

// tenantFromTopic maps an SNS topic ARN onto a tenant. Topics named
// outside the convention land on the default tenant.
func tenantFromTopic(topicARN string) string {
	parts := strings.Split(topicARN, ":")
	name := parts[len(parts)-1]
	if strings.HasPrefix(name, topicTenantPrefix) {
		if tenant := strings.TrimPrefix(name, topicTenantPrefix); tenant != "" {
			return tenant
		}
	}
	return "default"
}

// topicAllowed checks topicARN against the tenant's allowlist. An
// empty allowlist admits everything; a populated one admits only
// tenants it names, with "*" wildcards per ARN segment.
func topicAllowed(allowlist map[string][]string, tenantID, topicARN string) bool {
	if len(allowlist) == 0 {
		return true
	}
	patterns, ok := allowlist[tenantID]
	if !ok {
		return false
	}
	for _, pattern := range patterns {
		if arnMatch(pattern, topicARN) {
			return true
		}
	}
	return false
}

func arnMatch(pattern, arn string) bool {
	ps := strings.Split(pattern, ":")
	as := strings.Split(arn, ":")
	if len(ps) != len(as) {
		return false
	}
	for i := range ps {
		if ps[i] != "*" && ps[i] != as[i] {
			return false
		}
	}
	return true
}

// parseS3Records converts the embedded S3 event into change items.
// Unrecognized event names are skipped, not errors: buckets emit
// lifecycle noise beyond creates and removes.
func parseS3Records(message, tenantID string) ([]connector.ChangeItem, error) {
	var event s3Event
	if err := json.Unmarshal([]byte(message), &event); err != nil {
		return nil, pkgerrors.NewValidationError("malformed S3 event payload")
	}

	items := make([]connector.ChangeItem, 0, len(event.Records))
	for _, rec := range event.Records {
		var op string
		switch {
		case strings.HasPrefix(rec.EventName, "ObjectCreated"):
			op = connector.OpUpsert
		case strings.HasPrefix(rec.EventName, "ObjectRemoved"):
			op = connector.OpDeleted
		default:
			continue
		}

		// S3 URL-encodes keys in event payloads.
		key := rec.S3.Object.Key
		if decoded, err := url.QueryUnescape(key); err == nil {
			key = decoded
		}

		items = append(items, connector.ChangeItem{
			URI:        "s3://" + rec.S3.Bucket.Name + "/" + key,
			Operation:  op,
			ETag:       rec.S3.Object.ETag,
			ModifiedAt: rec.EventTime,
			TenantID:   tenantID,
		})
	}
	return items, nil
}

func forbidden(message string) *pkgerrors.AppError {
	app := pkgerrors.NewAuthError(message)
	app.HTTPStatus = http.StatusForbidden
	return app
}
