package connectors

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	cache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/ArpitMishra17/active-graph-kg/infrastructure/config"
	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
	"github.com/ArpitMishra17/active-graph-kg/pkg/observability"
)

// SNS message types posted to HTTP subscribers.
const (
	SNSTypeNotification             = "Notification"
	SNSTypeSubscriptionConfirmation = "SubscriptionConfirmation"
	SNSTypeUnsubscribeConfirmation  = "UnsubscribeConfirmation"
)

// maxCertBytes bounds the signing certificate download.
const maxCertBytes = 1 << 20

// SNSMessage is the envelope Amazon SNS posts to HTTP subscribers.
type SNSMessage struct {
	Type             string `json:"Type"`
	MessageID        string `json:"MessageId"`
	Token            string `json:"Token,omitempty"`
	TopicARN         string `json:"TopicArn"`
	Subject          string `json:"Subject,omitempty"`
	Message          string `json:"Message"`
	Timestamp        string `json:"Timestamp"`
	SignatureVersion string `json:"SignatureVersion"`
	Signature        string `json:"Signature"`
	SigningCertURL   string `json:"SigningCertURL"`
	SubscribeURL     string `json:"SubscribeURL,omitempty"`
	UnsubscribeURL   string `json:"UnsubscribeURL,omitempty"`
}

// SNSVerifier checks message signatures against the signing
// certificate Amazon serves, caching certificates by URL. SNS signs
// with RSA-SHA1; that is the protocol, not a choice made here.
type SNSVerifier struct {
	enabled bool
	client  *http.Client
	certs   *cache.Cache
	metrics *observability.Collector
	logger  *zap.Logger
}

// NewSNSVerifier builds a verifier from the webhook config.
func NewSNSVerifier(cfg config.WebhookConfig, metrics *observability.Collector, logger *zap.Logger) *SNSVerifier {
	ttl := cfg.CertCacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &SNSVerifier{
		enabled: cfg.VerifySNS,
		client:  &http.Client{Timeout: timeout},
		certs:   cache.New(ttl, 2*ttl),
		metrics: metrics,
		logger:  logger,
	}
}

// Enabled reports whether verification is on.
func (v *SNSVerifier) Enabled() bool { return v.enabled }

// Verify checks the message signature. Nil means the message is
// authentic, or verification is disabled. A dependency error means the
// certificate could not be fetched; every other error is a rejected
// message.
func (v *SNSVerifier) Verify(ctx context.Context, msg *SNSMessage) error {
	if !v.enabled {
		v.metrics.WebhookSNSVerify.WithLabelValues("disabled").Inc()
		return nil
	}

	if msg.SignatureVersion != "1" {
		v.metrics.WebhookSigVersionInvalid.WithLabelValues(msg.SignatureVersion).Inc()
		v.metrics.WebhookSNSVerify.WithLabelValues("invalid").Inc()
		return pkgerrors.NewValidationError(
			fmt.Sprintf("unsupported SNS signature version %q", msg.SignatureVersion))
	}

	pub, err := v.signingCert(ctx, msg.SigningCertURL)
	if err != nil {
		if pkgerrors.IsDependency(err) {
			v.metrics.WebhookSNSVerify.WithLabelValues("error").Inc()
		} else {
			v.metrics.WebhookSNSVerify.WithLabelValues("invalid").Inc()
		}
		return err
	}

	sig, err := base64.StdEncoding.DecodeString(msg.Signature)
	if err != nil {
		v.metrics.WebhookSNSVerify.WithLabelValues("invalid").Inc()
		return pkgerrors.NewValidationError("SNS signature is not valid base64")
	}

	sum := sha1.Sum([]byte(canonicalSNSString(msg)))
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA1, sum[:], sig); err != nil {
		v.metrics.WebhookSNSVerify.WithLabelValues("invalid").Inc()
		v.logger.Warn("SNS signature mismatch",
			zap.String("message_id", msg.MessageID),
			zap.String("topic_arn", msg.TopicARN))
		return pkgerrors.NewAuthError("SNS signature verification failed")
	}

	v.metrics.WebhookSNSVerify.WithLabelValues("ok").Inc()
	return nil
}

// signingCert returns the RSA public key behind certURL, cached by
// URL for the configured TTL.
func (v *SNSVerifier) signingCert(ctx context.Context, certURL string) (*rsa.PublicKey, error) {
	if err := validateCertURL(certURL); err != nil {
		return nil, err
	}
	if cached, ok := v.certs.Get(certURL); ok {
		return cached.(*rsa.PublicKey), nil
	}
	pub, err := v.fetchCert(ctx, certURL)
	if err != nil {
		return nil, err
	}
	v.certs.SetDefault(certURL, pub)
	return pub, nil
}

// fetchCert downloads and parses the signing certificate.
func (v *SNSVerifier) fetchCert(ctx context.Context, certURL string) (*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, certURL, nil)
	if err != nil {
		return nil, pkgerrors.NewDependencyError("sns certificate", err)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return nil, pkgerrors.NewDependencyError("sns certificate", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, pkgerrors.NewDependencyError("sns certificate",
			fmt.Errorf("certificate fetch returned %d", resp.StatusCode))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxCertBytes))
	if err != nil {
		return nil, pkgerrors.NewDependencyError("sns certificate", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, pkgerrors.NewValidationError("SNS signing certificate is not PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, pkgerrors.NewValidationError("SNS signing certificate cannot be parsed")
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, pkgerrors.NewValidationError("SNS signing certificate does not carry an RSA key")
	}
	return pub, nil
}

// validateCertURL accepts only Amazon-served HTTPS certificate URLs. A
// forged message pointing at an attacker's certificate fails here.
func validateCertURL(certURL string) error {
	u, err := url.Parse(certURL)
	if err != nil {
		return pkgerrors.NewValidationError("SNS signing certificate URL cannot be parsed")
	}
	if u.Scheme != "https" {
		return pkgerrors.NewValidationError("SNS signing certificate URL must use https")
	}
	host := u.Hostname()
	if host != "amazonaws.com" && !strings.HasSuffix(host, ".amazonaws.com") {
		return pkgerrors.NewValidationError("SNS signing certificate URL is not served by amazonaws.com")
	}
	if !strings.Contains(u.Path, "SimpleNotificationService") {
		return pkgerrors.NewValidationError("SNS signing certificate URL is not an SNS certificate")
	}
	return nil
}

// canonicalSNSString renders the newline-delimited field list SNS
// signs. Field order is fixed by the protocol.
func canonicalSNSString(msg *SNSMessage) string {
	var b strings.Builder
	write := func(field, value string) {
		b.WriteString(field)
		b.WriteByte('\n')
		b.WriteString(value)
		b.WriteByte('\n')
	}
	switch msg.Type {
	case SNSTypeSubscriptionConfirmation, SNSTypeUnsubscribeConfirmation:
		write("Message", msg.Message)
		write("MessageId", msg.MessageID)
		write("SubscribeURL", msg.SubscribeURL)
		write("Timestamp", msg.Timestamp)
		write("Token", msg.Token)
		write("TopicArn", msg.TopicARN)
		write("Type", msg.Type)
	default:
		write("Message", msg.Message)
		write("MessageId", msg.MessageID)
		if msg.Subject != "" {
			write("Subject", msg.Subject)
		}
		write("Timestamp", msg.Timestamp)
		write("TopicArn", msg.TopicARN)
		write("Type", msg.Type)
	}
	return b.String()
}
