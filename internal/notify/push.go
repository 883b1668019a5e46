package notify

import (
	"context"
	"errors"
	"net/http"
	"strings"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// ErrEndpointGone signals the transport reported the registration endpoint
// as permanently gone (HTTP 404/410); the caller prunes the registration.
var ErrEndpointGone = errors.New("notify: push endpoint gone")

// PushMessage is the opaque payload a service worker unpacks client-side.
type PushMessage struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	Tag      string `json:"tag"`
	URL      string `json:"url"`
	SourceID string `json:"sourceId"`
}

// PushSender delivers one encrypted message to one registration.
type PushSender interface {
	Send(ctx context.Context, registration PushRegistration, payload []byte) error
}

// WebPushConfig holds the VAPID keypair configured once at process start.
type WebPushConfig struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subscriber      string
	TTLSeconds      int
}

// WebPushSender sends messages over the Web Push protocol.
type WebPushSender struct {
	cfg WebPushConfig
}

// NewWebPushSender constructs the sender; returns nil (transport
// unconfigured) when the keypair is absent so callers can skip push cleanly.
func NewWebPushSender(cfg WebPushConfig) *WebPushSender {
	if strings.TrimSpace(cfg.VAPIDPublicKey) == "" || strings.TrimSpace(cfg.VAPIDPrivateKey) == "" {
		return nil
	}
	if cfg.TTLSeconds <= 0 {
		cfg.TTLSeconds = 60
	}
	return &WebPushSender{cfg: cfg}
}

// Send encrypts and posts the payload to the registration endpoint,
// translating gone/not-found statuses into ErrEndpointGone.
func (s *WebPushSender) Send(ctx context.Context, registration PushRegistration, payload []byte) error {
	subscription := &webpush.Subscription{
		Endpoint: registration.Endpoint,
		Keys: webpush.Keys{
			P256dh: registration.P256dh,
			Auth:   registration.Auth,
		},
	}

	response, err := webpush.SendNotificationWithContext(ctx, payload, subscription, &webpush.Options{
		Subscriber:      s.cfg.Subscriber,
		VAPIDPublicKey:  s.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: s.cfg.VAPIDPrivateKey,
		TTL:             s.cfg.TTLSeconds,
	})
	if err != nil {
		return err
	}
	defer response.Body.Close()

	switch {
	case response.StatusCode == http.StatusNotFound || response.StatusCode == http.StatusGone:
		return ErrEndpointGone
	case response.StatusCode >= http.StatusBadRequest:
		return errors.New("notify: push send failed with status " + response.Status)
	}
	return nil
}
