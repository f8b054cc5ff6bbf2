package push

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"
)

type WebPushSender struct {
	Subscriber string
	PublicKey  string
	PrivateKey string
	TTL        int
	// HTTPClient is optional; webpush uses http.DefaultClient when nil.
	HTTPClient webpush.HTTPClient
}

type webPayload struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	URL   string            `json:"url,omitempty"`
	Data  map[string]string `json:"data,omitempty"`
}

// Send delivers to a browser subscription serialized as JSON
// ({"endpoint": ..., "keys": {"p256dh": ..., "auth": ...}}).
func (s *WebPushSender) Send(ctx context.Context, token string, msg Message) error {
	var sub webpush.Subscription
	if err := json.Unmarshal([]byte(token), &sub); err != nil || sub.Endpoint == "" {
		return fmt.Errorf("%w: malformed subscription", ErrInvalidToken)
	}
	payload, err := json.Marshal(webPayload{Title: msg.Title, Body: msg.Body, URL: msg.Link, Data: msg.Data})
	if err != nil {
		return err
	}
	ttl := s.TTL
	if ttl <= 0 {
		ttl = 30
	}
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &sub, &webpush.Options{
		HTTPClient:      s.HTTPClient,
		Subscriber:      s.Subscriber,
		VAPIDPublicKey:  s.PublicKey,
		VAPIDPrivateKey: s.PrivateKey,
		TTL:             ttl,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	switch {
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: subscription expired (%d)", ErrInvalidToken, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("web push rejected: %s", resp.Status)
	}
	return nil
}
