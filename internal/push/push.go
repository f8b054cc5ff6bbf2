// Package push delivers notifications to the devices registered in a user's
// notification settings.
package push

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/shinyyama/messaging-backend/internal/model"
)

// ErrInvalidToken reports a token the provider no longer accepts. Callers
// should drop it from the user's settings.
var ErrInvalidToken = errors.New("push token is no longer valid")

type Message struct {
	Title string
	Body  string
	Link  string
	Data  map[string]string
}

// Sender delivers one message to one device token.
type Sender interface {
	Send(ctx context.Context, token string, msg Message) error
}

// Dispatcher routes tokens to a sender: browser subscriptions (JSON objects)
// go to Web Push and everything else to FCM. A nil sender skips its tokens.
type Dispatcher struct {
	FCM Sender
	Web Sender
	Now func() time.Time
}

// Deliver sends msg to every token in s unless push is off or quiet hours are
// active. It returns the tokens the providers rejected as invalid.
func (d *Dispatcher) Deliver(ctx context.Context, s *model.NotificationSettings, msg Message) ([]string, error) {
	if d == nil || s == nil || !s.PushNotifications || len(s.PushTokens) == 0 {
		return nil, nil
	}
	now := time.Now()
	if d.Now != nil {
		now = d.Now()
	}
	if InQuietHours(s, now) {
		return nil, nil
	}
	var (
		stale []string
		errs  []error
	)
	for _, token := range s.PushTokens {
		sender := d.FCM
		if IsWebSubscription(token) {
			sender = d.Web
		}
		if sender == nil {
			continue
		}
		err := sender.Send(ctx, token, msg)
		switch {
		case err == nil:
		case errors.Is(err, ErrInvalidToken):
			stale = append(stale, token)
		default:
			log.Printf("[push] user=%s send failed: %v", s.UserID, err)
			errs = append(errs, err)
		}
	}
	return stale, errors.Join(errs...)
}

// IsWebSubscription reports whether token is a serialized browser push
// subscription rather than an FCM registration token.
func IsWebSubscription(token string) bool {
	return strings.HasPrefix(strings.TrimSpace(token), "{")
}

// InQuietHours reports whether now falls inside the user's quiet window,
// evaluated in the user's timezone. A window whose end is before its start
// wraps past midnight.
func InQuietHours(s *model.NotificationSettings, now time.Time) bool {
	if !s.QuietHoursEnabled || s.QuietHoursStart == nil || s.QuietHoursEnd == nil {
		return false
	}
	start, err := ParseClock(*s.QuietHoursStart)
	if err != nil {
		return false
	}
	end, err := ParseClock(*s.QuietHoursEnd)
	if err != nil {
		return false
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)
	cur := local.Hour()*60 + local.Minute()
	switch {
	case start == end:
		return false
	case start < end:
		return cur >= start && cur < end
	default:
		return cur >= start || cur < end
	}
}

// ParseClock parses "HH:MM" into minutes after midnight.
func ParseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, fmt.Errorf("bad clock time %q", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("bad hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("bad minute in %q", s)
	}
	return h*60 + m, nil
}
