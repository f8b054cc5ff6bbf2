package service

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/shinyyama/messaging-backend/internal/cache"
	"github.com/shinyyama/messaging-backend/internal/model"
	"github.com/shinyyama/messaging-backend/internal/repository"
)

const (
	presenceTTL = time.Minute
	// typingWindow is how long a typing signal counts as active.
	typingWindow = 10 * time.Second
)

type PresenceService interface {
	SetOnline(ctx context.Context, uid string, device *string) (*model.UserPresence, error)
	SetOffline(ctx context.Context, uid string) (*model.UserPresence, error)
	Get(ctx context.Context, uid string) (*model.UserPresence, error)
	GetMany(ctx context.Context, uids []string) ([]model.UserPresence, error)
	SetTyping(ctx context.Context, convID, uid string, typing bool) (*model.TypingIndicator, error)
	ActiveTypers(ctx context.Context, convID, uid string) ([]model.TypingIndicator, error)
}

type presenceService struct {
	repo  repository.PresenceRepository
	convs repository.ConversationRepository
	cache cache.Cache
	now   func() time.Time
}

func NewPresenceService(repo repository.PresenceRepository, convs repository.ConversationRepository, c cache.Cache) PresenceService {
	if c == nil {
		c = cache.Noop{}
	}
	return &presenceService{repo: repo, convs: convs, cache: c, now: time.Now}
}

func (s *presenceService) SetOnline(ctx context.Context, uid string, device *string) (*model.UserPresence, error) {
	return s.set(ctx, uid, true, device)
}

func (s *presenceService) SetOffline(ctx context.Context, uid string) (*model.UserPresence, error) {
	return s.set(ctx, uid, false, nil)
}

func (s *presenceService) set(ctx context.Context, uid string, online bool, device *string) (*model.UserPresence, error) {
	if uid == "" {
		return nil, invalidf("uid is required")
	}
	p, err := s.repo.Upsert(ctx, uid, online, device, s.now())
	if err != nil {
		return nil, err
	}
	s.remember(ctx, p)
	return p, nil
}

// Get serves presence from the cache when it can and falls back to the store.
func (s *presenceService) Get(ctx context.Context, uid string) (*model.UserPresence, error) {
	raw, err := s.cache.Get(ctx, cache.PresenceKey(uid))
	if err == nil {
		var p model.UserPresence
		if jerr := json.Unmarshal([]byte(raw), &p); jerr == nil {
			return &p, nil
		}
	} else if !errors.Is(err, cache.ErrMiss) {
		log.Printf("[presence] cache get user=%s err=%v", uid, err)
	}
	p, err := s.repo.Find(ctx, uid)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrNotFound
	}
	s.remember(ctx, p)
	return p, nil
}

func (s *presenceService) GetMany(ctx context.Context, uids []string) ([]model.UserPresence, error) {
	uids = uniqueStrings(uids)
	if len(uids) == 0 {
		return []model.UserPresence{}, nil
	}
	if len(uids) > 200 {
		return nil, invalidf("at most 200 users per request")
	}
	return s.repo.FindMany(ctx, uids)
}

func (s *presenceService) remember(ctx context.Context, p *model.UserPresence) {
	b, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cache.PresenceKey(p.UserID), string(b), presenceTTL); err != nil {
		log.Printf("[presence] cache set user=%s err=%v", p.UserID, err)
	}
}

func (s *presenceService) SetTyping(ctx context.Context, convID, uid string, typing bool) (*model.TypingIndicator, error) {
	if err := s.checkParticipant(ctx, convID, uid); err != nil {
		return nil, err
	}
	return s.repo.SetTyping(ctx, convID, uid, typing, s.now())
}

// ActiveTypers lists the other participants who signalled typing recently.
func (s *presenceService) ActiveTypers(ctx context.Context, convID, uid string) ([]model.TypingIndicator, error) {
	if err := s.checkParticipant(ctx, convID, uid); err != nil {
		return nil, err
	}
	all, err := s.repo.ActiveTypers(ctx, convID, s.now().Add(-typingWindow))
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, t := range all {
		if t.UserID != uid {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *presenceService) checkParticipant(ctx context.Context, convID, uid string) error {
	cv, err := s.convs.FindByID(ctx, convID)
	if err != nil {
		return notFound(err)
	}
	if !cv.HasParticipant(uid) {
		return ErrForbidden
	}
	return nil
}
