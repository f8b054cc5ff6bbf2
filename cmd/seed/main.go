package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shinyyama/messaging-backend/internal/config"
	"github.com/shinyyama/messaging-backend/internal/db"
	"github.com/shinyyama/messaging-backend/internal/model"
	"github.com/shinyyama/messaging-backend/internal/repository"
	"github.com/shinyyama/messaging-backend/internal/service"
)

type seedMessage struct {
	From    string
	Content string
	// Reply is the index of an earlier message in the same conversation, or -1.
	Reply int
}

type seedConversation struct {
	Name     string
	Members  []string
	Messages []seedMessage
}

var users = []string{"demo-alice", "demo-bob", "demo-carol"}

func main() {
	if err := run(); err != nil {
		log.Fatalf("seed failed: %v", err)
	}
}

func run() error {
	ctx := context.Background()
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	client, err := db.NewClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer client.Close(context.Background())

	canSeed, err := shouldSeed(ctx, client)
	if err != nil {
		return err
	}
	if !canSeed {
		log.Printf("conversations already exist; skipping seed (set FORCE_SEED=true to override)")
		return nil
	}
	if err := truncate(ctx, client); err != nil {
		return err
	}

	convRepo := repository.NewConversationRepository(client)
	msgRepo := repository.NewMessageRepository(client)
	notifRepo := repository.NewNotificationRepository(client)
	presenceRepo := repository.NewPresenceRepository(client)
	notifSvc := service.NewNotificationService(notifRepo, nil)
	convSvc := service.NewConversationService(client, convRepo, msgRepo, presenceRepo, notifSvc)

	var total int
	for _, sc := range buildSeedConversations() {
		var cv *model.Conversation
		if sc.Name == "" {
			cv, err = convSvc.StartDirect(ctx, sc.Members[0], sc.Members[1])
		} else {
			cv, err = convSvc.CreateGroup(ctx, sc.Members[0], sc.Name, sc.Members[1:])
		}
		if err != nil {
			return fmt.Errorf("create conversation: %w", err)
		}
		ids := make([]string, 0, len(sc.Messages))
		for _, sm := range sc.Messages {
			in := service.SendMessageInput{ConversationID: cv.ID, SenderID: sm.From, Content: sm.Content}
			if sm.Reply >= 0 {
				in.ReplyToID = ids[sm.Reply]
			}
			msg, err := convSvc.SendMessage(ctx, in)
			if err != nil {
				return fmt.Errorf("send message: %w", err)
			}
			ids = append(ids, msg.ID)
			total++
		}
		if len(ids) > 0 {
			if _, err := convSvc.React(ctx, ids[0], sc.Members[len(sc.Members)-1], "👍"); err != nil {
				return fmt.Errorf("react: %w", err)
			}
		}
	}
	for _, uid := range users {
		device := "web"
		if _, err := presenceRepo.Upsert(ctx, uid, uid == users[0], &device, time.Now()); err != nil {
			return fmt.Errorf("presence: %w", err)
		}
	}

	log.Printf("seeded %d messages for %d users", total, len(users))
	return nil
}

func shouldSeed(ctx context.Context, client *repository.Client) (bool, error) {
	if strings.EqualFold(os.Getenv("FORCE_SEED"), "true") {
		return true, nil
	}
	n, err := client.MustModel(model.ModelConversation).Count(ctx, repository.CountArgs{})
	if err != nil {
		return false, fmt.Errorf("count conversations: %w", err)
	}
	return n == 0, nil
}

// truncate empties every collection before a forced seed.
func truncate(ctx context.Context, client *repository.Client) error {
	for _, m := range client.Registry().Models() {
		res, err := client.MustModel(m.Name).DeleteMany(ctx, repository.ManyArgs{})
		if err != nil {
			return fmt.Errorf("truncate %s: %w", m.Name, err)
		}
		if res.Count > 0 {
			log.Printf("removed %d %s rows", res.Count, m.Name)
		}
	}
	return nil
}

func buildSeedConversations() []seedConversation {
	return []seedConversation{
		{
			Members: []string{"demo-alice", "demo-bob"},
			Messages: []seedMessage{
				{From: "demo-alice", Content: "Hi Bob, are we still on for tomorrow?", Reply: -1},
				{From: "demo-bob", Content: "Yes! 10am works for me.", Reply: 0},
				{From: "demo-alice", Content: "Great, see you then.", Reply: -1},
			},
		},
		{
			Name:    "Weekend plans",
			Members: []string{"demo-carol", "demo-alice", "demo-bob"},
			Messages: []seedMessage{
				{From: "demo-carol", Content: "Who is up for a hike on Saturday?", Reply: -1},
				{From: "demo-bob", Content: "Count me in.", Reply: 0},
				{From: "demo-alice", Content: "Me too, I'll bring snacks.", Reply: 0},
				{From: "demo-carol", Content: "Meeting at the station at 8.", Reply: -1},
			},
		},
	}
}
