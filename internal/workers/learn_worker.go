package workers

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/minatori/partnerai/internal/events"
	"github.com/minatori/partnerai/internal/services"
)

// LearnWorkerPool consumes conversation events from a Redis Stream and
// runs the learning side effects: indexing new turns into the semantic
// memory and recomputing the user's profile. Processing is at-least-once:
// entries are acked only after their side effects succeed, failed entries
// stay pending and are reprocessed when the consumer next starts, and
// every side effect is idempotent per conversation.
type LearnWorkerPool struct {
	Redis         *redis.Client
	Conversations services.ConversationService
	Memories      services.MemoryService
	Profiles      services.ProfileService
	NumWorkers    int

	Logger *logrus.Logger

	Stream         string
	Group          string
	ConsumerPrefix string
}

func (p *LearnWorkerPool) Start(ctx context.Context) error {
	if p.Redis == nil || p.Conversations == nil || p.Memories == nil || p.Profiles == nil {
		return errors.New("LearnWorkerPool missing dependency: Redis/Conversations/Memories/Profiles must be set")
	}
	if p.Stream == "" {
		p.Stream = events.StreamLearn
	}
	if p.Group == "" {
		p.Group = "learn-workers"
	}
	if p.ConsumerPrefix == "" {
		p.ConsumerPrefix = "c"
	}
	if p.NumWorkers <= 0 {
		p.NumWorkers = 5
	}
	if p.Logger == nil {
		p.Logger = logrus.New()
	}

	_ = p.Redis.XGroupCreateMkStream(ctx, p.Stream, p.Group, "0").Err() // ignore BUSYGROUP

	for i := 0; i < p.NumWorkers; i++ {
		consumer := p.ConsumerPrefix + "-" + strconv.Itoa(i+1)
		go p.runConsumer(ctx, consumer)
	}
	return nil
}

func (p *LearnWorkerPool) runConsumer(ctx context.Context, consumer string) {
	p.drainPending(ctx, consumer)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := p.Redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    p.Group,
			Consumer: consumer,
			Streams:  []string{p.Stream, ">"},
			Count:    10,
			Block:    5 * time.Second,
		}).Result()

		if err != nil {
			if err == redis.Nil {
				continue
			}
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				// A failed message stays pending and is retried by
				// drainPending on the next consumer start.
				if err := p.handleMsg(ctx, msg); err != nil {
					continue
				}
				_ = p.Redis.XAck(ctx, p.Stream, p.Group, msg.ID).Err()
			}
		}
	}
}

// drainPending reprocesses this consumer's unacked entries from a previous
// run before taking new work.
func (p *LearnWorkerPool) drainPending(ctx context.Context, consumer string) {
	last := "0"
	for {
		res, err := p.Redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    p.Group,
			Consumer: consumer,
			Streams:  []string{p.Stream, last},
			Count:    10,
			Block:    -1,
		}).Result()
		if err != nil || len(res) == 0 || len(res[0].Messages) == 0 {
			return
		}
		for _, msg := range res[0].Messages {
			if err := p.handleMsg(ctx, msg); err == nil {
				_ = p.Redis.XAck(ctx, p.Stream, p.Group, msg.ID).Err()
			}
			last = msg.ID
		}
	}
}

func (p *LearnWorkerPool) handleMsg(ctx context.Context, msg redis.XMessage) error {
	getStr := func(k string) string {
		v, ok := msg.Values[k]
		if !ok || v == nil {
			return ""
		}
		s, _ := v.(string)
		return s
	}

	eventType := getStr("type")
	userID := getStr("user_id")
	conversationID := getStr("conversation_id")
	if eventType == "" || userID == "" {
		// Malformed entries are acked, not retried; they will never
		// become processable.
		return nil
	}

	log := p.Logger.WithFields(logrus.Fields{
		"redis_id":        msg.ID,
		"event":           eventType,
		"user_id":         userID,
		"conversation_id": conversationID,
	})

	switch eventType {
	case events.TypeConversationAppended:
		conv, err := p.Conversations.Get(ctx, conversationID)
		if err != nil {
			log.WithError(err).Warn("conversation lookup failed")
			return err
		}
		if err := p.Memories.Index(ctx, conv); err != nil {
			log.WithError(err).Warn("memory indexing failed")
			return err
		}
		if err := p.Profiles.Learn(ctx, userID); err != nil {
			log.WithError(err).Warn("profile learning failed")
			return err
		}

	case events.TypeConversationRated:
		if err := p.Profiles.LearnFromFeedback(ctx, conversationID); err != nil {
			log.WithError(err).Warn("feedback learning failed")
			return err
		}
		if err := p.Profiles.Learn(ctx, userID); err != nil {
			log.WithError(err).Warn("profile learning failed")
			return err
		}

	default:
		log.Warn("unknown event type")
	}
	return nil
}
