package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"storyreel/internal/config"
	"storyreel/internal/logging"
	"storyreel/internal/queue"
	"storyreel/internal/services"
)

const (
	redisPopTimeout   = 5 * time.Second
	redisRetryBackoff = 2 * time.Second
)

// RedisTrigger consumes a Redis list. Each element is either a story id, which
// requeues an existing created or failed story, or an inline YAML/JSON
// manifest.
type RedisTrigger struct {
	client   *redis.Client
	queue    string
	store    *queue.Store
	logger   *slog.Logger
	onQueued OnQueued
}

// NewRedisTrigger builds a trigger for cfg. Close releases the connection.
func NewRedisTrigger(cfg config.Redis, store *queue.Store, logger *slog.Logger, onQueued OnQueued) *RedisTrigger {
	return &RedisTrigger{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		queue:    cfg.Queue,
		store:    store,
		logger:   logging.Component(logger, "redis-trigger"),
		onQueued: onQueued,
	}
}

// Close closes the Redis client.
func (r *RedisTrigger) Close() error {
	return r.client.Close()
}

// Run pops list elements until ctx ends. Connection errors are logged and
// retried.
func (r *RedisTrigger) Run(ctx context.Context) error {
	r.logger.Info("redis trigger started",
		logging.String(logging.FieldEventType, "redis_trigger_started"),
		logging.String("list", r.queue),
	)
	for {
		if ctx.Err() != nil {
			return nil
		}
		result, err := r.client.BRPop(ctx, redisPopTimeout, r.queue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			logging.WarnWithContext(r.logger, "redis pop failed", "redis_pop_failed",
				logging.String(logging.FieldErrorHint, "check redis.addr and that the server is reachable"),
				logging.Error(err),
			)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(redisRetryBackoff):
			}
			continue
		}
		// result[0] is the list name, result[1] the payload.
		if len(result) < 2 {
			continue
		}
		story, err := r.Handle(ctx, result[1])
		if err != nil {
			logging.WarnWithContext(r.logger, "redis trigger payload ignored", "redis_payload_rejected",
				logging.String(logging.FieldErrorHint, "push a story id or a manifest with inline text"),
				logging.Error(err),
			)
			continue
		}
		if r.onQueued != nil {
			r.onQueued(story)
		}
	}
}

// Handle applies one payload and returns the queued story.
func (r *RedisTrigger) Handle(ctx context.Context, payload string) (*queue.Story, error) {
	return handlePayload(ctx, r.store, r.logger, payload)
}

func handlePayload(ctx context.Context, store *queue.Store, logger *slog.Logger, payload string) (*queue.Story, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, services.Wrap(services.ErrValidation, "", "redis trigger", "empty payload", nil)
	}
	if id, err := strconv.ParseInt(payload, 10, 64); err == nil {
		return requeue(ctx, store, id)
	}

	manifest, err := ParseManifest([]byte(payload), "")
	if err != nil {
		return nil, err
	}
	story, err := Enqueue(ctx, store, manifest)
	if err != nil {
		return nil, err
	}
	logger.Info("story queued from redis",
		logging.String(logging.FieldEventType, "redis_queued"),
		logging.Int64(logging.FieldStoryID, story.ID),
		logging.String("title", story.Title),
	)
	return story, nil
}

func requeue(ctx context.Context, store *queue.Store, id int64) (*queue.Story, error) {
	story, err := store.MustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	switch story.Status {
	case queue.StatusQueued:
	case queue.StatusCreated:
		if _, err := store.Enqueue(ctx, id); err != nil {
			return nil, err
		}
	case queue.StatusFailed:
		if _, err := store.RetryFailed(ctx, id); err != nil {
			return nil, err
		}
	default:
		return nil, services.Wrap(services.ErrValidation, "", "redis trigger",
			fmt.Sprintf("story %d is %s", id, story.Status), nil)
	}
	return store.MustGet(ctx, id)
}
