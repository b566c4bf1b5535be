// Package realtime tracks who is online per project and fans activity out
// over Redis pub/sub.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"orbit/api/internal/store"
)

const defaultPresenceTTL = 60 * time.Second

// Event is the payload published on a project channel.
type Event struct {
	Type      string               `json:"type"`
	ProjectID string               `json:"project_id"`
	ActorID   string               `json:"actor_id"`
	Activity  *store.ActivityEntry `json:"activity,omitempty"`
	At        time.Time            `json:"at"`
}

// RedisHub implements presence and publish on one Redis client.
type RedisHub struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisHub connects to redisURL and verifies the connection.
func NewRedisHub(redisURL string, presenceTTL time.Duration) (*RedisHub, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisHubWithClient(client, presenceTTL), nil
}

// NewRedisHubWithClient wraps an existing client.
func NewRedisHubWithClient(client *redis.Client, presenceTTL time.Duration) *RedisHub {
	if presenceTTL <= 0 {
		presenceTTL = defaultPresenceTTL
	}
	return &RedisHub{client: client, prefix: "orbit:", ttl: presenceTTL}
}

func (h *RedisHub) presenceSet(projectID string) string {
	return h.prefix + "presence:" + projectID
}

func (h *RedisHub) presenceKey(projectID, userID string) string {
	return h.prefix + "presence:" + projectID + ":" + userID
}

// Channel is the pub/sub channel of a project.
func (h *RedisHub) Channel(projectID string) string {
	return h.prefix + "project:" + projectID
}

// Heartbeat marks userID online in every project for one presence TTL.
func (h *RedisHub) Heartbeat(ctx context.Context, userID string, projectIDs []string) error {
	if len(projectIDs) == 0 {
		return nil
	}
	pipe := h.client.TxPipeline()
	for _, projectID := range projectIDs {
		pipe.Set(ctx, h.presenceKey(projectID, userID), time.Now().UTC().Format(time.RFC3339), h.ttl)
		pipe.SAdd(ctx, h.presenceSet(projectID), userID)
		pipe.Expire(ctx, h.presenceSet(projectID), 2*h.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence heartbeat: %w", err)
	}
	return nil
}

// Online lists the users with a live heartbeat in projectID. Stale entries
// are pruned from the project set on the way.
func (h *RedisHub) Online(ctx context.Context, projectID string) ([]string, error) {
	members, err := h.client.SMembers(ctx, h.presenceSet(projectID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list presence: %w", err)
	}

	online := make([]string, 0, len(members))
	var stale []any
	for _, userID := range members {
		exists, err := h.client.Exists(ctx, h.presenceKey(projectID, userID)).Result()
		if err != nil {
			return nil, fmt.Errorf("check presence: %w", err)
		}
		if exists == 0 {
			stale = append(stale, userID)
			continue
		}
		online = append(online, userID)
	}
	if len(stale) > 0 {
		if err := h.client.SRem(ctx, h.presenceSet(projectID), stale...).Err(); err != nil {
			return nil, fmt.Errorf("prune presence: %w", err)
		}
	}
	return online, nil
}

// Leave clears userID's presence in projectID.
func (h *RedisHub) Leave(ctx context.Context, userID, projectID string) error {
	pipe := h.client.TxPipeline()
	pipe.Del(ctx, h.presenceKey(projectID, userID))
	pipe.SRem(ctx, h.presenceSet(projectID), userID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence leave: %w", err)
	}
	return nil
}

// Publish sends event to its project channel.
func (h *RedisHub) Publish(ctx context.Context, event Event) error {
	if event.ProjectID == "" {
		return errors.New("publish: event has no project")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := h.client.Publish(ctx, h.Channel(event.ProjectID), payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (h *RedisHub) Close() error {
	return h.client.Close()
}

// Ping checks if Redis is reachable
func (h *RedisHub) Ping(ctx context.Context) error {
	return h.client.Ping(ctx).Err()
}
