package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Keep at most this many notifications per user.
const maxPerUser = 100

// RedisNotifier pushes notifications onto a per-user Redis list that the web
// frontend polls.
type RedisNotifier struct {
	client *redis.Client
	prefix string
}

func NewRedisNotifier(redisURL string) (*RedisNotifier, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisNotifier{client: client, prefix: "notifications:"}, nil
}

func NewRedisNotifierWithClient(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client, prefix: "notifications:"}
}

func (n *RedisNotifier) key(userID string) string {
	return n.prefix + userID
}

func (n *RedisNotifier) Notify(ctx context.Context, notification Notification) error {
	if notification.ID == "" {
		notification.ID = uuid.NewString()
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now()
	}

	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	key := n.key(notification.UserID)
	pipe := n.client.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, maxPerUser-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push notification: %w", err)
	}
	return nil
}

// ListForUser returns the user's notifications, newest first.
func (n *RedisNotifier) ListForUser(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if limit <= 0 || limit > maxPerUser {
		limit = maxPerUser
	}
	raw, err := n.client.LRange(ctx, n.key(userID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}

	notifications := make([]Notification, 0, len(raw))
	for _, item := range raw {
		var notification Notification
		if err := json.Unmarshal([]byte(item), &notification); err != nil {
			continue
		}
		notifications = append(notifications, notification)
	}
	return notifications, nil
}

func (n *RedisNotifier) Close() error {
	return n.client.Close()
}
