package redisclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fulfillment-service/internal/models"

	"github.com/go-redis/redis/v8"
)

const (
	// seenEventTTL bounds how long a gateway event id is remembered. The
	// database payment-status guard is the real idempotency barrier; this
	// cache only short-circuits rapid redeliveries.
	seenEventTTL = 24 * time.Hour

	trackedOrderTTL = 5 * time.Minute
)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client and verifies connectivity
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// EventSeen reports whether a gateway event id was already applied. It only
// reads: recording happens in MarkEventSeen after the store update succeeds,
// so a failed apply never leaves the event looking handled.
func (c *Client) EventSeen(ctx context.Context, eventID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, eventKey(eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("check event key failed: %w", err)
	}
	return n > 0, nil
}

// MarkEventSeen records a gateway event id after it has been applied.
func (c *Client) MarkEventSeen(ctx context.Context, eventID string) error {
	return c.rdb.Set(ctx, eventKey(eventID), "1", seenEventTTL).Err()
}

func eventKey(eventID string) string {
	return fmt.Sprintf("webhook:event:%s", eventID)
}

// GetTrackedOrder returns the cached public tracking view, or nil on a miss.
func (c *Client) GetTrackedOrder(ctx context.Context, orderID string) (*models.TrackedOrder, error) {
	data, err := c.rdb.Get(ctx, trackedOrderKey(orderID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get tracked order failed: %w", err)
	}

	var tracked models.TrackedOrder
	if err := json.Unmarshal(data, &tracked); err != nil {
		return nil, fmt.Errorf("unmarshal tracked order failed: %w", err)
	}
	return &tracked, nil
}

// SetTrackedOrder caches the public tracking view with a short TTL.
func (c *Client) SetTrackedOrder(ctx context.Context, tracked *models.TrackedOrder) error {
	data, err := json.Marshal(tracked)
	if err != nil {
		return fmt.Errorf("marshal tracked order failed: %w", err)
	}
	return c.rdb.Set(ctx, trackedOrderKey(tracked.ID), data, trackedOrderTTL).Err()
}

// InvalidateTrackedOrder drops the cached tracking view after any write to
// the order, so trackers never see a stale status longer than one request.
func (c *Client) InvalidateTrackedOrder(ctx context.Context, orderID string) error {
	return c.rdb.Del(ctx, trackedOrderKey(orderID)).Err()
}

func trackedOrderKey(orderID string) string {
	return fmt.Sprintf("order:tracked:%s", orderID)
}
