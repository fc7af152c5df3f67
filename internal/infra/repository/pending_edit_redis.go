package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"cartsync/internal/domain/model"
	repo "cartsync/internal/repository"

	"github.com/redis/go-redis/v9"
)

// セッションごとに1つのhashキー。fieldはproduct_id、valueはJSON。
// セッションTTLで自動的に消える。
type PendingEditRedisRepository struct {
	client *redis.Client
	ttl    time.Duration
}

func NewPendingEditRedisRepository(redisURL string, ttl time.Duration) (*PendingEditRedisRepository, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &PendingEditRedisRepository{client: client, ttl: ttl}, nil
}

func (r *PendingEditRedisRepository) Close() error {
	return r.client.Close()
}

func sessionKey(sessionID string) string {
	return "cartsync:pending:" + sessionID
}

func (r *PendingEditRedisRepository) Put(ctx context.Context, edit model.PendingEdit) error {
	data, err := json.Marshal(edit)
	if err != nil {
		return fmt.Errorf("failed to marshal pending edit: %w", err)
	}

	key := sessionKey(edit.SessionID)
	field := strconv.FormatInt(edit.ProductID, 10)

	if err := r.client.HSet(ctx, key, field, string(data)).Err(); err != nil {
		return err
	}

	// PutのたびにTTLを延長（セッションが生きている間は残す）
	return r.client.Expire(ctx, key, r.ttl).Err()
}

func (r *PendingEditRedisRepository) Get(ctx context.Context, sessionID string, productID int64) (model.PendingEdit, error) {
	field := strconv.FormatInt(productID, 10)

	data, err := r.client.HGet(ctx, sessionKey(sessionID), field).Result()
	if err == redis.Nil {
		return model.PendingEdit{}, repo.ErrNotFound
	}
	if err != nil {
		return model.PendingEdit{}, err
	}

	var edit model.PendingEdit
	if err := json.Unmarshal([]byte(data), &edit); err != nil {
		return model.PendingEdit{}, fmt.Errorf("failed to unmarshal pending edit: %w", err)
	}
	return edit, nil
}

func (r *PendingEditRedisRepository) Delete(ctx context.Context, sessionID string, productID int64) error {
	field := strconv.FormatInt(productID, 10)
	return r.client.HDel(ctx, sessionKey(sessionID), field).Err()
}

func (r *PendingEditRedisRepository) ListBySession(ctx context.Context, sessionID string) ([]model.PendingEdit, error) {
	values, err := r.client.HGetAll(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return []model.PendingEdit{}, err
	}

	edits := make([]model.PendingEdit, 0, len(values))
	for _, v := range values {
		var edit model.PendingEdit
		if err := json.Unmarshal([]byte(v), &edit); err != nil {
			// 壊れたエントリは読み飛ばす
			continue
		}
		edits = append(edits, edit)
	}

	return edits, nil
}
