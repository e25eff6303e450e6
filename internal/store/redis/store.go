// Package redis keeps conversation logs in Redis, one string key per room.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"client_go/internal/domain"
	"client_go/internal/store"
)

type Config struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

type Store struct {
	client *redis.Client
	prefix string
	codec  *store.Codec
}

var (
	_ domain.LogStore   = (*Store)(nil)
	_ domain.RoomLister = (*Store)(nil)
)

func New(cfg Config, codec *store.Codec) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Store{client: client, prefix: cfg.Prefix, codec: codec}, nil
}

func (s *Store) key(roomID string) string {
	return s.prefix + "log:" + roomID
}

func (s *Store) Load(ctx context.Context, roomID string) ([]*domain.Message, error) {
	data, err := s.client.Get(ctx, s.key(roomID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*domain.Message{}, nil
		}
		return nil, fmt.Errorf("failed to get log from redis: %w", err)
	}
	return s.codec.Decode(data)
}

func (s *Store) Save(ctx context.Context, roomID string, msgs []*domain.Message) error {
	data, err := s.codec.Encode(msgs)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(roomID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set log in redis: %w", err)
	}
	return nil
}

func (s *Store) Rooms(ctx context.Context) ([]string, error) {
	pattern := s.prefix + "log:*"
	var (
		res    []string
		cursor uint64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan redis: %w", err)
		}
		for _, k := range keys {
			res = append(res, strings.TrimPrefix(k, s.prefix+"log:"))
		}
		if next == 0 {
			return res, nil
		}
		cursor = next
	}
}

func (s *Store) Close() error {
	return s.client.Close()
}
