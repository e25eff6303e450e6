// Package pebble keeps conversation logs in an embedded Pebble key-value store,
// one key per room.
package pebble

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cockroachdb/pebble"

	"client_go/internal/domain"
	"client_go/internal/store"
)

var logPrefix = []byte("log/")

type Store struct {
	db    *pebble.DB
	codec *store.Codec
}

var (
	_ domain.LogStore   = (*Store)(nil)
	_ domain.RoomLister = (*Store)(nil)
)

func Open(path string, codec *store.Codec) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create pebble dir: %w", err)
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return &Store{db: db, codec: codec}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func logKey(roomID string) []byte {
	return append(append([]byte(nil), logPrefix...), roomID...)
}

func (s *Store) Load(_ context.Context, roomID string) ([]*domain.Message, error) {
	v, closer, err := s.db.Get(logKey(roomID))
	if errors.Is(err, pebble.ErrNotFound) {
		return []*domain.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load log: %w", err)
	}
	// v is only valid until the closer runs.
	data := make([]byte, len(v))
	copy(data, v)
	closer.Close()
	return s.codec.Decode(data)
}

func (s *Store) Save(_ context.Context, roomID string, msgs []*domain.Message) error {
	data, err := s.codec.Encode(msgs)
	if err != nil {
		return err
	}
	if err := s.db.Set(logKey(roomID), data, pebble.Sync); err != nil {
		return fmt.Errorf("save log: %w", err)
	}
	return nil
}

func (s *Store) Rooms(_ context.Context) ([]string, error) {
	it, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: logPrefix,
		UpperBound: []byte("log0"), // '0' sorts right after '/'
	})
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer it.Close()

	var res []string
	for ok := it.First(); ok; ok = it.Next() {
		k := it.Key()
		if !bytes.HasPrefix(k, logPrefix) {
			continue
		}
		res = append(res, string(k[len(logPrefix):]))
	}
	return res, it.Error()
}
