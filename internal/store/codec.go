// Package store holds the serialization shared by every durable log backend.
package store

import (
	"encoding/json"
	"fmt"
	"sort"

	"client_go/internal/domain"
	"client_go/internal/security"
)

// Codec turns a conversation log into the bytes a backend persists.
// With an Encryptor the JSON is sealed before it leaves the process.
type Codec struct {
	enc *security.Encryptor
}

func NewCodec(enc *security.Encryptor) *Codec {
	return &Codec{enc: enc}
}

func (c *Codec) Encode(msgs []*domain.Message) ([]byte, error) {
	out := make([]*domain.Message, 0, len(msgs))
	for _, m := range msgs {
		if m != nil {
			out = append(out, m)
		}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal log: %w", err)
	}
	if c == nil || c.enc == nil {
		return data, nil
	}
	sealed, err := c.enc.Encrypt(data)
	if err != nil {
		return nil, fmt.Errorf("encrypt log: %w", err)
	}
	return sealed, nil
}

// Decode parses a persisted log and returns it in ascending CreatedAt order.
func (c *Codec) Decode(data []byte) ([]*domain.Message, error) {
	if len(data) == 0 {
		return []*domain.Message{}, nil
	}
	if c != nil && c.enc != nil {
		plain, err := c.enc.Decrypt(data)
		if err != nil {
			return nil, fmt.Errorf("decrypt log: %w", err)
		}
		data = plain
	}
	var msgs []*domain.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("unmarshal log: %w", err)
	}
	if msgs == nil {
		msgs = []*domain.Message{}
	}
	SortByCreatedAt(msgs)
	return msgs, nil
}

// SortByCreatedAt orders a log ascending; equal timestamps keep their order.
func SortByCreatedAt(msgs []*domain.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}
