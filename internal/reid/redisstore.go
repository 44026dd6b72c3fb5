package reid

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/raaihank/phi-sentinel/internal/phi"
)

const docNameField = "_doc_name"

// RedisMapStore keeps each document's map in one hash: one field per page
// plus the document name. Writing a page only touches that page's field.
type RedisMapStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisMapStore wraps an open client. A zero ttl keeps maps forever.
func NewRedisMapStore(client *redis.Client, prefix string, ttl time.Duration, log *zap.Logger) *RedisMapStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisMapStore{client: client, prefix: prefix, ttl: ttl, logger: log}
}

func (s *RedisMapStore) key(docID string) string {
	return fmt.Sprintf("%s:reid:%s", s.prefix, docID)
}

// MergePage writes the page field and refreshes the TTL atomically
func (s *RedisMapStore) MergePage(ctx context.Context, docID, docName string, page int, pm PageMap) (*Map, error) {
	data, err := json.Marshal(pm)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal page map: %w", err)
	}

	key := s.key(docID)
	fields := map[string]any{strconv.Itoa(page): data}
	if docName != "" {
		fields[docNameField] = docName
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to store page map", zap.String("doc_id", docID), zap.Error(err))
		return nil, fmt.Errorf("failed to store page map: %w", err)
	}

	return s.Load(ctx, docID)
}

// Load assembles the map from the document hash
func (s *RedisMapStore) Load(ctx context.Context, docID string) (*Map, error) {
	fields, err := s.client.HGetAll(ctx, s.key(docID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load map: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrMapNotFound
	}

	m := &Map{DocID: docID, DocName: fields[docNameField], Pages: make(map[string]PageMap)}
	for field, value := range fields {
		if field == docNameField {
			continue
		}
		if _, err := strconv.Atoi(field); err != nil {
			continue
		}
		var pm PageMap
		if err := json.Unmarshal([]byte(value), &pm); err != nil {
			return nil, fmt.Errorf("%w: page %s: %v", phi.ErrInvalidMetadata, field, err)
		}
		m.Pages[field] = pm
	}
	return m, nil
}

// Delete drops a document's map
func (s *RedisMapStore) Delete(ctx context.Context, docID string) error {
	return s.client.Del(ctx, s.key(docID)).Err()
}
