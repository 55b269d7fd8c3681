// Package store persists embedding records, one entry per item id.
//
// A Store validates and encodes records and delegates raw key/value access to
// a Backend. Backends exist for chromem-go, SQLite, Redis and process memory.
// Each key is written or deleted atomically; there are no cross-key
// transactions.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shelve/internal/vector"
)

// KeyPrefix prefixes every record key.
const KeyPrefix = "embedding_"

var (
	// ErrNotFound indicates no record is stored for the id.
	ErrNotFound = errors.New("embedding record not found")

	// ErrMalformedRecord indicates a stored value could not be decoded.
	ErrMalformedRecord = errors.New("malformed embedding record")

	// ErrMalformedVector indicates a record failed validation before a write.
	ErrMalformedVector = fmt.Errorf("malformed vector: %w", vector.ErrPrecondition)
)

var tracer = otel.Tracer("shelve.store")

// Backend is raw key/value storage.
type Backend interface {
	// Get returns the value and whether it exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// GetMany returns the values of the keys that exist. Missing keys are
	// left out of the result.
	GetMany(ctx context.Context, keys []string) (map[string][]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes keys; missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error
	// Keys returns every key starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Store reads and writes embedding records.
type Store struct {
	backend Backend
	logger  *zap.Logger
}

// New wraps backend.
func New(backend Backend, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{backend: backend, logger: logger}
}

// Key returns the storage key for an item id.
func Key(id string) string {
	return KeyPrefix + id
}

// Get returns the record for id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	ctx, span := tracer.Start(ctx, "Store.Get")
	defer span.End()
	span.SetAttributes(attribute.String("item.id", id))

	raw, ok, err := s.backend.Get(ctx, Key(id))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("reading record %s: %w", id, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedRecord, id, err)
	}
	return rec, nil
}

// GetMany returns the records of the ids that have one, in a single backend
// read. Undecodable records are logged and left out.
func (s *Store) GetMany(ctx context.Context, ids []string) (map[string]Record, error) {
	ctx, span := tracer.Start(ctx, "Store.GetMany")
	defer span.End()
	span.SetAttributes(attribute.Int("id_count", len(ids)))

	out := make(map[string]Record, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = Key(id)
	}
	raw, err := s.backend.GetMany(ctx, keys)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("reading %d records: %w", len(ids), err)
	}
	for _, id := range ids {
		v, ok := raw[Key(id)]
		if !ok {
			continue
		}
		var rec Record
		if err := json.Unmarshal(v, &rec); err != nil {
			s.logger.Warn("skipping unreadable record", zap.String("item.id", id), zap.Error(err))
			continue
		}
		out[id] = rec
	}
	span.SetAttributes(attribute.Int("record_count", len(out)))
	return out, nil
}

// Save replaces the record for id.
func (s *Store) Save(ctx context.Context, id string, rec Record) error {
	return s.SaveAll(ctx, map[string]Record{id: rec})
}

// SaveAll validates every record first and then writes one entry per id.
// Nothing is written when any record is invalid.
func (s *Store) SaveAll(ctx context.Context, records map[string]Record) error {
	ctx, span := tracer.Start(ctx, "Store.SaveAll")
	defer span.End()
	span.SetAttributes(attribute.Int("record_count", len(records)))

	encoded := make(map[string][]byte, len(records))
	for id, rec := range records {
		if id == "" {
			return fmt.Errorf("%w: empty item id", vector.ErrPrecondition)
		}
		if err := rec.Validate(); err != nil {
			span.SetStatus(codes.Error, "invalid record")
			return fmt.Errorf("record %s: %w: %w", id, ErrMalformedVector, err)
		}
		raw, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encoding record %s: %w", id, err)
		}
		encoded[id] = raw
	}

	for _, id := range sortedKeys(encoded) {
		if err := s.backend.Set(ctx, Key(id), encoded[id]); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("writing record %s: %w", id, err)
		}
	}

	s.logger.Debug("saved embedding records", zap.Int("count", len(encoded)))
	return nil
}

// Delete removes the records for ids.
func (s *Store) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	ctx, span := tracer.Start(ctx, "Store.Delete")
	defer span.End()
	span.SetAttributes(attribute.Int("id_count", len(ids)))

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = Key(id)
	}
	if err := s.backend.Delete(ctx, keys...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting %d records: %w", len(ids), err)
	}
	s.logger.Debug("deleted embedding records", zap.Int("count", len(ids)))
	return nil
}

// StoredIDs returns the ids of every stored record, sorted.
func (s *Store) StoredIDs(ctx context.Context) ([]string, error) {
	ctx, span := tracer.Start(ctx, "Store.StoredIDs")
	defer span.End()

	keys, err := s.backend.Keys(ctx, KeyPrefix)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("listing records: %w", err)
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		if id, ok := strings.CutPrefix(k, KeyPrefix); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	span.SetAttributes(attribute.Int("record_count", len(ids)))
	return ids, nil
}

// Clear removes every record and returns how many were removed.
func (s *Store) Clear(ctx context.Context) (int, error) {
	ids, err := s.StoredIDs(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.Delete(ctx, ids...); err != nil {
		return 0, err
	}
	s.logger.Info("cleared embedding records", zap.Int("count", len(ids)))
	return len(ids), nil
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
