package hostfunc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
)

const (
	DefaultMaxKeySize   = 256
	DefaultMaxValueSize = 1 << 20 // 1MB
	DefaultMaxEntries   = 10000
)

var ErrKeyRequired = errors.New("key required")

// KVConfig bounds what a KVStore accepts.
type KVConfig struct {
	MaxKeySize   int
	MaxValueSize int
	MaxEntries   int
}

func DefaultKVConfig() KVConfig {
	return KVConfig{
		MaxKeySize:   DefaultMaxKeySize,
		MaxValueSize: DefaultMaxValueSize,
		MaxEntries:   DefaultMaxEntries,
	}
}

// KVStore is an in-memory key-value store. A host hands the same store to
// many runs when scripts should see each other's writes; runs that do not
// receive it share nothing.
type KVStore struct {
	cfg  KVConfig
	data map[string]any
	mu   sync.RWMutex
}

func NewKV(cfg KVConfig) *KVStore {
	def := DefaultKVConfig()
	if cfg.MaxKeySize <= 0 {
		cfg.MaxKeySize = def.MaxKeySize
	}
	if cfg.MaxValueSize <= 0 {
		cfg.MaxValueSize = def.MaxValueSize
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = def.MaxEntries
	}
	return &KVStore{cfg: cfg, data: make(map[string]any)}
}

// Register adds get, set, delete and keys to reg.
func (s *KVStore) Register(reg *Registry) {
	reg.Register("get", s.Get)
	reg.Register("set", s.Set)
	reg.Register("delete", s.Delete)
	reg.Register("keys", s.Keys)
}

// Get returns the value stored under args.key, or args.default when absent.
func (s *KVStore) Get(ctx context.Context, args map[string]any) (any, error) {
	key, ok := stringArg(args, "key")
	if !ok {
		return nil, ErrKeyRequired
	}

	s.mu.RLock()
	val, exists := s.data[key]
	s.mu.RUnlock()

	if !exists {
		return args["default"], nil
	}
	return val, nil
}

// Set stores args.value under args.key. Values must be JSON-encodable.
func (s *KVStore) Set(ctx context.Context, args map[string]any) (any, error) {
	key, ok := stringArg(args, "key")
	if !ok {
		return nil, ErrKeyRequired
	}
	if len(key) > s.cfg.MaxKeySize {
		return nil, fmt.Errorf("key exceeds %d bytes", s.cfg.MaxKeySize)
	}
	val, ok := args["value"]
	if !ok {
		return nil, errors.New("value required")
	}
	encoded, err := json.Marshal(val)
	if err != nil {
		return nil, fmt.Errorf("value not serializable: %w", err)
	}
	if len(encoded) > s.cfg.MaxValueSize {
		return nil, fmt.Errorf("value exceeds %d bytes", s.cfg.MaxValueSize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[key]; !exists && len(s.data) >= s.cfg.MaxEntries {
		return nil, fmt.Errorf("store full (%d entries)", s.cfg.MaxEntries)
	}
	s.data[key] = val
	return true, nil
}

// Delete removes args.key and reports whether it existed.
func (s *KVStore) Delete(ctx context.Context, args map[string]any) (any, error) {
	key, ok := stringArg(args, "key")
	if !ok {
		return nil, ErrKeyRequired
	}

	s.mu.Lock()
	_, existed := s.data[key]
	delete(s.data, key)
	s.mu.Unlock()

	return existed, nil
}

// Keys returns every key in sorted order.
func (s *KVStore) Keys(ctx context.Context, args map[string]any) (any, error) {
	s.mu.RLock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	slices.Sort(keys)
	return keys, nil
}
