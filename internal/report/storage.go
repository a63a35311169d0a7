package report

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"
)

type ObjectMeta struct {
	Key         string
	Size        int
	ContentType string
	UpdatedAt   time.Time
}

// Storage is the object store exports are written to.
type Storage interface {
	PutObject(ctx context.Context, key string, body []byte, contentType string) error
	GetSignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	Head(ctx context.Context, key string) (ObjectMeta, error)
	DeleteObject(ctx context.Context, key string) error
}

var errObjectNotFound = errors.New("object not found")

// InMemoryStorage keeps objects in process. Signed URLs point at a fake host.
type InMemoryStorage struct {
	mu   sync.RWMutex
	data map[string][]byte
	meta map[string]ObjectMeta
}

func NewInMemoryStorage() *InMemoryStorage {
	return &InMemoryStorage{
		data: map[string][]byte{},
		meta: map[string]ObjectMeta{},
	}
}

func (s *InMemoryStorage) PutObject(ctx context.Context, key string, body []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), body...)
	s.meta[key] = ObjectMeta{
		Key:         key,
		Size:        len(body),
		ContentType: contentType,
		UpdatedAt:   time.Now().UTC(),
	}
	return nil
}

func (s *InMemoryStorage) GetSignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.data[key]; !ok {
		return "", fmt.Errorf("%s: %w", key, errObjectNotFound)
	}
	exp := time.Now().UTC().Add(ttl).Format(time.RFC3339)
	u := url.URL{
		Scheme:   "https",
		Host:     "storage.local",
		Path:     "/" + key,
		RawQuery: "exp=" + url.QueryEscape(exp),
	}
	return u.String(), nil
}

func (s *InMemoryStorage) Head(_ context.Context, key string) (ObjectMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.meta[key]
	if !ok {
		return ObjectMeta{}, fmt.Errorf("%s: %w", key, errObjectNotFound)
	}
	return meta, nil
}

func (s *InMemoryStorage) DeleteObject(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	delete(s.meta, key)
	return nil
}

// Object returns a copy of the stored body.
func (s *InMemoryStorage) Object(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.data[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), b...), true
}
