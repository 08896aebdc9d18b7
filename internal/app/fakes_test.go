package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"propintel/internal/domain"
)

// in-memory stand-ins for the MySQL repo, the Redis cache and the extraction
// backend client

type miss struct {
	file   string
	status int
	reason string
}

type fakeRepo struct {
	mu       sync.Mutex
	data     map[string][]domain.Property
	misses   []miss
	saves    int
	loadErr  error
	saveErr  error
	clearErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{data: map[string][]domain.Property{}}
}

func (r *fakeRepo) Load(_ context.Context, key string) ([]domain.Property, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	return r.data[key], nil
}

func (r *fakeRepo) Save(_ context.Context, key string, batch []domain.Property) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.saves++
	r.data[key] = batch
	return nil
}

func (r *fakeRepo) Clear(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.clearErr != nil {
		return r.clearErr
	}
	delete(r.data, key)
	return nil
}

func (r *fakeRepo) MarkEmailSent(_ context.Context, key, propertyID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	batch, ok := r.data[key]
	if !ok {
		return domain.ErrNotFound
	}
	for i := range batch {
		if batch[i].ID == propertyID {
			batch[i].EmailSent = true
			return nil
		}
	}
	return domain.ErrNotFound
}

func (r *fakeRepo) LogMiss(_ context.Context, file string, status int, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.misses = append(r.misses, miss{file: file, status: status, reason: reason})
	return nil
}

type fakeCache struct {
	mu   sync.Mutex
	data map[string][]byte
	hits int
	sets int
	dels int
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: map[string][]byte{}}
}

func (c *fakeCache) Get(_ context.Context, key string, dst any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.data[key]
	if !ok {
		return false, nil
	}
	c.hits++
	return true, json.Unmarshal(b, dst)
}

func (c *fakeCache) Set(_ context.Context, key string, v any, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.sets++
	c.data[key] = b
	return nil
}

func (c *fakeCache) Del(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dels++
	delete(c.data, key)
	return nil
}

type fakeClient struct {
	mu sync.Mutex

	extractFn func(filename string) ([]map[string]any, error)
	contactFn func(msg domain.ContactMessage) (string, error)
	logsFn    func() ([]domain.EmailLog, error)
	resendFn  func(id string) error

	contacted []domain.ContactMessage
	resent    []string
	synced    []string
}

func (c *fakeClient) Extract(_ context.Context, filename string, _ io.Reader) ([]map[string]any, error) {
	if c.extractFn != nil {
		return c.extractFn(filename)
	}
	return nil, errors.New("extract not stubbed")
}

func (c *fakeClient) ContactBroker(_ context.Context, msg domain.ContactMessage) (string, error) {
	c.mu.Lock()
	c.contacted = append(c.contacted, msg)
	c.mu.Unlock()
	if c.contactFn != nil {
		return c.contactFn(msg)
	}
	return "Message sent successfully!", nil
}

func (c *fakeClient) EmailLogs(_ context.Context) ([]domain.EmailLog, error) {
	if c.logsFn != nil {
		return c.logsFn()
	}
	return nil, nil
}

func (c *fakeClient) ResendEmail(_ context.Context, id string) error {
	c.mu.Lock()
	c.resent = append(c.resent, id)
	c.mu.Unlock()
	if c.resendFn != nil {
		return c.resendFn(id)
	}
	return nil
}

func (c *fakeClient) SyncProperty(_ context.Context, title string, _ domain.Property) error {
	c.mu.Lock()
	c.synced = append(c.synced, title)
	c.mu.Unlock()
	return nil
}
