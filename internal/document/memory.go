package document

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryCatalog はメモリ上のカタログ実装です。
// ローカル開発とテストで使用し、本番では Postgres 実装に差し替えます。
type MemoryCatalog struct {
	mu   sync.RWMutex
	docs map[string]*Document
	now  func() time.Time
}

// NewMemoryCatalog は空のカタログを作成します。
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		docs: make(map[string]*Document),
		now:  time.Now,
	}
}

func (c *MemoryCatalog) Create(ctx context.Context, doc *Document) (*Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := doc.Clone()
	now := c.now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	c.docs[stored.ID] = stored
	return stored.Clone(), nil
}

func (c *MemoryCatalog) Get(ctx context.Context, id string) (*Document, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	doc, ok := c.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return doc.Clone(), nil
}

func (c *MemoryCatalog) Update(ctx context.Context, doc *Document) (*Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, ok := c.docs[doc.ID]
	if !ok {
		return nil, ErrNotFound
	}

	stored := doc.Clone()
	stored.CreatedAt = current.CreatedAt
	stored.UpdatedAt = c.now().UTC()
	c.docs[stored.ID] = stored
	return stored.Clone(), nil
}

func (c *MemoryCatalog) List(ctx context.Context, filter ListFilter) ([]*Document, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]*Document, 0, len(c.docs))
	for _, doc := range c.docs {
		if filter.UserID != "" && doc.UserID != filter.UserID {
			continue
		}
		result = append(result, doc.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (c *MemoryCatalog) TransitionStatus(ctx context.Context, id string, from, to Status) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc, ok := c.docs[id]
	if !ok {
		return ErrNotFound
	}
	if doc.Status != from {
		return ErrStatusConflict
	}
	doc.Status = to
	doc.UpdatedAt = c.now().UTC()
	return nil
}
