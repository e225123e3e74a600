package archive

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// SortKey selects the listing order.
type SortKey string

const (
	SortTitle   SortKey = "title"
	SortSource  SortKey = "sourceUrl"
	SortCreated SortKey = "ctime"
	SortSize    SortKey = "size"
)

// SortKeys lists the accepted keys in display order.
var SortKeys = []SortKey{SortTitle, SortSource, SortCreated, SortSize}

var (
	ErrUnknownCollection = errors.New("unknown collection")
	ErrDeleteInProgress  = errors.New("delete already in progress")
)

// ParseSortKey accepts a sort key, case-insensitively. Empty means title.
func ParseSortKey(s string) (SortKey, error) {
	if s == "" {
		return SortTitle, nil
	}
	for _, k := range SortKeys {
		if strings.EqualFold(s, string(k)) {
			return k, nil
		}
	}
	return "", fmt.Errorf("invalid sort key %q (valid: %v)", s, SortKeys)
}

// Backend is the part of Client the index needs.
type Backend interface {
	List(ctx context.Context) ([]Collection, error)
	Delete(ctx context.Context, id string) ([]Collection, error)
}

// Index caches the collection listing and guards concurrent deletes.
type Index struct {
	backend Backend
	logger  *zap.Logger

	mu       sync.Mutex
	colls    []Collection
	deleting map[string]bool // keyed by source url
}

// NewIndex creates an empty index over backend.
func NewIndex(backend Backend, logger *zap.Logger) *Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Index{
		backend:  backend,
		logger:   logger,
		deleting: make(map[string]bool),
	}
}

func withTitles(colls []Collection) []Collection {
	return lo.Map(colls, func(c Collection, _ int) Collection {
		c.Title = c.DisplayTitle()
		return c
	})
}

// Load replaces the cached listing and clears every delete guard.
func (ix *Index) Load(ctx context.Context) error {
	colls, err := ix.backend.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load collections: %w", err)
	}

	ix.mu.Lock()
	ix.colls = withTitles(colls)
	ix.deleting = make(map[string]bool)
	ix.mu.Unlock()

	ix.logger.Debug("collections loaded", zap.Int("count", len(colls)))
	return nil
}

// Collections returns the cached listing in backend order.
func (ix *Index) Collections() []Collection {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return append([]Collection(nil), ix.colls...)
}

// Sorted returns the cached listing ordered by key.
func (ix *Index) Sorted(key SortKey, desc bool) []Collection {
	colls := ix.Collections()
	SortCollections(colls, key, desc)
	return colls
}

// Deleting reports whether a delete is outstanding for sourceURL.
func (ix *Index) Deleting(sourceURL string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.deleting[sourceURL]
}

// Delete unloads the collection with the given id. A second delete of the
// same source while the first is outstanding fails with ErrDeleteInProgress.
func (ix *Index) Delete(ctx context.Context, id string) error {
	ix.mu.Lock()
	coll, ok := lo.Find(ix.colls, func(c Collection) bool { return c.ID == id })
	if !ok {
		ix.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownCollection, id)
	}
	if ix.deleting[coll.SourceURL] {
		ix.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDeleteInProgress, coll.SourceURL)
	}
	ix.deleting[coll.SourceURL] = true
	ix.mu.Unlock()

	remaining, err := ix.backend.Delete(ctx, id)

	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.deleting, coll.SourceURL)
	if err != nil {
		ix.logger.Warn("collection delete failed", zap.String("id", id), zap.Error(err))
		return fmt.Errorf("failed to delete %s: %w", id, err)
	}
	ix.colls = withTitles(remaining)
	ix.logger.Info("collection deleted", zap.String("id", id), zap.String("source", coll.SourceURL))
	return nil
}

// SortCollections orders colls in place. Ties keep their listing order.
func SortCollections(colls []Collection, key SortKey, desc bool) {
	less := func(a, b Collection) bool {
		switch key {
		case SortSource:
			return a.SourceURL < b.SourceURL
		case SortCreated:
			return a.Ctime < b.Ctime
		case SortSize:
			return a.Size < b.Size
		default:
			return strings.ToLower(a.DisplayTitle()) < strings.ToLower(b.DisplayTitle())
		}
	}
	sort.SliceStable(colls, func(i, j int) bool {
		if desc {
			return less(colls[j], colls[i])
		}
		return less(colls[i], colls[j])
	})
}
