package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"propintel/internal/domain"
)

// StatusAll is the sentinel filter value matching every status.
const StatusAll = "all"

// ListFilter mirrors the list view's controls: a free-text search term and a
// status filter.
type ListFilter struct {
	Search string
	Status string
}

// CatalogService reads the extraction snapshot and derives the list/detail
// views from it. Reads are cache-aside; the snapshot store stays the source
// of truth.
type CatalogService struct {
	repo     domain.SnapshotRepository
	cache    domain.Cache
	storeKey string
	cacheTTL time.Duration
}

func NewCatalogService(r domain.SnapshotRepository, c domain.Cache, storeKey string, ttl time.Duration) *CatalogService {
	return &CatalogService{repo: r, cache: c, storeKey: storeKey, cacheTTL: ttl}
}

// Ingest accepts a freshly extracted batch and persists it before returning
// it (write-through). A nil batch means "read whatever the store has".
// Store failures fail open to an empty list — "no data" beats a crash.
func (s *CatalogService) Ingest(ctx context.Context, batch []domain.Property) ([]domain.Property, error) {
	if batch != nil {
		if err := s.repo.Save(ctx, s.storeKey, batch); err != nil {
			return nil, fmt.Errorf("write-through persist: %w", err)
		}
		_ = s.cache.Del(ctx, s.storeKey)
		return batch, nil
	}
	return s.load(ctx), nil
}

// Properties returns the filtered list plus the summary counts derived from
// the full (unfiltered) snapshot.
func (s *CatalogService) Properties(ctx context.Context, f ListFilter) ([]domain.Property, domain.Summary, error) {
	list := s.load(ctx)
	return FilterAndSearch(list, f), Summarize(list), nil
}

// PropertyByID resolves one property from the snapshot. A miss returns
// domain.ErrNotFound; the HTTP layer translates that into a redirect back to
// the list rather than an error page.
func (s *CatalogService) PropertyByID(ctx context.Context, id string) (domain.Property, error) {
	return ResolveByID(s.load(ctx), id)
}

// MarkEmailSent flips the single client-local emailSent flag for one property
// via a targeted patch of the stored snapshot.
func (s *CatalogService) MarkEmailSent(ctx context.Context, id string) error {
	if err := s.repo.MarkEmailSent(ctx, s.storeKey, id); err != nil {
		return err
	}
	return s.cache.Del(ctx, s.storeKey)
}

func (s *CatalogService) load(ctx context.Context) []domain.Property {
	var cached []domain.Property
	ok, err := s.cache.Get(ctx, s.storeKey, &cached)
	if ok && err == nil {
		return cached
	}
	if err != nil {
		log.Warn().Err(err).Str("key", s.storeKey).Msg("cache read failed, falling back to store")
	}
	list, err := s.repo.Load(ctx, s.storeKey)
	if err != nil {
		log.Warn().Err(err).Str("key", s.storeKey).Msg("snapshot load failed, serving empty list")
		return nil
	}
	if list == nil {
		return nil
	}
	// copy before caching so callers can't mutate the cached value
	cp := make([]domain.Property, len(list))
	copy(cp, list)
	_ = s.cache.Set(ctx, s.storeKey, cp, s.cacheTTL)
	return list
}

// FilterAndSearch applies the list view's predicates: the search term matches
// case-insensitively against title, address, or any broker name; the status
// filter matches the normalized status exactly, with "all" (or empty) passing
// everything. Stored statuses are re-normalized before comparing; snapshots
// written by the legacy variant carry raw backend statuses like "Vacant".
// Order-preserving; the input is never mutated.
func FilterAndSearch(list []domain.Property, f ListFilter) []domain.Property {
	search := strings.ToLower(strings.TrimSpace(f.Search))
	status := strings.TrimSpace(f.Status)
	all := status == "" || strings.EqualFold(status, StatusAll)

	out := make([]domain.Property, 0, len(list))
	for _, p := range list {
		if search != "" && !matchesSearch(p, search) {
			continue
		}
		if !all && !strings.EqualFold(string(NormalizeStatus(string(p.Status))), status) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func matchesSearch(p domain.Property, search string) bool {
	if strings.Contains(strings.ToLower(p.Title), search) ||
		strings.Contains(strings.ToLower(p.Address), search) {
		return true
	}
	for _, b := range p.Brokers {
		if strings.Contains(strings.ToLower(b.Name), search) {
			return true
		}
	}
	return false
}

// ResolveByID is a linear lookup by id.
func ResolveByID(list []domain.Property, id string) (domain.Property, error) {
	for _, p := range list {
		if p.ID == id {
			return p, nil
		}
	}
	return domain.Property{}, domain.ErrNotFound
}

// Summarize derives the header counts from a batch. Statuses are
// re-normalized so legacy snapshots with raw backend values count correctly.
func Summarize(list []domain.Property) domain.Summary {
	s := domain.Summary{Total: len(list)}
	for _, p := range list {
		switch NormalizeStatus(string(p.Status)) {
		case domain.StatusAvailable:
			s.Available++
		case domain.StatusPending:
			s.Pending++
		case domain.StatusLeased:
			s.Leased++
		}
	}
	return s
}
