package search

import "log"

// Service is the facade that tries Meilisearch first and falls back to any
// Searcher, PG FTS in production.
type Service struct {
	meili    *Meili
	fallback Searcher
}

// NewService creates a search service. meili may be nil when Meilisearch is
// not configured; it stays a concrete type because indexing goes through it.
func NewService(meili *Meili, fallback Searcher) *Service {
	return &Service{meili: meili, fallback: fallback}
}

// Search tries Meilisearch if healthy, otherwise uses the fallback.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back: %v", err)
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}

	results, total, err := s.fallback.Search(q)
	if err != nil {
		log.Printf("search: fallback error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexDestination indexes a destination (fire-and-forget to Meilisearch).
func (s *Service) IndexDestination(record DestinationRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexDestination(record); err != nil {
			log.Printf("search: index destination %s: %v", record.ID, err)
		}
	}()
}

// IndexGrenade indexes a grenade (fire-and-forget to Meilisearch).
func (s *Service) IndexGrenade(record GrenadeRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexGrenade(record); err != nil {
			log.Printf("search: index grenade %s: %v", record.ID, err)
		}
	}()
}

func nonNil(results []Result) []Result {
	if results == nil {
		return []Result{}
	}
	return results
}
