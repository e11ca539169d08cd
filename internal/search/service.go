package search

import (
	"errors"
	"log"
	"strings"
)

// ErrUnavailable signals that the engine cannot serve the query right now;
// callers may degrade (the app falls back to a CMS filter search).
var ErrUnavailable = errors.New("search engine unavailable")

// Engine is a search backend that can both query and maintain the index.
type Engine interface {
	Searcher
	Indexer
}

// Service fronts the search engine. Index upkeep is fire-and-forget so a
// slow or down engine never blocks a content mutation.
type Service struct {
	engine Engine
}

// NewService creates the facade. engine may be nil when no search engine is
// configured.
func NewService(engine Engine) *Service {
	return &Service{engine: engine}
}

// Search short-circuits empty queries without any remote call; otherwise it
// forwards the query and returns the engine's counts verbatim.
func (s *Service) Search(q Query) (Response, error) {
	if strings.TrimSpace(q.Text) == "" {
		return Response{Hits: []Hit{}, Query: q.Text}, nil
	}
	if s.engine == nil || !s.engine.Healthy() {
		return Response{}, ErrUnavailable
	}
	resp, err := s.engine.Search(q)
	if err != nil {
		return Response{}, ErrUnavailable
	}
	if resp.Hits == nil {
		resp.Hits = []Hit{}
	}
	return resp, nil
}

// IndexPattern pushes a pattern record to the index (fire-and-forget).
func (s *Service) IndexPattern(rec PatternRecord) {
	if s.engine == nil || !s.engine.Healthy() {
		return
	}
	go func() {
		if err := s.engine.IndexPattern(rec); err != nil {
			log.Printf("search: index pattern %s: %v", rec.ID, err)
		}
	}()
}

// DeletePattern removes a pattern from the index (fire-and-forget).
func (s *Service) DeletePattern(id string) {
	if s.engine == nil || !s.engine.Healthy() {
		return
	}
	go func() {
		if err := s.engine.DeletePattern(id); err != nil {
			log.Printf("search: delete pattern %s: %v", id, err)
		}
	}()
}
