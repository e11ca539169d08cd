package search

import (
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxPatterns = "patterns_index"

// Meili implements Searcher and Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the patterns index.
// The caller should proceed even when the engine is initially unreachable;
// a background loop re-checks health and reconfigures on recovery.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxPatterns,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", idxPatterns, err)
	}

	index := m.client.Index(idxPatterns)
	searchable := []string{"title", "notes", "content"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: update searchable attrs for %s: %v", idxPatterns, err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries the patterns index, forwarding pagination and
// highlight/crop parameters unchanged.
func (m *Meili) Search(q Query) (Response, error) {
	if !m.healthy.Load() {
		return Response{}, fmt.Errorf("meilisearch unhealthy")
	}

	limit := q.Limit
	if limit == 0 {
		limit = 20
	}

	sr := &meili.SearchRequest{
		Limit:            limit,
		Offset:           q.Offset,
		HighlightPreTag:  "<mark>",
		HighlightPostTag: "</mark>",
	}
	if len(q.Highlight) > 0 {
		sr.AttributesToHighlight = q.Highlight
	}
	if len(q.Crop) > 0 {
		sr.AttributesToCrop = q.Crop
	}
	if q.CropLength > 0 {
		sr.CropLength = q.CropLength
	}

	resp, err := m.client.Index(idxPatterns).Search(q.Text, sr)
	if err != nil {
		m.healthy.Store(false)
		return Response{}, fmt.Errorf("meilisearch search: %w", err)
	}

	hits := make([]Hit, 0, len(resp.Hits))
	for _, raw := range resp.Hits {
		hit, err := decodeHit(raw)
		if err != nil {
			log.Printf("search: skip undecodable hit: %v", err)
			continue
		}
		hits = append(hits, hit)
	}

	return Response{
		Hits:               hits,
		EstimatedTotalHits: resp.EstimatedTotalHits,
		ProcessingTimeMs:   resp.ProcessingTimeMs,
		Query:              q.Text,
	}, nil
}

func decodeHit(raw meili.Hit) (Hit, error) {
	encoded, err := json.Marshal(raw)
	if err != nil {
		return Hit{}, err
	}
	var hit Hit
	if err := json.Unmarshal(encoded, &hit); err != nil {
		return Hit{}, err
	}
	return hit, nil
}

// IndexPattern adds or updates a pattern in the search index.
func (m *Meili) IndexPattern(rec PatternRecord) error {
	_, err := m.client.Index(idxPatterns).AddDocuments([]PatternRecord{rec}, nil)
	return err
}

// DeletePattern removes a pattern from the search index.
func (m *Meili) DeletePattern(id string) error {
	_, err := m.client.Index(idxPatterns).DeleteDocument(id, nil)
	return err
}
