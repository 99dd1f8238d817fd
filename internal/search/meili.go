package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxMentions = "docsync_mentions"

var errUnhealthy = errors.New("meilisearch unhealthy")

// Meili implements Index via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	logger  *slog.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the mentions index. An
// unreachable server is not an error: the health loop keeps probing and the
// caller falls back until it recovers.
func NewMeili(url, apiKey string, logger *slog.Logger) *Meili {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		logger: logger,
		done:   make(chan struct{}),
	}

	if _, err := m.client.Health(); err != nil {
		logger.Warn("meilisearch unavailable", "url", url, "error", err)
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
		Uid:        idxMentions,
		PrimaryKey: "id",
	}); err != nil {
		m.logger.Debug("create index (may already exist)", "index", idxMentions, "error", err)
	}

	index := m.client.Index(idxMentions)
	filterable := []interface{}{"kind"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.logger.Warn("update filterable attributes", "index", idxMentions, "error", err)
	}
	searchable := []string{"title", "issueKey", "entityId"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.logger.Warn("update searchable attributes", "index", idxMentions, "error", err)
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
				m.logger.Info("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(_ context.Context, q Query) ([]Record, error) {
	if !m.healthy.Load() {
		return nil, errUnhealthy
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{searchRequest(q)},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, fmt.Errorf("meilisearch search: %w", err)
	}

	var records []Record
	for _, sr := range resp.Results {
		for _, hit := range sr.Hits {
			records = append(records, hitToRecord(hit))
		}
	}
	return records, nil
}

func searchRequest(q Query) *meili.SearchRequest {
	sr := &meili.SearchRequest{
		IndexUID: idxMentions,
		Query:    strings.TrimSpace(q.Text),
		Limit:    int64(q.limit()),
	}
	if q.Kind != "" {
		sr.Filter = fmt.Sprintf("kind = %q", string(q.Kind))
	}
	return sr
}

func hitToRecord(hit meili.Hit) Record {
	return Record{
		ID:       decodeString(hit, "id"),
		EntityID: decodeString(hit, "entityId"),
		Kind:     Kind(decodeString(hit, "kind")),
		Title:    decodeString(hit, "title"),
		IssueKey: decodeString(hit, "issueKey"),
	}
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// IndexRecords bulk-indexes mention records.
func (m *Meili) IndexRecords(records []Record) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxMentions).AddDocuments(records, nil)
	return err
}
