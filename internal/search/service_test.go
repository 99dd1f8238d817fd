package search

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"

	meili "github.com/meilisearch/meilisearch-go"

	"docsync/api/internal/store"
)

type fakeIndex struct {
	healthy bool
	records []Record
	err     error
	indexed []Record
	queries []Query
}

func (f *fakeIndex) Healthy() bool { return f.healthy }

func (f *fakeIndex) Search(_ context.Context, q Query) ([]Record, error) {
	f.queries = append(f.queries, q)
	return f.records, f.err
}

func (f *fakeIndex) IndexRecords(records []Record) error {
	f.indexed = append(f.indexed, records...)
	return nil
}

type fakeSource struct {
	records []Record
	err     error
}

func (f fakeSource) LoadAllRecords(context.Context) ([]Record, error) {
	return f.records, f.err
}

var taskRecord = Record{ID: "task-T1", EntityID: "T1", Kind: KindTask, Title: "Fix bug", IssueKey: "ABC-1"}

func TestServiceUsesHealthyIndex(t *testing.T) {
	index := &fakeIndex{healthy: true, records: []Record{taskRecord}}
	fallback := &fakeIndex{healthy: true}
	svc := NewService(index, fallback, nil, nil)

	resp := svc.Search(context.Background(), Query{Text: "fix"})
	if resp.Backend != "meilisearch" || len(resp.Results) != 1 {
		t.Fatalf("response = %+v", resp)
	}
	if len(fallback.queries) != 0 {
		t.Fatal("fallback queried while index healthy")
	}
	html := resp.Results[0].HTML
	for _, want := range []string{`data-task-mention=""`, `data-task-id="T1"`, `data-task-issue-key="ABC-1"`, ">#Fix bug</span>"} {
		if !strings.Contains(html, want) {
			t.Errorf("suggestion html %q missing %q", html, want)
		}
	}
}

func TestServiceFallsBack(t *testing.T) {
	tests := []struct {
		name  string
		index Index
	}{
		{name: "no index"},
		{name: "unhealthy index", index: &fakeIndex{healthy: false}},
		{name: "index error", index: &fakeIndex{healthy: true, err: errors.New("boom")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fallback := &fakeIndex{healthy: true, records: []Record{taskRecord}}
			svc := NewService(tt.index, fallback, nil, nil)
			resp := svc.Search(context.Background(), Query{Text: "fix", Kind: KindTask})
			if resp.Backend != "postgres" || len(resp.Results) != 1 {
				t.Fatalf("response = %+v", resp)
			}
			if len(fallback.queries) != 1 || fallback.queries[0].Kind != KindTask {
				t.Fatalf("fallback queries = %+v", fallback.queries)
			}
		})
	}
}

func TestServiceFallbackErrorYieldsEmptyResults(t *testing.T) {
	svc := NewService(nil, &fakeIndex{err: errors.New("db down")}, nil, nil)
	resp := svc.Search(context.Background(), Query{Text: "x"})
	if resp.Results == nil || len(resp.Results) != 0 || resp.Backend != "" {
		t.Fatalf("response = %+v", resp)
	}
}

func TestReindexAllFromPG(t *testing.T) {
	index := &fakeIndex{healthy: true}
	svc := NewService(index, nil, fakeSource{records: []Record{taskRecord}}, nil)
	svc.ReindexAllFromPG(context.Background())
	if len(index.indexed) != 1 || index.indexed[0] != taskRecord {
		t.Fatalf("indexed = %+v", index.indexed)
	}

	unhealthy := &fakeIndex{}
	NewService(unhealthy, nil, fakeSource{records: []Record{taskRecord}}, nil).ReindexAllFromPG(context.Background())
	if len(unhealthy.indexed) != 0 {
		t.Fatal("reindexed into an unhealthy index")
	}
}

func TestParseKind(t *testing.T) {
	for _, in := range []string{"", "task", "epic", "story", "milestone", "user"} {
		if _, err := ParseKind(in); err != nil {
			t.Errorf("ParseKind(%q): %v", in, err)
		}
	}
	if _, err := ParseKind("widget"); err == nil {
		t.Error("ParseKind(widget) succeeded")
	}
}

func TestQueryLimit(t *testing.T) {
	for in, want := range map[int]int{-1: defaultLimit, 0: defaultLimit, 5: 5, 500: maxLimit} {
		if got := (Query{Limit: in}).limit(); got != want {
			t.Errorf("limit(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestBuildLookup(t *testing.T) {
	sql, args := buildLookup(Query{Text: " 50%_off ", Kind: KindEpic, Limit: 3})
	if strings.Count(sql, "SELECT '") != 1 || !strings.Contains(sql, "FROM epics") {
		t.Fatalf("sql does not select only epics:\n%s", sql)
	}
	if !strings.Contains(sql, "LIMIT 3") {
		t.Fatalf("sql missing limit:\n%s", sql)
	}
	if args[0] != `%50\%\_off%` || args[1] != `50\%\_off%` {
		t.Fatalf("args = %v", args)
	}

	all, _ := buildLookup(Query{Text: "a"})
	if got := strings.Count(all, "UNION ALL"); got != len(mentionSources)-1 {
		t.Fatalf("UNION ALL count = %d", got)
	}
}

func TestSearchRequest(t *testing.T) {
	sr := searchRequest(Query{Text: " fix ", Kind: KindStory})
	if sr.IndexUID != idxMentions || sr.Query != "fix" || sr.Limit != defaultLimit {
		t.Fatalf("request = %+v", sr)
	}
	if sr.Filter != `kind = "story"` {
		t.Fatalf("filter = %v", sr.Filter)
	}
	if searchRequest(Query{}).Filter != nil {
		t.Fatal("filter set without kind")
	}
}

func TestHitToRecord(t *testing.T) {
	hit := meili.Hit{
		"id":       json.RawMessage(`"task-T1"`),
		"entityId": json.RawMessage(`"T1"`),
		"kind":     json.RawMessage(`"task"`),
		"title":    json.RawMessage(`"Fix bug"`),
		"issueKey": json.RawMessage(`"ABC-1"`),
		"rank":     json.RawMessage(`3`),
	}
	if got := hitToRecord(hit); got != taskRecord {
		t.Fatalf("record = %+v", got)
	}
}

func TestPostgresLookup(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	url := os.Getenv("DOCSYNC_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("DOCSYNC_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := store.Open(ctx, url)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer db.Close()

	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS tasks (id TEXT PRIMARY KEY, description TEXT)`,
		`ALTER TABLE tasks ADD COLUMN IF NOT EXISTS title TEXT`,
		`ALTER TABLE tasks ADD COLUMN IF NOT EXISTS issue_key TEXT`,
		`INSERT INTO tasks (id, title, issue_key) VALUES ('it-search', 'Searchable widget', 'SRCH-1')
			ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, issue_key = EXCLUDED.issue_key`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("prepare schema: %v", err)
		}
	}

	records, err := NewPostgres(db).Search(ctx, Query{Text: "srch-", Kind: KindTask})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	found := false
	for _, r := range records {
		if r.ID == "task-it-search" && r.Title == "Searchable widget" {
			found = true
		}
	}
	if !found {
		t.Fatalf("records = %+v", records)
	}
}
