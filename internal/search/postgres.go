package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// mentionSources maps each kind to the SELECT producing its records as
// (entity_id, title, issue_key).
var mentionSources = []struct {
	kind  Kind
	query string
}{
	{KindTask, `SELECT id::text, coalesce(title, ''), coalesce(issue_key, '') FROM tasks`},
	{KindEpic, `SELECT id::text, coalesce(title, ''), coalesce(issue_key, '') FROM epics`},
	{KindStory, `SELECT id::text, coalesce(title, ''), coalesce(issue_key, '') FROM stories`},
	{KindMilestone, `SELECT id::text, coalesce(title, ''), coalesce(issue_key, '') FROM milestones`},
	{KindUser, `SELECT id::text, coalesce(name, ''), ''::text FROM users`},
}

// Postgres implements Searcher with case-insensitive substring matching over
// the entity tables. It is the fallback when Meilisearch is not available.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Healthy is always true; without Postgres there is nothing to mention.
func (p *Postgres) Healthy() bool {
	return true
}

func (p *Postgres) Search(ctx context.Context, q Query) ([]Record, error) {
	dataSQL, args := buildLookup(q)
	if dataSQL == "" {
		return nil, nil
	}
	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, fmt.Errorf("mention lookup: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var kind string
		if err := rows.Scan(&kind, &r.EntityID, &r.Title, &r.IssueKey); err != nil {
			return nil, fmt.Errorf("scan mention: %w", err)
		}
		r.Kind = Kind(kind)
		r.ID = recordID(r.Kind, r.EntityID)
		records = append(records, r)
	}
	return records, rows.Err()
}

// buildLookup returns the UNION ALL query for q. Titles starting with the text
// rank before titles merely containing it.
func buildLookup(q Query) (string, []any) {
	text := strings.TrimSpace(q.Text)
	args := []any{"%" + escapeLike(text) + "%", escapeLike(text) + "%"}

	var subQueries []string
	for _, src := range mentionSources {
		if q.Kind != "" && q.Kind != src.kind {
			continue
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT '%s'::text AS kind, m.entity_id, m.title, m.issue_key,
				CASE WHEN m.title ILIKE $2 OR m.issue_key ILIKE $2 THEN 0 ELSE 1 END AS rank
			FROM (%s) AS m(entity_id, title, issue_key)
			WHERE m.title ILIKE $1 OR m.issue_key ILIKE $1`, src.kind, src.query))
	}
	if len(subQueries) == 0 {
		return "", nil
	}
	return fmt.Sprintf(`SELECT kind, entity_id, title, issue_key
		FROM (%s) sub
		ORDER BY rank, title
		LIMIT %d`, strings.Join(subQueries, " UNION ALL "), q.limit()), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// LoadAllRecords returns every mentionable record for full reindexing.
func (p *Postgres) LoadAllRecords(ctx context.Context) ([]Record, error) {
	records := make([]Record, 0)
	for _, src := range mentionSources {
		rows, err := p.db.QueryContext(ctx, src.query)
		if err != nil {
			return nil, fmt.Errorf("load %s mentions: %w", src.kind, err)
		}
		for rows.Next() {
			r := Record{Kind: src.kind}
			if err := rows.Scan(&r.EntityID, &r.Title, &r.IssueKey); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan %s mention: %w", src.kind, err)
			}
			r.ID = recordID(r.Kind, r.EntityID)
			records = append(records, r)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("iterate %s mentions: %w", src.kind, err)
		}
	}
	return records, nil
}
