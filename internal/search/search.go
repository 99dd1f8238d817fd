// Package search suggests the users and work items an editor can mention.
package search

import (
	"context"
	"fmt"

	"docsync/api/internal/richtext"
)

// Kind identifies what a mention points at. The values match the mention
// attribute keys of the rich-text schema.
type Kind string

const (
	KindTask      Kind = "task"
	KindEpic      Kind = "epic"
	KindStory     Kind = "story"
	KindMilestone Kind = "milestone"
	KindUser      Kind = "user"
)

var kinds = []Kind{KindTask, KindEpic, KindStory, KindMilestone, KindUser}

// ParseKind accepts an empty string (all kinds) or one of the known kinds.
func ParseKind(s string) (Kind, error) {
	if s == "" {
		return "", nil
	}
	for _, k := range kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown mention kind %q", s)
}

// Record is one mentionable entity. ID is unique across kinds.
type Record struct {
	ID       string `json:"id"`
	EntityID string `json:"entityId"`
	Kind     Kind   `json:"kind"`
	Title    string `json:"title"`
	IssueKey string `json:"issueKey,omitempty"`
}

func recordID(kind Kind, entityID string) string {
	return string(kind) + "-" + entityID
}

// Suggestion is a record plus the markup an editor inserts for it.
type Suggestion struct {
	Record
	HTML string `json:"html"`
}

func suggest(r Record) Suggestion {
	s := Suggestion{Record: r}
	if n, ok := richtext.MentionNode(string(r.Kind), r.EntityID, r.Title, r.IssueKey); ok {
		s.HTML = richtext.RenderHTML(n)
	}
	return s
}

// Query describes a suggestion request.
type Query struct {
	Text  string
	Kind  Kind // empty = all kinds
	Limit int
}

const (
	defaultLimit = 10
	maxLimit     = 50
)

func (q Query) limit() int {
	switch {
	case q.Limit <= 0:
		return defaultLimit
	case q.Limit > maxLimit:
		return maxLimit
	default:
		return q.Limit
	}
}

// Response is the envelope returned by the mentions endpoint.
type Response struct {
	Results []Suggestion `json:"results"`
	Query   string       `json:"query"`
	Backend string       `json:"backend"`
}

// Searcher finds mention records.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Record, error)
	Healthy() bool
}

// Index is a searcher that records can be pushed into.
type Index interface {
	Searcher
	IndexRecords(records []Record) error
}

// RecordSource lists every mentionable record for a full reindex.
type RecordSource interface {
	LoadAllRecords(ctx context.Context) ([]Record, error)
}
