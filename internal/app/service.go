package app

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"docsync/api/internal/collab"
	"docsync/api/internal/docname"
	"docsync/api/internal/richtext"
	"docsync/api/internal/search"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type collabServer interface {
	http.Handler
	Inspect(name string) (collab.DocumentInfo, error)
	Reload(ctx context.Context, name string) (richtext.SeedResult, error)
	Stats() collab.Stats
}

type mentionSearcher interface {
	Search(ctx context.Context, q search.Query) search.Response
}

// Service backs the HTTP surface: readiness, document diagnostics and mention
// suggestions. The editing itself happens on the collaboration websocket.
type Service struct {
	store    pinger
	collab   collabServer
	mentions mentionSearcher
}

// New wires a service. mentions may be nil, in which case suggestions are
// always empty.
func New(store pinger, collab collabServer, mentions mentionSearcher) *Service {
	return &Service{store: store, collab: collab, mentions: mentions}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// DocumentView is the diagnostic payload for one live document.
type DocumentView struct {
	collab.DocumentInfo
	Identity *docname.Identity `json:"identity"`
}

func (s *Service) Document(name string) (DocumentView, error) {
	if strings.TrimSpace(name) == "" {
		return DocumentView{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "document name is required", nil)
	}
	info, err := s.collab.Inspect(name)
	if err != nil {
		return DocumentView{}, err
	}
	view := DocumentView{DocumentInfo: info}
	if id, ok := docname.Parse(name); ok {
		view.Identity = &id
	}
	return view, nil
}

// ReloadResult reports a forced re-derivation.
type ReloadResult struct {
	Name    string            `json:"name"`
	Mode    richtext.SeedMode `json:"mode"`
	Cleared int               `json:"cleared"`
	Warning string            `json:"warning,omitempty"`
}

func (s *Service) Reload(ctx context.Context, name string) (ReloadResult, error) {
	if strings.TrimSpace(name) == "" {
		return ReloadResult{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "document name is required", nil)
	}
	seed, err := s.collab.Reload(ctx, name)
	if err != nil {
		return ReloadResult{}, err
	}
	res := ReloadResult{Name: name, Mode: seed.Mode, Cleared: seed.Cleared}
	if seed.Err != nil {
		res.Warning = seed.Err.Error()
	}
	return res, nil
}

func (s *Service) Stats() collab.Stats {
	return s.collab.Stats()
}

func (s *Service) Mentions(ctx context.Context, text, kind string, limit int) (search.Response, error) {
	k, err := search.ParseKind(kind)
	if err != nil {
		return search.Response{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}
	if s.mentions == nil {
		return search.Response{Results: []search.Suggestion{}, Query: text}, nil
	}
	return s.mentions.Search(ctx, search.Query{Text: text, Kind: k, Limit: limit}), nil
}

func isNotLoaded(err error) bool {
	return errors.Is(err, collab.ErrUnknownDocument)
}
