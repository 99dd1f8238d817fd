package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresStore is the read-only boundary to the entity tables. The collaboration
// core never writes through it; saving descriptions happens elsewhere.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) TaskDescription(ctx context.Context, id string) (Description, error) {
	return s.description(ctx, tableTasks, id)
}

func (s *PostgresStore) EpicDescription(ctx context.Context, id string) (Description, error) {
	return s.description(ctx, tableEpics, id)
}

func (s *PostgresStore) StoryDescription(ctx context.Context, id string) (Description, error) {
	return s.description(ctx, tableStories, id)
}

func (s *PostgresStore) MilestoneDescription(ctx context.Context, id string) (Description, error) {
	return s.description(ctx, tableMilestones, id)
}

// description runs the single-field point lookup. table is always one of the
// package constants, never caller input.
func (s *PostgresStore) description(ctx context.Context, table, id string) (Description, error) {
	var desc Description
	query := fmt.Sprintf(`SELECT description FROM %s WHERE id = $1`, table)
	err := s.db.QueryRowContext(ctx, query, id).Scan(&desc)
	if errors.Is(err, sql.ErrNoRows) {
		return Description{}, nil
	}
	if err != nil {
		return Description{}, fmt.Errorf("read %s description: %w", table, err)
	}
	return desc, nil
}
