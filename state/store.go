package state

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("state: not found")

type ListRunsQuery struct {
	Email  string
	Status string
	Limit  int
	Offset int
}

// Store keeps solve history. Records are upserted by ID and listed newest
// first.
type Store interface {
	SaveRun(ctx context.Context, run RunRecord) error
	LoadRun(ctx context.Context, id string) (RunRecord, error)
	ListRuns(ctx context.Context, query ListRunsQuery) ([]RunRecord, error)
	Close() error
}
