package domain

import (
	"context"
	"errors"
	"io"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidRequest = errors.New("invalid_payout_request")
	ErrRunExists      = errors.New("payout_run_exists")
	ErrRunLocked      = errors.New("payout_run_locked")
	ErrNotFound       = errors.New("payout_run_not_found")
	ErrInvalidStatus  = errors.New("invalid_payout_status")
	ErrFinalized      = errors.New("payout_run_finalized")
)

type Request struct {
	Label   string
	Year    int
	Quarter int
}

type Service interface {
	// Preview computes the plan of a period without persisting anything.
	Preview(ctx context.Context, req Request) (*Plan, error)
	// Create persists a run for a period that has none. An existing run of
	// the same key is rejected with ErrRunExists whatever its status.
	Create(ctx context.Context, req Request) (*Run, error)
	Finalize(ctx context.Context, id snowflake.ID) (*Run, error)
	Get(ctx context.Context, id snowflake.ID) (*Run, error)
	List(ctx context.Context, label string) ([]Run, error)
	// Delete removes a run that is not finalized, with its lines.
	Delete(ctx context.Context, id snowflake.ID) error
	Statement(ctx context.Context, id snowflake.ID, w io.Writer) error
}
