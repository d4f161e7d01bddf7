package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrNotFound       = errors.New("source_file_not_found")
	ErrInvalidRequest = errors.New("invalid_source_file_request")
)

type Service interface {
	// Register records a file inside the caller's transaction. Content
	// already known for the vendor returns the existing record.
	Register(ctx context.Context, tx *gorm.DB, req RegisterRequest) (*SourceFile, RegisterOutcome, error)
	Get(ctx context.Context, id snowflake.ID) (*SourceFile, error)
	// Chain walks from a file back to the original statement, newest first.
	Chain(ctx context.Context, id snowflake.ID) ([]SourceFile, error)
	Heads(ctx context.Context, label string) ([]SourceFile, error)
}
