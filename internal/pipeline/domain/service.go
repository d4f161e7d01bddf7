package domain

import "context"

type Service interface {
	// Run ingests every statement under the request root. Per-file problems
	// are recorded in the report; only systemic failures return an error.
	Run(ctx context.Context, req Request) (*Report, error)
}
