package pdf

import (
	"context"
	"io"

	"go.uber.org/fx"
)

var Module = fx.Module("pdf",
	fx.Provide(New),
)

type Provider interface {
	RenderStatement(ctx context.Context, data StatementData) (io.Reader, error)
}

type NoOpProvider struct{}

func (p *NoOpProvider) RenderStatement(ctx context.Context, data StatementData) (io.Reader, error) {
	return nil, nil
}
