package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/royaltyledger/internal/canonical"
	"github.com/smallbiznis/royaltyledger/internal/catalog"
	"github.com/smallbiznis/royaltyledger/internal/classifier"
	"github.com/smallbiznis/royaltyledger/internal/clock"
	"github.com/smallbiznis/royaltyledger/internal/config"
	"github.com/smallbiznis/royaltyledger/internal/fxrate"
	"github.com/smallbiznis/royaltyledger/internal/migration"
	"github.com/smallbiznis/royaltyledger/internal/observability"
	"github.com/smallbiznis/royaltyledger/internal/payout"
	"github.com/smallbiznis/royaltyledger/internal/pipeline"
	"github.com/smallbiznis/royaltyledger/internal/providers/pdf"
	"github.com/smallbiznis/royaltyledger/internal/ratelimit"
	"github.com/smallbiznis/royaltyledger/internal/reference"
	"github.com/smallbiznis/royaltyledger/internal/revenue"
	"github.com/smallbiznis/royaltyledger/internal/sourcefile"
	"github.com/smallbiznis/royaltyledger/internal/vendor"
	"github.com/smallbiznis/royaltyledger/internal/warehouse"
	"github.com/smallbiznis/royaltyledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

const usage = `usage: royaltyledger <command> [flags]

commands:
  ingest --label L [--path DIR] [--vendor V]
  warehouse rebuild | totals
  payout preview|create --label L --year Y --quarter Q
  payout finalize --id ID
  payout statement --id ID --out FILE
  fx set --date YYYY-MM-DD --from CCY --to CCY --rate R
`

var errUsage = errors.New("usage")

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cmd, err := parseCommand(args)
	if err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, err)
		}
		fmt.Fprint(os.Stderr, usage)
		return exitUsage
	}

	var deps commandDeps
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		ratelimit.Module,
		reference.Module,
		migration.Module,
		fxrate.Module,
		catalog.Module,
		vendor.Module,
		classifier.Module,
		canonical.Module,
		sourcefile.Module,
		revenue.Module,
		warehouse.Module,
		pdf.Module,
		payout.Module,
		pipeline.Module,
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			l := &fxevent.ZapLogger{Logger: log.Named("fx")}
			l.UseLogLevel(zap.DebugLevel)
			return l
		}),
		fx.Invoke(func(d commandDeps) { deps = d }),
	)
	if err := app.Err(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFailure
	}

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFailure
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = app.Stop(stopCtx)
	}()

	ctx, stop := signalContext()
	defer stop()

	code, err := cmd(ctx, deps)
	if err != nil {
		deps.Log.Error("command failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, err)
		if code == exitOK {
			code = exitFailure
		}
	}
	return code
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
