package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	fxratedomain "github.com/smallbiznis/royaltyledger/internal/fxrate/domain"
	payoutdomain "github.com/smallbiznis/royaltyledger/internal/payout/domain"
	payoutservice "github.com/smallbiznis/royaltyledger/internal/payout/service"
	pipelinedomain "github.com/smallbiznis/royaltyledger/internal/pipeline/domain"
	"github.com/smallbiznis/royaltyledger/internal/vendor"
	warehousedomain "github.com/smallbiznis/royaltyledger/internal/warehouse/domain"
	"github.com/spf13/pflag"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type commandDeps struct {
	fx.In

	Log       *zap.Logger
	Pipeline  pipelinedomain.Service
	Warehouse warehousedomain.Service
	Payout    payoutdomain.Service
	FX        fxratedomain.Service
}

type command func(ctx context.Context, d commandDeps) (int, error)

var stdout io.Writer = os.Stdout

// parseCommand validates the arguments before any dependency is built so
// usage errors never touch the database.
func parseCommand(args []string) (command, error) {
	if len(args) == 0 {
		return nil, errUsage
	}
	switch args[0] {
	case "ingest":
		return parseIngest(args[1:])
	case "warehouse":
		return parseWarehouse(args[1:])
	case "payout":
		return parsePayout(args[1:])
	case "fx":
		return parseFX(args[1:])
	case "-h", "--help", "help":
		return nil, errUsage
	default:
		return nil, fmt.Errorf("unknown command %q", args[0])
	}
}

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parseIngest(args []string) (command, error) {
	fs := newFlagSet("ingest")
	label := fs.String("label", "", "label whose statements are ingested")
	path := fs.String("path", "", "root directory of the statement tree")
	vendorName := fs.String("vendor", "", "read every file under --path as this vendor's statement")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if strings.TrimSpace(*label) == "" {
		return nil, fmt.Errorf("ingest: --label is required")
	}

	req := pipelinedomain.Request{
		Label:  *label,
		Root:   *path,
		Vendor: vendor.Name(strings.ToLower(strings.TrimSpace(*vendorName))),
	}
	return func(ctx context.Context, d commandDeps) (int, error) {
		report, err := d.Pipeline.Run(ctx, req)
		if report != nil {
			if werr := writeJSON(report); werr != nil {
				return exitFailure, werr
			}
		}
		if err != nil {
			return exitFailure, err
		}
		if report != nil && report.Failed() {
			return exitFailure, nil
		}
		return exitOK, nil
	}, nil
}

func parseWarehouse(args []string) (command, error) {
	if len(args) == 0 {
		return nil, errUsage
	}
	switch args[0] {
	case "rebuild":
		return func(ctx context.Context, d commandDeps) (int, error) {
			res, err := d.Warehouse.Rebuild(ctx)
			if err != nil {
				return exitFailure, err
			}
			return exitOK, writeJSON(res)
		}, nil
	case "totals":
		return func(ctx context.Context, d commandDeps) (int, error) {
			totals, err := d.Warehouse.Totals(ctx)
			if err != nil {
				return exitFailure, err
			}
			return exitOK, writeJSON(totals)
		}, nil
	default:
		return nil, fmt.Errorf("unknown warehouse command %q", args[0])
	}
}

func parsePayout(args []string) (command, error) {
	if len(args) == 0 {
		return nil, errUsage
	}
	sub := args[0]
	fs := newFlagSet("payout " + sub)

	switch sub {
	case "preview", "create":
		label := fs.String("label", "", "label")
		year := fs.Int("year", 0, "period year")
		quarter := fs.Int("quarter", 0, "period quarter (1-4)")
		if err := fs.Parse(args[1:]); err != nil {
			return nil, err
		}
		req := payoutdomain.Request{Label: *label, Year: *year, Quarter: *quarter}
		if sub == "preview" {
			return func(ctx context.Context, d commandDeps) (int, error) {
				plan, err := d.Payout.Preview(ctx, req)
				if err != nil {
					return exitFailure, err
				}
				return exitOK, writeJSON(plan)
			}, nil
		}
		return func(ctx context.Context, d commandDeps) (int, error) {
			run, err := d.Payout.Create(ctx, req)
			if err != nil {
				return exitFailure, err
			}
			return exitOK, writeJSON(run)
		}, nil

	case "finalize":
		rawID := fs.String("id", "", "payout run id")
		if err := fs.Parse(args[1:]); err != nil {
			return nil, err
		}
		id, err := payoutservice.ParseRunID(*rawID)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, d commandDeps) (int, error) {
			run, err := d.Payout.Finalize(ctx, id)
			if err != nil {
				return exitFailure, err
			}
			return exitOK, writeJSON(run)
		}, nil

	case "statement":
		rawID := fs.String("id", "", "payout run id")
		out := fs.String("out", "", "destination PDF file")
		if err := fs.Parse(args[1:]); err != nil {
			return nil, err
		}
		id, err := payoutservice.ParseRunID(*rawID)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(*out) == "" {
			return nil, fmt.Errorf("payout statement: --out is required")
		}
		return func(ctx context.Context, d commandDeps) (int, error) {
			f, err := os.Create(*out)
			if err != nil {
				return exitFailure, err
			}
			if err := d.Payout.Statement(ctx, id, f); err != nil {
				f.Close()
				return exitFailure, err
			}
			return exitOK, f.Close()
		}, nil

	default:
		return nil, fmt.Errorf("unknown payout command %q", sub)
	}
}

func parseFX(args []string) (command, error) {
	if len(args) == 0 || args[0] != "set" {
		return nil, errUsage
	}
	fs := newFlagSet("fx set")
	rawDate := fs.String("date", "", "rate date (YYYY-MM-DD)")
	from := fs.String("from", "", "source currency")
	to := fs.String("to", "", "target currency")
	rawRate := fs.String("rate", "", "units of --to per unit of --from")
	if err := fs.Parse(args[1:]); err != nil {
		return nil, err
	}
	date, err := time.Parse("2006-01-02", *rawDate)
	if err != nil {
		return nil, fmt.Errorf("fx set: invalid --date: %w", err)
	}
	rate, err := decimal.NewFromString(strings.TrimSpace(*rawRate))
	if err != nil || !rate.IsPositive() {
		return nil, fmt.Errorf("fx set: --rate must be a positive decimal")
	}
	return func(ctx context.Context, d commandDeps) (int, error) {
		stored, err := d.FX.Record(ctx, date, *from, *to, rate)
		if err != nil {
			return exitFailure, err
		}
		return exitOK, writeJSON(stored)
	}, nil
}

func writeJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
