package classifier

import (
	"errors"

	"github.com/smallbiznis/royaltyledger/internal/amount"
	"github.com/smallbiznis/royaltyledger/internal/config"
	"github.com/smallbiznis/royaltyledger/internal/vendor"
	"go.uber.org/fx"
)

var Module = fx.Module("classifier",
	fx.Provide(New),
)

type Class string

const (
	ClassBlank       Class = "blank"
	ClassNoise       Class = "noise"
	ClassTransaction Class = "transaction"
	ClassMalformed   Class = "malformed"
)

const ReasonZeroAmount = "zero_amount"

// Result is the outcome for one row. Reason is set for noise rows.
type Result struct {
	Class  Class
	Reason string
}

// Classifier applies a vendor's rules in fixed order: blank, noise,
// transaction, and everything left over is malformed.
type Classifier struct {
	includeZero bool
}

func New(policy config.Policy) *Classifier {
	return &Classifier{includeZero: policy.IncludeZeroAmount}
}

func (c *Classifier) Classify(a vendor.Adapter, row vendor.Row) Result {
	if row.IsBlank() {
		return Result{Class: ClassBlank}
	}
	if reason, ok := a.Noise(row); ok {
		return Result{Class: ClassNoise, Reason: reason}
	}
	if !a.Transaction(row) {
		return Result{Class: ClassMalformed}
	}
	if !c.includeZero && isZeroAmount(a.Extract(row)) {
		return Result{Class: ClassNoise, Reason: ReasonZeroAmount}
	}
	return Result{Class: ClassTransaction}
}

func isZeroAmount(f vendor.Fields) bool {
	for _, raw := range []string{f.Net, f.Gross} {
		value, err := amount.Parse(raw)
		if errors.Is(err, amount.ErrEmpty) {
			continue
		}
		if err != nil {
			return false
		}
		return value.IsZero()
	}
	return true
}

// Tally counts rows per class for one file.
type Tally struct {
	Total       int `json:"total"`
	Blank       int `json:"blank"`
	Noise       int `json:"noise"`
	Transaction int `json:"transaction"`
	Malformed   int `json:"malformed"`
}

func (t *Tally) Add(class Class) {
	t.Total++
	switch class {
	case ClassBlank:
		t.Blank++
	case ClassNoise:
		t.Noise++
	case ClassTransaction:
		t.Transaction++
	case ClassMalformed:
		t.Malformed++
	}
}

// Balanced reports whether every row landed in exactly one class.
func (t Tally) Balanced() bool {
	return t.Blank+t.Noise+t.Transaction+t.Malformed == t.Total
}

func (t *Tally) Merge(other Tally) {
	t.Total += other.Total
	t.Blank += other.Blank
	t.Noise += other.Noise
	t.Transaction += other.Transaction
	t.Malformed += other.Malformed
}
