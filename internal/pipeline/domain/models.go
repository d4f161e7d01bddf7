package domain

import (
	"errors"
	"time"

	"github.com/smallbiznis/royaltyledger/internal/classifier"
	"github.com/smallbiznis/royaltyledger/internal/vendor"
	"gorm.io/datatypes"
)

var (
	ErrInvalidRequest = errors.New("invalid_ingest_request")
	ErrLabelLocked    = errors.New("label_ingest_in_progress")
)

type FileStatus string

const (
	FileOK      FileStatus = "ok"
	FileSkipped FileStatus = "skipped"
	FileFailed  FileStatus = "failed"
)

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	// RunPartial means at least one file failed outright.
	RunPartial RunStatus = "completed_with_failures"
	RunAborted RunStatus = "aborted"
)

type Request struct {
	Label string
	Root  string
	// Vendor forces the adapter for every file under Root.
	Vendor vendor.Name
}

// FileReport is the audit record of one source file. Rows always sum to
// the file's row count across the four classes.
type FileReport struct {
	Path          string     `json:"path"`
	CanonicalPath string     `json:"canonical_path,omitempty"`
	Status        FileStatus `json:"status"`
	Error         string     `json:"error,omitempty"`

	Vendor        string `json:"vendor,omitempty"`
	Period        string `json:"period,omitempty"`
	StatementType string `json:"statement_type,omitempty"`
	Encoding      string `json:"encoding,omitempty"`
	Delimiter     string `json:"delimiter,omitempty"`
	DecimalComma  bool   `json:"decimal_comma,omitempty"`
	Sheet         string `json:"sheet,omitempty"`

	SourceFileID string `json:"source_file_id,omitempty"`
	Registration string `json:"registration,omitempty"`
	CorrectionOf string `json:"correction_of,omitempty"`

	Rows                classifier.Tally `json:"rows"`
	Noise               map[string]int   `json:"noise_reasons,omitempty"`
	Written             int              `json:"written"`
	AlreadyPresent      int              `json:"already_present"`
	Costs               int              `json:"cost_events"`
	AmountParseFailures int              `json:"amount_parse_failures"`
	FXApproximate       int              `json:"fx_approximate"`
}

type Report struct {
	RunID      string       `json:"run_id"`
	Label      string       `json:"label"`
	Root       string       `json:"root"`
	Status     RunStatus    `json:"status"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Files      []FileReport `json:"files"`

	FilesScanned        int              `json:"files_scanned"`
	FilesFailed         int              `json:"files_failed"`
	FilesSkipped        int              `json:"files_skipped"`
	Rows                classifier.Tally `json:"rows"`
	Written             int              `json:"written"`
	AlreadyPresent      int              `json:"already_present"`
	AmountParseFailures int              `json:"amount_parse_failures"`
	FXApproximate       int              `json:"fx_approximate"`

	Warehouse *WarehouseBuild `json:"warehouse,omitempty"`
}

// WarehouseBuild records the fact table refresh that follows a batch which
// stored new events.
type WarehouseBuild struct {
	Facts    int    `json:"facts"`
	Duration string `json:"duration,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Add folds a file into the run totals.
func (r *Report) Add(f FileReport) {
	r.Files = append(r.Files, f)
	r.FilesScanned++
	switch f.Status {
	case FileFailed:
		r.FilesFailed++
	case FileSkipped:
		r.FilesSkipped++
	}
	r.Rows.Merge(f.Rows)
	r.Written += f.Written
	r.AlreadyPresent += f.AlreadyPresent
	r.AmountParseFailures += f.AmountParseFailures
	r.FXApproximate += f.FXApproximate
}

// Failed reports whether any file failed outright.
func (r *Report) Failed() bool {
	return r.FilesFailed > 0 || (r.Warehouse != nil && r.Warehouse.Error != "")
}

// IngestRun is the persisted audit trail of one batch invocation.
type IngestRun struct {
	ID           string         `json:"id" gorm:"type:char(26);primaryKey"`
	Label        string         `json:"label" gorm:"type:text;not null;index"`
	Root         string         `json:"root" gorm:"type:text;not null"`
	Status       RunStatus      `json:"status" gorm:"type:text;not null"`
	StartedAt    time.Time      `json:"started_at" gorm:"not null"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
	FilesScanned int            `json:"files_scanned" gorm:"not null;default:0"`
	FilesFailed  int            `json:"files_failed" gorm:"not null;default:0"`
	Written      int            `json:"written" gorm:"not null;default:0"`
	Report       datatypes.JSON `json:"report,omitempty" gorm:"type:json"`
}

func (IngestRun) TableName() string { return "ingest_runs" }
