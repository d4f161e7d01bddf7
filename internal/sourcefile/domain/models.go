package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// SourceFile is the write-once provenance record of one canonicalized
// vendor export. A correction points at the file it supersedes.
type SourceFile struct {
	ID            snowflake.ID      `json:"id" gorm:"primaryKey"`
	Label         string            `json:"label" gorm:"type:text;not null;index:ix_source_files_slot,priority:1;uniqueIndex:ux_source_files_label_sha,priority:1"`
	Vendor        string            `json:"vendor" gorm:"type:text;not null;uniqueIndex:ux_source_files_label_sha,priority:2;index:ix_source_files_slot,priority:2"`
	PeriodKey     string            `json:"period_key" gorm:"type:text;not null;index:ix_source_files_slot,priority:3"`
	StatementType string            `json:"statement_type" gorm:"type:text;not null;index:ix_source_files_slot,priority:4"`
	SHA256        string            `json:"sha256" gorm:"column:sha256;type:text;not null;uniqueIndex:ux_source_files_label_sha,priority:3"`
	RawSHA256     string            `json:"raw_sha256" gorm:"column:raw_sha256;type:text;not null"`
	PeriodStart   time.Time         `json:"period_start" gorm:"not null"`
	PeriodEnd     time.Time         `json:"period_end" gorm:"not null"`
	SourcePath    string            `json:"source_path" gorm:"type:text;not null"`
	CanonicalPath string            `json:"canonical_path" gorm:"type:text;not null"`
	Bytes         int64             `json:"bytes" gorm:"not null"`
	ModifiedAt    time.Time         `json:"modified_at" gorm:"not null"`
	CorrectionOf  *snowflake.ID     `json:"correction_of,omitempty" gorm:"index"`
	Metadata      datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:json"`
	CreatedAt     time.Time         `json:"created_at" gorm:"not null"`
}

func (SourceFile) TableName() string { return "source_files" }

// Slot identifies the statement a file reports on. Files sharing a slot form
// one correction chain.
type Slot struct {
	Label         string
	Vendor        string
	PeriodKey     string
	StatementType string
}

func (f SourceFile) Slot() Slot {
	return Slot{Label: f.Label, Vendor: f.Vendor, PeriodKey: f.PeriodKey, StatementType: f.StatementType}
}

type RegisterOutcome string

const (
	OutcomeCreated    RegisterOutcome = "created"
	OutcomeExisting   RegisterOutcome = "existing"
	OutcomeCorrection RegisterOutcome = "correction"
)

type RegisterRequest struct {
	Slot          Slot
	SHA256        string
	RawSHA256     string
	PeriodStart   time.Time
	PeriodEnd     time.Time
	SourcePath    string
	CanonicalPath string
	Bytes         int64
	ModifiedAt    time.Time
	Metadata      map[string]any
}

// HeadFilter restricts a query over rows carrying source_file_id to files
// that no correction supersedes.
const HeadFilter = "source_file_id NOT IN (SELECT correction_of FROM source_files WHERE correction_of IS NOT NULL)"
