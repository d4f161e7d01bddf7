package canonical

import (
	"encoding/json"
	"os"
	"time"
)

// Sidecar is the provenance record stored next to a canonical file.
type Sidecar struct {
	SourceFileID  string    `json:"source_file_id"`
	SourcePath    string    `json:"source_path"`
	SHA256        string    `json:"sha256"`
	RawSHA256     string    `json:"raw_sha256"`
	Bytes         int64     `json:"bytes"`
	ModTime       time.Time `json:"mtime"`
	Vendor        string    `json:"vendor"`
	Period        string    `json:"period"`
	StatementType string    `json:"statement_type"`
	Encoding      string    `json:"encoding"`
	Delimiter     string    `json:"delimiter,omitempty"`
	DecimalComma  bool      `json:"decimal_comma"`
	Sheet         string    `json:"sheet,omitempty"`
	CorrectionOf  string    `json:"correction_of,omitempty"`
}

func SidecarPath(canonicalPath string) string {
	return canonicalPath + ".meta.json"
}

// WriteSidecar records provenance once the source file is registered.
// Unchanged metadata leaves the file untouched.
func (s *Service) WriteSidecar(res *Result, sourceFileID, correctionOf string) error {
	meta := Sidecar{
		SourceFileID:  sourceFileID,
		SourcePath:    res.SourcePath,
		SHA256:        res.SHA256,
		RawSHA256:     res.RawSHA256,
		Bytes:         res.Bytes,
		ModTime:       res.ModTime,
		Vendor:        string(res.Adapter.Name()),
		Period:        res.Period.Key(),
		StatementType: string(res.StatementType),
		Encoding:      res.Encoding,
		DecimalComma:  res.DecimalComma,
		Sheet:         res.Sheet,
		CorrectionOf:  correctionOf,
	}
	if res.Delimiter != 0 {
		meta.Delimiter = string(res.Delimiter)
	}
	body, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	_, err = writeIfChanged(SidecarPath(res.CanonicalPath), append(body, '\n'))
	return err
}

func ReadSidecar(path string) (Sidecar, error) {
	var meta Sidecar
	body, err := os.ReadFile(path)
	if err != nil {
		return meta, err
	}
	err = json.Unmarshal(body, &meta)
	return meta, err
}
