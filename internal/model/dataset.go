package model

import (
	"path/filepath"
	"strings"
)

// DatasetKind classifies an input file.
type DatasetKind string

const (
	DatasetKindTabular DatasetKind = "tabular"
	DatasetKindSignal  DatasetKind = "signal"
)

// ColumnProfile summarizes one column of a tabular file, produced by the
// deterministic profiling stage.
type ColumnProfile struct {
	Name         string   `json:"name"`
	InferredType string   `json:"inferred_type"` // integer, float, string, datetime, boolean
	SampleValues []string `json:"sample_values,omitempty"`
	DistinctRows int      `json:"distinct_rows"`
	NullRows     int      `json:"null_rows"`
	UniqueRatio  float64  `json:"unique_ratio"`
}

// FileProfile is the deterministic summary of an input file that seeds the
// reasoning phases.
type FileProfile struct {
	FilePath  string      `json:"file_path"`
	DatasetID string      `json:"dataset_id"`
	Kind      DatasetKind `json:"kind"`
	SizeBytes int64       `json:"size_bytes"`
	RowCount  int         `json:"row_count"`

	Columns []ColumnProfile `json:"columns,omitempty"`

	// CandidateAnchors lists columns that look like row identifiers, best
	// guess first. ConfirmRequested is set when the best guess is too weak
	// for the pipeline to proceed without a reviewer.
	CandidateAnchors []string `json:"candidate_anchors,omitempty"`
	AnchorGuess      string   `json:"anchor_guess,omitempty"`
	AnchorGuessScore float64  `json:"anchor_guess_score"`
	ConfirmRequested bool     `json:"confirm_requested"`
}

// EntityName derives the entity name for the profiled file: the dataset ID
// when set, otherwise the file stem.
func (p *FileProfile) EntityName() string {
	if p.DatasetID != "" {
		return p.DatasetID
	}
	return FileStem(p.FilePath)
}

// FileStem returns the base name of a path without its extension.
func FileStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
