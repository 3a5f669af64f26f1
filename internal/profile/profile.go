// Package profile performs deterministic, rule-based profiling of input
// files: column inventory, type inference, and anchor candidate scoring.
// No reasoning calls happen here; the output seeds the semantic phases.
package profile

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/knowledge-cli/internal/model"
)

// Options configures profiling behavior.
type Options struct {
	// SampleRows caps how many data rows are scanned. 0 means all rows.
	SampleRows int
	// SampleValues caps how many example values are kept per column.
	SampleValues int
	// AnchorMinUnique is the minimum unique ratio for a column to be an
	// anchor candidate.
	AnchorMinUnique float64
	// ConfirmThreshold: an anchor guess scored below this requests human
	// confirmation before the pipeline commits to it.
	ConfirmThreshold float64
}

// DefaultOptions returns profiling defaults.
func DefaultOptions() Options {
	return Options{
		SampleRows:       200,
		SampleValues:     5,
		AnchorMinUnique:  0.95,
		ConfirmThreshold: 0.6,
	}
}

// ProfileFile profiles the file at path. Tabular formats (csv, tsv, xlsx)
// get full column profiling; anything else is treated as a raw signal file
// and profiled by shape only, since signal decoding is owned by external
// processors.
func ProfileFile(path, datasetID string, opts Options) (*model.FileProfile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, eris.Wrapf(err, "profile: stat %s", path)
	}

	p := &model.FileProfile{
		FilePath:  path,
		DatasetID: datasetID,
		SizeBytes: info.Size(),
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		p.Kind = model.DatasetKindTabular
		header, rows, err := readCSV(path, ',', opts.SampleRows)
		if err != nil {
			return nil, err
		}
		profileColumns(p, header, rows, opts)
	case ".tsv":
		p.Kind = model.DatasetKindTabular
		header, rows, err := readCSV(path, '\t', opts.SampleRows)
		if err != nil {
			return nil, err
		}
		profileColumns(p, header, rows, opts)
	case ".xlsx":
		p.Kind = model.DatasetKindTabular
		header, rows, err := readXLSX(path, opts.SampleRows)
		if err != nil {
			return nil, err
		}
		profileColumns(p, header, rows, opts)
	default:
		// Raw signal: no columns, no anchor; identity resolution is always
		// deferred to review.
		p.Kind = model.DatasetKindSignal
		p.ConfirmRequested = true
	}

	return p, nil
}

// profileColumns fills column profiles and anchor candidates from the
// sampled rows.
func profileColumns(p *model.FileProfile, header []string, rows [][]string, opts Options) {
	p.RowCount = len(rows)
	if len(header) == 0 {
		return
	}

	p.Columns = make([]model.ColumnProfile, len(header))
	for i, name := range header {
		p.Columns[i] = profileColumn(name, columnValues(rows, i), opts)
	}

	scoreAnchors(p, opts)
}

func columnValues(rows [][]string, idx int) []string {
	values := make([]string, 0, len(rows))
	for _, row := range rows {
		if idx < len(row) {
			values = append(values, row[idx])
		} else {
			values = append(values, "")
		}
	}
	return values
}

func profileColumn(name string, values []string, opts Options) model.ColumnProfile {
	col := model.ColumnProfile{Name: strings.TrimSpace(name)}

	distinct := make(map[string]struct{}, len(values))
	nonNull := 0
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			col.NullRows++
			continue
		}
		nonNull++
		if _, seen := distinct[v]; !seen {
			distinct[v] = struct{}{}
			if len(col.SampleValues) < opts.SampleValues {
				col.SampleValues = append(col.SampleValues, v)
			}
		}
	}

	col.DistinctRows = len(distinct)
	if nonNull > 0 {
		col.UniqueRatio = float64(col.DistinctRows) / float64(nonNull)
	}
	col.InferredType = inferType(values)

	return col
}

// scoreAnchors ranks columns as row-identifier candidates and decides
// whether the guess is strong enough to skip confirmation.
func scoreAnchors(p *model.FileProfile, opts Options) {
	type scored struct {
		name  string
		score float64
	}

	var candidates []scored
	for _, col := range p.Columns {
		if p.RowCount == 0 || col.UniqueRatio < opts.AnchorMinUnique {
			continue
		}
		nullRatio := float64(col.NullRows) / float64(p.RowCount)
		score := col.UniqueRatio * (1 - nullRatio)
		if looksLikeIdentifier(col.Name) {
			score += 0.1
		}
		if score > 1 {
			score = 1
		}
		candidates = append(candidates, scored{name: col.Name, score: score})
	}

	// Stable selection sort: ties keep column order.
	for i := 0; i < len(candidates); i++ {
		best := i
		for j := i + 1; j < len(candidates); j++ {
			if candidates[j].score > candidates[best].score {
				best = j
			}
		}
		candidates[i], candidates[best] = candidates[best], candidates[i]
	}

	for _, c := range candidates {
		p.CandidateAnchors = append(p.CandidateAnchors, c.name)
	}

	if len(candidates) == 0 {
		p.ConfirmRequested = true
		return
	}

	p.AnchorGuess = candidates[0].name
	p.AnchorGuessScore = candidates[0].score
	p.ConfirmRequested = candidates[0].score < opts.ConfirmThreshold
}

func looksLikeIdentifier(name string) bool {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "id" || n == "uid" || n == "uuid" || n == "key" {
		return true
	}
	for _, suffix := range []string{"_id", "_uid", "_uuid", "_key", "_code", "id"} {
		if strings.HasSuffix(n, suffix) {
			return true
		}
	}
	return false
}
