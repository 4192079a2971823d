package ingest

import (
	"errors"
	"log/slog"
)

// DefaultRejectLogLimit is how many rejected rows are logged one by one
// before only the total is reported.
const DefaultRejectLogLimit = 5

// Options tune a Records run.
type Options struct {
	// Columns forces canonical field -> header bindings for this source.
	Columns map[string]string
	// RejectLogLimit caps individually logged rejections (0 = default).
	RejectLogLimit int
	Normalizer     *Normalizer
	Logger         *slog.Logger
}

// Result is the outcome of normalizing one table.
type Result struct {
	Records  []*DeathRecord
	Rejected int
	Mapping  Mapping
}

// Records maps the table header onto the canonical schema and normalizes
// every row. Rows missing a required value are dropped and counted; the
// batch only fails with *InvalidSchemaError when the header has no column
// at all for the actor name or the movie title.
func Records(t *Table, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := opts.RejectLogLimit
	if limit <= 0 {
		limit = DefaultRejectLogLimit
	}
	norm := opts.Normalizer
	if norm == nil {
		norm = &Normalizer{}
	}

	m := MapHeaders(t.Header, opts.Columns)
	var missing []Field
	for _, f := range []Field{FieldActorName, FieldMovieTitle} {
		if !m.Has(f) {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return nil, &InvalidSchemaError{Missing: missing, Headers: t.Header}
	}

	res := &Result{
		Records: make([]*DeathRecord, 0, len(t.Rows)),
		Mapping: m,
	}
	for _, row := range t.Rows {
		rec, err := norm.Normalize(t.Values(row), m, row.Line)
		if err != nil {
			var mf *MissingRequiredFieldError
			if !errors.As(err, &mf) {
				return nil, err
			}
			res.Rejected++
			if res.Rejected <= limit {
				logger.Warn("row rejected", "line", mf.Line, "field", string(mf.Field))
			}
			continue
		}
		res.Records = append(res.Records, rec)
	}

	if res.Rejected > limit {
		logger.Warn("rows rejected", "total", res.Rejected, "logged", limit)
	}
	logger.Debug("table normalized", "rows", len(t.Rows), "records", len(res.Records), "rejected", res.Rejected)
	return res, nil
}
