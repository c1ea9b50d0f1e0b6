package presto

import "github.com/prestodb/presto-go-client/internal/rowmapper"

// Result is a lazy, single-pass, non-restartable sequence of rows (spec
// §3). Despite the "lazy" framing in the wire protocol, this
// implementation's buffer is populated eagerly by Query.Execute before
// Result is constructed, so Result itself holds a plain slice and a cursor
// with no back-reference to the Query that produced it (spec §9 DESIGN
// NOTES: avoid the Query/Result ownership cycle).
type Result struct {
	rows    [][]any
	columns []Column

	typedResults bool

	pos       int
	rowNumber int
}

// Columns returns the column descriptors for this result.
func (r *Result) Columns() []Column {
	out := make([]Column, len(r.columns))
	copy(out, r.columns)
	return out
}

// RowNumber returns the 1-based number of the row most recently returned by
// Next, or 0 before the first call.
func (r *Result) RowNumber() int {
	return r.rowNumber
}

// Next yields the next row, advancing the row_number counter exactly once
// per call that returns a row. ok is false once the sequence is exhausted;
// it is never true again afterward (non-restartable).
func (r *Result) Next() (Row, bool, error) {
	if r.pos >= len(r.rows) {
		return nil, false, nil
	}

	raw := r.rows[r.pos]
	r.pos++

	if !r.typedResults {
		r.rowNumber++
		return raw, true, nil
	}

	mapped, err := rowmapper.MapRow(raw, r.columns)
	if err != nil {
		return nil, false, err
	}
	r.rowNumber++
	return mapped, true, nil
}
