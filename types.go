package presto

import "github.com/prestodb/presto-go-client/internal/protocol"

// Column and TypeSignature mirror the coordinator's column descriptor
// (spec §3). Re-exported so callers can inspect Query.Columns() without an
// internal import.
type (
	Column                = protocol.Column
	TypeSignature         = protocol.TypeSignature
	TypeSignatureArgument = protocol.TypeSignatureArgument
)

// Row is one result row: one cell per column, in column order. Cells are
// either the raw JSON-decoded value or, when TypedResults is enabled, the
// native value produced by internal/rowmapper.
type Row = []any
