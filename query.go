package presto

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/prestodb/presto-go-client/internal/protocol"
	"github.com/prestodb/presto-go-client/internal/transport"
)

type queryState int

const (
	stateNew queryState = iota
	stateSubmitted
	stateRunning
	stateFinished
	stateCancelled
	stateFailed
)

// Query drives one SQL statement's lifecycle: submit, poll, fetch, cancel
// (component D). It owns the HTTP request layer and the session for its
// single statement, and is not safe for concurrent use by more than one
// goroutine except for Cancel, which may be called from another goroutine
// while a Fetch is in flight.
type Query struct {
	sql  string
	sess *Session
	t    *transport.Client
	cfg  ClientConfig

	correlationID string

	mu       sync.Mutex
	state    queryState
	id       string
	nextURI  string
	columns  []Column
	stats    map[string]any
	warnings []any
}

// NewQuery prepares a Query for sql against sess. No network call is made
// until Execute or Fetch.
func NewQuery(cfg ClientConfig, sess *Session, sql string) (*Query, error) {
	t, err := transport.NewClient(cfg.toTransportConfig(), sess)
	if err != nil {
		return nil, err
	}
	return &Query{
		sql:           sql,
		sess:          sess,
		t:             t,
		cfg:           cfg,
		correlationID: uuid.NewString(),
		state:         stateNew,
	}, nil
}

// ID returns the coordinator-assigned query id, or "" before the first
// response is received.
func (q *Query) ID() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.id
}

// Columns returns the most recently latched column descriptor list (sticky
// per I4: a later empty/nil columns field never clears a prior non-empty
// one).
func (q *Query) Columns() []Column {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Column, len(q.columns))
	copy(out, q.columns)
	return out
}

// Stats returns a snapshot of the most recently merged query stats.
func (q *Query) Stats() map[string]any {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]any, len(q.stats))
	for k, v := range q.stats {
		out[k] = v
	}
	return out
}

// Warnings returns the warnings carried by the most recent response.
func (q *Query) Warnings() []any {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]any, len(q.warnings))
	copy(out, q.warnings)
	return out
}

// Finished reports whether the query has reached a terminal state.
func (q *Query) Finished() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state == stateFinished || q.state == stateCancelled || q.state == stateFailed
}

// Cancelled reports whether Cancel has moved this query to the cancelled
// state. The state is set before the DELETE is issued and stays set even if
// that call returns an error.
func (q *Query) Cancelled() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state == stateCancelled
}

// Execute submits the statement and, from Submitted, greedily polls via
// fetch until the query reaches a terminal state, accumulating every page
// into the returned Result's buffer. This eager-drain design is what lets
// Result be a plain value with no back-reference to its Query (spec §9
// DESIGN NOTES on the Query/Result ownership cycle).
func (q *Query) Execute(ctx context.Context) (*Result, error) {
	q.mu.Lock()
	state := q.state
	q.mu.Unlock()

	if state == stateCancelled {
		return nil, q.withQueryID(&UserError{Info: QueryErrorInfo{Message: "Query has been cancelled"}})
	}

	slog.Info("presto: submitting query", "correlation_id", q.correlationID)

	resp, err := q.t.Post(ctx, q.t.URL("/v1/statement"), []byte(q.sql))
	if err != nil {
		slog.Error("presto: submit failed", "correlation_id", q.correlationID, "error", err)
		return nil, q.fail(err)
	}

	status, err := protocol.Process(resp, q.sess)
	if err != nil {
		slog.Error("presto: submit failed", "correlation_id", q.correlationID, "error", err)
		return nil, q.fail(err)
	}
	q.mergeStatusLocked(status)

	var rows [][]any
	rows = append(rows, status.Rows...)

	for {
		q.mu.Lock()
		done := q.state == stateFinished || q.state == stateCancelled || q.state == stateFailed
		q.mu.Unlock()
		if done {
			break
		}
		slog.Debug("presto: polling", "query_id", q.ID())
		page, err := q.fetch(ctx)
		if err != nil {
			slog.Error("presto: poll failed", "query_id", q.ID(), "error", err)
			return nil, err
		}
		rows = append(rows, page...)
	}

	slog.Info("presto: query finished", "query_id", q.ID(), "rows", len(rows))

	q.mu.Lock()
	cols := q.columns
	q.mu.Unlock()

	return &Result{
		rows:         rows,
		columns:      cols,
		typedResults: q.cfg.TypedResults,
	}, nil
}

// Fetch retrieves one page for manual, caller-driven polling (as opposed to
// the eager drain Execute performs). It returns the rows of that single
// page; an empty slice with no error is a valid "not ready yet" signal and
// callers must continue polling without sleeping.
func (q *Query) Fetch(ctx context.Context) ([]Row, error) {
	rows, err := q.fetch(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out, nil
}

func (q *Query) fetch(ctx context.Context) ([][]any, error) {
	q.mu.Lock()
	nextURI := q.nextURI
	q.mu.Unlock()

	if nextURI == "" {
		return nil, nil
	}

	resp, err := q.t.Get(ctx, nextURI)
	if err != nil {
		return nil, q.fail(err)
	}

	status, err := protocol.Process(resp, q.sess)
	if err != nil {
		return nil, q.fail(err)
	}
	q.mergeStatusLocked(status)

	return status.Rows, nil
}

// mergeStatusLocked folds one Status into the Query's running state: id is
// set once, columns latch only on a non-empty value (I4), stats are merged
// and warnings are replaced wholesale (the coordinator resends the live set
// each poll, not a delta). next_uri absence drives the Submitted/Running →
// Finished transition, except once the query has already reached
// stateCancelled or stateFailed, which a late-arriving poll must not undo.
func (q *Query) mergeStatusLocked(status protocol.Status) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if status.ID != "" && q.id == "" {
		q.id = status.ID
	}
	if len(status.Columns) > 0 {
		q.columns = status.Columns
	}
	if status.Stats != nil {
		if q.stats == nil {
			q.stats = make(map[string]any, len(status.Stats))
		}
		for k, v := range status.Stats {
			q.stats[k] = v
		}
	}
	q.warnings = status.Warnings

	q.nextURI = status.NextURI
	switch q.state {
	case stateCancelled, stateFailed:
		// Already terminal: a Cancel (or a prior failure) raced this poll.
		// Record the trailing response's data above but don't resurrect the
		// state machine — §5 allows the in-flight fetch to complete once,
		// not to keep polling.
	default:
		if status.NextURI == "" {
			q.state = stateFinished
		} else if q.state == stateNew {
			q.state = stateSubmitted
		} else {
			q.state = stateRunning
		}
	}
}

// Cancel issues the DELETE cancellation call. It is a no-op, issuing no
// HTTP request, if the query id is unset or the query already reached a
// terminal state; otherwise it issues exactly one DELETE.
func (q *Query) Cancel(ctx context.Context) error {
	q.mu.Lock()
	id := q.id
	done := q.state == stateFinished || q.state == stateCancelled || q.state == stateFailed
	q.mu.Unlock()

	if id == "" || done {
		return nil
	}

	q.mu.Lock()
	q.state = stateCancelled
	q.mu.Unlock()

	slog.Info("presto: cancelling query", "query_id", id)

	resp, err := q.t.Delete(ctx, q.t.URL(fmt.Sprintf("/v1/query/%s", id)))
	if err != nil {
		return q.fail(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return q.withQueryID(protocol.RaiseForResponse(resp))
}

func (q *Query) fail(err error) error {
	q.mu.Lock()
	if q.state != stateCancelled {
		q.state = stateFailed
	}
	q.mu.Unlock()
	return q.withQueryID(err)
}

func (q *Query) withQueryID(err error) error {
	if err == nil {
		return nil
	}
	switch e := err.(type) {
	case *ExternalError:
		if e.QueryID == "" {
			e.QueryID = q.ID()
		}
	case *UserError:
		if e.QueryID == "" {
			e.QueryID = q.ID()
		}
	case *QueryError:
		if e.QueryID == "" {
			e.QueryID = q.ID()
		}
	}
	return err
}
