// Package protocol implements the coordinator wire format: decoding one
// HTTP response into a Status snapshot, applying header-borne session
// mutations in the fixed order the protocol requires, and classifying
// embedded error payloads (spec §4.C).
package protocol

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/prestodb/presto-go-client/internal/prestoerr"
	"github.com/prestodb/presto-go-client/internal/session"
)

// Column is one entry of a coordinator column descriptor list.
type Column struct {
	Name          string        `json:"name"`
	Type          string        `json:"type"`
	TypeSignature TypeSignature `json:"typeSignature"`
}

// TypeSignature is the server's structured description of a column's
// Presto type.
type TypeSignature struct {
	RawType   string                  `json:"rawType"`
	Arguments []TypeSignatureArgument `json:"arguments"`
}

// TypeSignatureArgument is one nested argument of a parametrized type
// signature (e.g. the element type of an array).
type TypeSignatureArgument struct {
	Kind  string        `json:"kind"`
	Value TypeSignature `json:"value"`
}

// Status is a value snapshot of one coordinator response.
type Status struct {
	ID       string
	Stats    map[string]any
	Warnings []any
	InfoURI  string
	NextURI  string // empty ⇒ terminal
	Rows     [][]any
	Columns  []Column // may be nil on early polls
}

// wireResponse mirrors the coordinator's JSON body.
type wireResponse struct {
	ID       string           `json:"id"`
	InfoURI  string           `json:"infoUri"`
	NextURI  string           `json:"nextUri"`
	Stats    map[string]any   `json:"stats"`
	Columns  []Column         `json:"columns"`
	Data     [][]any          `json:"data"`
	Warnings []any            `json:"warnings"`
	Error    *wireErrorObject `json:"error"`
}

type wireErrorObject struct {
	ErrorType     string         `json:"errorType"`
	ErrorCode     int            `json:"errorCode"`
	Message       string         `json:"message"`
	ErrorLocation map[string]any `json:"errorLocation"`
	FailureInfo   map[string]any `json:"failureInfo"`
}

// Process decodes one coordinator HTTP response, applies any header-borne
// session mutations, classifies embedded error payloads, and returns a
// Status. sess is mutated in place.
//
// Errors:
//   - *prestoerr.ServiceUnavailable / *prestoerr.HTTPError for non-2xx status.
//   - *prestoerr.ExternalError is returned (not a Go panic) for errorType
//     EXTERNAL — callers must treat a non-nil error from Process as
//     terminal regardless of kind, per spec §9's "unify: all server errors
//     become raised results of the same taxonomy".
//   - *prestoerr.UserError / *prestoerr.QueryError for other error payloads.
func Process(resp *http.Response, sess *session.Session) (Status, error) {
	body, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusServiceUnavailable {
			return Status{}, &prestoerr.ServiceUnavailable{Attempts: 1}
		}
		return Status{}, &prestoerr.HTTPError{StatusCode: resp.StatusCode, Body: body}
	}
	if readErr != nil {
		return Status{}, &prestoerr.TransportError{Cause: readErr}
	}

	var wr wireResponse
	if err := json.Unmarshal(body, &wr); err != nil {
		return Status{}, fmt.Errorf("presto: decode response: %w", err)
	}

	if wr.Error != nil {
		info := prestoerr.QueryErrorInfo{
			ErrorType:     wr.Error.ErrorType,
			ErrorCode:     wr.Error.ErrorCode,
			Message:       wr.Error.Message,
			ErrorLocation: wr.Error.ErrorLocation,
			FailureInfo:   wr.Error.FailureInfo,
		}
		switch wr.Error.ErrorType {
		case "EXTERNAL":
			return Status{}, &prestoerr.ExternalError{Info: info, QueryID: wr.ID}
		case "USER_ERROR":
			return Status{}, &prestoerr.UserError{Info: info, QueryID: wr.ID}
		default:
			return Status{}, &prestoerr.QueryError{Info: info, QueryID: wr.ID}
		}
	}

	if err := applySessionMutations(resp.Header, sess); err != nil {
		return Status{}, err
	}

	return Status{
		ID:       wr.ID,
		Stats:    wr.Stats,
		Warnings: wr.Warnings,
		InfoURI:  wr.InfoURI,
		NextURI:  wr.NextURI,
		Rows:     wr.Data,
		Columns:  wr.Columns,
	}, nil
}

// applySessionMutations applies Clear-Session, then Set-Session, then
// Added-Prepare, in that fixed order (spec §4.C step 3).
func applySessionMutations(header http.Header, sess *session.Session) error {
	if v := header.Get(session.HeaderClearSession); v != "" {
		sess.ApplyClearSession(splitHeaderList(v))
	}

	if v := header.Get(session.HeaderSetSession); v != "" {
		for _, kv := range splitHeaderList(v) {
			name, value, ok := strings.Cut(kv, "=")
			if !ok {
				continue
			}
			if err := sess.ApplySetSession(strings.TrimSpace(name), strings.TrimSpace(value)); err != nil {
				return err
			}
		}
	}

	if v := header.Get(session.HeaderAddedPrepare); v != "" {
		sess.ApplyAddedPrepare(v)
	}

	return nil
}

func splitHeaderList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// RaiseForResponse builds the terminal error for a non-2xx response that
// was not already consumed by Process — used by the DELETE /v1/query/{id}
// cancel path, whose only success case is 204 (spec §4.D).
func RaiseForResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode == http.StatusServiceUnavailable {
		return &prestoerr.ServiceUnavailable{Attempts: 1}
	}
	return &prestoerr.HTTPError{StatusCode: resp.StatusCode, Body: body}
}
