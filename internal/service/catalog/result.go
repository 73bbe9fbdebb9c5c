package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrValidation marks operation inputs rejected at the boundary, before any
// state is touched.
var ErrValidation = errors.New("invalid operation input")

// Result is the only thing an operation hands back across the tool boundary.
// Failures are carried as data; no error or panic ever propagates to the
// model loop.
type Result struct {
	OK      bool            `json:"ok"`
	Summary string          `json:"summary"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func success(summary string, payload any) Result {
	r := Result{OK: true, Summary: summary}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return failure("encode result payload", err)
		}
		r.Payload = raw
	}
	return r
}

func failure(summary string, err error) Result {
	r := Result{OK: false, Summary: summary}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// JSON renders the result for a tool-role message. Marshalling a Result
// cannot fail, but the fallback keeps the boundary total.
func (r Result) JSON() string {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf(`{"ok":false,"summary":"encode result","error":%q}`, err.Error())
	}
	return string(raw)
}
