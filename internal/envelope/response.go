package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidResponse is returned by DecodeResponse when the payload is not a
// usable response envelope. Callers must check for it before trusting results.
var ErrInvalidResponse = errors.New("envelope: invalid response payload")

// ActionResult is the opaque result one action produced on the remote side.
type ActionResult struct {
	Action string
	Result json.RawMessage
}

// Response is the structured result returned by a rendering endpoint.
// Action results keep insertion order.
type Response struct {
	requestID string
	results   []ActionResult
	index     map[string]int
}

func NewResponse(requestID string) *Response {
	return &Response{requestID: requestID, index: make(map[string]int)}
}

func (r *Response) RequestID() string { return r.requestID }

// AddActionResult records the result of an action. A second result for the
// same action replaces the first one in place.
func (r *Response) AddActionResult(action string, result any) error {
	raw, ok := result.(json.RawMessage)
	if !ok {
		b, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal result of %s: %w", action, err)
		}
		raw = b
	}
	if i, exists := r.index[action]; exists {
		r.results[i].Result = raw
		return nil
	}
	r.index[action] = len(r.results)
	r.results = append(r.results, ActionResult{Action: action, Result: raw})
	return nil
}

// ActionResults returns all results in insertion order.
func (r *Response) ActionResults() []ActionResult {
	out := make([]ActionResult, len(r.results))
	copy(out, r.results)
	return out
}

// ActionResult returns the raw result of one action.
func (r *Response) ActionResult(action string) (json.RawMessage, bool) {
	i, ok := r.index[action]
	if !ok {
		return nil, false
	}
	return r.results[i].Result, true
}

// MarshalJSON writes {"requestId": ..., "actionResults": {...}} keeping the
// action order.
func (r *Response) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	id, err := json.Marshal(r.requestID)
	if err != nil {
		return nil, err
	}
	buf.WriteString(`{"requestId":`)
	buf.Write(id)
	buf.WriteString(`,"actionResults":{`)
	for i, ar := range r.results {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(ar.Action)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		if len(ar.Result) == 0 {
			buf.WriteString("null")
		} else {
			buf.Write(ar.Result)
		}
	}
	buf.WriteString("}}")
	return buf.Bytes(), nil
}

// DecodeResponse parses a raw transport payload. A missing or null
// actionResults field yields an empty result set; anything that is not a JSON
// object with a string requestId is ErrInvalidResponse.
func DecodeResponse(raw []byte) (*Response, error) {
	var wire struct {
		RequestID     *string         `json:"requestId"`
		ActionResults json.RawMessage `json:"actionResults"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if wire.RequestID == nil {
		return nil, fmt.Errorf("%w: missing requestId", ErrInvalidResponse)
	}

	resp := NewResponse(*wire.RequestID)
	trimmed := bytes.TrimSpace(wire.ActionResults)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return resp, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	tok, err := dec.Token()
	if err != nil || tok != json.Delim('{') {
		return nil, fmt.Errorf("%w: actionResults is not an object", ErrInvalidResponse)
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}
		action, _ := keyTok.(string)
		var result json.RawMessage
		if err := dec.Decode(&result); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}
		if err := resp.AddActionResult(action, result); err != nil {
			return nil, err
		}
	}
	return resp, nil
}
