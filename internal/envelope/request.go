package envelope

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/searchsync/indexqueue/internal/domain"
)

// HeaderName carries the JSON authentication payload of a dispatch request.
const HeaderName = "X-Tx-Solr-Iq"

// DefaultTimeout is used when no explicit timeout is configured.
const DefaultTimeout = 60 * time.Second

// Reserved payload keys. They are owned by the envelope and cannot be set
// through SetParameter.
const (
	KeyRequestID = "requestId"
	KeyItem      = "item"
	KeyPage      = "page"
	KeyActions   = "actions"
	KeyHash      = "hash"
)

var (
	ErrMissingRequestID  = errors.New("envelope: payload has no requestId")
	ErrMissingActions    = errors.New("envelope: payload has no actions")
	ErrMalformedPayload  = errors.New("envelope: payload is not a JSON object")
	ErrReservedParameter = errors.New("envelope: parameter name is reserved")
	ErrNoQueueItem       = errors.New("envelope: no queue item associated with request")
)

func isReserved(name string) bool {
	switch name {
	case KeyRequestID, KeyItem, KeyPage, KeyActions, KeyHash:
		return true
	}
	return false
}

// HeaderOptions holds the installation-wide values needed to build headers.
type HeaderOptions struct {
	Secret    string
	UserAgent string
}

// Request is the outbound trigger sent to a rendering endpoint for one queue
// item. It is built per dispatch attempt and never persisted.
type Request struct {
	requestID  string
	actions    []string
	parameters map[string]any
	headers    http.Header
	username   string
	password   string
	item       *domain.QueueItem
	timeout    time.Duration
}

// NewRequest returns an empty request with a fresh request id.
func NewRequest() *Request {
	return &Request{
		requestID:  uuid.NewString(),
		parameters: make(map[string]any),
		headers:    make(http.Header),
		timeout:    DefaultTimeout,
	}
}

// ParseRequest reconstructs a request from the JSON payload of an incoming
// HeaderName header. requestId and actions are extracted; every other key,
// including item, page and hash, stays available as a parameter.
func ParseRequest(payload []byte) (*Request, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var params map[string]any
	if err := dec.Decode(&params); err != nil || params == nil {
		return nil, ErrMalformedPayload
	}

	id, _ := params[KeyRequestID].(string)
	if id == "" {
		return nil, ErrMissingRequestID
	}
	delete(params, KeyRequestID)

	actions, _ := params[KeyActions].(string)
	if actions == "" {
		return nil, ErrMissingActions
	}
	delete(params, KeyActions)

	r := NewRequest()
	r.requestID = id
	r.parameters = params
	for _, a := range strings.Split(actions, ",") {
		r.AddAction(a)
	}
	return r, nil
}

func (r *Request) RequestID() string { return r.requestID }

// AddAction appends an action. Duplicates are kept in order.
func (r *Request) AddAction(action string) {
	r.actions = append(r.actions, action)
}

func (r *Request) Actions() []string {
	out := make([]string, len(r.actions))
	copy(out, r.actions)
	return out
}

// SetParameter stores a caller-supplied parameter. Booleans are normalized to
// "1" and "0".
func (r *Request) SetParameter(name string, value any) error {
	if isReserved(name) {
		return fmt.Errorf("%w: %s", ErrReservedParameter, name)
	}
	if b, ok := value.(bool); ok {
		if b {
			value = "1"
		} else {
			value = "0"
		}
	}
	r.parameters[name] = value
	return nil
}

// Parameter returns the named parameter and whether it was present.
func (r *Request) Parameter(name string) (any, bool) {
	v, ok := r.parameters[name]
	return v, ok
}

func (r *Request) Parameters() map[string]any {
	out := make(map[string]any, len(r.parameters))
	for k, v := range r.parameters {
		out[k] = v
	}
	return out
}

// AddHeader adds an extra transport header sent along with the request.
func (r *Request) AddHeader(name, value string) {
	r.headers.Add(name, value)
}

// SetAuthorizationCredentials sets basic auth credentials. They are only sent
// when both values are non-empty.
func (r *Request) SetAuthorizationCredentials(username, password string) {
	r.username = username
	r.password = password
}

func (r *Request) SetIndexQueueItem(item *domain.QueueItem) {
	r.item = item
}

func (r *Request) IndexQueueItem() *domain.QueueItem { return r.item }

func (r *Request) SetTimeout(d time.Duration) {
	if d > 0 {
		r.timeout = d
	}
}

func (r *Request) Timeout() time.Duration { return r.timeout }

// Payload returns the JSON document placed in the HeaderName header.
func (r *Request) Payload(secret string) ([]byte, error) {
	if r.item == nil {
		return nil, ErrNoQueueItem
	}
	itemID := strconv.FormatInt(r.item.ID, 10)
	pageID := strconv.FormatInt(r.item.RecordPageID, 10)

	data := make(map[string]any, len(r.parameters)+5)
	for k, v := range r.parameters {
		data[k] = v
	}
	data[KeyRequestID] = r.requestID
	data[KeyItem] = r.item.ID
	data[KeyPage] = r.item.RecordPageID
	data[KeyActions] = strings.Join(r.actions, ",")
	data[KeyHash] = Hash(itemID, pageID, secret)

	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return b, nil
}

// BuildHeaders produces every header sent with the request: explicitly added
// headers, the user agent, the authentication payload and, when credentials
// are set, basic auth.
func (r *Request) BuildHeaders(opts HeaderOptions) (http.Header, error) {
	payload, err := r.Payload(opts.Secret)
	if err != nil {
		return nil, err
	}

	h := r.headers.Clone()
	if opts.UserAgent != "" {
		h.Set("User-Agent", opts.UserAgent)
	}
	h.Set(HeaderName, string(payload))

	if r.username != "" && r.password != "" {
		creds := base64.StdEncoding.EncodeToString([]byte(r.username + ":" + r.password))
		h.Set("Authorization", "Basic "+creds)
	}
	return h, nil
}

// IsAuthenticated recomputes the hash from the request's own item and page
// parameters and compares it with the presented hash. Missing parameters
// yield false.
func (r *Request) IsAuthenticated(secret string) bool {
	item, okItem := r.parameters[KeyItem]
	page, okPage := r.parameters[KeyPage]
	presented, okHash := r.parameters[KeyHash].(string)
	if !okItem || !okPage || !okHash || presented == "" {
		return false
	}
	expected := Hash(formatValue(item), formatValue(page), secret)
	return HashMatches(presented, expected)
}
