package ebay

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrRetryExhausted marks a request that kept hitting retryable statuses
// until the retry budget ran out. The last response is still returned next
// to it so callers can inspect the final status.
var ErrRetryExhausted = errors.New("retry budget exhausted")

// ErrorDetail is one entry of the marketplace's error envelope.
type ErrorDetail struct {
	ErrorID     int              `json:"errorId,omitempty"`
	Domain      string           `json:"domain,omitempty"`
	Category    string           `json:"category,omitempty"`
	Message     string           `json:"message,omitempty"`
	LongMessage string           `json:"longMessage,omitempty"`
	Parameters  []ErrorParameter `json:"parameters,omitempty"`
}

// ErrorParameter is a name/value pair attached to an error entry.
type ErrorParameter struct {
	Name  string `json:"name,omitempty"`
	Value string `json:"value,omitempty"`
}

type errorEnvelope struct {
	Errors []ErrorDetail `json:"errors,omitempty"`
}

// APIError is a non-2xx marketplace response with its decoded error entries.
// The raw body is kept because some endpoints return plain text.
type APIError struct {
	StatusCode int
	Errors     []ErrorDetail
	RawBody    string
}

func (e *APIError) Error() string {
	if len(e.Errors) == 0 {
		body := e.RawBody
		if len(body) > 200 {
			body = body[:200]
		}
		return fmt.Sprintf("API error %d: %s", e.StatusCode, body)
	}
	parts := make([]string, 0, len(e.Errors))
	for _, d := range e.Errors {
		parts = append(parts, fmt.Sprintf("%d: %s", d.ErrorID, d.Message))
	}
	return fmt.Sprintf("API error %d [%s]", e.StatusCode, strings.Join(parts, "; "))
}

// First returns the leading error code and message, or zero values when the
// body carried no structured errors.
func (e *APIError) First() (int, string) {
	if len(e.Errors) == 0 {
		return 0, e.RawBody
	}
	d := e.Errors[0]
	msg := d.Message
	if d.LongMessage != "" {
		msg = d.LongMessage
	}
	return d.ErrorID, msg
}

// HasCode reports whether any error entry carries the given code.
func (e *APIError) HasCode(code int) bool {
	for _, d := range e.Errors {
		if d.ErrorID == code {
			return true
		}
	}
	return false
}

// NewAPIError decodes the error envelope out of a non-2xx response.
func NewAPIError(resp *Response) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode, RawBody: string(resp.Body)}
	var env errorEnvelope
	if err := json.Unmarshal(resp.Body, &env); err == nil {
		apiErr.Errors = env.Errors
	}
	return apiErr
}

// AsAPIError unwraps err to an *APIError if there is one in the chain.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
