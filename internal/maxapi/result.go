package maxapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// APIError is a rejection reported by the provider.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	switch {
	case e.Code != "" && e.Message != "":
		return fmt.Sprintf("maxapi: %d %s: %s", e.Status, e.Code, e.Message)
	case e.Message != "":
		return fmt.Sprintf("maxapi: %d: %s", e.Status, e.Message)
	default:
		return fmt.Sprintf("maxapi: %d %s", e.Status, e.Code)
	}
}

// Description is the human-readable text echoed back to chats when a reply
// is rejected.
func (e *APIError) Description() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return http.StatusText(e.Status)
}

// Forbidden reports whether the recipient is permanently unreachable: the
// user blocked the bot or never started it.
func (e *APIError) Forbidden() bool {
	if e == nil {
		return false
	}
	if e.Status == http.StatusForbidden {
		return true
	}
	switch strings.ToLower(e.Code) {
	case "chat.denied", "access.denied", "forbidden":
		return true
	}
	return false
}

// Result is a decoded response: exactly one of Value or Err is meaningful.
type Result[T any] struct {
	Value T
	Err   *APIError
}

// OK reports whether the provider accepted the call.
func (r Result[T]) OK() bool { return r.Err == nil }

// decode turns a raw Response into a Result. Provider rejections (status
// >= 400) become Result.Err; undecodable success bodies become ErrDecode.
func decode[T any](res *Response) (Result[T], error) {
	var out Result[T]
	if res.Status >= http.StatusBadRequest {
		apiErr := &APIError{Status: res.Status}
		if err := json.Unmarshal(res.Body, apiErr); err != nil || (apiErr.Code == "" && apiErr.Message == "") {
			apiErr.Message = strings.TrimSpace(string(res.Body))
		}
		apiErr.Status = res.Status
		out.Err = apiErr
		return out, nil
	}
	if len(res.Body) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(res.Body, &out.Value); err != nil {
		return out, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return out, nil
}
