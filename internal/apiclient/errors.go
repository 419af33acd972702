package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Error is the normalized form of every failed backend call. Status is 0
// when no response was received.
type Error struct {
	Status int
	Method string
	Path   string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Detail != "":
		return fmt.Sprintf("%s %s: %d: %s", e.Method, e.Path, e.Status, e.Detail)
	case e.Err != nil:
		return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
	default:
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, http.StatusText(e.Status))
	}
}

func (e *Error) Unwrap() error { return e.Err }

// IsUnauthorized reports a 401 (or 403 from an expired session).
func IsUnauthorized(err error) bool {
	var e *Error
	return errors.As(err, &e) && (e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden && strings.Contains(strings.ToLower(e.Detail), "credentials"))
}

// IsNotFound reports a 404.
func IsNotFound(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Status == http.StatusNotFound
}

// IsTransient reports failures worth retrying on the next poll: no
// response, a timeout, or a 5xx.
func IsTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Status == 0 || e.Status >= 500
}

// IsValidation reports a 4xx other than 401 and 404.
func IsValidation(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Status >= 400 && e.Status < 500 && !IsUnauthorized(err) && e.Status != http.StatusNotFound
}

// DetailOf returns the server-provided detail when present, else the
// error text.
func DetailOf(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Detail != "" {
		return e.Detail
	}
	return err.Error()
}

// parseDetail extracts a human-readable message from the varying shapes of
// DRF error bodies: {"detail": "..."}, {"field": ["..."]}, {"field": "..."}
// or ["..."].
func parseDetail(body []byte) string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err == nil {
		if raw, ok := obj["detail"]; ok {
			if s := firstString(raw); s != "" {
				return s
			}
		}
		if s := firstString(obj["non_field_errors"]); s != "" {
			return s
		}
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if s := firstString(obj[k]); s != "" {
				return s
			}
		}
		return ""
	}
	return firstString(body)
}

func firstString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		for _, item := range list {
			if s := firstString(item); s != "" {
				return s
			}
		}
	}
	return ""
}
