package dispatcher

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	// ErrQueueFull is returned when no worker slot is free to accept an attempt.
	ErrQueueFull = errors.New("publish queue is full")
	// ErrStopped is returned for attempts submitted after Shutdown.
	ErrStopped = errors.New("dispatcher is stopped")
)

// TransportError is returned when no response was received.
type TransportError struct {
	URL     string
	Timeout bool
	Err     error
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("timed out waiting for %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("failed to reach %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RemoteRejection is returned for non-2xx responses.
type RemoteRejection struct {
	URL        string
	StatusCode int
	// Status is the status line, e.g. "422 Unprocessable Entity".
	Status string
	// Message is the diagnostic extracted from the response body, if any.
	Message string
}

func (e *RemoteRejection) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s responded with %s", e.URL, e.Status)
	}
	return fmt.Sprintf("%s responded with %s: %s", e.URL, e.Status, e.Message)
}

// DefaultEnvelope understands the error bodies of the supported services:
//
//	{"error": {"message": "...", "fields": {...}}}      Bitbucket Cloud
//	{"message": "...", "errors": [{"message": "..."}]} GitHub, Bitbucket Server
//	{"message": {"state": ["..."]}}                     GitLab
//
// Bodies that are not JSON yield an empty message.
func DefaultEnvelope(body []byte) string {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return ""
	}
	doc := gjson.ParseBytes(body)

	var parts []string
	add := func(r gjson.Result) {
		switch {
		case !r.Exists():
		case r.Type == gjson.String:
			if s := strings.TrimSpace(r.String()); s != "" {
				parts = append(parts, s)
			}
		case r.IsObject(), r.IsArray():
			parts = append(parts, r.Raw)
		}
	}

	if e := doc.Get("error"); e.IsObject() {
		add(e.Get("message"))
		add(e.Get("fields"))
	} else {
		add(e)
	}
	add(doc.Get("message"))
	doc.Get("errors").ForEach(func(_, item gjson.Result) bool {
		if item.Type == gjson.String {
			add(item)
		} else {
			add(item.Get("message"))
		}
		return true
	})

	return strings.Join(parts, "; ")
}
