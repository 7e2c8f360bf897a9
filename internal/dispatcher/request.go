package dispatcher

import (
	"context"
	"net/http"
	"time"
)

// Authenticator adds credentials to an outgoing request.
type Authenticator interface {
	Apply(ctx context.Context, req *http.Request) error
}

// Envelope extracts a human readable message from an error response body.
type Envelope func(body []byte) string

// Request is a single publish attempt over HTTP.
type Request struct {
	Method      string
	URL         string
	Body        []byte
	ContentType string
	Headers     http.Header
	// Auth is applied right before the request is sent.
	Auth Authenticator
	// Client overrides the dispatcher client, e.g. for mutual TLS.
	Client *http.Client
	// Timeout overrides the dispatcher default.
	Timeout time.Duration

	// BuildID is the build the attempt reports on.
	BuildID string
	// Feature is the configured feature that produced the attempt.
	Feature string
	// Provider is the hosting service type, used for metrics and problems.
	Provider string
	// Label describes the build in problem messages, e.g. "Project :: Tests #42".
	Label string
	// Envelope overrides DefaultEnvelope.
	Envelope Envelope
}

// Command is a publish attempt that does not go through HTTP, such as a Gerrit
// review sent over SSH.
type Command struct {
	BuildID  string
	Feature  string
	Provider string
	Label    string
	Timeout  time.Duration
	// Run performs the attempt. ctx carries the attempt deadline.
	Run func(ctx context.Context) error
}

// Result is the outcome of a publish attempt.
type Result struct {
	// StatusCode is the HTTP status of the response, zero when there was none.
	StatusCode int
	// Duration is the time spent on the attempt, excluding queueing.
	Duration time.Duration
	// Err is nil on success, otherwise a *TransportError, a *RemoteRejection,
	// ErrQueueFull or ErrStopped.
	Err error
}

// Future resolves once a submitted attempt has completed.
type Future struct {
	done   chan struct{}
	result Result
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func resolvedFuture(result Result) *Future {
	f := newFuture()
	f.resolve(result)
	return f
}

func (f *Future) resolve(result Result) {
	f.result = result
	close(f.done)
}

// Done is closed when the attempt completes.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the attempt completes or ctx is done.
func (f *Future) Wait(ctx context.Context) (Result, error) {
	select {
	case <-f.done:
		return f.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
