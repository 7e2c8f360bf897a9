// Package dispatcher delivers publish attempts on a bounded pool of background
// workers so that build event handling never waits on a hosting service.
package dispatcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/argoproj-labs/commit-status-publisher/internal/metrics"
	"github.com/argoproj-labs/commit-status-publisher/internal/problems"
)

const (
	// DefaultWorkers is the default size of the worker pool.
	DefaultWorkers = 4
	// DefaultQueueSize is the default number of attempts waiting for a worker.
	DefaultQueueSize = 256
	// DefaultTimeout bounds a single attempt.
	DefaultTimeout = 30 * time.Second

	// maxResponseBody bounds how much of an error response is read for diagnostics.
	maxResponseBody = 64 << 10
	userAgent       = "commit-status-publisher"
)

// Options configures a Dispatcher.
type Options struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
	// RequestsPerSecond throttles attempts per remote host. Zero disables throttling.
	RequestsPerSecond float64
	Burst             int
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.RequestsPerSecond > 0 && o.Burst <= 0 {
		o.Burst = 1
	}
	return o
}

type task struct {
	ctx    context.Context
	req    *Request
	cmd    *Command
	future *Future
}

func (t *task) buildID() string {
	if t.req != nil {
		return t.req.BuildID
	}
	return t.cmd.BuildID
}

// Dispatcher executes publish attempts asynchronously. Failures are recorded as
// build problems and delivered on the attempt's Future; they are never returned
// to the submitter.
type Dispatcher struct {
	client   *http.Client
	recorder problems.Recorder
	opts     Options

	// mu guards queue against sends after close, and stopped.
	mu      sync.RWMutex
	queue   chan *task
	stopped bool
	group   *errgroup.Group

	trackMu  sync.Mutex
	inFlight map[string]int
	limiters map[string]*rate.Limiter
}

// New creates a Dispatcher. Start must be called before attempts are executed.
func New(client *http.Client, recorder problems.Recorder, opts Options) *Dispatcher {
	if client == nil {
		client = http.DefaultClient
	}
	opts = opts.withDefaults()
	return &Dispatcher{
		client:   client,
		recorder: recorder,
		opts:     opts,
		queue:    make(chan *task, opts.QueueSize),
		inFlight: make(map[string]int),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Start launches the worker pool. Workers keep draining the queue until
// Shutdown is called, independently of ctx.
func (d *Dispatcher) Start(ctx context.Context) {
	logger := log.FromContext(ctx)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.group != nil {
		return
	}

	d.group = &errgroup.Group{}
	for i := range d.opts.Workers {
		d.group.Go(func() error {
			for t := range d.queue {
				metrics.SetQueueDepth(len(d.queue))
				d.execute(t)
			}
			logger.V(4).Info("Publish worker exited", "worker", i)
			return nil
		})
	}
	logger.Info("Publish dispatcher started", "workers", d.opts.Workers, "queueSize", d.opts.QueueSize, "timeout", d.opts.Timeout)
}

// Shutdown stops accepting attempts and waits for queued ones to complete.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		close(d.queue)
	}
	group := d.group
	d.mu.Unlock()

	if group == nil {
		// Never started: resolve whatever was queued.
		for t := range d.queue {
			d.track(t.buildID(), -1)
			d.drop(t, ErrStopped)
		}
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- group.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("failed to drain publish queue: %w", ctx.Err())
	}
}

// Submit queues an HTTP attempt and returns immediately.
func (d *Dispatcher) Submit(ctx context.Context, req *Request) *Future {
	return d.enqueue(ctx, &task{req: req})
}

// SubmitCommand queues a non-HTTP attempt on the same pool.
func (d *Dispatcher) SubmitCommand(ctx context.Context, cmd *Command) *Future {
	return d.enqueue(ctx, &task{cmd: cmd})
}

func (d *Dispatcher) enqueue(ctx context.Context, t *task) *Future {
	// The attempt outlives the caller, e.g. an inbound HTTP request.
	t.ctx = context.WithoutCancel(ctx)
	t.future = newFuture()

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		d.drop(t, ErrStopped)
		return t.future
	}

	d.track(t.buildID(), 1)
	select {
	case d.queue <- t:
		metrics.SetQueueDepth(len(d.queue))
	default:
		d.track(t.buildID(), -1)
		d.drop(t, ErrQueueFull)
	}
	return t.future
}

func (d *Dispatcher) drop(t *task, err error) {
	provider, label := t.describe()
	metrics.RecordPublish(provider, t.channel(), metrics.PublishResultDropped, 0, 0, nil)
	d.record(t, problems.KindDropped, fmt.Sprintf("Failed to publish status for %s to %s: %v", label, provider, err))
	t.future.resolve(Result{Err: err})
}

// InFlight returns the number of attempts of a build that were submitted and
// have not completed yet.
func (d *Dispatcher) InFlight(buildID string) int {
	d.trackMu.Lock()
	defer d.trackMu.Unlock()
	return d.inFlight[buildID]
}

func (d *Dispatcher) track(buildID string, delta int) {
	d.trackMu.Lock()
	defer d.trackMu.Unlock()

	n := d.inFlight[buildID] + delta
	if n <= 0 {
		delete(d.inFlight, buildID)
	} else {
		d.inFlight[buildID] = n
	}
	metrics.AddInFlight(delta)
}

// TestConnection performs req synchronously. It does not record problems.
func (d *Dispatcher) TestConnection(ctx context.Context, req *Request) error {
	return d.do(ctx, req).Err
}

func (d *Dispatcher) execute(t *task) {
	var result Result
	if t.req != nil {
		result = d.do(t.ctx, t.req)
	} else {
		result = d.run(t.ctx, t.cmd)
	}
	if result.Err != nil {
		d.recordFailure(t, result.Err)
	}
	d.track(t.buildID(), -1)
	t.future.resolve(result)
}

func (d *Dispatcher) do(ctx context.Context, req *Request) Result {
	logger := log.FromContext(ctx).WithValues("provider", req.Provider, "build", req.BuildID, "url", req.URL)

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = d.opts.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result := func(code int, outcome metrics.PublishResult, rl *metrics.RateLimit, err error) Result {
		duration := time.Since(start)
		metrics.RecordPublish(req.Provider, metrics.ChannelHTTP, outcome, code, duration, rl)
		return Result{StatusCode: code, Duration: duration, Err: err}
	}

	if err := d.throttle(ctx, req.URL); err != nil {
		return result(0, metrics.PublishResultTimeout, nil, &TransportError{URL: req.URL, Timeout: true, Err: err})
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return result(0, metrics.PublishResultTransportError, nil, &TransportError{URL: req.URL, Err: err})
	}
	for key, values := range req.Headers {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}
	httpReq.Header.Set("User-Agent", userAgent)

	if req.Auth != nil {
		if err := req.Auth.Apply(ctx, httpReq); err != nil {
			return result(0, metrics.PublishResultTransportError, nil, &TransportError{URL: req.URL, Timeout: isTimeout(err), Err: fmt.Errorf("failed to authenticate: %w", err)})
		}
	}

	client := d.client
	if req.Client != nil {
		client = req.Client
	}

	logger.V(4).Info("Sending commit status", "method", req.Method)
	resp, err := client.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return result(0, metrics.PublishResultTimeout, nil, &TransportError{URL: req.URL, Timeout: true, Err: err})
		}
		return result(0, metrics.PublishResultTransportError, nil, &TransportError{URL: req.URL, Err: err})
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
		if err := resp.Body.Close(); err != nil {
			logger.V(4).Info("Failed to close response body", "error", err.Error())
		}
	}()

	rl := metrics.RateLimitFromHeaders(resp.Header, time.Now())
	logResponse(logger, resp, rl)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return result(resp.StatusCode, metrics.PublishResultSuccess, rl, nil)
	}

	// Diagnostics are best effort: read and parse failures leave the message empty.
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	envelope := req.Envelope
	if envelope == nil {
		envelope = DefaultEnvelope
	}
	return result(resp.StatusCode, metrics.PublishResultRejected, rl, &RemoteRejection{
		URL:        req.URL,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Message:    envelope(body),
	})
}

func logResponse(logger logr.Logger, resp *http.Response, rl *metrics.RateLimit) {
	if rl != nil {
		logger.V(4).Info("scm rate limit",
			"limit", rl.Limit,
			"remaining", rl.Remaining,
			"reset", rl.ResetRemaining)
	}
	logger.V(4).Info("scm response status", "status", resp.Status)
}

func (d *Dispatcher) run(ctx context.Context, cmd *Command) Result {
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = d.opts.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- cmd.Run(ctx) }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	duration := time.Since(start)

	var rejection *RemoteRejection
	switch {
	case err == nil:
		metrics.RecordPublish(cmd.Provider, metrics.ChannelCommand, metrics.PublishResultSuccess, 0, duration, nil)
	case errors.As(err, &rejection) && ctx.Err() == nil:
		// The remote end ran the command and refused it.
		metrics.RecordPublish(cmd.Provider, metrics.ChannelCommand, metrics.PublishResultRejected, 0, duration, nil)
	case isTimeout(err) || ctx.Err() != nil:
		metrics.RecordPublish(cmd.Provider, metrics.ChannelCommand, metrics.PublishResultTimeout, 0, duration, nil)
		err = &TransportError{URL: cmd.Label, Timeout: true, Err: err}
	default:
		metrics.RecordPublish(cmd.Provider, metrics.ChannelCommand, metrics.PublishResultTransportError, 0, duration, nil)
		var transport *TransportError
		if !errors.As(err, &transport) {
			err = &TransportError{URL: cmd.Label, Err: err}
		}
	}
	return Result{Duration: duration, Err: err}
}

func (d *Dispatcher) throttle(ctx context.Context, rawURL string) error {
	if d.opts.RequestsPerSecond <= 0 {
		return nil
	}
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		host = u.Host
	}

	d.trackMu.Lock()
	limiter, ok := d.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(d.opts.RequestsPerSecond), d.opts.Burst)
		d.limiters[host] = limiter
	}
	d.trackMu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limited: %w", err)
	}
	return nil
}

func (d *Dispatcher) recordFailure(t *task, err error) {
	provider, label := t.describe()
	log.FromContext(t.ctx).Error(err, "Failed to publish commit status", "provider", provider, "build", t.buildID())

	var transport *TransportError
	var rejection *RemoteRejection
	switch {
	case errors.As(err, &transport) && transport.Timeout:
		timeout := d.opts.Timeout
		if t.req != nil && t.req.Timeout > 0 {
			timeout = t.req.Timeout
		} else if t.cmd != nil && t.cmd.Timeout > 0 {
			timeout = t.cmd.Timeout
		}
		d.record(t, problems.KindTimeout, fmt.Sprintf("Timed out after %s publishing status for %s to %s", timeout, label, provider))
	case errors.As(err, &rejection):
		d.record(t, problems.KindRemoteRejection, fmt.Sprintf("Failed to publish status for %s to %s: %v", label, provider, rejection))
	default:
		d.record(t, problems.KindTransport, fmt.Sprintf("Failed to publish status for %s to %s: %v", label, provider, err))
	}
}

func (d *Dispatcher) record(t *task, kind problems.Kind, message string) {
	if d.recorder == nil {
		return
	}
	provider, _ := t.describe()
	feature := ""
	if t.req != nil {
		feature = t.req.Feature
	} else {
		feature = t.cmd.Feature
	}
	d.recorder.RecordProblem(problems.Problem{
		BuildID:  t.buildID(),
		Feature:  feature,
		Provider: provider,
		Kind:     kind,
		Message:  message,
	})
}

func (t *task) describe() (provider, label string) {
	if t.req != nil {
		provider, label = t.req.Provider, t.req.Label
	} else {
		provider, label = t.cmd.Provider, t.cmd.Label
	}
	if label == "" {
		label = "build " + t.buildID()
	}
	return provider, label
}

func (t *task) channel() metrics.Channel {
	if t.req != nil {
		return metrics.ChannelHTTP
	}
	return metrics.ChannelCommand
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
