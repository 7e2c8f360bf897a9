// Package webhookreceiver receives build lifecycle events from the CI server
// and exposes the build problems recorded while publishing them.
package webhookreceiver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/relvacode/iso8601"
	"github.com/tidwall/gjson"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/argoproj-labs/commit-status-publisher/api/v1alpha1"
	"github.com/argoproj-labs/commit-status-publisher/internal/dispatcher"
	"github.com/argoproj-labs/commit-status-publisher/internal/metrics"
	"github.com/argoproj-labs/commit-status-publisher/internal/problems"
	"github.com/argoproj-labs/commit-status-publisher/internal/publisher"
	"github.com/argoproj-labs/commit-status-publisher/internal/scms"
	ginlogr "github.com/argoproj-labs/commit-status-publisher/internal/webhookreceiver/logr"
)

var logger = ctrl.Log.WithName("webhookReceiver")

// ProblemStore gives access to recorded build problems. *problems.Store implements it.
type ProblemStore interface {
	Problems(buildID string) []problems.Problem
	Clear(buildID string)
}

// InFlightCounter reports outstanding publish attempts. *dispatcher.Dispatcher implements it.
type InFlightCounter interface {
	InFlight(buildID string) int
}

// EventResponse is the answer to a posted build event.
type EventResponse struct {
	Attempted int      `json:"attempted"`
	Errors    []string `json:"errors,omitempty"`
	// Results are only set when the caller asked to wait for delivery.
	Results []AttemptResult `json:"results,omitempty"`
}

// AttemptResult is the outcome of one publish attempt.
type AttemptResult struct {
	StatusCode int    `json:"statusCode,omitempty"`
	Duration   string `json:"duration"`
	Error      string `json:"error,omitempty"`
}

// ProblemsResponse lists the problems of a build.
type ProblemsResponse struct {
	BuildID  string             `json:"buildId"`
	InFlight int                `json:"inFlight"`
	Problems []problems.Problem `json:"problems"`
}

// FeatureResponse describes a configured feature.
type FeatureResponse struct {
	Name     string `json:"name"`
	Provider string `json:"provider"`
}

// WebhookReceiver is the HTTP front end of the publisher.
type WebhookReceiver struct {
	router         *publisher.Router
	problems       ProblemStore
	inFlight       InFlightCounter
	maxPayloadSize int64
}

// NewWebhookReceiver creates a WebhookReceiver. A maxPayloadSize of zero disables the limit.
func NewWebhookReceiver(router *publisher.Router, store ProblemStore, inFlight InFlightCounter, maxPayloadSize int64) *WebhookReceiver {
	return &WebhookReceiver{
		router:         router,
		problems:       store,
		inFlight:       inFlight,
		maxPayloadSize: maxPayloadSize,
	}
}

// Handler returns the routes of the receiver.
func (wr *WebhookReceiver) Handler() http.Handler {
	router := gin.New()
	router.Use(ginlogr.Ginlogr(logger, 0, "/healthz"))
	router.Use(ginlogr.RecoveryWithLogr(logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, "ok")
	})

	api := router.Group("/api/v1")
	api.POST("/events", wr.postEvent)
	api.POST("/features/:name/test", wr.testFeature)

	reads := api.Group("", gzip.Gzip(gzip.DefaultCompression))
	reads.GET("/features", wr.listFeatures)
	reads.GET("/builds/:id/problems", wr.getProblems)
	api.DELETE("/builds/:id/problems", wr.clearProblems)

	return router
}

// Start serves the receiver on addr until ctx is done.
func (wr *WebhookReceiver) Start(ctx context.Context, addr string) error {
	server := http.Server{
		Addr:              addr,
		Handler:           wr.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		err := server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			logger.Info("webhook receiver server closed")
			err = nil
		}
		errCh <- err
	}()
	logger.Info("webhook receiver server started", "address", addr)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to serve webhook receiver: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("webhook receiver server stopped")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("webhook receiver server shutdown failed: %w", err)
	}
	logger.Info("webhook receiver server exited properly")
	return nil
}

func (wr *WebhookReceiver) postEvent(c *gin.Context) {
	var responseCode int
	event := "unknown"
	startTime := time.Now()
	defer func() {
		metrics.RecordHostEvent(event, responseCode, time.Since(startTime))
	}()

	fail := func(code int, format string, args ...any) {
		responseCode = code
		c.JSON(code, gin.H{"error": fmt.Sprintf(format, args...)})
	}

	body, err := wr.readBody(c)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(http.StatusRequestEntityTooLarge, "payload exceeds %d bytes", tooLarge.Limit)
			return
		}
		fail(http.StatusInternalServerError, "error reading body")
		return
	}
	if !gjson.ValidBytes(body) {
		fail(http.StatusBadRequest, "payload is not valid JSON")
		return
	}

	kind, err := scms.ParseEventKind(gjson.GetBytes(body, "event").String())
	if err != nil {
		fail(http.StatusBadRequest, "%v", err)
		return
	}
	event = string(kind)

	var req v1alpha1.BuildEventRequest
	if err := json.Unmarshal(body, &req); err != nil {
		fail(http.StatusBadRequest, "invalid build event: %v", err)
		return
	}
	if err := validateEvent(&req); err != nil {
		fail(http.StatusBadRequest, "invalid build event: %v", err)
		return
	}

	ctx := ctrl.LoggerInto(c.Request.Context(), logger.WithValues("build", req.Build.ID, "event", kind))
	outcome, err := wr.router.Route(ctx, req)
	if err != nil {
		fail(http.StatusBadRequest, "%v", err)
		return
	}

	resp := EventResponse{Attempted: outcome.Attempted}
	for _, err := range outcome.Errors {
		resp.Errors = append(resp.Errors, err.Error())
	}
	if c.Query("wait") == "true" {
		resp.Results = wait(c.Request.Context(), outcome.Futures)
	}

	responseCode = http.StatusAccepted
	c.JSON(responseCode, resp)
}

func (wr *WebhookReceiver) readBody(c *gin.Context) ([]byte, error) {
	reader := c.Request.Body
	if wr.maxPayloadSize > 0 {
		reader = http.MaxBytesReader(c.Writer, c.Request.Body, wr.maxPayloadSize)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	return body, nil
}

func validateEvent(req *v1alpha1.BuildEventRequest) error {
	if req.Build.ID == "" {
		return errors.New("build.id is required")
	}
	for field, value := range map[string]string{
		"build.queuedAt":   req.Build.QueuedAt,
		"build.startedAt":  req.Build.StartedAt,
		"build.finishedAt": req.Build.FinishedAt,
	} {
		if value == "" {
			continue
		}
		if _, err := iso8601.ParseString(value); err != nil {
			return fmt.Errorf("%s is not an ISO 8601 timestamp: %q", field, value)
		}
	}
	for i, revision := range req.Revisions {
		if revision.Hash == "" {
			return fmt.Errorf("revisions[%d].revision is required", i)
		}
	}
	return nil
}

// wait collects the results of futures, giving up when ctx is done.
func wait(ctx context.Context, futures []*dispatcher.Future) []AttemptResult {
	results := make([]AttemptResult, 0, len(futures))
	for _, future := range futures {
		result, err := future.Wait(ctx)
		if err != nil {
			results = append(results, AttemptResult{Error: err.Error()})
			continue
		}
		r := AttemptResult{StatusCode: result.StatusCode, Duration: result.Duration.String()}
		if result.Err != nil {
			r.Error = result.Err.Error()
		}
		results = append(results, r)
	}
	return results
}

func (wr *WebhookReceiver) getProblems(c *gin.Context) {
	id := c.Param("id")
	resp := ProblemsResponse{BuildID: id, Problems: wr.problems.Problems(id)}
	if resp.Problems == nil {
		resp.Problems = []problems.Problem{}
	}
	if wr.inFlight != nil {
		resp.InFlight = wr.inFlight.InFlight(id)
	}
	c.JSON(http.StatusOK, resp)
}

func (wr *WebhookReceiver) clearProblems(c *gin.Context) {
	wr.problems.Clear(c.Param("id"))
	c.Status(http.StatusNoContent)
}

func (wr *WebhookReceiver) listFeatures(c *gin.Context) {
	features := make([]FeatureResponse, 0, len(wr.router.Publishers()))
	for _, p := range wr.router.Publishers() {
		features = append(features, FeatureResponse{Name: p.Name(), Provider: string(p.Provider())})
	}
	c.JSON(http.StatusOK, features)
}

func (wr *WebhookReceiver) testFeature(c *gin.Context) {
	p, ok := wr.router.Publisher(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("unknown feature %q", c.Param("name"))})
		return
	}

	var root v1alpha1.VcsRoot
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&root); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid VCS root: %v", err)})
			return
		}
	}

	if err := p.TestConnection(c.Request.Context(), root); err != nil {
		logger.Info("Connection test failed", "feature", p.Name(), "error", err.Error())
		c.JSON(http.StatusBadGateway, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
