// Package problems keeps the build problems recorded when a status could not be
// published, so operators can see them next to the build.
package problems

import (
	"slices"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/argoproj-labs/commit-status-publisher/internal/metrics"
)

var logger = ctrl.Log.WithName("problems")

// Kind classifies a build problem.
type Kind string

const (
	// KindParse is recorded when no repository could be resolved for a VCS root.
	KindParse Kind = "ParseError"
	// KindTransport is recorded when the hosting service could not be reached.
	KindTransport Kind = "TransportError"
	// KindTimeout is recorded when a publish attempt ran out of time.
	KindTimeout Kind = "Timeout"
	// KindRemoteRejection is recorded for non-2xx responses.
	KindRemoteRejection Kind = "RemoteRejection"
	// KindConfiguration is recorded when a feature cannot be used as configured.
	KindConfiguration Kind = "ConfigurationError"
	// KindDropped is recorded when an attempt never ran because the queue was full or stopped.
	KindDropped Kind = "Dropped"
)

// Problem is a diagnostic attached to a build.
type Problem struct {
	BuildID  string    `json:"buildId"`
	Feature  string    `json:"feature,omitempty"`
	Provider string    `json:"provider"`
	Kind     Kind      `json:"kind"`
	Message  string    `json:"message"`
	Time     time.Time `json:"time"`
}

// Recorder records build problems.
type Recorder interface {
	RecordProblem(problem Problem)
}

const (
	// DefaultLimit is the number of problems retained per build.
	DefaultLimit = 50
	// DefaultBuilds is the number of builds whose problems are retained.
	DefaultBuilds = 1024
)

// Options bounds a Store. Zero values select the defaults.
type Options struct {
	// Limit is the number of problems kept per build.
	Limit int
	// Builds is the number of builds kept. The least recently recorded build
	// is evicted first.
	Builds int
}

// Store is an in-memory Recorder. It keeps the most recent problems of the
// most recently recorded builds.
type Store struct {
	mu     sync.RWMutex
	limit  int
	builds *lru.Cache
	now    func() time.Time
}

var _ Recorder = &Store{}

// NewStore creates a Store bounded by opts.
func NewStore(opts Options) *Store {
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.Builds <= 0 {
		opts.Builds = DefaultBuilds
	}
	// lru.NewWithEvict only fails for a non-positive size.
	builds, _ := lru.NewWithEvict(opts.Builds, func(key, _ any) {
		logger.V(4).Info("Evicted build problems", "build", key)
	})
	return &Store{
		limit:  opts.Limit,
		builds: builds,
		now:    time.Now,
	}
}

// RecordProblem stores the problem and logs it.
func (s *Store) RecordProblem(problem Problem) {
	if problem.Time.IsZero() {
		problem.Time = s.now()
	}

	logger.Info("Recorded build problem",
		"build", problem.BuildID,
		"feature", problem.Feature,
		"provider", problem.Provider,
		"kind", problem.Kind,
		"message", problem.Message)
	metrics.ProblemsRecorded.WithLabelValues(problem.Provider, string(problem.Kind)).Inc()

	s.mu.Lock()
	defer s.mu.Unlock()

	var list []Problem
	if v, ok := s.builds.Get(problem.BuildID); ok {
		list = v.([]Problem)
	}
	list = append(list, problem)
	if len(list) > s.limit {
		list = slices.Clone(list[len(list)-s.limit:])
	}
	s.builds.Add(problem.BuildID, list)
}

// Problems returns the problems recorded for a build, oldest first. Reading
// does not refresh the build.
func (s *Store) Problems(buildID string) []Problem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.builds.Peek(buildID)
	if !ok {
		return nil
	}
	return slices.Clone(v.([]Problem))
}

// Builds returns the number of builds with retained problems.
func (s *Store) Builds() int {
	return s.builds.Len()
}

// Clear drops the problems of a build.
func (s *Store) Clear(buildID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.builds.Remove(buildID)
}
