package dispatcher_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/argoproj-labs/commit-status-publisher/internal/dispatcher"
	"github.com/argoproj-labs/commit-status-publisher/internal/problems"
)

type headerAuth struct {
	value string
	err   error
}

func (a headerAuth) Apply(_ context.Context, req *http.Request) error {
	if a.err != nil {
		return a.err
	}
	req.Header.Set("Authorization", a.value)
	return nil
}

var _ = Describe("Dispatcher", func() {
	var (
		ctx      context.Context
		store    *problems.Store
		d        *dispatcher.Dispatcher
		server   *httptest.Server
		handler  http.HandlerFunc
		received atomic.Int32
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = problems.NewStore(problems.Options{})
		received.Store(0)
		handler = func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
		}
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			received.Add(1)
			handler(w, r)
		}))
		d = dispatcher.New(server.Client(), store, dispatcher.Options{Workers: 2, QueueSize: 8, Timeout: 2 * time.Second})
		d.Start(ctx)
	})

	AfterEach(func() {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		Expect(d.Shutdown(shutdownCtx)).To(Succeed())
		server.Close()
	})

	request := func(buildID string) *dispatcher.Request {
		return &dispatcher.Request{
			Method:      http.MethodPost,
			URL:         server.URL + "/repos/owner/project/statuses/abc123",
			Body:        []byte(`{"state":"success"}`),
			ContentType: "application/json",
			BuildID:     buildID,
			Provider:    "github",
			Label:       "Project :: Tests #" + buildID,
		}
	}

	It("delivers the request with body, content type and credentials", func() {
		var gotBody, gotType, gotAuth, gotPath string
		handler = func(w http.ResponseWriter, r *http.Request) {
			b, _ := io.ReadAll(r.Body)
			gotBody, gotType, gotAuth, gotPath = string(b), r.Header.Get("Content-Type"), r.Header.Get("Authorization"), r.URL.Path
			w.WriteHeader(http.StatusCreated)
		}

		req := request("1")
		req.Auth = headerAuth{value: "Bearer t0ken"}
		result, err := d.Submit(ctx, req).Wait(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Err).NotTo(HaveOccurred())
		Expect(result.StatusCode).To(Equal(http.StatusCreated))

		Expect(received.Load()).To(Equal(int32(1)))
		Expect(gotPath).To(Equal("/repos/owner/project/statuses/abc123"))
		Expect(gotBody).To(Equal(`{"state":"success"}`))
		Expect(gotType).To(Equal("application/json"))
		Expect(gotAuth).To(Equal("Bearer t0ken"))
		Expect(store.Problems("1")).To(BeEmpty())
	})

	It("turns non-2xx responses into a problem with the remote message", func() {
		handler = func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"message":"Validation Failed","errors":[{"resource":"Status","field":"state","code":"custom","message":"state is invalid"}]}`))
		}

		result, err := d.Submit(ctx, request("2")).Wait(ctx)
		Expect(err).NotTo(HaveOccurred())

		var rejection *dispatcher.RemoteRejection
		Expect(errors.As(result.Err, &rejection)).To(BeTrue())
		Expect(rejection.StatusCode).To(Equal(http.StatusUnprocessableEntity))
		Expect(rejection.Message).To(Equal("Validation Failed; state is invalid"))

		recorded := store.Problems("2")
		Expect(recorded).To(HaveLen(1))
		Expect(recorded[0].Kind).To(Equal(problems.KindRemoteRejection))
		Expect(recorded[0].Message).To(ContainSubstring("Validation Failed"))
		Expect(recorded[0].Message).To(ContainSubstring("422"))
		Expect(recorded[0].Message).To(ContainSubstring("Project :: Tests #2"))
	})

	It("swallows unparseable error bodies", func() {
		handler = func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("<html>bad gateway</html>"))
		}

		result, err := d.Submit(ctx, request("3")).Wait(ctx)
		Expect(err).NotTo(HaveOccurred())

		var rejection *dispatcher.RemoteRejection
		Expect(errors.As(result.Err, &rejection)).To(BeTrue())
		Expect(rejection.Message).To(BeEmpty())
		Expect(store.Problems("3")).To(HaveLen(1))
	})

	It("returns immediately and records a timeout problem when the remote hangs", func() {
		handler = func(w http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
		}

		req := request("4")
		req.Timeout = 100 * time.Millisecond

		start := time.Now()
		future := d.Submit(ctx, req)
		Expect(time.Since(start)).To(BeNumerically("<", 100*time.Millisecond))

		result, err := future.Wait(ctx)
		Expect(err).NotTo(HaveOccurred())

		var transport *dispatcher.TransportError
		Expect(errors.As(result.Err, &transport)).To(BeTrue())
		Expect(transport.Timeout).To(BeTrue())

		recorded := store.Problems("4")
		Expect(recorded).To(HaveLen(1))
		Expect(recorded[0].Kind).To(Equal(problems.KindTimeout))
		Expect(recorded[0].Message).To(ContainSubstring("Timed out after 100ms"))
	})

	It("reports connection failures as transport errors", func() {
		closed := httptest.NewServer(http.NotFoundHandler())
		closed.Close()

		req := request("5")
		req.URL = closed.URL + "/statuses"
		result, err := d.Submit(ctx, req).Wait(ctx)
		Expect(err).NotTo(HaveOccurred())

		var transport *dispatcher.TransportError
		Expect(errors.As(result.Err, &transport)).To(BeTrue())
		Expect(transport.Timeout).To(BeFalse())
		Expect(store.Problems("5")[0].Kind).To(Equal(problems.KindTransport))
	})

	It("reports authentication failures without calling the remote", func() {
		req := request("6")
		req.Auth = headerAuth{err: errors.New("secret not found")}
		result, err := d.Submit(ctx, req).Wait(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Err).To(MatchError(ContainSubstring("secret not found")))
		Expect(received.Load()).To(BeZero())
	})

	It("tracks in-flight attempts per build", func() {
		release := make(chan struct{})
		handler = func(w http.ResponseWriter, r *http.Request) {
			<-release
			w.WriteHeader(http.StatusOK)
		}

		first := d.Submit(ctx, request("7"))
		second := d.Submit(ctx, request("7"))
		Eventually(func() int { return d.InFlight("7") }).Should(Equal(2))
		Expect(d.InFlight("8")).To(BeZero())

		close(release)
		Eventually(first.Done()).Should(BeClosed())
		Eventually(second.Done()).Should(BeClosed())
		Expect(d.InFlight("7")).To(BeZero())
	})

	It("runs commands on the same pool", func() {
		var ran atomic.Bool
		result, err := d.SubmitCommand(ctx, &dispatcher.Command{
			BuildID:  "9",
			Provider: "gerrit",
			Label:    "Project :: Tests #9",
			Run: func(ctx context.Context) error {
				ran.Store(true)
				return nil
			},
		}).Wait(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Err).NotTo(HaveOccurred())
		Expect(ran.Load()).To(BeTrue())
	})

	It("records failed and hanging commands", func() {
		result, err := d.SubmitCommand(ctx, &dispatcher.Command{
			BuildID:  "10",
			Provider: "gerrit",
			Run: func(ctx context.Context) error {
				return errors.New("permission denied (publickey)")
			},
		}).Wait(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Err).To(MatchError(ContainSubstring("permission denied")))

		result, err = d.SubmitCommand(ctx, &dispatcher.Command{
			BuildID:  "10",
			Provider: "gerrit",
			Timeout:  50 * time.Millisecond,
			Run: func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			},
		}).Wait(ctx)
		Expect(err).NotTo(HaveOccurred())
		var transport *dispatcher.TransportError
		Expect(errors.As(result.Err, &transport)).To(BeTrue())
		Expect(transport.Timeout).To(BeTrue())

		kinds := []problems.Kind{}
		for _, p := range store.Problems("10") {
			kinds = append(kinds, p.Kind)
		}
		Expect(kinds).To(Equal([]problems.Kind{problems.KindTransport, problems.KindTimeout}))
	})

	It("keeps command rejections", func() {
		result, err := d.SubmitCommand(ctx, &dispatcher.Command{
			BuildID:  "11",
			Provider: "gerrit",
			Label:    "Project :: Tests #11",
			Run: func(ctx context.Context) error {
				return &dispatcher.RemoteRejection{URL: "ssh://gerrit.example.com:29418", Status: "exit status 1", Message: "change not found"}
			},
		}).Wait(ctx)
		Expect(err).NotTo(HaveOccurred())
		var rejection *dispatcher.RemoteRejection
		Expect(errors.As(result.Err, &rejection)).To(BeTrue())

		recorded := store.Problems("11")
		Expect(recorded).To(HaveLen(1))
		Expect(recorded[0].Kind).To(Equal(problems.KindRemoteRejection))
		Expect(recorded[0].Message).To(ContainSubstring("change not found"))
	})

	It("tests connections synchronously without recording problems", func() {
		handler = func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"Bad credentials"}`))
		}

		err := d.TestConnection(ctx, request("11"))
		Expect(err).To(MatchError(ContainSubstring("Bad credentials")))
		Expect(store.Problems("11")).To(BeEmpty())
	})
})

var _ = Describe("Dispatcher queue", func() {
	It("rejects attempts when the queue is full without blocking", func() {
		store := problems.NewStore(problems.Options{})
		d := dispatcher.New(nil, store, dispatcher.Options{QueueSize: 1})
		ctx := context.Background()
		req := &dispatcher.Request{Method: http.MethodPost, URL: "http://127.0.0.1:1/", BuildID: "1", Provider: "fake"}

		queued := d.Submit(ctx, req)
		Consistently(queued.Done(), 50*time.Millisecond).ShouldNot(BeClosed())

		full := d.Submit(ctx, req)
		Expect(full.Done()).To(BeClosed())
		result, err := full.Wait(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Err).To(MatchError(dispatcher.ErrQueueFull))
		Expect(d.InFlight("1")).To(Equal(1))

		Expect(d.Shutdown(ctx)).To(Succeed())
		result, err = queued.Wait(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Err).To(MatchError(dispatcher.ErrStopped))
		Expect(d.InFlight("1")).To(BeZero())

		recorded := store.Problems("1")
		Expect(recorded).To(HaveLen(2))
		Expect(recorded[0].Kind).To(Equal(problems.KindDropped))
	})

	It("rejects attempts after shutdown", func() {
		d := dispatcher.New(nil, nil, dispatcher.Options{})
		ctx := context.Background()
		d.Start(ctx)
		Expect(d.Shutdown(ctx)).To(Succeed())

		result, err := d.Submit(ctx, &dispatcher.Request{Method: http.MethodPost, URL: "http://127.0.0.1:1/"}).Wait(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Err).To(MatchError(dispatcher.ErrStopped))
	})

	It("drains queued attempts on shutdown", func() {
		var count atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(10 * time.Millisecond)
			count.Add(1)
		}))
		defer server.Close()

		d := dispatcher.New(server.Client(), nil, dispatcher.Options{Workers: 1, QueueSize: 16})
		ctx := context.Background()
		d.Start(ctx)

		futures := make([]*dispatcher.Future, 0, 5)
		for range 5 {
			futures = append(futures, d.Submit(ctx, &dispatcher.Request{Method: http.MethodPost, URL: server.URL}))
		}
		Expect(d.Shutdown(ctx)).To(Succeed())

		Expect(count.Load()).To(Equal(int32(5)))
		for _, f := range futures {
			Expect(f.Done()).To(BeClosed())
		}
	})

	It("throttles per host", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		defer server.Close()

		d := dispatcher.New(server.Client(), nil, dispatcher.Options{RequestsPerSecond: 20, Burst: 1})
		ctx := context.Background()
		d.Start(ctx)
		defer func() { _ = d.Shutdown(ctx) }()

		start := time.Now()
		for range 3 {
			Expect(d.TestConnection(ctx, &dispatcher.Request{Method: http.MethodGet, URL: server.URL})).To(Succeed())
		}
		Expect(time.Since(start)).To(BeNumerically(">=", 90*time.Millisecond))
	})
})

var _ = DescribeTable("DefaultEnvelope",
	func(body, expected string) {
		Expect(dispatcher.DefaultEnvelope([]byte(body))).To(Equal(expected))
	},
	Entry("bitbucket cloud", `{"type":"error","error":{"message":"key: Ensure this field has no more than 40 characters.","fields":{"key":["too long"]}}}`,
		`key: Ensure this field has no more than 40 characters.; {"key":["too long"]}`),
	Entry("github", `{"message":"Validation Failed","errors":[{"message":"state is invalid"}]}`, "Validation Failed; state is invalid"),
	Entry("bitbucket server", `{"errors":[{"context":null,"message":"Authentication failed."}]}`, "Authentication failed."),
	Entry("gitlab", `{"message":{"state":["is invalid"]}}`, `{"state":["is invalid"]}`),
	Entry("gitlab plain error", `{"error":"invalid_token"}`, "invalid_token"),
	Entry("string errors", `{"errors":["first","second"]}`, "first; second"),
	Entry("not json", `Service Unavailable`, ""),
	Entry("empty", ``, ""),
)
