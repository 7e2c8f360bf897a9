package webhookreceiver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/tidwall/gjson"

	"github.com/argoproj-labs/commit-status-publisher/internal/dispatcher"
	"github.com/argoproj-labs/commit-status-publisher/internal/problems"
	"github.com/argoproj-labs/commit-status-publisher/internal/publisher"
	"github.com/argoproj-labs/commit-status-publisher/internal/scms"
	"github.com/argoproj-labs/commit-status-publisher/internal/scms/fake"
	githubscm "github.com/argoproj-labs/commit-status-publisher/internal/scms/github"
	"github.com/argoproj-labs/commit-status-publisher/internal/webhookreceiver"
)

const finishedEvent = `{
  "event": "finished",
  "build": {
    "id": "100",
    "number": "12",
    "typeId": "App_Tests",
    "typeName": "Tests",
    "projectName": "App",
    "webUrl": "https://ci.example.com/build/100",
    "status": "SUCCESS",
    "statusText": "Tests passed: 12",
    "startedAt": "2024-03-01T10:01:00Z",
    "finishedAt": "2024-03-01T10:05:00.250Z"
  },
  "revisions": [
    {"vcsRoot": {"id": "app", "name": "app repo", "kind": "git", "url": "git@github.com:owner/app.git"}, "revision": "abc123"}
  ]
}`

var _ = Describe("WebhookReceiver", func() {
	var (
		ctx      context.Context
		store    *problems.Store
		d        *dispatcher.Dispatcher
		rec      *fake.Recorder
		scm      *httptest.Server
		handler  http.Handler
		receiver *webhookreceiver.WebhookReceiver
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = problems.NewStore(problems.Options{})
		rec = fake.NewRecorder()
		scm = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"Bad credentials"}`))
		}))
		d = dispatcher.New(scm.Client(), store, dispatcher.Options{Workers: 2, QueueSize: 8, Timeout: 2 * time.Second})
		d.Start(ctx)

		fakePublisher, err := publisher.New(publisher.Feature{Name: "fake", Dialect: fake.NewDialect(rec)}, d, store)
		Expect(err).NotTo(HaveOccurred())
		githubPublisher, err := publisher.New(publisher.Feature{
			Name:       "github",
			Dialect:    githubscm.NewDialect(scm.URL),
			BuildTypes: []string{"App_Deploy"},
		}, d, store)
		Expect(err).NotTo(HaveOccurred())
		router, err := publisher.NewRouter(fakePublisher, githubPublisher)
		Expect(err).NotTo(HaveOccurred())

		receiver = webhookreceiver.NewWebhookReceiver(router, store, d, 4096)
		handler = receiver.Handler()
	})

	AfterEach(func() {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		Expect(d.Shutdown(shutdownCtx)).To(Succeed())
		scm.Close()
	})

	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		if body != "" {
			req.Header.Set("Content-Type", "application/json")
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	It("publishes posted build events", func() {
		w := do(http.MethodPost, "/api/v1/events?wait=true", finishedEvent)
		Expect(w.Code).To(Equal(http.StatusAccepted))

		var resp webhookreceiver.EventResponse
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp.Attempted).To(Equal(1))
		Expect(resp.Errors).To(BeEmpty())
		Expect(resp.Results).To(HaveLen(1))
		Expect(resp.Results[0].Error).To(BeEmpty())

		statuses := rec.Statuses()
		Expect(statuses).To(HaveLen(1))
		Expect(statuses[0].Phase).To(Equal(scms.PhaseSuccess))
		Expect(statuses[0].Repository).To(Equal("owner/app"))
		Expect(statuses[0].Sha).To(Equal("abc123"))
		Expect(statuses[0].Description).To(Equal("Tests passed: 12"))
		Expect(statuses[0].Context).To(Equal("App / Tests"))
		Expect(statuses[0].TargetURL).To(Equal("https://ci.example.com/build/100"))
	})

	It("returns before delivery unless asked to wait", func() {
		w := do(http.MethodPost, "/api/v1/events", finishedEvent)
		Expect(w.Code).To(Equal(http.StatusAccepted))
		Expect(gjson.Get(w.Body.String(), "attempted").Int()).To(Equal(int64(1)))
		Expect(gjson.Get(w.Body.String(), "results").Exists()).To(BeFalse())
		Eventually(rec.Statuses).Should(HaveLen(1))
	})

	DescribeTable("rejects invalid events",
		func(body string, code int, message string) {
			w := do(http.MethodPost, "/api/v1/events", body)
			Expect(w.Code).To(Equal(code))
			Expect(gjson.Get(w.Body.String(), "error").String()).To(ContainSubstring(message))
			Expect(rec.Statuses()).To(BeEmpty())
		},
		Entry("unknown event", `{"event":"exploded","build":{"id":"1"}}`, http.StatusBadRequest, `unknown build event "exploded"`),
		Entry("not json", `event=finished`, http.StatusBadRequest, "not valid JSON"),
		Entry("missing build id", `{"event":"started","build":{}}`, http.StatusBadRequest, "build.id is required"),
		Entry("bad timestamp", `{"event":"started","build":{"id":"1","startedAt":"yesterday"}}`, http.StatusBadRequest, "build.startedAt"),
		Entry("missing revision", `{"event":"started","build":{"id":"1"},"revisions":[{"vcsRoot":{"id":"app"}}]}`, http.StatusBadRequest, "revisions[0].revision"),
		Entry("too large", `{"event":"started","comment":"`+strings.Repeat("x", 5000)+`"}`, http.StatusRequestEntityTooLarge, "payload exceeds 4096 bytes"),
	)

	It("reports problems of aborted attempts", func() {
		body := strings.Replace(finishedEvent, "git@github.com:owner/app.git", "https://github.com/app", 1)
		w := do(http.MethodPost, "/api/v1/events", body)
		Expect(w.Code).To(Equal(http.StatusAccepted))
		Expect(gjson.Get(w.Body.String(), "attempted").Int()).To(BeZero())
		Expect(gjson.Get(w.Body.String(), "errors.0").String()).To(ContainSubstring(`VCS root "app repo"`))

		w = do(http.MethodGet, "/api/v1/builds/100/problems", "")
		Expect(w.Code).To(Equal(http.StatusOK))
		var resp webhookreceiver.ProblemsResponse
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp.BuildID).To(Equal("100"))
		Expect(resp.InFlight).To(BeZero())
		Expect(resp.Problems).To(HaveLen(1))
		Expect(resp.Problems[0].Kind).To(Equal(problems.KindParse))
		Expect(resp.Problems[0].Feature).To(Equal("fake"))

		Expect(do(http.MethodDelete, "/api/v1/builds/100/problems", "").Code).To(Equal(http.StatusNoContent))
		w = do(http.MethodGet, "/api/v1/builds/100/problems", "")
		Expect(gjson.Get(w.Body.String(), "problems.#").Int()).To(BeZero())
	})

	It("compresses problem listings", func() {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/builds/100/problems", nil)
		req.Header.Set("Accept-Encoding", "gzip")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Header().Get("Content-Encoding")).To(Equal("gzip"))
	})

	It("lists the configured features", func() {
		w := do(http.MethodGet, "/api/v1/features", "")
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(MatchJSON(`[{"name":"fake","provider":"fake"},{"name":"github","provider":"github"}]`))
	})

	It("tests the connection of a feature", func() {
		Expect(do(http.MethodPost, "/api/v1/features/fake/test", "").Code).To(Equal(http.StatusOK))

		w := do(http.MethodPost, "/api/v1/features/github/test", `{"id":"app","kind":"git","url":"https://github.com/owner/app.git"}`)
		Expect(w.Code).To(Equal(http.StatusBadGateway))
		Expect(gjson.Get(w.Body.String(), "error").String()).To(ContainSubstring("Bad credentials"))

		Expect(do(http.MethodPost, "/api/v1/features/missing/test", "").Code).To(Equal(http.StatusNotFound))
		Expect(do(http.MethodPost, "/api/v1/features/github/test", `{"url":`).Code).To(Equal(http.StatusBadRequest))
	})

	It("answers health checks", func() {
		w := do(http.MethodGet, "/healthz", "")
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(Equal(`"ok"`))
	})

	It("accepts any payload size when the limit is disabled", func() {
		handler = webhookreceiver.NewWebhookReceiver(nil, store, nil, 0).Handler()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/events", bytes.NewReader([]byte(`{"event":"nope","comment":"`+strings.Repeat("x", 5000)+`"}`)))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})
})
