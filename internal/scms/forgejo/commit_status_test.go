package forgejo_test

import (
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/tidwall/gjson"

	"github.com/argoproj-labs/commit-status-publisher/api/v1alpha1"
	"github.com/argoproj-labs/commit-status-publisher/internal/repository"
	"github.com/argoproj-labs/commit-status-publisher/internal/scms"
	"github.com/argoproj-labs/commit-status-publisher/internal/scms/forgejo"
)

var _ = Describe("Dialect", func() {
	dialect := forgejo.NewDialect("https://forgejo.example.com/")

	It("posts to the repository statuses endpoint", func() {
		req, err := dialect.Request(&scms.Status{
			Event:       scms.Event{Kind: scms.EventQueued, Revision: v1alpha1.Revision{Hash: "abc123"}},
			Phase:       scms.PhasePending,
			State:       "pending",
			Repository:  &repository.Repository{Owner: "owner", Name: "project"},
			Context:     "Project / Tests",
			Description: "Build queued",
			TargetURL:   "https://ci.example.com/build/1",
		})
		Expect(err).NotTo(HaveOccurred())

		Expect(req.Method).To(Equal(http.MethodPost))
		Expect(req.URL).To(Equal("https://forgejo.example.com/api/v1/repos/owner/project/statuses/abc123"))
		Expect(gjson.GetBytes(req.Body, "state").String()).To(Equal("pending"))
		Expect(gjson.GetBytes(req.Body, "context").String()).To(Equal("Project / Tests"))
		Expect(gjson.GetBytes(req.Body, "description").String()).To(Equal("Build queued"))
		Expect(gjson.GetBytes(req.Body, "target_url").String()).To(Equal("https://ci.example.com/build/1"))
	})

	It("maps phases to commit status states", func() {
		Expect(dialect.Validate()).To(Succeed())
		for phase, expected := range map[scms.Phase]string{
			scms.PhasePending:  "pending",
			scms.PhaseRunning:  "pending",
			scms.PhaseSuccess:  "success",
			scms.PhaseFailure:  "failure",
			scms.PhaseCanceled: "error",
		} {
			state, ok := dialect.State(phase)
			Expect(ok).To(BeTrue())
			Expect(state).To(Equal(expected))
		}
	})

	It("probes the repository", func() {
		req, err := dialect.Probe(&repository.Repository{Owner: "owner", Name: "project"})
		Expect(err).NotTo(HaveOccurred())
		Expect(req.Method).To(Equal(http.MethodGet))
		Expect(req.URL).To(Equal("https://forgejo.example.com/api/v1/repos/owner/project"))
	})
})
