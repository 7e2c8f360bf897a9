package swarm_test

import (
	"net/http"
	"net/url"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/argoproj-labs/commit-status-publisher/api/v1alpha1"
	"github.com/argoproj-labs/commit-status-publisher/internal/scms"
	"github.com/argoproj-labs/commit-status-publisher/internal/scms/swarm"
)

var _ = Describe("Dialect", func() {
	var status *scms.Status
	dialect := swarm.NewDialect("https://swarm.example.com/")

	BeforeEach(func() {
		status = &scms.Status{
			Event: scms.Event{
				Kind:     scms.EventFinished,
				Revision: v1alpha1.Revision{Hash: "4711", Changelist: "1234", Root: v1alpha1.VcsRoot{Name: "depot"}},
			},
			Phase:       scms.PhaseFailure,
			State:       "failed",
			Context:     "Project / Tests",
			Description: "Tests failed: 3 & more",
			TargetURL:   "https://ci.example.com/build/1",
		}
	})

	It("comments on the changelist", func() {
		req, err := dialect.Request(status)
		Expect(err).NotTo(HaveOccurred())
		Expect(req.Method).To(Equal(http.MethodPost))
		Expect(req.URL).To(Equal("https://swarm.example.com/api/v9/comments"))
		Expect(req.ContentType).To(Equal("application/x-www-form-urlencoded"))

		form, err := url.ParseQuery(string(req.Body))
		Expect(err).NotTo(HaveOccurred())
		Expect(form.Get("topic")).To(Equal("changes/1234"))
		Expect(form.Get("body")).To(Equal("[Project / Tests] failed: Tests failed: 3 & more\nhttps://ci.example.com/build/1"))
	})

	It("falls back to the revision when there is no changelist", func() {
		status.Event.Revision.Changelist = ""
		req, err := dialect.Request(status)
		Expect(err).NotTo(HaveOccurred())
		form, err := url.ParseQuery(string(req.Body))
		Expect(err).NotTo(HaveOccurred())
		Expect(form.Get("topic")).To(Equal("changes/4711"))
	})

	It("refuses revisions without a change", func() {
		status.Event.Revision = v1alpha1.Revision{Root: v1alpha1.VcsRoot{Name: "depot"}}
		_, err := dialect.Request(status)
		Expect(err).To(MatchError(ContainSubstring(`VCS root "depot"`)))
	})

	It("only reports lifecycle transitions", func() {
		Expect(dialect.Validate()).To(Succeed())
		Expect(dialect.NoRepository).To(BeTrue())
		Expect(dialect.Supports(scms.EventStarted)).To(BeTrue())
		Expect(dialect.Supports(scms.EventRemovedFromQueue)).To(BeTrue())
		Expect(dialect.Supports(scms.EventCommented)).To(BeFalse())
		Expect(dialect.Supports(scms.EventMarkedAsSuccessful)).To(BeFalse())
	})

	It("probes the api version", func() {
		req, err := dialect.Probe(nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(req.Method).To(Equal(http.MethodGet))
		Expect(req.URL).To(Equal("https://swarm.example.com/api/version"))
	})
})
