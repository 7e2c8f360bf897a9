package demo_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/argoproj-labs/commit-status-publisher/cmd/demo"
	"github.com/argoproj-labs/commit-status-publisher/internal/scms"
)

var _ = Describe("Demo", func() {
	BeforeEach(func() {
		color.NoColor = true
	})

	It("replays the default scenario in order", func() {
		statuses, problemList, err := demo.Run(context.Background(), demo.DefaultScenario())
		Expect(err).NotTo(HaveOccurred())
		Expect(problemList).To(BeEmpty())

		Expect(statuses).To(HaveLen(4))
		Expect(statuses[0].Phase).To(Equal(scms.PhasePending))
		Expect(statuses[0].Description).To(Equal("Build queued"))
		Expect(statuses[1].Phase).To(Equal(scms.PhaseRunning))
		Expect(statuses[2].Phase).To(Equal(scms.PhaseSuccess))
		Expect(statuses[2].Description).To(Equal("Tests passed: 120"))
		Expect(statuses[3].Event).To(Equal(scms.EventCommented))
		Expect(statuses[3].Description).To(ContainSubstring(`with a comment by alice: "verified on staging"`))
		for _, status := range statuses {
			Expect(status.Repository).To(Equal("example/demo"))
			Expect(status.Context).To(Equal("Demo / Tests"))
		}
	})

	It("loads scenarios from yaml", func() {
		path := filepath.Join(GinkgoT().TempDir(), "scenario.yaml")
		Expect(os.WriteFile(path, []byte(`
context: "ci/{{ .Build.TypeID }}"
events:
  - event: started
    build:
      id: "7"
      typeId: Nightly
    revisions:
      - revision: abc123
        vcsRoot:
          id: root
          kind: git
          url: git@github.com:owner/project.git
`), 0o600)).To(Succeed())

		scenario, err := demo.LoadScenario(path)
		Expect(err).NotTo(HaveOccurred())

		statuses, _, err := demo.Run(context.Background(), scenario)
		Expect(err).NotTo(HaveOccurred())
		Expect(statuses).To(HaveLen(1))
		Expect(statuses[0].Context).To(Equal("ci/Nightly"))
		Expect(statuses[0].Repository).To(Equal("owner/project"))
	})

	It("rejects scenarios without events", func() {
		path := filepath.Join(GinkgoT().TempDir(), "empty.yaml")
		Expect(os.WriteFile(path, []byte("context: x\n"), 0o600)).To(Succeed())

		_, err := demo.LoadScenario(path)
		Expect(err).To(MatchError(ContainSubstring("has no events")))
	})

	It("reports unknown events", func() {
		scenario := demo.DefaultScenario()
		scenario.Events[0].Event = "exploded"

		_, _, err := demo.Run(context.Background(), scenario)
		Expect(err).To(MatchError(ContainSubstring(`unknown build event "exploded"`)))
	})

	It("prints text and yaml", func() {
		statuses, problemList, err := demo.Run(context.Background(), demo.DefaultScenario())
		Expect(err).NotTo(HaveOccurred())

		var text bytes.Buffer
		Expect(demo.Print(&text, "text", statuses, problemList)).To(Succeed())
		Expect(text.String()).To(ContainSubstring("3f786850 Demo / Tests: Build started"))

		var out bytes.Buffer
		Expect(demo.Print(&out, "yaml", statuses, problemList)).To(Succeed())
		Expect(out.String()).To(ContainSubstring("statuses:"))

		Expect(demo.Print(&out, "json", statuses, problemList)).To(MatchError(`unknown output format "json"`))
	})
})
