// Package ginkgoreport reports Ginkgo v2 suite reports through a
// reporter.Reporter.
//
// From inside a suite:
//
//	var _ = ReportAfterSuite("allure", func(report Report) {
//		Expect(ginkgoreport.Report(r, report)).To(Succeed())
//	})
//
// or offline, from the file written by 'ginkgo --json-report', using
// ReadReports.
package ginkgoreport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	ginkgotypes "github.com/onsi/ginkgo/v2/types"

	reporter "github.com/ethereum-optimism/infra/op-allure"
	"github.com/ethereum-optimism/infra/op-allure/allure"
	"github.com/ethereum-optimism/infra/op-allure/types"
)

const (
	// PanicMatcher is empty so a panic ranks above assertion failures.
	PanicMatcher     = ""
	AssertionMatcher = "gomega"

	GinkgoWriterAttachment = "GinkgoWriter output"
	StdOutErrAttachment    = "stdout and stderr"
	ReportEntryParameter   = "value"
)

type options struct {
	log log.Logger
}

type Option func(*options)

func WithLogger(l log.Logger) Option {
	return func(o *options) { o.log = l }
}

// ReadReports decodes the array of suite reports written by
// 'ginkgo --json-report'.
func ReadReports(r io.Reader) ([]ginkgotypes.Report, error) {
	var reports []ginkgotypes.Report
	if err := json.NewDecoder(r).Decode(&reports); err != nil {
		return nil, fmt.Errorf("failed to decode ginkgo report: %w", err)
	}
	return reports, nil
}

// Report replays one suite: the suite becomes the root group, containers
// become nested groups and It specs become tests. Failed suite-level nodes
// (BeforeSuite and friends) are reported as broken tests in the root group so
// the failure stays visible.
func Report(r *reporter.Reporter, report ginkgotypes.Report, opts ...Option) error {
	o := options{log: log.Root()}
	for _, opt := range opts {
		opt(&o)
	}

	suite := report.SuiteDescription
	if suite == "" {
		suite = filepath.Base(report.SuitePath)
	}
	o.log.Debug("Reporting ginkgo suite", "suite", suite, "specs", len(report.SpecReports))

	root := &container{}
	for _, spec := range report.SpecReports {
		switch {
		case spec.LeafNodeType == ginkgotypes.NodeTypeIt:
			root.add(spec.ContainerHierarchyTexts, spec)
		case spec.Failed():
			root.specs = append(root.specs, spec)
		default:
			o.log.Debug("Skipping spec report", "type", spec.LeafNodeType.String(), "state", spec.State.String())
		}
	}

	sr := &suiteReporter{r: r, log: o.log, report: report, suite: suite}
	if err := r.StartGroup(suite, reporter.AsSegment()); err != nil {
		return err
	}
	if err := sr.replay(root); err != nil {
		return fmt.Errorf("failed to report suite %q: %w", suite, err)
	}
	return r.EndGroup()
}

// container is a node of the container hierarchy in first-seen order.
type container struct {
	name     string
	specs    []ginkgotypes.SpecReport
	children []*container
	byName   map[string]*container
}

func (c *container) add(path []string, spec ginkgotypes.SpecReport) {
	if len(path) == 0 {
		c.specs = append(c.specs, spec)
		return
	}
	if c.byName == nil {
		c.byName = make(map[string]*container)
	}
	child, ok := c.byName[path[0]]
	if !ok {
		child = &container{name: path[0]}
		c.byName[path[0]] = child
		c.children = append(c.children, child)
	}
	child.add(path[1:], spec)
}

type suiteReporter struct {
	r      *reporter.Reporter
	log    log.Logger
	report ginkgotypes.Report
	suite  string
}

func (sr *suiteReporter) replay(c *container) error {
	for _, spec := range c.specs {
		if err := sr.reportSpec(spec); err != nil {
			return err
		}
	}
	for _, child := range c.children {
		if err := sr.r.StartGroup(child.name, reporter.AsSegment()); err != nil {
			return err
		}
		if err := sr.replay(child); err != nil {
			return err
		}
		if err := sr.r.EndGroup(); err != nil {
			return err
		}
	}
	return nil
}

func (sr *suiteReporter) reportSpec(spec ginkgotypes.SpecReport) error {
	title := spec.LeafNodeText
	if spec.LeafNodeType != ginkgotypes.NodeTypeIt || title == "" {
		title = spec.LeafNodeType.String()
	}

	start := types.TestStart{
		Description: title,
		FullName:    strings.TrimSpace(sr.suite + " " + spec.FullText()),
		TestPath:    spec.LeafNodeLocation.FileName,
		Start:       spec.StartTime,
	}
	if spec.ParallelProcess > 0 {
		start.Thread = strconv.Itoa(spec.ParallelProcess)
	}
	if err := sr.r.StartTest(start); err != nil {
		return err
	}

	sr.r.Framework("ginkgo").Language("go")
	for _, label := range append(append([]string(nil), sr.report.SuiteLabels...), spec.Labels()...) {
		sr.r.Tag(label)
	}
	if filepath.IsAbs(sr.report.SuitePath) && filepath.IsAbs(start.TestPath) {
		sr.r.AddTestPathParameter(sr.report.SuitePath, start.TestPath)
	}
	if spec.CapturedGinkgoWriterOutput != "" {
		sr.r.AddTestAttachment(GinkgoWriterAttachment, []byte(spec.CapturedGinkgoWriterOutput), allure.ContentTypeText)
	}
	if spec.CapturedStdOutErr != "" {
		sr.r.AddTestAttachment(StdOutErrAttachment, []byte(spec.CapturedStdOutErr), allure.ContentTypeText)
	}
	if err := sr.r.Err(); err != nil {
		return err
	}

	for _, entry := range spec.ReportEntries {
		if err := sr.reportEntry(entry); err != nil {
			return err
		}
	}

	return sr.r.EndTest(testEnd(spec))
}

// reportEntry records an AddReportEntry call as a passed step.
func (sr *suiteReporter) reportEntry(entry ginkgotypes.ReportEntry) error {
	if _, err := sr.r.StartStep(entry.Name, reporter.WithStart(entry.Time)); err != nil {
		return err
	}
	if value := entry.StringRepresentation(); value != "" {
		sr.r.AddParameter(ReportEntryParameter, value)
	}
	sr.r.EndStep(reporter.WithStatus(allure.StatusPassed), reporter.WithEnd(entry.Time))
	return sr.r.Err()
}

var errUnknownState = errors.New("unknown spec state")

// testEnd maps the Ginkgo spec state onto the runner status vocabulary.
func testEnd(spec ginkgotypes.SpecReport) types.TestEnd {
	end := types.TestEnd{Stop: spec.EndTime}
	switch spec.State {
	case ginkgotypes.SpecStatePassed:
		end.Status = types.StatusPassed
	case ginkgotypes.SpecStateFailed:
		end.Status = types.StatusFailed
		end.FailedExpectations = failureExpectations(spec)
	case ginkgotypes.SpecStatePanicked, ginkgotypes.SpecStateInterrupted,
		ginkgotypes.SpecStateAborted, ginkgotypes.SpecStateTimedout:
		end.Status = types.StatusBroken
		end.FailedExpectations = failureExpectations(spec)
	case ginkgotypes.SpecStatePending:
		end.Status = types.StatusPending
	case ginkgotypes.SpecStateSkipped:
		end.Status = types.StatusPending
		end.PendingReason = spec.Failure.Message
	default:
		end.Status = types.StatusBroken
		end.FailedExpectations = []types.FailedExpectation{{
			MatcherName: PanicMatcher,
			Message:     fmt.Sprintf("%s: %s", errUnknownState, spec.State.String()),
		}}
	}
	return end
}

// failureExpectations converts the primary failure and any additional
// failures. Panics and failures outside an assertion (timeouts, interrupts)
// are reported as uncaught errors.
func failureExpectations(spec ginkgotypes.SpecReport) []types.FailedExpectation {
	matcher := AssertionMatcher
	if spec.State != ginkgotypes.SpecStateFailed || spec.Failure.ForwardedPanic != "" {
		matcher = PanicMatcher
	}

	expectations := []types.FailedExpectation{expectation(matcher, spec.Failure, spec.State)}
	for _, additional := range spec.AdditionalFailures {
		expectations = append(expectations, expectation(AssertionMatcher, additional.Failure, additional.State))
	}
	return expectations
}

func expectation(matcher string, f ginkgotypes.Failure, state ginkgotypes.SpecState) types.FailedExpectation {
	message := f.Message
	switch {
	case f.ForwardedPanic != "" && message != "":
		message += ": " + f.ForwardedPanic
	case f.ForwardedPanic != "":
		message = f.ForwardedPanic
	}
	if message == "" {
		message = "spec " + state.String()
	}

	lines := []string{message}
	if f.Location.FileName != "" {
		lines = append(lines, f.Location.String())
	}
	if f.Location.FullStackTrace != "" {
		lines = append(lines, strings.TrimRight(f.Location.FullStackTrace, "\n"))
	}
	return types.FailedExpectation{
		MatcherName: matcher,
		Message:     message,
		Stack:       strings.Join(lines, "\n"),
	}
}
