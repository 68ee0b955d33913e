// Package reporting renders a human readable summary of the results written
// during a run.
package reporting

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-allure/allure"
)

// noSuite labels results that carry no parent suite label
const noSuite = "(root)"

// Stats counts test results by outcome.
type Stats struct {
	Total   int
	Passed  int
	Failed  int
	Broken  int
	Skipped int
}

// HasFailures reports whether any test failed or broke
func (s Stats) HasFailures() bool {
	return s.Failed > 0 || s.Broken > 0
}

func (s *Stats) add(status allure.Status) {
	s.Total++
	switch status {
	case allure.StatusPassed:
		s.Passed++
	case allure.StatusFailed:
		s.Failed++
	case allure.StatusBroken:
		s.Broken++
	case allure.StatusSkipped:
		s.Skipped++
	}
}

func (s Stats) status() string {
	switch {
	case s.HasFailures():
		return "FAIL"
	case s.Skipped > 0:
		return "SKIP"
	default:
		return "PASS"
	}
}

type suiteSummary struct {
	name     string
	stats    Stats
	duration time.Duration
	failures []failure
}

type failure struct {
	name    string
	status  allure.Status
	message string
}

// SummarySink collects finalized tests per parent suite. It implements
// allure.Writer; only results are of interest.
type SummarySink struct {
	title        string
	showFailures bool

	mu     sync.Mutex
	suites map[string]*suiteSummary
	order  []string
	stats  Stats
	seen   map[string]struct{}
}

var _ allure.Writer = (*SummarySink)(nil)

// NewSummarySink creates a sink whose table carries title. With
// showFailures, failed and broken tests are listed below the table.
func NewSummarySink(title string, showFailures bool) *SummarySink {
	return &SummarySink{
		title:        title,
		showFailures: showFailures,
		suites:       make(map[string]*suiteSummary),
		seen:         make(map[string]struct{}),
	}
}

func (s *SummarySink) WriteResult(result *allure.TestResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[result.UUID]; ok {
		return nil
	}
	s.seen[result.UUID] = struct{}{}

	name := result.LabelValue(allure.LabelParentSuite)
	if name == "" {
		name = noSuite
	}
	suite, ok := s.suites[name]
	if !ok {
		suite = &suiteSummary{name: name}
		s.suites[name] = suite
		s.order = append(s.order, name)
	}

	suite.stats.add(result.Status)
	s.stats.add(result.Status)
	if result.Stop > result.Start {
		suite.duration += time.Duration(result.Stop-result.Start) * time.Millisecond
	}
	if result.Status == allure.StatusFailed || result.Status == allure.StatusBroken {
		suite.failures = append(suite.failures, failure{
			name:    testTitle(result),
			status:  result.Status,
			message: result.StatusDetails.Message,
		})
	}
	return nil
}

func (s *SummarySink) WriteContainer(*allure.TestResultContainer) error { return nil }

func (s *SummarySink) WriteAttachment(string, []byte) error { return nil }

func (s *SummarySink) WriteCategories([]allure.Category) error { return nil }

func (s *SummarySink) WriteEnvironmentInfo(*allure.Environment) error { return nil }

// Stats returns the totals over every collected result.
func (s *SummarySink) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Format renders the summary table.
func (s *SummarySink) Format() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var buf bytes.Buffer

	t := table.NewWriter()
	t.SetOutputMirror(&buf)
	t.SetTitle(s.title)

	t.AppendHeader(table.Row{
		"Suite", "Duration", "Tests", "Passed", "Failed", "Broken", "Skipped", "Status",
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Suite", WidthMax: 120, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Tests", Align: text.AlignRight},
		{Name: "Passed", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
		{Name: "Broken", Align: text.AlignRight},
		{Name: "Skipped", Align: text.AlignRight},
	})

	var total time.Duration
	for _, name := range s.order {
		suite := s.suites[name]
		total += suite.duration
		t.AppendRow(table.Row{
			suite.name,
			formatDuration(suite.duration),
			suite.stats.Total,
			suite.stats.Passed,
			suite.stats.Failed,
			suite.stats.Broken,
			suite.stats.Skipped,
			suite.stats.status(),
		})
	}

	switch {
	case s.stats.HasFailures():
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	case s.stats.Skipped > 0:
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	}

	t.AppendFooter(table.Row{
		"TOTAL",
		formatDuration(total),
		s.stats.Total,
		s.stats.Passed,
		s.stats.Failed,
		s.stats.Broken,
		s.stats.Skipped,
		s.stats.status(),
	})
	t.Render()

	if s.showFailures {
		s.formatFailures(&buf)
	}
	return buf.String()
}

func (s *SummarySink) formatFailures(w io.Writer) {
	first := true
	for _, name := range s.order {
		for _, f := range s.suites[name].failures {
			if first {
				fmt.Fprintln(w, "\nFailures:")
				first = false
			}
			message := f.message
			if i := strings.IndexByte(message, '\n'); i >= 0 {
				message = message[:i]
			}
			fmt.Fprintf(w, "  %s %s: %s\n", strings.ToUpper(string(f.status)), f.name, message)
		}
	}
}

// Render writes the summary table to w.
func (s *SummarySink) Render(w io.Writer) error {
	_, err := io.WriteString(w, s.Format())
	return err
}

// testTitle prefers the full name, which carries every enclosing group.
func testTitle(result *allure.TestResult) string {
	if result.FullName != "" {
		return result.FullName
	}
	return result.Name
}

// formatDuration formats a duration for display
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Truncate(time.Millisecond).String()
}
