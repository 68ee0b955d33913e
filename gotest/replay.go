package gotest

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	reporter "github.com/ethereum-optimism/infra/op-allure"
	"github.com/ethereum-optimism/infra/op-allure/allure"
	"github.com/ethereum-optimism/infra/op-allure/testlist"
	"github.com/ethereum-optimism/infra/op-allure/types"
)

const (
	// ThrowMatcher is left empty so a panic ranks above assertion failures.
	ThrowMatcher     = ""
	AssertionMatcher = "testing.T"
	OutputAttachment = "output"
	UnfinishedReason = "test did not finish"
	packageTestName  = "(package)"
)

// Replayer turns collected packages into reporter calls: a package becomes a
// group, a test with subtests becomes a nested group, and every leaf test is
// reported as a test.
type Replayer struct {
	r          *reporter.Reporter
	log        log.Logger
	tracer     trace.Tracer
	modulePath string
	sources    SourceLocator
}

// SourceLocator finds the file declaring a test function.
type SourceLocator interface {
	Root() string
	Lookup(pkgPath, testName string) (testlist.Location, bool, error)
}

type ReplayerOption func(*Replayer)

// WithModulePath reports packages relative to modulePath.
func WithModulePath(modulePath string) ReplayerOption {
	return func(rp *Replayer) { rp.modulePath = modulePath }
}

// WithSourceLocator records the declaring file of each test as its test path
// parameter.
func WithSourceLocator(sources SourceLocator) ReplayerOption {
	return func(rp *Replayer) { rp.sources = sources }
}

func WithTracer(tracer trace.Tracer) ReplayerOption {
	return func(rp *Replayer) { rp.tracer = tracer }
}

func NewReplayer(r *reporter.Reporter, logger log.Logger, opts ...ReplayerOption) *Replayer {
	rp := &Replayer{
		r:      r,
		log:    logger,
		tracer: otel.Tracer("github.com/ethereum-optimism/infra/op-allure/gotest"),
	}
	for _, opt := range opts {
		opt(rp)
	}
	return rp
}

// PackageName shortens a package import path relative to the module path.
func (rp *Replayer) PackageName(path string) string {
	if rp.modulePath == "" {
		return path
	}
	if path == rp.modulePath {
		return path[strings.LastIndex(path, "/")+1:]
	}
	if rel, ok := strings.CutPrefix(path, rp.modulePath+"/"); ok {
		return rel
	}
	return path
}

// Replay reports one package. Packages without tests are skipped unless they
// failed, in which case a single broken test carries the package output.
func (rp *Replayer) Replay(ctx context.Context, pkg *Package) error {
	if len(pkg.Tests) == 0 && pkg.Action != ActionFail && pkg.Action != "" {
		rp.log.Debug("Skipping package without tests", "package", pkg.Path, "action", pkg.Action)
		return nil
	}

	_, span := rp.tracer.Start(ctx, "replay package", trace.WithAttributes(
		attribute.String("package", pkg.Path),
		attribute.String("action", pkg.Action),
		attribute.Int("tests", len(pkg.Tests)),
	))
	defer span.End()

	if err := rp.replayPackage(pkg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to report package %s: %w", pkg.Path, err)
	}
	return nil
}

func (rp *Replayer) replayPackage(pkg *Package) error {
	if err := rp.r.StartGroup(rp.PackageName(pkg.Path), reporter.AsSegment()); err != nil {
		return err
	}

	if len(pkg.Tests) == 0 {
		if err := rp.reportPackageFailure(pkg); err != nil {
			return err
		}
	}
	for _, n := range buildTree(pkg.Tests) {
		if err := rp.replayNode(pkg, n); err != nil {
			return err
		}
	}

	return rp.r.EndGroup()
}

func (rp *Replayer) replayNode(pkg *Package, n *node) error {
	if len(n.children) == 0 {
		return rp.reportTest(pkg, n.test, n.test.Segment())
	}

	if err := rp.r.StartGroup(n.test.Segment(), reporter.AsSegment()); err != nil {
		return err
	}
	for _, child := range n.children {
		if err := rp.replayNode(pkg, child); err != nil {
			return err
		}
	}
	// A parent failing on its own (not through a subtest) is reported
	// alongside its subtests so the failure is not lost.
	if n.test.Action != ActionPass && !n.descendantFailed() {
		if err := rp.reportTest(pkg, n.test, n.test.Segment()); err != nil {
			return err
		}
	}
	return rp.r.EndGroup()
}

func (rp *Replayer) reportTest(pkg *Package, t *Test, description string) error {
	err := rp.r.StartTest(types.TestStart{
		Description: description,
		FullName:    pkg.Path + "." + t.Name,
		Start:       t.Start,
	})
	if err != nil {
		return err
	}

	rp.r.Language("go").
		Framework("testing").
		TestClass(pkg.Path).
		TestMethod(t.Name)
	rp.addTestPath(pkg, t)
	if output := strings.Join(t.Output, ""); strings.TrimSpace(output) != "" {
		rp.r.AddTestAttachment(OutputAttachment, []byte(output), allure.ContentTypeText)
	}
	if err := rp.r.Err(); err != nil {
		return err
	}

	return rp.r.EndTest(testEnd(t))
}

func (rp *Replayer) addTestPath(pkg *Package, t *Test) {
	if rp.sources == nil {
		return
	}
	loc, ok, err := rp.sources.Lookup(pkg.Path, t.Name)
	if err != nil {
		rp.log.Warn("Failed to locate test source", "package", pkg.Path, "test", t.Name, "err", err)
		return
	}
	if ok {
		rp.r.AddTestPathParameter(rp.sources.Root(), loc.File)
	}
}

func (rp *Replayer) reportPackageFailure(pkg *Package) error {
	t := &Test{
		Name:   packageTestName,
		Start:  pkg.Start,
		End:    pkg.End,
		Output: pkg.Output,
	}
	if err := rp.r.StartTest(types.TestStart{
		Description: packageTestName,
		FullName:    pkg.Path,
		Start:       t.Start,
	}); err != nil {
		return err
	}
	if output := strings.Join(t.Output, ""); strings.TrimSpace(output) != "" {
		rp.r.AddTestAttachment(OutputAttachment, []byte(output), allure.ContentTypeText)
	}
	if err := rp.r.Err(); err != nil {
		return err
	}

	lines := cleanOutput(t.Output)
	message := "package failed"
	if len(lines) > 0 {
		message = lines[0]
	}
	return rp.r.EndTest(types.TestEnd{
		Status: types.StatusBroken,
		FailedExpectations: []types.FailedExpectation{{
			MatcherName: ThrowMatcher,
			Message:     message,
			Stack:       strings.Join(lines, "\n"),
		}},
		Stop: t.End,
	})
}

// testEnd maps the Go test outcome onto the runner status vocabulary.
func testEnd(t *Test) types.TestEnd {
	end := types.TestEnd{Stop: t.End}
	lines := cleanOutput(t.Output)
	switch t.Action {
	case ActionPass:
		end.Status = types.StatusPassed
	case ActionFail:
		end.Status = types.StatusFailed
		end.FailedExpectations = failureExpectations(lines)
	case ActionSkip:
		end.Status = types.StatusPending
		end.PendingReason = strings.Join(lines, "\n")
	default:
		end.Status = types.StatusBroken
		end.FailedExpectations = []types.FailedExpectation{{
			MatcherName: ThrowMatcher,
			Message:     UnfinishedReason,
			Stack:       strings.Join(lines, "\n"),
		}}
	}
	return end
}

// failureExpectations derives expectations from failing test output. A panic
// is reported as an uncaught error starting at the panic line; otherwise the
// first output line is the message and the full output the trace.
func failureExpectations(lines []string) []types.FailedExpectation {
	if len(lines) == 0 {
		return nil
	}
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "panic:") {
			return []types.FailedExpectation{expectation(ThrowMatcher, lines[i:])}
		}
	}
	return []types.FailedExpectation{expectation(AssertionMatcher, lines)}
}

// expectation uses the first line, without its indentation, as the message
// and keeps the layout of the lines after it in the stack.
func expectation(matcher string, lines []string) types.FailedExpectation {
	message := strings.TrimSpace(lines[0])
	stack := message
	if len(lines) > 1 {
		stack += "\n" + strings.Join(lines[1:], "\n")
	}
	return types.FailedExpectation{
		MatcherName: matcher,
		Message:     message,
		Stack:       stack,
	}
}

var framingPrefixes = []string{
	"=== RUN", "=== PAUSE", "=== CONT", "=== NAME",
	"--- PASS", "--- FAIL", "--- SKIP",
}

// cleanOutput drops the framing lines go test writes around each test and
// blank lines. The indentation go test adds to every log line of a subtest
// is removed; deeper indentation, such as the tabs before goroutine frames
// in a panic, is kept.
func cleanOutput(output []string) []string {
	var lines []string
	for _, raw := range output {
		for _, line := range strings.Split(strings.TrimRight(raw, "\n"), "\n") {
			line = strings.TrimRight(line, " \t\r")
			if line == "" || isFraming(strings.TrimLeft(line, " \t")) {
				continue
			}
			lines = append(lines, line)
		}
	}

	indent := -1
	for _, line := range lines {
		n := len(line) - len(strings.TrimLeft(line, " "))
		if indent < 0 || n < indent {
			indent = n
		}
	}
	for i, line := range lines {
		lines[i] = line[indent:]
	}
	return lines
}

func isFraming(line string) bool {
	for _, prefix := range framingPrefixes {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

type node struct {
	test     *Test
	children []*node
}

func (n *node) descendantFailed() bool {
	for _, c := range n.children {
		if c.test.Action == ActionFail || !c.test.Finished() || c.descendantFailed() {
			return true
		}
	}
	return false
}

// buildTree nests tests under their closest collected parent, keeping
// first-seen order.
func buildTree(tests []*Test) []*node {
	nodes := make(map[string]*node, len(tests))
	var roots []*node
	for _, t := range tests {
		n := &node{test: t}
		nodes[t.Name] = n

		var parent *node
		for name := t.Name; parent == nil; {
			i := strings.LastIndex(name, "/")
			if i < 0 {
				break
			}
			name = name[:i]
			parent = nodes[name]
		}
		if parent != nil {
			parent.children = append(parent.children, n)
		} else {
			roots = append(roots, n)
		}
	}
	return roots
}
