// Package reporter translates test runner lifecycle callbacks into Allure
// report entities.
//
// A Reporter keeps three stacks mirroring the runner's nesting: open groups
// (with their display names), the single active test, and open steps. Starts
// must be well formed and fail with a descriptive error otherwise; excess step
// ends are logged and ignored.
//
// A Reporter is driven by one sequential callback stream and is not safe for
// concurrent use. Parallel workers each own an instance.
package reporter

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-allure/allure"
	"github.com/ethereum-optimism/infra/op-allure/types"
)

const (
	// DefaultSkipReason is the details message of a skipped test without an explicit reason.
	DefaultSkipReason = "Suite disabled"

	groupSeparator   = "."
	overflowJoin     = " > "
	overflowBoundary = " \n >> "
	stepTimeLayout   = "2006-01-02 15:04:05.000"
)

// Reporter is the state tracker between a test runner and an allure.Runtime.
type Reporter struct {
	rt  *allure.Runtime
	log log.Logger

	workerID string
	issueURL string
	tmsURL   string

	groups     []*allure.Group
	groupNames []string
	test       *allure.Test
	steps      []*allure.Step

	environment   *allure.Environment
	defaultLabels []allure.Label
	errs          []error
}

// New creates a Reporter writing through rt. Only the WorkerID, IssueURL,
// TMSURL and Log fields of cfg are used.
func New(rt *allure.Runtime, cfg *Config) *Reporter {
	if cfg == nil {
		cfg = &Config{}
	}
	logger := cfg.Log
	if logger == nil {
		logger = log.Root()
	}
	return &Reporter{
		rt:          rt,
		log:         logger,
		workerID:    cfg.WorkerID,
		issueURL:    cfg.IssueURL,
		tmsURL:      cfg.TMSURL,
		environment: allure.NewEnvironment(),
	}
}

// CurrentGroup returns the innermost open group.
func (r *Reporter) CurrentGroup() (*allure.Group, error) {
	if len(r.groups) == 0 {
		return nil, ErrNoActiveGroup
	}
	return r.groups[len(r.groups)-1], nil
}

// CurrentTest returns the active test.
func (r *Reporter) CurrentTest() (*allure.Test, error) {
	if r.test == nil {
		return nil, ErrNoActiveTest
	}
	return r.test, nil
}

// CurrentStep returns the innermost open step, or nil.
func (r *Reporter) CurrentStep() *allure.Step {
	if len(r.steps) == 0 {
		return nil
	}
	return r.steps[len(r.steps)-1]
}

// currentExecutable is the innermost open step, else the active test.
func (r *Reporter) currentExecutable() (allure.Executable, error) {
	if step := r.CurrentStep(); step != nil {
		return step, nil
	}
	return r.CurrentTest()
}

// GroupDepth returns the number of open groups.
func (r *Reporter) GroupDepth() int { return len(r.groups) }

// StepDepth returns the number of open steps.
func (r *Reporter) StepDepth() int { return len(r.steps) }

// GroupNames returns the display names of the open groups, outermost first.
func (r *Reporter) GroupNames() []string {
	return append([]string(nil), r.groupNames...)
}

type groupOptions struct {
	segment bool
}

// GroupOption configures StartGroup.
type GroupOption func(*groupOptions)

// AsSegment marks name as the group's own segment rather than a path
// concatenated with its ancestors, so no ancestor prefix is stripped.
func AsSegment() GroupOption {
	return func(o *groupOptions) { o.segment = true }
}

// StartGroup opens a group nested in the current one.
func (r *Reporter) StartGroup(name string, opts ...GroupOption) error {
	if name == "" {
		r.log.Warn("Refusing to start group without a name", "depth", len(r.groups))
		return ErrEmptyGroupName
	}

	var group *allure.Group
	if parent, err := r.CurrentGroup(); err == nil {
		group = parent.StartGroup(name)
	} else {
		group = r.rt.StartGroup(name)
	}

	var o groupOptions
	for _, opt := range opts {
		opt(&o)
	}
	displayName := name
	if !o.segment {
		displayName = r.groupDisplayName(name)
	}
	r.groups = append(r.groups, group)
	r.groupNames = append(r.groupNames, displayName)
	r.log.Debug("Started group", "name", name, "display", displayName, "depth", len(r.groups))
	return nil
}

// groupDisplayName strips the longest ancestor name that prefixes name, so a
// runner passing concatenated full paths still yields the group's own segment.
func (r *Reporter) groupDisplayName(name string) string {
	for i := len(r.groups) - 1; i >= 0; i-- {
		ancestor := r.groups[i].Name()
		if ancestor != "" && ancestor != name && strings.HasPrefix(name, ancestor) {
			return strings.TrimPrefix(name, ancestor)
		}
	}
	return name
}

// StartTest opens a test in the current group.
func (r *Reporter) StartTest(start types.TestStart) error {
	if err := start.Validate(); err != nil {
		return fmt.Errorf("start test: %w", err)
	}
	group, err := r.CurrentGroup()
	if err != nil {
		return fmt.Errorf("start test %q: %w", start.Description, err)
	}
	if r.test != nil {
		return fmt.Errorf("start test %q while %q is running: %w", start.Description, r.test.Name(), ErrTestAlreadyActive)
	}

	test := group.StartTest(start.Description, start.Start)
	test.SetFullName(start.FullName)

	thread := start.Thread
	if thread == "" {
		thread = r.workerID
	}
	if thread != "" {
		test.AddLabel(allure.LabelThread, thread)
	}
	for _, label := range r.defaultLabels {
		test.AddLabel(label.Name, label.Value)
	}

	r.test = test
	r.applyGrouping(test, start.Description)
	r.log.Debug("Started test", "name", test.Name(), "fullName", start.FullName)
	return nil
}

// applyGrouping maps the group stack onto package and suite labels. Levels
// beyond the third are folded into the test name.
func (r *Reporter) applyGrouping(test *allure.Test, description string) {
	groups := trimGroupNames(r.groupNames)
	test.AddLabel(allure.LabelPackage, strings.Join(groups, groupSeparator))

	if len(groups) > 0 {
		test.AddLabel(allure.LabelParentSuite, groups[0])
	}
	if len(groups) > 1 {
		test.AddLabel(allure.LabelSuite, groups[1])
	}
	if len(groups) > 2 {
		test.AddLabel(allure.LabelSubSuite, groups[2])
	}
	if len(groups) > 3 {
		test.SetName(strings.Join(groups[3:], overflowJoin) + overflowBoundary + description)
	}
}

// trimGroupNames removes one leading separator, or failing that one trailing
// separator, from each name.
func trimGroupNames(names []string) []string {
	trimmed := make([]string, len(names))
	for i, name := range names {
		switch {
		case strings.HasPrefix(name, groupSeparator):
			trimmed[i] = name[len(groupSeparator):]
		case strings.HasSuffix(name, groupSeparator):
			trimmed[i] = name[:len(name)-len(groupSeparator)]
		default:
			trimmed[i] = name
		}
	}
	return trimmed
}

type stepOptions struct {
	start time.Time
}

// StepOption configures StartStep and Step.
type StepOption func(*stepOptions)

// WithStart sets an explicit step start time.
func WithStart(start time.Time) StepOption {
	return func(o *stepOptions) { o.start = start }
}

// StartStep opens a step in the current executable. The display name is
// prefixed with the start time so viewers that sort by name keep
// chronological order.
func (r *Reporter) StartStep(name string, opts ...StepOption) (*allure.Step, error) {
	var o stepOptions
	for _, opt := range opts {
		opt(&o)
	}

	parent, err := r.currentExecutable()
	if err != nil {
		return nil, fmt.Errorf("start step %q: %w", name, err)
	}

	start := o.start
	if start.IsZero() {
		start = r.rt.Now()
	}
	step := parent.StartStep(stepDisplayName(start, name), start)
	r.steps = append(r.steps, step)
	return step, nil
}

func stepDisplayName(start time.Time, name string) string {
	return start.UTC().Format(stepTimeLayout) + " | " + name
}

type endStepOptions struct {
	status allure.Status
	stage  allure.Stage
	end    time.Time
}

// EndStepOption configures EndStep.
type EndStepOption func(*endStepOptions)

func WithStatus(status allure.Status) EndStepOption {
	return func(o *endStepOptions) { o.status = status }
}

func WithStage(stage allure.Stage) EndStepOption {
	return func(o *endStepOptions) { o.stage = stage }
}

func WithEnd(end time.Time) EndStepOption {
	return func(o *endStepOptions) { o.end = end }
}

// EndStep closes the innermost step. Without an open step it logs and
// returns.
func (r *Reporter) EndStep(opts ...EndStepOption) {
	if len(r.steps) == 0 {
		r.log.Warn("No step started")
		return
	}
	o := endStepOptions{stage: allure.StageFinished}
	for _, opt := range opts {
		opt(&o)
	}

	step := r.steps[len(r.steps)-1]
	r.steps = r.steps[:len(r.steps)-1]

	step.SetStage(o.stage)
	if o.status != "" {
		step.SetStatus(o.status)
	}
	step.End(o.end)
}

// endSteps fails every open step.
func (r *Reporter) endSteps() {
	for len(r.steps) > 0 {
		r.log.Warn("Closing abandoned step", "step", r.CurrentStep().Name())
		r.EndStep(WithStatus(allure.StatusFailed))
	}
}

// EndTest finalizes the active test. Open steps are failed first.
func (r *Reporter) EndTest(end types.TestEnd) error {
	if err := end.Validate(); err != nil {
		return fmt.Errorf("end test: %w", err)
	}
	test, err := r.CurrentTest()
	if err != nil {
		return fmt.Errorf("end test: %w", err)
	}

	r.endSteps()

	switch {
	case end.Status == types.StatusPassed:
		test.SetStatus(allure.StatusPassed)
		test.SetStage(allure.StageFinished)
	case end.Status == types.StatusBroken:
		test.SetStatus(allure.StatusBroken)
		test.SetStage(allure.StageFinished)
	case end.Status == types.StatusFailed:
		test.SetStatus(allure.StatusFailed)
		test.SetStage(allure.StageFinished)
	case end.Status.IsSkipped():
		test.SetStatus(allure.StatusSkipped)
		test.SetStage(allure.StagePending)
		reason := end.PendingReason
		if reason == "" {
			reason = DefaultSkipReason
		}
		test.SetDetailsMessage(reason)
	}

	if failure, ok := selectFailure(end.FailedExpectations); ok {
		message, trace := cleanFailure(failure)
		test.SetDetailsMessage(message)
		if trace != "" {
			test.SetDetailsTrace(trace)
		}
	}

	r.test = nil
	r.log.Debug("Ended test", "name", test.Name(), "status", test.Status())
	return test.End(end.Stop)
}

// EndGroup finalizes the innermost group.
func (r *Reporter) EndGroup() error {
	group, err := r.CurrentGroup()
	if err != nil {
		return fmt.Errorf("end group: %w", err)
	}

	if err := r.rt.WriteGroup(&allure.TestResultContainer{
		UUID:     group.UUID(),
		Name:     group.Name(),
		Children: []string{},
		Befores:  []allure.FixtureResult{},
		Afters:   []allure.FixtureResult{},
	}); err != nil {
		return fmt.Errorf("end group %q: %w", group.Name(), err)
	}

	r.groups = r.groups[:len(r.groups)-1]
	r.groupNames = r.groupNames[:len(r.groupNames)-1]
	r.log.Debug("Ended group", "name", group.Name(), "depth", len(r.groups))
	return group.End()
}
