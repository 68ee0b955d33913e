// Package allure is the reporting client driven by the reporter: an in-memory
// model of groups, tests and steps that is handed to a Writer once each entity
// is finalized.
package allure

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
)

// Runtime creates report entities and persists them through a Writer.
type Runtime struct {
	writer Writer
	log    log.Logger
	now    func() time.Time
	newID  func() string
}

type Option func(*Runtime)

func WithLogger(l log.Logger) Option {
	return func(rt *Runtime) { rt.log = l }
}

// WithClock overrides the time source used for default start/stop times.
func WithClock(now func() time.Time) Option {
	return func(rt *Runtime) { rt.now = now }
}

// WithIDGenerator overrides the UUID source.
func WithIDGenerator(newID func() string) Option {
	return func(rt *Runtime) { rt.newID = newID }
}

func NewRuntime(w Writer, opts ...Option) *Runtime {
	rt := &Runtime{
		writer: w,
		log:    log.Root(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// Now returns the runtime's current time.
func (rt *Runtime) Now() time.Time {
	return rt.now()
}

// StartGroup begins a root-level group.
func (rt *Runtime) StartGroup(name string) *Group {
	return &Group{
		rt: rt,
		container: &TestResultContainer{
			UUID:     rt.newID(),
			Name:     name,
			Children: []string{},
			Befores:  []FixtureResult{},
			Afters:   []FixtureResult{},
			Start:    rt.now().UnixMilli(),
		},
	}
}

// WriteGroup persists container metadata as given.
func (rt *Runtime) WriteGroup(container *TestResultContainer) error {
	rt.log.Debug("Writing group", "uuid", container.UUID, "name", container.Name)
	if err := rt.writer.WriteContainer(container); err != nil {
		return fmt.Errorf("failed to write group %q: %w", container.Name, err)
	}
	return nil
}

// WriteAttachment stores content and returns the source name to reference it by.
func (rt *Runtime) WriteAttachment(content []byte, typ ContentType) (string, error) {
	source := rt.newID() + "-attachment"
	if ext := typ.Extension(); ext != "" {
		source += "." + ext
	}
	if err := rt.writer.WriteAttachment(source, content); err != nil {
		return "", fmt.Errorf("failed to write attachment: %w", err)
	}
	return source, nil
}

func (rt *Runtime) WriteCategories(categories []Category) error {
	if err := rt.writer.WriteCategories(categories); err != nil {
		return fmt.Errorf("failed to write categories: %w", err)
	}
	return nil
}

func (rt *Runtime) WriteEnvironmentInfo(env *Environment) error {
	if err := rt.writer.WriteEnvironmentInfo(env); err != nil {
		return fmt.Errorf("failed to write environment info: %w", err)
	}
	return nil
}

func (rt *Runtime) millis(t time.Time) int64 {
	if t.IsZero() {
		t = rt.now()
	}
	return t.UnixMilli()
}

// Group is an open container of tests and nested groups.
type Group struct {
	rt        *Runtime
	container *TestResultContainer
	ended     bool
}

func (g *Group) Name() string { return g.container.Name }
func (g *Group) UUID() string { return g.container.UUID }

// Children returns the UUIDs of the tests and groups started under g.
func (g *Group) Children() []string {
	return append([]string(nil), g.container.Children...)
}

// StartGroup begins a nested group recorded as a child of g.
func (g *Group) StartGroup(name string) *Group {
	child := g.rt.StartGroup(name)
	g.container.Children = append(g.container.Children, child.UUID())
	return child
}

// StartTest begins a test recorded as a child of g. A zero start uses the
// runtime clock.
func (g *Group) StartTest(name string, start time.Time) *Test {
	t := &Test{
		rt: g.rt,
		result: &TestResult{
			UUID:        g.rt.newID(),
			Name:        name,
			Stage:       StageRunning,
			Start:       g.rt.millis(start),
			Labels:      []Label{},
			Links:       []Link{},
			Parameters:  []Parameter{},
			Attachments: []Attachment{},
			Steps:       []*StepResult{},
		},
	}
	g.container.Children = append(g.container.Children, t.result.UUID)
	return t
}

// End stamps the stop time and persists the container with its children.
func (g *Group) End() error {
	if g.ended {
		return fmt.Errorf("group %q already ended", g.container.Name)
	}
	g.ended = true
	g.container.Stop = g.rt.now().UnixMilli()
	return g.rt.WriteGroup(g.container)
}

// Executable is anything steps, parameters and attachments can be added to.
type Executable interface {
	StartStep(name string, start time.Time) *Step
	AddParameter(name, value string)
	AddAttachment(name string, typ ContentType, source string)
}

// Test is an open test case.
type Test struct {
	rt     *Runtime
	result *TestResult
	ended  bool
}

var _ Executable = (*Test)(nil)

func (t *Test) UUID() string { return t.result.UUID }
func (t *Test) Name() string { return t.result.Name }
func (t *Test) SetName(name string) { t.result.Name = name }
func (t *Test) FullName() string { return t.result.FullName }
func (t *Test) SetFullName(n string) { t.result.FullName = n }
func (t *Test) Status() Status { return t.result.Status }
func (t *Test) SetStatus(s Status) { t.result.Status = s }
func (t *Test) Stage() Stage { return t.result.Stage }
func (t *Test) SetStage(s Stage) { t.result.Stage = s }
func (t *Test) SetHistoryID(id string) { t.result.HistoryID = id }

func (t *Test) SetDescription(d string) { t.result.Description = d }
func (t *Test) SetDescriptionHTML(d string) { t.result.DescriptionHTML = d }

func (t *Test) StatusDetails() StatusDetails { return t.result.StatusDetails }
func (t *Test) SetDetailsMessage(message string) { t.result.StatusDetails.Message = message }
func (t *Test) SetDetailsTrace(trace string) { t.result.StatusDetails.Trace = trace }

func (t *Test) AddLabel(name, value string) {
	t.result.Labels = append(t.result.Labels, Label{Name: name, Value: value})
}

func (t *Test) AddLink(url, name string, typ LinkType) {
	t.result.Links = append(t.result.Links, Link{Name: name, URL: url, Type: typ})
}

func (t *Test) AddParameter(name, value string) {
	t.result.Parameters = append(t.result.Parameters, Parameter{Name: name, Value: value})
}

func (t *Test) AddAttachment(name string, typ ContentType, source string) {
	t.result.Attachments = append(t.result.Attachments, Attachment{Name: name, Source: source, Type: typ})
}

func (t *Test) StartStep(name string, start time.Time) *Step {
	return newStep(t.rt, &t.result.Steps, name, start)
}

// Result exposes the underlying result. It must not be modified after End.
func (t *Test) Result() *TestResult {
	return t.result
}

// End stamps the stop time and persists the result. A zero stop uses the
// runtime clock. The history id defaults to a stable hash of the full name.
func (t *Test) End(stop time.Time) error {
	if t.ended {
		return fmt.Errorf("test %q already ended", t.result.Name)
	}
	t.ended = true
	t.result.Stop = t.rt.millis(stop)
	if t.result.HistoryID == "" {
		key := t.result.FullName
		if key == "" {
			key = t.result.Name
		}
		t.result.HistoryID = uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String()
	}
	t.rt.log.Debug("Writing test result", "uuid", t.result.UUID, "name", t.result.Name, "status", t.result.Status)
	if err := t.rt.writer.WriteResult(t.result); err != nil {
		return fmt.Errorf("failed to write test %q: %w", t.result.Name, err)
	}
	return nil
}

// Step is an open step inside a test or another step.
type Step struct {
	rt     *Runtime
	result *StepResult
	ended  bool
}

var _ Executable = (*Step)(nil)

func newStep(rt *Runtime, siblings *[]*StepResult, name string, start time.Time) *Step {
	s := &Step{
		rt: rt,
		result: &StepResult{
			Name:        name,
			Stage:       StageRunning,
			Start:       rt.millis(start),
			Steps:       []*StepResult{},
			Attachments: []Attachment{},
			Parameters:  []Parameter{},
		},
	}
	*siblings = append(*siblings, s.result)
	return s
}

func (s *Step) Name() string { return s.result.Name }
func (s *Step) Status() Status { return s.result.Status }
func (s *Step) SetStatus(st Status) { s.result.Status = st }
func (s *Step) Stage() Stage { return s.result.Stage }
func (s *Step) SetStage(st Stage) { s.result.Stage = st }
func (s *Step) Ended() bool { return s.ended }

func (s *Step) SetDetails(message, trace string) {
	s.result.StatusDetails = StatusDetails{Message: message, Trace: trace}
}

func (s *Step) AddParameter(name, value string) {
	s.result.Parameters = append(s.result.Parameters, Parameter{Name: name, Value: value})
}

func (s *Step) AddAttachment(name string, typ ContentType, source string) {
	s.result.Attachments = append(s.result.Attachments, Attachment{Name: name, Source: source, Type: typ})
}

func (s *Step) StartStep(name string, start time.Time) *Step {
	return newStep(s.rt, &s.result.Steps, name, start)
}

// Result exposes the underlying step result.
func (s *Step) Result() *StepResult {
	return s.result
}

// End stamps the stop time. Steps are persisted with their test.
func (s *Step) End(stop time.Time) {
	if s.ended {
		return
	}
	s.ended = true
	s.result.Stop = s.rt.millis(stop)
}
