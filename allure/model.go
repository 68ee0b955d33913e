package allure

// Status is the outcome of a test or step.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusBroken  Status = "broken"
	StatusSkipped Status = "skipped"
)

// Stage is the lifecycle stage of a test or step.
type Stage string

const (
	StageScheduled   Stage = "scheduled"
	StageRunning     Stage = "running"
	StageFinished    Stage = "finished"
	StagePending     Stage = "pending"
	StageInterrupted Stage = "interrupted"
)

// Label names understood by report viewers
const (
	LabelPackage     = "package"
	LabelParentSuite = "parentSuite"
	LabelSuite       = "suite"
	LabelSubSuite    = "subSuite"
	LabelThread      = "thread"
	LabelHost        = "host"
	LabelLead        = "lead"
	LabelOwner       = "owner"
	LabelFramework   = "framework"
	LabelLanguage    = "language"
	LabelTestClass   = "testClass"
	LabelTestMethod  = "testMethod"
	LabelSeverity    = "severity"
	LabelFeature     = "feature"
	LabelStory       = "story"
	LabelEpic        = "epic"
	LabelTag         = "tag"
	LabelAsID        = "AS_ID"
)

// Severity is the value of the severity label.
type Severity string

const (
	SeverityBlocker  Severity = "blocker"
	SeverityCritical Severity = "critical"
	SeverityNormal   Severity = "normal"
	SeverityMinor    Severity = "minor"
	SeverityTrivial  Severity = "trivial"
)

// LinkType classifies a link. The empty type is a plain link.
type LinkType string

const (
	LinkTypeIssue LinkType = "issue"
	LinkTypeTMS   LinkType = "tms"
)

type Label struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type Link struct {
	Name string   `json:"name,omitempty"`
	URL  string   `json:"url"`
	Type LinkType `json:"type,omitempty"`
}

type Parameter struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Attachment references content previously stored with Runtime.WriteAttachment.
type Attachment struct {
	Name   string      `json:"name"`
	Source string      `json:"source"`
	Type   ContentType `json:"type"`
}

type StatusDetails struct {
	Message string `json:"message,omitempty"`
	Trace   string `json:"trace,omitempty"`
}

// StepResult is the persisted form of a step. Times are unix milliseconds.
type StepResult struct {
	Name          string        `json:"name"`
	Status        Status        `json:"status,omitempty"`
	StatusDetails StatusDetails `json:"statusDetails"`
	Stage         Stage         `json:"stage"`
	Start         int64         `json:"start,omitempty"`
	Stop          int64         `json:"stop,omitempty"`
	Steps         []*StepResult `json:"steps"`
	Attachments   []Attachment  `json:"attachments"`
	Parameters    []Parameter   `json:"parameters"`
}

// TestResult is the persisted form of a test.
type TestResult struct {
	UUID            string        `json:"uuid"`
	HistoryID       string        `json:"historyId,omitempty"`
	FullName        string        `json:"fullName,omitempty"`
	Name            string        `json:"name"`
	Description     string        `json:"description,omitempty"`
	DescriptionHTML string        `json:"descriptionHtml,omitempty"`
	Status          Status        `json:"status,omitempty"`
	StatusDetails   StatusDetails `json:"statusDetails"`
	Stage           Stage         `json:"stage"`
	Start           int64         `json:"start,omitempty"`
	Stop            int64         `json:"stop,omitempty"`
	Labels          []Label       `json:"labels"`
	Links           []Link        `json:"links"`
	Parameters      []Parameter   `json:"parameters"`
	Attachments     []Attachment  `json:"attachments"`
	Steps           []*StepResult `json:"steps"`
}

// LabelValues returns every value recorded for the named label, in insertion order.
func (r *TestResult) LabelValues(name string) []string {
	var values []string
	for _, l := range r.Labels {
		if l.Name == name {
			values = append(values, l.Value)
		}
	}
	return values
}

// LabelValue returns the first value recorded for the named label.
func (r *TestResult) LabelValue(name string) string {
	for _, l := range r.Labels {
		if l.Name == name {
			return l.Value
		}
	}
	return ""
}

// FixtureResult is a before/after hook recorded on a container.
type FixtureResult struct {
	Name   string `json:"name"`
	Status Status `json:"status,omitempty"`
	Stage  Stage  `json:"stage"`
	Start  int64  `json:"start,omitempty"`
	Stop   int64  `json:"stop,omitempty"`
}

// TestResultContainer is the persisted form of a group.
type TestResultContainer struct {
	UUID     string          `json:"uuid"`
	Name     string          `json:"name,omitempty"`
	Children []string        `json:"children"`
	Befores  []FixtureResult `json:"befores"`
	Afters   []FixtureResult `json:"afters"`
	Start    int64           `json:"start,omitempty"`
	Stop     int64           `json:"stop,omitempty"`
}

// Category classifies failed results in the report. Loaded from YAML report
// configuration and persisted as categories.json.
type Category struct {
	Name            string   `json:"name" yaml:"name"`
	Description     string   `json:"description,omitempty" yaml:"description,omitempty"`
	DescriptionHTML string   `json:"descriptionHtml,omitempty" yaml:"descriptionHtml,omitempty"`
	MessageRegex    string   `json:"messageRegex,omitempty" yaml:"messageRegex,omitempty"`
	TraceRegex      string   `json:"traceRegex,omitempty" yaml:"traceRegex,omitempty"`
	MatchedStatuses []Status `json:"matchedStatuses,omitempty" yaml:"matchedStatuses,omitempty"`
	Flaky           bool     `json:"flaky,omitempty" yaml:"flaky,omitempty"`
}
