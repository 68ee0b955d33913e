package reporter

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/ethereum-optimism/infra/op-allure/allure"
)

// Annotation helpers return the Reporter so calls can be chained. A call that
// cannot find its target (no active test) is logged, skipped and recorded;
// Err reports the recorded failures.

// Err returns the failures recorded by annotation helpers since the last call
// and clears them.
func (r *Reporter) Err() error {
	err := errors.Join(r.errs...)
	r.errs = nil
	return err
}

func (r *Reporter) fail(op string, err error) *Reporter {
	err = fmt.Errorf("%s: %w", op, err)
	r.log.Error("Annotation failed", "err", err)
	r.errs = append(r.errs, err)
	return r
}

func (r *Reporter) onTest(op string, fn func(t *allure.Test)) *Reporter {
	test, err := r.CurrentTest()
	if err != nil {
		return r.fail(op, err)
	}
	fn(test)
	return r
}

func (r *Reporter) onExecutable(op string, fn func(e allure.Executable)) *Reporter {
	exec, err := r.currentExecutable()
	if err != nil {
		return r.fail(op, err)
	}
	fn(exec)
	return r
}

// AddParameter adds a parameter to the innermost step, else the test.
func (r *Reporter) AddParameter(name, value string) *Reporter {
	return r.onExecutable("add parameter", func(e allure.Executable) {
		e.AddParameter(name, value)
	})
}

// Param is a parameter whose value is converted to a string when added.
type Param struct {
	Name  string
	Value any
}

// AddParameters adds params to the current executable. Non-string values are
// JSON encoded.
func (r *Reporter) AddParameters(params ...Param) *Reporter {
	return r.onExecutable("add parameters", func(e allure.Executable) {
		for _, p := range params {
			e.AddParameter(p.Name, parameterString(p.Value))
		}
	})
}

func parameterString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// AddTestPathParameter records the test source file relative to relativeFrom.
func (r *Reporter) AddTestPathParameter(relativeFrom, testPath string) *Reporter {
	rel, err := filepath.Rel(relativeFrom, testPath)
	if err != nil {
		return r.fail("add test path parameter", err)
	}
	return r.AddParameter("Test Path", filepath.ToSlash(rel))
}

func (r *Reporter) AddLabel(name, value string) *Reporter {
	return r.onTest("add label "+name, func(t *allure.Test) {
		t.AddLabel(name, value)
	})
}

// AddDefaultLabel registers a label applied to every test started afterwards.
func (r *Reporter) AddDefaultLabel(name, value string) *Reporter {
	r.defaultLabels = append(r.defaultLabels, allure.Label{Name: name, Value: value})
	return r
}

func (r *Reporter) AddPackage(value string) *Reporter { return r.AddLabel(allure.LabelPackage, value) }
func (r *Reporter) Feature(feature string) *Reporter { return r.AddLabel(allure.LabelFeature, feature) }
func (r *Reporter) Story(story string) *Reporter { return r.AddLabel(allure.LabelStory, story) }
func (r *Reporter) Epic(epic string) *Reporter { return r.AddLabel(allure.LabelEpic, epic) }
func (r *Reporter) Tag(tag string) *Reporter { return r.AddLabel(allure.LabelTag, tag) }
func (r *Reporter) Owner(owner string) *Reporter { return r.AddLabel(allure.LabelOwner, owner) }
func (r *Reporter) Lead(lead string) *Reporter { return r.AddLabel(allure.LabelLead, lead) }
func (r *Reporter) Host(host string) *Reporter { return r.AddLabel(allure.LabelHost, host) }
func (r *Reporter) AsID(id string) *Reporter { return r.AddLabel(allure.LabelAsID, id) }

func (r *Reporter) Framework(framework string) *Reporter {
	return r.AddLabel(allure.LabelFramework, framework)
}

func (r *Reporter) Language(language string) *Reporter {
	return r.AddLabel(allure.LabelLanguage, language)
}

func (r *Reporter) TestClass(testClass string) *Reporter {
	return r.AddLabel(allure.LabelTestClass, testClass)
}

func (r *Reporter) TestMethod(testMethod string) *Reporter {
	return r.AddLabel(allure.LabelTestMethod, testMethod)
}

func (r *Reporter) Severity(severity allure.Severity) *Reporter {
	return r.AddLabel(allure.LabelSeverity, string(severity))
}

// Link describes a link added with AddLink. Name defaults to the URL.
type Link struct {
	Name string
	URL  string
	Type allure.LinkType
}

func (r *Reporter) AddLink(link Link) *Reporter {
	name := link.Name
	if name == "" {
		name = link.URL
	}
	return r.onTest("add link", func(t *allure.Test) {
		t.AddLink(link.URL, name, link.Type)
	})
}

// TrackerRef points at an entry in an issue tracker or test management
// system. The link URL is URL+ID when URL is set, otherwise the configured
// base URL + ID. Name defaults to the ID.
type TrackerRef struct {
	ID   string
	Name string
	URL  string
}

func (r *Reporter) AddIssue(ref TrackerRef) *Reporter {
	return r.addTrackerLink("add issue", ref, r.issueURL, allure.LinkTypeIssue)
}

func (r *Reporter) AddTms(ref TrackerRef) *Reporter {
	return r.addTrackerLink("add tms", ref, r.tmsURL, allure.LinkTypeTMS)
}

func (r *Reporter) addTrackerLink(op string, ref TrackerRef, base string, typ allure.LinkType) *Reporter {
	if ref.URL != "" {
		base = ref.URL
	}
	if base == "" {
		return r.fail(op, fmt.Errorf("%q: %w", ref.ID, ErrNoLinkBase))
	}
	name := ref.Name
	if name == "" {
		name = ref.ID
	}
	return r.AddLink(Link{Name: name, URL: base + ref.ID, Type: typ})
}

func (r *Reporter) Description(description string) *Reporter {
	return r.onTest("set description", func(t *allure.Test) {
		t.SetDescription(description)
	})
}

func (r *Reporter) DescriptionHTML(description string) *Reporter {
	return r.onTest("set html description", func(t *allure.Test) {
		t.SetDescriptionHTML(description)
	})
}

// WriteAttachment stores content and returns its source name without
// attaching it anywhere.
func (r *Reporter) WriteAttachment(content []byte, typ allure.ContentType) (string, error) {
	return r.rt.WriteAttachment(content, typ)
}

// AddAttachment attaches content to the innermost step, else the test.
func (r *Reporter) AddAttachment(name string, content []byte, typ allure.ContentType) *Reporter {
	exec, err := r.currentExecutable()
	if err != nil {
		return r.fail("add attachment "+name, err)
	}
	source, err := r.rt.WriteAttachment(content, typ)
	if err != nil {
		return r.fail("add attachment "+name, err)
	}
	exec.AddAttachment(name, typ, source)
	return r
}

// AddTestAttachment attaches content to the test even while a step is open.
func (r *Reporter) AddTestAttachment(name string, content []byte, typ allure.ContentType) *Reporter {
	test, err := r.CurrentTest()
	if err != nil {
		return r.fail("add test attachment "+name, err)
	}
	source, err := r.rt.WriteAttachment(content, typ)
	if err != nil {
		return r.fail("add test attachment "+name, err)
	}
	test.AddAttachment(name, typ, source)
	return r
}

// AddEnvironment sets one environment entry and rewrites the whole
// environment file.
func (r *Reporter) AddEnvironment(name, value string) *Reporter {
	r.environment.Set(name, value)
	if err := r.rt.WriteEnvironmentInfo(r.environment); err != nil {
		return r.fail("add environment "+name, err)
	}
	return r
}

// Environment returns a copy of the accumulated environment entries in
// insertion order.
func (r *Reporter) Environment() []EnvironmentItem {
	items := make([]EnvironmentItem, 0, r.environment.Len())
	for pair := r.environment.Oldest(); pair != nil; pair = pair.Next() {
		items = append(items, EnvironmentItem{Key: pair.Key, Value: pair.Value})
	}
	return items
}

func (r *Reporter) WriteCategories(categories []allure.Category) error {
	return r.rt.WriteCategories(categories)
}
