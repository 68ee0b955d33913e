package gotest

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

const maxLineSize = 16 * 1024 * 1024

// Test is one test or subtest collected from the stream.
type Test struct {
	Name    string // Full name, e.g. "TestParent/SubTest"
	Start   time.Time
	End     time.Time
	Elapsed time.Duration
	Action  string   // Terminal action; empty if the test never finished
	Output  []string // Raw output lines, newline terminated
	Attempt int      // Run number of Name within the package, starting at 1
}

// Finished reports whether a terminal event was seen for the test
func (t *Test) Finished() bool {
	return t.Action != ""
}

// Segment returns the last element of the test name.
func (t *Test) Segment() string {
	if i := strings.LastIndex(t.Name, "/"); i >= 0 {
		return t.Name[i+1:]
	}
	return t.Name
}

// Package collects the events of one tested package.
type Package struct {
	Path   string
	Start  time.Time
	End    time.Time
	Action string   // Terminal package action; empty while running
	Output []string // Package-level output (build errors, coverage, final PASS/FAIL)
	Tests  []*Test  // In the order they were first seen; reruns are separate entries

	byName map[string]*Test // latest attempt per name
}

func newPackage(path string) *Package {
	return &Package{
		Path:   path,
		byName: make(map[string]*Test),
	}
}

// Test returns the latest attempt of the named test, or nil.
func (p *Package) Test(name string) *Test {
	return p.byName[name]
}

// Attempts returns every run of the named test in order.
func (p *Package) Attempts(name string) []*Test {
	var attempts []*Test
	for _, t := range p.Tests {
		if t.Name == name {
			attempts = append(attempts, t)
		}
	}
	return attempts
}

// test returns the entry events for name belong to. A run event for a test
// that already finished (go test -count=N) starts a new attempt.
func (p *Package) test(name, action string) *Test {
	t, ok := p.byName[name]
	if ok && !(action == ActionRun && t.Finished()) {
		return t
	}
	attempt := 1
	if ok {
		attempt = t.Attempt + 1
	}
	t = &Test{Name: name, Attempt: attempt}
	p.byName[name] = t
	p.Tests = append(p.Tests, t)
	return t
}

// Collector groups events by package.
type Collector struct {
	log      log.Logger
	packages map[string]*Package
	order    []string
}

func NewCollector(logger log.Logger) *Collector {
	return &Collector{
		log:      logger,
		packages: make(map[string]*Package),
	}
}

// Add consumes one event and returns the package it completed, if any.
func (c *Collector) Add(e TestEvent) *Package {
	if e.Package == "" {
		c.log.Debug("Ignoring event without package", "action", e.Action)
		return nil
	}
	pkg, ok := c.packages[e.Package]
	if !ok {
		pkg = newPackage(e.Package)
		c.packages[e.Package] = pkg
		c.order = append(c.order, e.Package)
	}

	if e.Test == "" {
		return c.addPackageEvent(pkg, e)
	}

	t := pkg.test(e.Test, e.Action)
	switch e.Action {
	case ActionRun, ActionStart:
		if t.Start.IsZero() {
			t.Start = e.Time
		}
	case ActionPass, ActionFail, ActionSkip:
		t.Action = e.Action
		t.End = e.Time
		t.Elapsed = time.Duration(e.Elapsed * float64(time.Second))
		if t.Start.IsZero() && !e.Time.IsZero() {
			t.Start = e.Time.Add(-t.Elapsed)
		}
	case ActionOutput:
		t.Output = append(t.Output, e.Output)
	}
	return nil
}

func (c *Collector) addPackageEvent(pkg *Package, e TestEvent) *Package {
	switch e.Action {
	case ActionStart:
		pkg.Start = e.Time
	case ActionOutput:
		pkg.Output = append(pkg.Output, e.Output)
	case ActionPass, ActionFail, ActionSkip:
		pkg.Action = e.Action
		pkg.End = e.Time
		c.forget(pkg.Path)
		return pkg
	}
	return nil
}

func (c *Collector) forget(path string) {
	delete(c.packages, path)
	for i, p := range c.order {
		if p == path {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Flush returns the packages that never completed, in first-seen order, and
// forgets them.
func (c *Collector) Flush() []*Package {
	pkgs := make([]*Package, 0, len(c.order))
	for _, path := range c.order {
		pkgs = append(pkgs, c.packages[path])
	}
	c.packages = make(map[string]*Package)
	c.order = nil
	return pkgs
}

// Read feeds every event of stream into c and hands each completed package to
// fn. Packages still open when the stream ends are handed over last. Lines
// that are not JSON events are skipped.
func Read(stream io.Reader, c *Collector, fn func(*Package) error) error {
	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		event, err := parseTestEvent(line)
		if err != nil {
			c.log.Debug("Skipping non-JSON line", "line", string(line))
			continue
		}
		if pkg := c.Add(event); pkg != nil {
			if err := fn(pkg); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read test events: %w", err)
	}
	for _, pkg := range c.Flush() {
		c.log.Warn("Package did not finish", "package", pkg.Path, "tests", len(pkg.Tests))
		if err := fn(pkg); err != nil {
			return err
		}
	}
	return nil
}
