package allure

import (
	"errors"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Environment is the insertion-ordered key/value set persisted as environment.properties.
type Environment = orderedmap.OrderedMap[string, string]

// NewEnvironment returns an empty Environment.
func NewEnvironment() *Environment {
	return orderedmap.New[string, string]()
}

// Writer persists finalized report entities.
type Writer interface {
	WriteResult(result *TestResult) error
	WriteContainer(container *TestResultContainer) error
	WriteAttachment(source string, content []byte) error
	WriteCategories(categories []Category) error
	WriteEnvironmentInfo(env *Environment) error
}

// NopWriter discards everything. Embed it to implement only part of Writer.
type NopWriter struct{}

func (NopWriter) WriteResult(*TestResult) error { return nil }
func (NopWriter) WriteContainer(*TestResultContainer) error { return nil }
func (NopWriter) WriteAttachment(string, []byte) error { return nil }
func (NopWriter) WriteCategories([]Category) error { return nil }
func (NopWriter) WriteEnvironmentInfo(*Environment) error { return nil }

type multiWriter struct {
	writers []Writer
}

// MultiWriter duplicates every write to all writers. All writers are called
// even when one fails; the errors are joined.
func MultiWriter(writers ...Writer) Writer {
	all := make([]Writer, 0, len(writers))
	for _, w := range writers {
		if mw, ok := w.(*multiWriter); ok {
			all = append(all, mw.writers...)
		} else if w != nil {
			all = append(all, w)
		}
	}
	return &multiWriter{writers: all}
}

func (m *multiWriter) each(fn func(Writer) error) error {
	var errs []error
	for _, w := range m.writers {
		if err := fn(w); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *multiWriter) WriteResult(result *TestResult) error {
	return m.each(func(w Writer) error { return w.WriteResult(result) })
}

func (m *multiWriter) WriteContainer(container *TestResultContainer) error {
	return m.each(func(w Writer) error { return w.WriteContainer(container) })
}

func (m *multiWriter) WriteAttachment(source string, content []byte) error {
	return m.each(func(w Writer) error { return w.WriteAttachment(source, content) })
}

func (m *multiWriter) WriteCategories(categories []Category) error {
	return m.each(func(w Writer) error { return w.WriteCategories(categories) })
}

func (m *multiWriter) WriteEnvironmentInfo(env *Environment) error {
	return m.each(func(w Writer) error { return w.WriteEnvironmentInfo(env) })
}

// MemoryWriter keeps everything in memory. Results and containers are keyed by
// UUID so a rewrite replaces the earlier entry in place.
type MemoryWriter struct {
	mu          sync.Mutex
	results     []*TestResult
	containers  []*TestResultContainer
	attachments map[string][]byte
	categories  []Category
	environment map[string]string
}

func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{
		attachments: make(map[string][]byte),
		environment: make(map[string]string),
	}
}

func (m *MemoryWriter) WriteResult(result *TestResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.results {
		if r.UUID == result.UUID {
			m.results[i] = result
			return nil
		}
	}
	m.results = append(m.results, result)
	return nil
}

func (m *MemoryWriter) WriteContainer(container *TestResultContainer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, c := range m.containers {
		if c.UUID == container.UUID {
			m.containers[i] = container
			return nil
		}
	}
	m.containers = append(m.containers, container)
	return nil
}

func (m *MemoryWriter) WriteAttachment(source string, content []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data := make([]byte, len(content))
	copy(data, content)
	m.attachments[source] = data
	return nil
}

func (m *MemoryWriter) WriteCategories(categories []Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.categories = append([]Category(nil), categories...)
	return nil
}

func (m *MemoryWriter) WriteEnvironmentInfo(env *Environment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.environment = make(map[string]string, env.Len())
	for pair := env.Oldest(); pair != nil; pair = pair.Next() {
		m.environment[pair.Key] = pair.Value
	}
	return nil
}

// Results returns the written test results in first-write order.
func (m *MemoryWriter) Results() []*TestResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*TestResult(nil), m.results...)
}

// Containers returns the written containers in first-write order.
func (m *MemoryWriter) Containers() []*TestResultContainer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*TestResultContainer(nil), m.containers...)
}

func (m *MemoryWriter) Attachment(source string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.attachments[source]
	return data, ok
}

func (m *MemoryWriter) Categories() []Category {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Category(nil), m.categories...)
}

func (m *MemoryWriter) Environment() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	env := make(map[string]string, len(m.environment))
	for k, v := range m.environment {
		env[k] = v
	}
	return env
}
