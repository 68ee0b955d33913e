package allure

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	resultSuffix        = "-result.json"
	containerSuffix     = "-container.json"
	CategoriesFilename  = "categories.json"
	EnvironmentFilename = "environment.properties"
)

// FileWriter stores results in an Allure results directory.
type FileWriter struct {
	dir string
}

// NewFileWriter creates the results directory. With clean set, any previous
// contents of dir are removed first.
func NewFileWriter(dir string, clean bool) (*FileWriter, error) {
	if dir == "" {
		return nil, fmt.Errorf("results directory cannot be empty")
	}
	if clean {
		if err := os.RemoveAll(dir); err != nil {
			return nil, fmt.Errorf("failed to clean results directory %s: %w", dir, err)
		}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create results directory %s: %w", dir, err)
	}
	return &FileWriter{dir: dir}, nil
}

// Dir returns the results directory.
func (w *FileWriter) Dir() string {
	return w.dir
}

func (w *FileWriter) WriteResult(result *TestResult) error {
	return w.writeJSON(result.UUID+resultSuffix, result)
}

func (w *FileWriter) WriteContainer(container *TestResultContainer) error {
	return w.writeJSON(container.UUID+containerSuffix, container)
}

func (w *FileWriter) WriteAttachment(source string, content []byte) error {
	return w.write(source, content)
}

func (w *FileWriter) WriteCategories(categories []Category) error {
	if categories == nil {
		categories = []Category{}
	}
	return w.writeJSON(CategoriesFilename, categories)
}

// WriteEnvironmentInfo rewrites environment.properties with every entry of env.
func (w *FileWriter) WriteEnvironmentInfo(env *Environment) error {
	var b strings.Builder
	for pair := env.Oldest(); pair != nil; pair = pair.Next() {
		b.WriteString(escapeProperty(pair.Key, true))
		b.WriteString(" = ")
		b.WriteString(escapeProperty(pair.Value, false))
		b.WriteString("\n")
	}
	return w.write(EnvironmentFilename, []byte(b.String()))
}

func (w *FileWriter) writeJSON(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	return w.write(name, data)
}

func (w *FileWriter) write(name string, data []byte) error {
	path := filepath.Join(w.dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// escapeProperty escapes s for a java .properties file.
func escapeProperty(s string, key bool) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '=', ':', ' ', '#', '!':
			if key {
				b.WriteRune('\\')
			}
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
