// Package testlist finds where the test functions of a Go module are
// declared, so reported tests can point back at their source file.
package testlist

import (
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/mod/modfile"
)

var ErrNotInModule = errors.New("package is not in module")

// Location is the declaration site of a test function.
type Location struct {
	File string
	Line int
}

// Index resolves test functions of one module. Packages are parsed on first
// lookup and cached.
type Index struct {
	root       string
	modulePath string

	mu       sync.Mutex
	packages map[string]map[string]Location
}

// NewIndex reads the module declared by the go.mod at goModPath. The module
// root is the directory holding it.
func NewIndex(goModPath string) (*Index, error) {
	goModPath, err := filepath.Abs(goModPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve go.mod path: %w", err)
	}
	content, err := os.ReadFile(goModPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read go.mod: %w", err)
	}
	modFile, err := modfile.Parse(goModPath, content, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to parse go.mod: %w", err)
	}
	if modFile.Module == nil || modFile.Module.Mod.Path == "" {
		return nil, fmt.Errorf("could not find module name in %s", goModPath)
	}

	return &Index{
		root:       filepath.Dir(goModPath),
		modulePath: modFile.Module.Mod.Path,
		packages:   make(map[string]map[string]Location),
	}, nil
}

// Root returns the module root directory.
func (i *Index) Root() string {
	return i.root
}

func (i *Index) ModulePath() string {
	return i.modulePath
}

// PackageDir maps an import path of the module onto its directory.
func (i *Index) PackageDir(pkgPath string) (string, error) {
	if pkgPath == i.modulePath {
		return i.root, nil
	}
	rel, ok := strings.CutPrefix(pkgPath, i.modulePath+"/")
	if !ok {
		return "", fmt.Errorf("%s: %w %s", pkgPath, ErrNotInModule, i.modulePath)
	}
	return filepath.Join(i.root, filepath.FromSlash(rel)), nil
}

// Lookup returns the declaration of the top-level test function testName
// belongs to. Subtest names ("TestA/case") resolve to their parent function.
// A package that cannot be parsed is reported once and then treated as
// having no tests.
func (i *Index) Lookup(pkgPath, testName string) (Location, bool, error) {
	funcName, _, _ := strings.Cut(testName, "/")

	i.mu.Lock()
	defer i.mu.Unlock()

	tests, seen := i.packages[pkgPath]
	if !seen {
		i.packages[pkgPath] = nil
		dir, err := i.PackageDir(pkgPath)
		if err != nil {
			return Location{}, false, err
		}
		found, err := FindTestFunctions(dir)
		if err != nil {
			return Location{}, false, err
		}
		i.packages[pkgPath] = found
		tests = found
	}

	loc, ok := tests[funcName]
	return loc, ok, nil
}

// FindTestFunctions parses the _test.go files of pkgDir and returns every
// TestXxx function except TestMain.
func FindTestFunctions(pkgDir string) (map[string]Location, error) {
	entries, err := os.ReadDir(pkgDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read package directory: %w", err)
	}

	testFunctions := make(map[string]Location)
	fset := token.NewFileSet()

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), "_test.go") {
			continue
		}

		filePath := filepath.Join(pkgDir, entry.Name())
		f, err := parser.ParseFile(fset, filePath, nil, parser.SkipObjectResolution)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", entry.Name(), err)
		}

		for _, decl := range f.Decls {
			funcDecl, ok := decl.(*ast.FuncDecl)
			if !ok || funcDecl.Recv != nil {
				continue
			}
			name := funcDecl.Name.Name
			if strings.HasPrefix(name, "Test") && name != "TestMain" {
				testFunctions[name] = Location{
					File: filePath,
					Line: fset.Position(funcDecl.Pos()).Line,
				}
			}
		}
	}

	return testFunctions, nil
}
