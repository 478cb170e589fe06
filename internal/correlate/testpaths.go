package correlate

import (
	"path"
	"regexp"
	"sort"
	"strings"
)

// TestConvention maps a source file to the test files that conventionally
// exercise it. Template placeholders:
//
//	{dir}   directory of the source file ("" at the root)
//	{rest}  {dir} without its first segment (app/models -> models)
//	{base}  file name without extension
//	{ext}   extension including the dot
type TestConvention struct {
	Name       string
	Extensions []string
	// Test matches paths that are themselves tests.
	Test      *regexp.Regexp
	Templates []string
}

// TestConventions is the fixed table of naming conventions, one per
// language family.
var TestConventions = []TestConvention{
	{
		Name:       "python",
		Extensions: []string{".py"},
		Test:       regexp.MustCompile(`(^|/)(test_[^/]*|[^/]*_test|conftest)\.py$`),
		Templates: []string{
			"{dir}/test_{base}.py",
			"{dir}/{base}_test.py",
			"{dir}/tests/test_{base}.py",
			"tests/test_{base}.py",
			"tests/{dir}/test_{base}.py",
			"tests/{rest}/test_{base}.py",
			"test/test_{base}.py",
		},
	},
	{
		Name:       "go",
		Extensions: []string{".go"},
		Test:       regexp.MustCompile(`_test\.go$`),
		Templates:  []string{"{dir}/{base}_test.go"},
	},
	{
		Name:       "ruby",
		Extensions: []string{".rb"},
		Test:       regexp.MustCompile(`(^|/)(spec|test)/.*|(_spec|_test)\.rb$`),
		Templates: []string{
			"spec/{rest}/{base}_spec.rb",
			"spec/{dir}/{base}_spec.rb",
			"test/{rest}/{base}_test.rb",
			"test/{dir}/{base}_test.rb",
		},
	},
	{
		Name:       "javascript",
		Extensions: []string{".js", ".jsx", ".ts", ".tsx", ".mjs"},
		Test:       regexp.MustCompile(`\.(test|spec)\.[cm]?[jt]sx?$|(^|/)__tests__/`),
		Templates: []string{
			"{dir}/{base}.test{ext}",
			"{dir}/{base}.spec{ext}",
			"{dir}/__tests__/{base}.test{ext}",
			"{dir}/__tests__/{base}{ext}",
		},
	},
}

func conventionFor(p string) *TestConvention {
	ext := strings.ToLower(path.Ext(p))
	for i := range TestConventions {
		for _, e := range TestConventions[i].Extensions {
			if e == ext {
				return &TestConventions[i]
			}
		}
	}
	return nil
}

// IsTestPath reports whether p is a test file under its language's convention.
func IsTestPath(p string) bool {
	c := conventionFor(p)
	return c != nil && c.Test.MatchString(p)
}

// TestCandidates returns the conventional test paths for a source path, in
// table order without duplicates. Test files have no candidates.
func TestCandidates(p string) []string {
	c := conventionFor(p)
	if c == nil || c.Test.MatchString(p) {
		return nil
	}

	dir := path.Dir(p)
	if dir == "." {
		dir = ""
	}
	rest := ""
	if i := strings.Index(dir, "/"); i >= 0 {
		rest = dir[i+1:]
	}
	ext := path.Ext(p)
	r := strings.NewReplacer(
		"{dir}", dir,
		"{rest}", rest,
		"{base}", strings.TrimSuffix(path.Base(p), ext),
		"{ext}", ext,
	)

	seen := make(map[string]struct{})
	var out []string
	for _, tmpl := range c.Templates {
		candidate := strings.TrimPrefix(path.Clean(r.Replace(tmpl)), "/")
		if candidate == p {
			continue
		}
		if _, dup := seen[candidate]; dup {
			continue
		}
		seen[candidate] = struct{}{}
		out = append(out, candidate)
	}
	return out
}

// testPaths returns the tracked test files related to the given code paths:
// changed test files themselves, plus tracked conventional candidates.
func testPaths(codePaths []string, tracked map[string]struct{}) []string {
	found := make(map[string]struct{})
	for _, p := range codePaths {
		if IsTestPath(p) {
			if _, ok := tracked[p]; ok {
				found[p] = struct{}{}
			}
			continue
		}
		for _, candidate := range TestCandidates(p) {
			if _, ok := tracked[candidate]; ok {
				found[candidate] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(found))
	for p := range found {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
