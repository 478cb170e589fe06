package main

import (
	"bytes"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/phobologic/codecontext/internal/errors"
	"github.com/phobologic/codecontext/internal/model"
)

func writeTestFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// sampleRepo is a throwaway git repository with fixed commit dates.
type sampleRepo struct {
	t    *testing.T
	dir  string
	home string
	date int64
}

func newSampleRepo(t *testing.T) *sampleRepo {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	r := &sampleRepo{t: t, dir: t.TempDir(), home: t.TempDir()}
	r.git("init", "-q")
	r.git("symbolic-ref", "HEAD", "refs/heads/main")
	r.git("config", "user.name", "Test User")
	r.git("config", "user.email", "test@example.com")
	r.git("config", "commit.gpgsign", "false")
	return r
}

func (r *sampleRepo) git(args ...string) string {
	r.t.Helper()
	date := "@" + strconv.FormatInt(r.date, 10) + " +0000"
	cmd := exec.Command("git", args...)
	cmd.Dir = r.dir
	cmd.Env = append(os.Environ(),
		"HOME="+r.home,
		"GIT_CONFIG_NOSYSTEM=1",
		"GIT_AUTHOR_DATE="+date,
		"GIT_COMMITTER_DATE="+date,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		r.t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return string(out)
}

func (r *sampleRepo) commit(msg string, files map[string]string) {
	r.t.Helper()
	for name, content := range files {
		writeTestFile(r.t, r.dir, name, content)
	}
	r.date += 1000
	r.git("add", "-A")
	r.git("commit", "-q", "--allow-empty", "-m", msg)
}

const routesV1 = `from app import app


@app.get("/login")
def login():
    """Show the login form."""
    return "ok"
`

const routesV2 = `from app import app


@app.post("/login")
def login():
    """Show the login form."""
    return "ok"


@app.get("/logout")
def logout():
    return "bye"
`

// createSampleRepo builds a repository where FEAT-217 is mentioned by two
// commits and the second one changes the routes.
func createSampleRepo(t *testing.T) *sampleRepo {
	t.Helper()
	r := newSampleRepo(t)
	r.commit("initial import", map[string]string{
		"README.md":       "readme\n",
		"app/__init__.py": "app = None\n",
	})
	r.commit("feat(auth): add login page (FEAT-217)", map[string]string{
		"app/routes.py":            routesV1,
		"tests/test_routes.py":     "def test_login():\n    pass\n",
		"app/models.py":            "class User:\n    def name(self):\n        return 'x'\n",
		"app/templates/login.html": "<form></form>\n",
	})
	r.commit("Closes FEAT-217: post login and add logout", map[string]string{
		"app/routes.py": routesV2,
	})
	return r
}

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(args, &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func TestRunVersion(t *testing.T) {
	t.Parallel()

	out, _, err := runCLI(t, "--version")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "codecontext dev\n" {
		t.Errorf("unexpected version output: %q", out)
	}
}

func TestRunFeature(t *testing.T) {
	t.Parallel()
	r := createSampleRepo(t)

	out, stderr, err := runCLI(t, "--repo", r.dir, "feature", "FEAT-217")
	if err != nil {
		t.Fatalf("run: %v\nstderr: %s", err, stderr)
	}

	for _, want := range []string{
		"feature: FEAT-217",
		"notFound: false",
		"description: post login and add logout",
		"branches[1]: main",
		"commits[2]{hash,date,matchedBy,subject}:",
		"closing-keyword",
		"paths[4]{path,touches}:",
		"  app/routes.py,2",
		"tests[1]: tests/test_routes.py",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunFeatureMaxCommits(t *testing.T) {
	t.Parallel()
	r := createSampleRepo(t)

	out, stderr, err := runCLI(t, "--repo", r.dir, "feature", "FEAT-217", "-n", "1", "--max-paths", "1")
	if err != nil {
		t.Fatalf("run: %v\nstderr: %s", err, stderr)
	}
	if !strings.Contains(out, "commits[1]{") {
		t.Errorf("expected one commit:\n%s", out)
	}
	if !strings.Contains(out, "Closes FEAT-217") {
		t.Errorf("expected the newest commit to be kept:\n%s", out)
	}
	if !strings.Contains(out, "paths[1]{path,touches}:\n  app/routes.py,2") {
		t.Errorf("expected only the most touched path:\n%s", out)
	}
}

func TestRunFeatureJSON(t *testing.T) {
	t.Parallel()
	r := createSampleRepo(t)

	out, stderr, err := runCLI(t, "--repo", r.dir, "--format", "json", "feature", "FEAT-217")
	if err != nil {
		t.Fatalf("run: %v\nstderr: %s", err, stderr)
	}

	var fc model.FeatureContext
	if err := json.Unmarshal([]byte(out), &fc); err != nil {
		t.Fatalf("output is not json: %v\n%s", err, out)
	}
	if fc.FeatureID != "FEAT-217" || fc.NotFound {
		t.Errorf("unexpected feature: %+v", fc)
	}
	if len(fc.Commits) != 2 {
		t.Errorf("expected 2 commits, got %d", len(fc.Commits))
	}
	if len(fc.TestPaths) != 1 || fc.TestPaths[0] != "tests/test_routes.py" {
		t.Errorf("unexpected test paths: %v", fc.TestPaths)
	}
}

func TestRunFeatureYAML(t *testing.T) {
	t.Parallel()
	r := createSampleRepo(t)

	out, stderr, err := runCLI(t, "--repo", r.dir, "-f", "yaml", "feature", "FEAT-217")
	if err != nil {
		t.Fatalf("run: %v\nstderr: %s", err, stderr)
	}

	var doc map[string]any
	if err := yaml.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("output is not yaml: %v\n%s", err, out)
	}
	if doc["featureId"] != "FEAT-217" {
		t.Errorf("unexpected featureId: %v", doc["featureId"])
	}
	if doc["description"] != "post login and add logout" {
		t.Errorf("unexpected description: %v", doc["description"])
	}
}

func TestRunFeatureNotFound(t *testing.T) {
	t.Parallel()
	r := createSampleRepo(t)

	out, stderr, err := runCLI(t, "--repo", r.dir, "feature", "FEAT-404")
	if err != nil {
		t.Fatalf("run: %v\nstderr: %s", err, stderr)
	}
	if !strings.Contains(out, "notFound: true") {
		t.Errorf("expected notFound:\n%s", out)
	}
	if !strings.Contains(out, "commits[0]{") {
		t.Errorf("expected no commits:\n%s", out)
	}
	if !strings.Contains(stderr, "warning: no commit mentions FEAT-404") {
		t.Errorf("expected a warning on stderr:\n%s", stderr)
	}
}

func TestRunFeatureInvalidIdentifier(t *testing.T) {
	t.Parallel()
	r := createSampleRepo(t)

	_, _, err := runCLI(t, "--repo", r.dir, "feature", "x; rm -rf /")
	if errors.CodeOf(err) != errors.InvalidPattern {
		t.Errorf("got %v, want INVALID_PATTERN", err)
	}

	_, _, err = runCLI(t, "--repo", r.dir, "feature", "a..b")
	if errors.CodeOf(err) != errors.InputValidation {
		t.Errorf("got %v, want INPUT_VALIDATION", err)
	}
}

func TestRunExamples(t *testing.T) {
	t.Parallel()
	r := createSampleRepo(t)

	out, stderr, err := runCLI(t, "--repo", r.dir, "examples", "app/routes.py")
	if err != nil {
		t.Fatalf("run: %v\nstderr: %s", err, stderr)
	}
	for _, want := range []string{
		"files[1]{path,language,symbols,parseFailed}:",
		"  app/routes.py,python,2,false",
		"symbols[2]{file,name,kind,lines,signature,doc}:",
		"app/routes.py,login,function,4-7,",
		"Show the login form.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, `return \"ok\"`) {
		t.Errorf("code should be omitted without --code:\n%s", out)
	}
}

func TestRunExamplesCode(t *testing.T) {
	t.Parallel()
	r := createSampleRepo(t)

	out, stderr, err := runCLI(t, "--repo", r.dir, "examples", "app/routes.py", "--code")
	if err != nil {
		t.Fatalf("run: %v\nstderr: %s", err, stderr)
	}
	if !strings.Contains(out, "{file,name,kind,lines,signature,doc,code}") {
		t.Errorf("expected a code column:\n%s", out)
	}
	if !strings.Contains(out, `return \"ok\"`) {
		t.Errorf("expected code bodies:\n%s", out)
	}
}

func TestRunExamplesSymbolFilter(t *testing.T) {
	t.Parallel()
	r := createSampleRepo(t)

	out, stderr, err := runCLI(t, "--repo", r.dir, "examples", "app", "--symbol", "User")
	if err != nil {
		t.Fatalf("run: %v\nstderr: %s", err, stderr)
	}
	if !strings.Contains(out, "files[3]{") {
		t.Errorf("expected every python file under app:\n%s", out)
	}
	if !strings.Contains(out, "symbols[2]{") {
		t.Errorf("expected User and its method:\n%s", out)
	}
	if strings.Contains(out, "logout") {
		t.Errorf("logout should be filtered out:\n%s", out)
	}
}

func TestRunExamplesErrors(t *testing.T) {
	t.Parallel()
	r := createSampleRepo(t)

	_, _, err := runCLI(t, "--repo", r.dir, "examples", "app/missing.py")
	if errors.CodeOf(err) != errors.FileNotFound {
		t.Errorf("missing file: got %v, want FILE_NOT_FOUND", err)
	}

	_, _, err = runCLI(t, "--repo", r.dir, "examples", "README.md")
	if errors.CodeOf(err) != errors.UnsupportedLanguage {
		t.Errorf("markdown: got %v, want UNSUPPORTED_LANGUAGE", err)
	}

	_, _, err = runCLI(t, "--repo", r.dir, "examples")
	if err == nil {
		t.Error("expected an error without paths")
	}
}

func TestRunEndpointsBetween(t *testing.T) {
	t.Parallel()
	r := createSampleRepo(t)

	out, stderr, err := runCLI(t, "--repo", r.dir, "endpoints", "--base", "HEAD~1")
	if err != nil {
		t.Fatalf("run: %v\nstderr: %s", err, stderr)
	}
	for _, want := range []string{
		"endpoints[2]{status,method,path,symbol,file,line,signature}:",
		"  modified,POST,/login,login,app/routes.py,4,()",
		"  added,GET,/logout,logout,app/routes.py,10,()",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunEndpointsDiffFile(t *testing.T) {
	t.Parallel()
	r := createSampleRepo(t)
	diff := r.git("diff", "HEAD~1", "HEAD")
	patch := filepath.Join(t.TempDir(), "change.patch")
	if err := os.WriteFile(patch, []byte(diff), 0o644); err != nil {
		t.Fatal(err)
	}

	out, stderr, err := runCLI(t, "--repo", r.dir, "--format", "json", "endpoints", "--diff", patch)
	if err != nil {
		t.Fatalf("run: %v\nstderr: %s", err, stderr)
	}

	var report model.EndpointReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("output is not json: %v\n%s", err, out)
	}
	if len(report.Endpoints) != 2 {
		t.Fatalf("expected 2 endpoints, got %+v", report.Endpoints)
	}
	if report.Endpoints[0].Status != model.Modified || report.Endpoints[1].Status != model.Added {
		t.Errorf("unexpected statuses: %+v", report.Endpoints)
	}
}

func TestRunEndpointsArguments(t *testing.T) {
	t.Parallel()
	r := createSampleRepo(t)

	_, _, err := runCLI(t, "--repo", r.dir, "endpoints")
	if !errors.IsValidation(err) {
		t.Errorf("no source: got %v, want INPUT_VALIDATION", err)
	}

	_, _, err = runCLI(t, "--repo", r.dir, "endpoints", "--diff", "-", "--base", "main")
	if !errors.IsValidation(err) {
		t.Errorf("two sources: got %v, want INPUT_VALIDATION", err)
	}

	_, _, err = runCLI(t, "--repo", r.dir, "endpoints", "--diff", filepath.Join(t.TempDir(), "none.patch"))
	if errors.CodeOf(err) != errors.FileNotFound {
		t.Errorf("missing patch: got %v, want FILE_NOT_FOUND", err)
	}

	_, _, err = runCLI(t, "--repo", r.dir, "endpoints", "--base", "no-such-branch")
	if errors.CodeOf(err) != errors.UnknownCommit {
		t.Errorf("unknown base: got %v, want UNKNOWN_COMMIT", err)
	}
}

func TestRunUnknownFormat(t *testing.T) {
	t.Parallel()
	r := createSampleRepo(t)

	_, _, err := runCLI(t, "--repo", r.dir, "--format", "xml", "feature", "FEAT-217")
	if !errors.IsValidation(err) {
		t.Errorf("got %v, want INPUT_VALIDATION", err)
	}
}

func TestRunNotARepository(t *testing.T) {
	t.Parallel()

	_, _, err := runCLI(t, "--repo", t.TempDir(), "feature", "FEAT-217")
	if errors.CodeOf(err) != errors.RepositoryNotFound {
		t.Errorf("got %v, want REPOSITORY_NOT_FOUND", err)
	}
}

func TestRunConfigFile(t *testing.T) {
	t.Parallel()
	r := createSampleRepo(t)
	writeTestFile(t, r.dir, ".codecontext.yaml", "supportedLanguages: [go]\n")

	_, _, err := runCLI(t, "--repo", r.dir, "examples", "app/routes.py")
	if errors.CodeOf(err) != errors.UnsupportedLanguage {
		t.Errorf("python disabled by config: got %v, want UNSUPPORTED_LANGUAGE", err)
	}
}

func TestRunConfigFileInvalid(t *testing.T) {
	t.Parallel()
	r := createSampleRepo(t)
	dir := t.TempDir()
	writeTestFile(t, dir, "bad.yaml", "supportedLanguages: [cobol]\n")
	cfg := filepath.Join(dir, "bad.yaml")

	_, _, err := runCLI(t, "--repo", r.dir, "--config", cfg, "feature", "FEAT-217")
	if err == nil || !strings.Contains(err.Error(), "supportedLanguages") {
		t.Errorf("expected a config error naming the field, got %v", err)
	}
}

func TestRunLogLevelFlag(t *testing.T) {
	t.Parallel()
	r := createSampleRepo(t)

	_, stderr, err := runCLI(t, "--repo", r.dir, "--log-level", "debug", "feature", "FEAT-217")
	if err != nil {
		t.Fatalf("run: %v\nstderr: %s", err, stderr)
	}
	if !strings.Contains(stderr, "cache stats") {
		t.Errorf("expected debug cache stats on stderr:\n%s", stderr)
	}

	_, stderr, err = runCLI(t, "--repo", r.dir, "--log-level", "error", "feature", "FEAT-217")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if strings.Contains(stderr, "feature metadata") {
		t.Errorf("info logs should be suppressed at error level:\n%s", stderr)
	}
}
