package endpoints

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/codecontext/internal/errors"
	"github.com/phobologic/codecontext/internal/history"
	"github.com/phobologic/codecontext/internal/logging"
	"github.com/phobologic/codecontext/internal/model"
	"github.com/phobologic/codecontext/internal/parse"
)

// staticSides serves fixed versions keyed by path.
type staticSides map[string][2][]byte

func (s staticSides) Sides(_ context.Context, f model.ChangedFile) ([]byte, []byte, error) {
	v := s[f.Path()]
	return v[0], v[1], nil
}

func newAnalyzer(t *testing.T, languages ...string) *Analyzer {
	t.Helper()
	if len(languages) == 0 {
		languages = []string{"python", "go", "ruby"}
	}
	ex, err := parse.NewExtractor(t.TempDir(), languages, 1<<20)
	require.NoError(t, err)
	return New(ex, logging.Discard())
}

const addLoginDiff = `diff --git a/app/login.py b/app/login.py
new file mode 100644
index 0000000..3333333
--- /dev/null
+++ b/app/login.py
@@ -0,0 +1,3 @@
+@app.get("/login")
+def login():
+    return "ok"
`

const changeMethodDiff = `diff --git a/app/routes.py b/app/routes.py
index 1111111..2222222 100644
--- a/app/routes.py
+++ b/app/routes.py
@@ -1,4 +1,4 @@
 from app import app
-@app.get("/login")
+@app.post("/login")
 def login():
     return "ok"
`

func TestAnalyzeAddedRoute(t *testing.T) {
	t.Parallel()
	files, err := history.ParseDiff(addLoginDiff)
	require.NoError(t, err)

	report, err := newAnalyzer(t).Analyze(context.Background(), files, WorktreeSides{})
	require.NoError(t, err)

	require.Len(t, report.Endpoints, 1)
	got := report.Endpoints[0]
	assert.Equal(t, "GET", got.Method)
	assert.Equal(t, "/login", got.Path)
	assert.Equal(t, model.Added, got.Status)
	assert.Equal(t, "login", got.Symbol)
	assert.Equal(t, "app/login.py", got.File)
	assert.Equal(t, 1, got.Line)
	assert.Empty(t, report.Warnings)
}

func TestAnalyzeMethodChange(t *testing.T) {
	t.Parallel()
	files, err := history.ParseDiff(changeMethodDiff)
	require.NoError(t, err)

	report, err := newAnalyzer(t).Analyze(context.Background(), files, WorktreeSides{})
	require.NoError(t, err)

	require.Len(t, report.Endpoints, 1)
	got := report.Endpoints[0]
	assert.Equal(t, model.Modified, got.Status)
	assert.Equal(t, "POST", got.Method)
	assert.Equal(t, "/login", got.Path)
	assert.Equal(t, "login", got.Symbol)
	assert.Equal(t, 2, got.Line)
}

const threeRoutes = `@app.get("/a")
def a():
    pass

@app.get("/b")
def b():
    pass

@app.get("/c")
def c():
    pass
`

const reworkedRoutes = `@app.get("/a")
def a():
    pass

@app.put("/b")
def b():
    pass

@app.get("/d")
def d():
    pass
`

func TestAnalyzePartitionsAndOrders(t *testing.T) {
	t.Parallel()
	files := []model.ChangedFile{{OldPath: "api.py", NewPath: "api.py"}}
	sides := staticSides{"api.py": {[]byte(threeRoutes), []byte(reworkedRoutes)}}

	report, err := newAnalyzer(t).Analyze(context.Background(), files, sides)
	require.NoError(t, err)

	require.Len(t, report.Endpoints, 3)
	assert.Equal(t, model.Removed, report.Endpoints[0].Status)
	assert.Equal(t, "/c", report.Endpoints[0].Path)
	assert.Equal(t, "c", report.Endpoints[0].Symbol)
	assert.Equal(t, model.Modified, report.Endpoints[1].Status)
	assert.Equal(t, "PUT", report.Endpoints[1].Method)
	assert.Equal(t, model.Added, report.Endpoints[2].Status)
	assert.Equal(t, "/d", report.Endpoints[2].Path)

	seen := make(map[string]int)
	for _, e := range report.Endpoints {
		seen[e.Symbol]++
	}
	for symbol, n := range seen {
		assert.Equal(t, 1, n, "symbol %s reported more than once", symbol)
	}
}

func TestAnalyzeUnchangedFileReportsNothing(t *testing.T) {
	t.Parallel()
	files := []model.ChangedFile{{OldPath: "api.py", NewPath: "api.py"}}
	sides := staticSides{"api.py": {[]byte(threeRoutes), []byte(threeRoutes + "\n# trailing comment\n")}}

	report, err := newAnalyzer(t).Analyze(context.Background(), files, sides)
	require.NoError(t, err)
	assert.Empty(t, report.Endpoints)
	assert.NotNil(t, report.Endpoints)
}

func TestAnalyzeSignatureChange(t *testing.T) {
	t.Parallel()
	files := []model.ChangedFile{{OldPath: "api.py", NewPath: "api.py"}}
	sides := staticSides{"api.py": {
		[]byte("@app.get(\"/users/{id}\")\ndef user(id):\n    pass\n"),
		[]byte("@app.get(\"/users/{id}\")\ndef user(id: int, verbose=False):\n    pass\n"),
	}}

	report, err := newAnalyzer(t).Analyze(context.Background(), files, sides)
	require.NoError(t, err)
	require.Len(t, report.Endpoints, 1)
	assert.Equal(t, model.Modified, report.Endpoints[0].Status)
	assert.Equal(t, "(id: int, verbose=False)", report.Endpoints[0].Signature.Params)
}

func TestAnalyzeWhitespaceOnlyChangeIsIgnored(t *testing.T) {
	t.Parallel()
	files := []model.ChangedFile{{OldPath: "api.py", NewPath: "api.py"}}
	sides := staticSides{"api.py": {
		[]byte("@app.get(\"/x\")\ndef x(a,b):\n    pass\n"),
		[]byte("@app.get( \"/x\" )\ndef x(a, b):\n    pass\n"),
	}}

	report, err := newAnalyzer(t).Analyze(context.Background(), files, sides)
	require.NoError(t, err)
	assert.Empty(t, report.Endpoints)
}

func TestAnalyzeGoRegistrations(t *testing.T) {
	t.Parallel()
	src := "package main\n\nfunc routes(r *gin.Engine) {\n\tr.GET(\"/login\", login)\n\tr.POST(\"/logout\", logout)\n}\n"
	files := []model.ChangedFile{{NewPath: "server/routes.go"}}
	sides := staticSides{"server/routes.go": {nil, []byte(src)}}

	report, err := newAnalyzer(t).Analyze(context.Background(), files, sides)
	require.NoError(t, err)

	require.Len(t, report.Endpoints, 2)
	assert.Equal(t, "GET", report.Endpoints[0].Method)
	assert.Equal(t, 4, report.Endpoints[0].Line)
	assert.Equal(t, "POST", report.Endpoints[1].Method)
	for _, e := range report.Endpoints {
		assert.Equal(t, "routes", e.Symbol)
		assert.Equal(t, model.Added, e.Status)
	}
}

func TestAnalyzeSinatraVerbChange(t *testing.T) {
	t.Parallel()
	files := []model.ChangedFile{{OldPath: "app.rb", NewPath: "app.rb"}}
	sides := staticSides{"app.rb": {
		[]byte("get '/x' do\n  'ok'\nend\n\nget '/y' do\n  'y'\nend\n"),
		[]byte("post '/x' do\n  'ok'\nend\n\nget '/y' do\n  'y'\nend\n"),
	}}

	report, err := newAnalyzer(t).Analyze(context.Background(), files, sides)
	require.NoError(t, err)
	require.Len(t, report.Endpoints, 1)
	got := report.Endpoints[0]
	assert.Equal(t, model.Modified, got.Status)
	assert.Equal(t, "POST", got.Method)
	assert.Equal(t, "/x", got.Path)
	assert.Equal(t, "'/x'", got.Symbol)
	assert.Equal(t, 1, got.Line)
}

func TestAnalyzeRemovedFile(t *testing.T) {
	t.Parallel()
	files := []model.ChangedFile{{OldPath: "old.py"}}
	sides := staticSides{"old.py": {[]byte("@router.delete(\"/items\")\ndef drop():\n    pass\n"), nil}}

	report, err := newAnalyzer(t).Analyze(context.Background(), files, sides)
	require.NoError(t, err)
	require.Len(t, report.Endpoints, 1)
	assert.Equal(t, model.Removed, report.Endpoints[0].Status)
	assert.Equal(t, "DELETE", report.Endpoints[0].Method)
}

func TestAnalyzeSkipsWithWarnings(t *testing.T) {
	t.Parallel()
	files := []model.ChangedFile{
		{OldPath: "README.md", NewPath: "README.md"},
		{OldPath: "main.go", NewPath: "main.go"},
		{OldPath: "broken.py", NewPath: "broken.py"},
		{NewPath: "ok.py"},
	}
	sides := staticSides{
		"broken.py": {[]byte("def f():\n    pass\n"), []byte("def f(:\n    pass\n")},
		"ok.py":     {nil, []byte("@app.get(\"/ok\")\ndef ok():\n    pass\n")},
	}

	report, err := newAnalyzer(t, "python").Analyze(context.Background(), files, sides)
	require.NoError(t, err)

	require.Len(t, report.Endpoints, 1, "remaining files are still analyzed")
	assert.Equal(t, "/ok", report.Endpoints[0].Path)
	require.Len(t, report.Warnings, 2)
	assert.Contains(t, report.Warnings[0], "main.go")
	assert.Contains(t, report.Warnings[1], "broken.py")
}

// failingSides fails every load.
type failingSides struct{}

func (failingSides) Sides(context.Context, model.ChangedFile) ([]byte, []byte, error) {
	return nil, nil, errors.New(errors.CommandFailed, "git cat-file failed")
}

func TestAnalyzeSideLoadFailure(t *testing.T) {
	t.Parallel()
	files := []model.ChangedFile{{OldPath: "a.py", NewPath: "a.py"}}

	report, err := newAnalyzer(t).Analyze(context.Background(), files, failingSides{})
	require.NoError(t, err)
	assert.Empty(t, report.Endpoints)
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "COMMAND_FAILED")
}

func TestAnalyzeCancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newAnalyzer(t).Analyze(ctx, []model.ChangedFile{{NewPath: "a.py"}}, staticSides{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnalyzeEmptyDiff(t *testing.T) {
	t.Parallel()
	report, err := newAnalyzer(t).Analyze(context.Background(), nil, WorktreeSides{})
	require.NoError(t, err)
	assert.NotNil(t, report.Endpoints)
	assert.Empty(t, report.Endpoints)
}
