package history

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/phobologic/codecontext/internal/config"
	"github.com/phobologic/codecontext/internal/logging"
)

// testRepo is a throwaway git repository with deterministic commit dates.
type testRepo struct {
	t    *testing.T
	dir  string
	home string
}

func newTestRepo(t *testing.T) *testRepo {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	r := &testRepo{t: t, dir: t.TempDir(), home: t.TempDir()}
	r.git(0, "init", "-q")
	r.git(0, "symbolic-ref", "HEAD", "refs/heads/main")
	r.git(0, "config", "user.name", "Test User")
	r.git(0, "config", "user.email", "test@example.com")
	r.git(0, "config", "commit.gpgsign", "false")
	r.git(0, "config", "tag.gpgsign", "false")
	return r
}

func (r *testRepo) git(unix int64, args ...string) string {
	r.t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = r.dir
	cmd.Env = append(os.Environ(),
		"HOME="+r.home,
		"GIT_CONFIG_NOSYSTEM=1",
		"GIT_AUTHOR_DATE=@"+strconv.FormatInt(unix, 10)+" +0000",
		"GIT_COMMITTER_DATE=@"+strconv.FormatInt(unix, 10)+" +0000",
	)
	out, err := cmd.CombinedOutput()
	require.NoError(r.t, err, "git %s: %s", strings.Join(args, " "), out)
	return strings.TrimSpace(string(out))
}

func (r *testRepo) write(name, content string) {
	r.t.Helper()
	path := filepath.Join(r.dir, filepath.FromSlash(name))
	require.NoError(r.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(r.t, os.WriteFile(path, []byte(content), 0o644))
}

// commit writes files, stages everything and commits at the given time.
func (r *testRepo) commit(unix int64, msg string, files map[string]string) string {
	r.t.Helper()
	for name, content := range files {
		r.write(name, content)
	}
	r.git(unix, "add", "-A")
	r.git(unix, "commit", "-q", "--allow-empty", "-m", msg)
	return r.git(unix, "rev-parse", "HEAD")
}

// countingRunner records every command and can hold commands until released.
type countingRunner struct {
	inner Runner
	gate  chan struct{}

	calls atomic.Int32
	mu    sync.Mutex
	ops   []string
}

func (c *countingRunner) Run(dir string, args ...string) ([]byte, error) {
	c.calls.Add(1)
	c.mu.Lock()
	c.ops = append(c.ops, args[0])
	c.mu.Unlock()
	if c.gate != nil {
		<-c.gate
	}
	return c.inner.Run(dir, args...)
}

func (c *countingRunner) count(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, o := range c.ops {
		if o == op {
			n++
		}
	}
	return n
}

func openRepo(t *testing.T, dir string) (*Repository, *countingRunner) {
	t.Helper()
	inner, err := NewExecRunner("git", 30*time.Second, logging.Discard())
	require.NoError(t, err)
	runner := &countingRunner{inner: inner}
	repo, err := Open(dir, Options{
		CacheConfig: config.DefaultConfig().Cache,
		Runner:      runner,
		Log:         logging.Discard(),
	})
	require.NoError(t, err)
	return repo, runner
}
