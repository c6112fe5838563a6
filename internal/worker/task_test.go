package worker

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/railgunhq/railgun/internal/homework"
	"github.com/railgunhq/railgun/internal/host"
	"github.com/railgunhq/railgun/internal/models"
)

type fakeReporter struct {
	mu       sync.Mutex
	started  []string
	scores   []*models.Score
	proclogs []models.ProclogRequest
}

func (f *fakeReporter) Start(ctx context.Context, handinID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, handinID)
	return nil
}

func (f *fakeReporter) Report(ctx context.Context, score *models.Score) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scores = append(f.scores, score)
	return nil
}

func (f *fakeReporter) Proclog(ctx context.Context, handinID string, exitcode int, stdout, stderr *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.proclogs = append(f.proclogs, models.ProclogRequest{
		UUID: handinID, Exitcode: exitcode, Stdout: stdout, Stderr: stderr,
	})
	return nil
}

// fakeStore serves archives from the local filesystem.
type fakeStore struct {
	files map[string]string // key -> local source path
}

func (f *fakeStore) Upload(ctx context.Context, key string, r io.Reader, size int64) error {
	return nil
}

func (f *fakeStore) FetchToFile(ctx context.Context, key, dir string) (string, error) {
	src, ok := f.files[key]
	if !ok {
		return "", os.ErrNotExist
	}
	dst := filepath.Join(dir, filepath.Base(src))
	data, err := os.ReadFile(src)
	if err != nil {
		return "", err
	}
	return dst, os.WriteFile(dst, data, 0o600)
}

func (f *fakeStore) Delete(ctx context.Context, key string) error  { return nil }
func (f *fakeStore) Ping(ctx context.Context) error                { return nil }
func (f *fakeStore) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := f.files[key]
	return ok, nil
}

func acceptAll(t *testing.T) *homework.RuleSet {
	t.Helper()
	rs := &homework.RuleSet{}
	if err := rs.Append(homework.ActionAccept, `.`); err != nil {
		t.Fatal(err)
	}
	return rs
}

func testSetup(t *testing.T, script string) (*Executor, *fakeReporter, models.HandinQueuedEvent) {
	t.Helper()

	codeDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(codeDir, "run.sh"), []byte(script), 0o700); err != nil {
		t.Fatal(err)
	}

	hw := &homework.Homework{
		UUID:      "hw0001",
		Slug:      "arith",
		Deadlines: []homework.Deadline{{At: time.Now().Add(24 * time.Hour), Scale: 1}},
		Rules:     &homework.RuleSet{},
		Codes: []*homework.CodePackage{{
			Lang:         "python",
			Path:         codeDir,
			Entry:        "run.sh",
			RunnerParams: map[string]string{"interpreter": "/bin/sh"},
			Rules:        acceptAll(t),
		}},
	}
	set := homework.NewSet(hw)

	zipPath := filepath.Join(t.TempDir(), "handin.zip")
	zf, err := os.Create(zipPath)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(zf)
	fw, err := zw.Create("answer.txt")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write([]byte("42")); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := zf.Close(); err != nil {
		t.Fatal(err)
	}

	reporter := &fakeReporter{}
	perm := &PermissionCheck{}
	perm.Run(zerolog.Nop())

	exec := NewExecutor(
		set,
		&fakeStore{files: map[string]string{"hw0001/h1.zip": zipPath}},
		reporter,
		perm,
		host.Options{
			TempRoot:        t.TempDir(),
			DefaultTimeout:  10 * time.Second,
			MaxArchiveFiles: 100,
			Logger:          zerolog.Nop(),
		},
		zerolog.Nop(),
	)

	event := models.HandinQueuedEvent{
		HandinID:   "h1",
		HomeworkID: "hw0001",
		Lang:       "python",
		ObjectKey:  "hw0001/h1.zip",
	}
	return exec, reporter, event
}

func TestExecutorSuccessfulRun(t *testing.T) {
	exec, reporter, event := testSetup(t, "cat answer.txt\n")

	if err := exec.Run(context.Background(), event); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(reporter.started) != 1 || reporter.started[0] != "h1" {
		t.Errorf("start reports = %v", reporter.started)
	}
	// The spawned process reports its own score; the executor must not.
	if len(reporter.scores) != 0 {
		t.Errorf("unexpected score reports: %+v", reporter.scores)
	}
	if len(reporter.proclogs) != 1 {
		t.Fatalf("proclogs = %d, want 1", len(reporter.proclogs))
	}
	p := reporter.proclogs[0]
	if p.Exitcode != 0 || p.Stdout == nil || *p.Stdout != "42" {
		t.Errorf("proclog = %+v", p)
	}
}

func TestExecutorDataHandin(t *testing.T) {
	codeDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(codeDir, "run.sh"), []byte("cat data.csv\n"), 0o700); err != nil {
		t.Fatal(err)
	}

	hw := &homework.Homework{
		UUID:      "hw0002",
		Slug:      "votes",
		Deadlines: []homework.Deadline{{At: time.Now().Add(24 * time.Hour), Scale: 1}},
		Rules:     &homework.RuleSet{},
		Codes: []*homework.CodePackage{{
			Lang:         "input",
			Path:         codeDir,
			Entry:        "run.sh",
			RunnerParams: map[string]string{"interpreter": "/bin/sh"},
			Rules:        acceptAll(t),
		}},
	}

	reporter := &fakeReporter{}
	perm := &PermissionCheck{}
	perm.Run(zerolog.Nop())

	exec := NewExecutor(
		homework.NewSet(hw),
		&fakeStore{},
		reporter,
		perm,
		host.Options{
			TempRoot:       t.TempDir(),
			DefaultTimeout: 10 * time.Second,
			Logger:         zerolog.Nop(),
		},
		zerolog.Nop(),
	)

	event := models.HandinQueuedEvent{
		HandinID:   "h2",
		HomeworkID: "hw0002",
		Lang:       "input",
		Data:       "name,vote\nalice,1\n",
	}
	if err := exec.Run(context.Background(), event); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(reporter.proclogs) != 1 {
		t.Fatalf("proclogs = %d, want 1", len(reporter.proclogs))
	}
	p := reporter.proclogs[0]
	if p.Exitcode != 0 || p.Stdout == nil || *p.Stdout != event.Data {
		t.Errorf("proclog = %+v", p)
	}
	if len(reporter.scores) != 0 {
		t.Errorf("unexpected score reports: %+v", reporter.scores)
	}
}

func TestExecutorNonZeroExitReportsRejection(t *testing.T) {
	exec, reporter, event := testSetup(t, "exit 7\n")

	if err := exec.Run(context.Background(), event); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(reporter.scores) != 1 {
		t.Fatalf("scores = %d, want 1", len(reporter.scores))
	}
	score := reporter.scores[0]
	if score.Accepted {
		t.Error("rejection report marked accepted")
	}
	if !strings.Contains(score.Result, "7") {
		t.Errorf("rejection should name the exitcode: %q", score.Result)
	}
	if len(reporter.proclogs) != 1 || reporter.proclogs[0].Exitcode != 7 {
		t.Errorf("proclogs = %+v", reporter.proclogs)
	}
}

func TestExecutorNonUTF8Output(t *testing.T) {
	exec, reporter, event := testSetup(t, `printf '\377\376'`+"\n")

	err := exec.Run(context.Background(), event)
	if e, ok := host.AsError(err); !ok || e.Kind != host.KindNonUTF8Output {
		t.Fatalf("want NonUTF8Output, got %v", err)
	}

	if len(reporter.proclogs) != 1 {
		t.Fatalf("proclogs = %d, want 1", len(reporter.proclogs))
	}
	if reporter.proclogs[0].Stdout != nil {
		t.Error("invalid output must be dropped from the proclog")
	}
	if len(reporter.scores) != 1 || reporter.scores[0].Accepted {
		t.Errorf("scores = %+v", reporter.scores)
	}
}

func TestExecutorUnsupportedLanguage(t *testing.T) {
	exec, reporter, event := testSetup(t, "true\n")
	event.Lang = "cobol"

	err := exec.Run(context.Background(), event)
	if e, ok := host.AsError(err); !ok || e.Kind != host.KindLanguageNotSupported {
		t.Fatalf("want LanguageNotSupported, got %v", err)
	}
	if len(reporter.scores) != 1 || reporter.scores[0].Accepted {
		t.Fatalf("scores = %+v", reporter.scores)
	}
	if !strings.Contains(reporter.scores[0].Result, "cobol") {
		t.Errorf("rejection should name the language: %q", reporter.scores[0].Result)
	}
}

func TestExecutorPermissionGate(t *testing.T) {
	exec, reporter, event := testSetup(t, "true\n")
	exec.perm = &PermissionCheck{} // never ran

	err := exec.Run(context.Background(), event)
	if e, ok := host.AsError(err); !ok || e.Kind != host.KindPermission {
		t.Fatalf("want Permission, got %v", err)
	}
	if len(reporter.scores) != 1 {
		t.Fatalf("scores = %d, want 1", len(reporter.scores))
	}
}

func TestPermissionCheckFindsWorldWritable(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "loose.txt")
	if err := os.WriteFile(bad, []byte("x"), 0o666); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(bad, 0o666); err != nil {
		t.Fatal(err)
	}

	check := &PermissionCheck{}
	check.Run(zerolog.Nop(), dir)
	if check.Err() == nil {
		t.Error("world-writable file should fail the check")
	}

	if err := os.Chmod(bad, 0o644); err != nil {
		t.Fatal(err)
	}
	check.Run(zerolog.Nop(), dir)
	if err := check.Err(); err != nil {
		t.Errorf("check should pass after chmod: %v", err)
	}
}
