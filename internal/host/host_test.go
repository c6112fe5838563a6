package host

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/railgunhq/railgun/internal/archive"
	"github.com/railgunhq/railgun/internal/homework"
)

func testOptions(t *testing.T) Options {
	t.Helper()
	return Options{
		TempRoot:        t.TempDir(),
		InstallRoot:     "/opt/railgun",
		APIBaseURL:      "http://localhost:5000/api",
		DefaultTimeout:  10 * time.Second,
		MaxArchiveFiles: 100,
		Logger:          zerolog.Nop(),
	}
}

func rules(t *testing.T, pairs ...string) *homework.RuleSet {
	t.Helper()
	rs := &homework.RuleSet{}
	for i := 0; i+1 < len(pairs); i += 2 {
		action, err := homework.ParseAction(pairs[i])
		if err != nil {
			t.Fatal(err)
		}
		if err := rs.Append(action, pairs[i+1]); err != nil {
			t.Fatal(err)
		}
	}
	return rs
}

func testHomework(t *testing.T, codeRules, hwRules *homework.RuleSet) *homework.Homework {
	t.Helper()
	codeDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(codeDir, "run.sh"), []byte("#!/bin/sh\n"), 0o700); err != nil {
		t.Fatal(err)
	}
	return &homework.Homework{
		UUID:  "9a5b1f8e0d1e4c5a8b7c6d5e4f3a2b1c",
		Slug:  "arith",
		Rules: hwRules,
		Codes: []*homework.CodePackage{{
			Lang:         "python",
			Path:         codeDir,
			Entry:        "run.sh",
			RunnerParams: map[string]string{"interpreter": "/bin/sh"},
			Rules:        codeRules,
		}},
	}
}

func writeZipArchive(t *testing.T, files map[string]string) archive.Extractor {
	t.Helper()
	path := filepath.Join(t.TempDir(), "handin.zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	ex, err := archive.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ex.Close() })
	return ex
}

func TestExtractHandinTwoTierRules(t *testing.T) {
	hw := testHomework(t,
		rules(t, "accept", `^src/`, "deny", `\.exe$`),
		rules(t, "accept", `\.txt$`))
	h, err := New(testOptions(t), "handin-1", hw, "python")
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	ex := writeZipArchive(t, map[string]string{
		"src/main.py":     "print('hi')",   // code tier ACCEPT
		"notes.txt":       "notes",         // homework tier ACCEPT
		"data.bin":        "\x00\x01",      // no verdict, default LOCK, skipped
		"__MACOSX/x.py":   "junk",          // junk entry, ignored
	})
	if err := h.ExtractHandin(ex); err != nil {
		t.Fatalf("extract: %v", err)
	}

	for _, want := range []string{"src/main.py", "notes.txt"} {
		if _, err := os.Stat(h.Workspace().FullPath(want)); err != nil {
			t.Errorf("expected %s in workspace: %v", want, err)
		}
	}
	for _, skip := range []string{"data.bin", "__MACOSX/x.py"} {
		if _, err := os.Stat(h.Workspace().FullPath(skip)); err == nil {
			t.Errorf("%s should not have been extracted", skip)
		}
	}
}

func TestExtractHandinDeniedFile(t *testing.T) {
	hw := testHomework(t,
		rules(t, "deny", `\.exe$`),
		rules(t))
	h, err := New(testOptions(t), "handin-2", hw, "python")
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	ex := writeZipArchive(t, map[string]string{"virus.exe": "MZ"})
	err = h.ExtractHandin(ex)
	e, ok := AsError(err)
	if !ok || e.Kind != KindFileDenied {
		t.Fatalf("extract error = %v, want FileDenied", err)
	}
	if !strings.Contains(e.Message(), "virus.exe") {
		t.Errorf("denial message should name the file, got %q", e.Message())
	}
}

func TestExtractHandinHomeworkTierDeny(t *testing.T) {
	// No code tier verdict, homework tier DENY still aborts.
	hw := testHomework(t,
		rules(t),
		rules(t, "deny", `secret`))
	h, err := New(testOptions(t), "handin-3", hw, "python")
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	ex := writeZipArchive(t, map[string]string{"secret.txt": "x"})
	if e, ok := AsError(h.ExtractHandin(ex)); !ok || e.Kind != KindFileDenied {
		t.Fatalf("want FileDenied, got %v", e)
	}
}

func TestExtractHandinTooManyFiles(t *testing.T) {
	opts := testOptions(t)
	opts.MaxArchiveFiles = 1
	hw := testHomework(t, rules(t, "accept", `.`), rules(t))
	h, err := New(opts, "handin-4", hw, "python")
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	ex := writeZipArchive(t, map[string]string{"a.txt": "a", "b.txt": "b"})
	if e, ok := AsError(h.ExtractHandin(ex)); !ok || e.Kind != KindTooManyFiles {
		t.Fatalf("want TooManyFiles, got %v", e)
	}
}

func TestExtractHandinStripsWrappingDir(t *testing.T) {
	hw := testHomework(t, rules(t, "accept", `.`), rules(t))
	h, err := New(testOptions(t), "handin-5", hw, "python")
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	ex := writeZipArchive(t, map[string]string{
		"project/main.py":      "x",
		"project/lib/util.py":  "y",
		"__MACOSX/project/i":   "junk",
	})
	if err := h.ExtractHandin(ex); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(h.Workspace().FullPath("main.py")); err != nil {
		t.Errorf("wrapping dir should be stripped: %v", err)
	}
	if _, err := os.Stat(h.Workspace().FullPath("project/main.py")); err == nil {
		t.Error("unstripped path should not exist")
	}
}

func TestExtractHandinUnsafePath(t *testing.T) {
	hw := testHomework(t, rules(t, "accept", `.`), rules(t))
	h, err := New(testOptions(t), "handin-6", hw, "python")
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	// The flat second entry defeats wrapping-dir stripping, so the
	// traversal entry reaches the path check as-is.
	ex := writeZipArchive(t, map[string]string{"../escape.txt": "x", "ok.txt": "y"})
	if e, ok := AsError(h.ExtractHandin(ex)); !ok || e.Kind != KindBadArchive {
		t.Fatalf("want BadArchive for traversal entry, got %v", e)
	}
}

func TestNewUnsupportedLanguage(t *testing.T) {
	hw := testHomework(t, rules(t), rules(t))
	_, err := New(testOptions(t), "handin-7", hw, "fortran")
	if e, ok := AsError(err); !ok || e.Kind != KindLanguageNotSupported {
		t.Fatalf("want LanguageNotSupported, got %v", err)
	}
}

func TestReformPath(t *testing.T) {
	cases := []struct {
		in   string
		want string
		bad  bool
	}{
		{in: "a/b.txt", want: "a/b.txt"},
		{in: `a\b.txt`, want: "a/b.txt"},
		{in: "a/./b.txt", want: "a/b.txt"},
		{in: "a//b.txt", want: "a/b.txt"},
		{in: "/etc/passwd", bad: true},
		{in: `C:\windows\evil`, bad: true},
		{in: "..", bad: true},
		{in: "../x", bad: true},
		{in: "a/../../x", bad: true},
		{in: "", bad: true},
	}
	for _, c := range cases {
		got, err := ReformPath(c.in)
		if c.bad {
			if err == nil {
				t.Errorf("ReformPath(%q) accepted, got %q", c.in, got)
			}
			continue
		}
		if err != nil || got != c.want {
			t.Errorf("ReformPath(%q) = (%q, %v), want %q", c.in, got, err, c.want)
		}
	}
}

func writeEntry(t *testing.T, h *Host, script string) {
	t.Helper()
	if err := h.Workspace().WriteFile("run.sh", strings.NewReader(script)); err != nil {
		t.Fatal(err)
	}
}

func TestRunCapturesExitAndOutput(t *testing.T) {
	hw := testHomework(t, rules(t), rules(t))
	h, err := New(testOptions(t), "handin-8", hw, "python")
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()
	writeEntry(t, h, "echo out\necho err 1>&2\nexit 3\n")

	res, err := h.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Exitcode != 3 {
		t.Errorf("exitcode = %d, want 3", res.Exitcode)
	}
	if strings.TrimSpace(string(res.Stdout)) != "out" {
		t.Errorf("stdout = %q", res.Stdout)
	}
	if strings.TrimSpace(string(res.Stderr)) != "err" {
		t.Errorf("stderr = %q", res.Stderr)
	}
}

func TestRunEnvironmentContract(t *testing.T) {
	hw := testHomework(t, rules(t), rules(t))
	h, err := New(testOptions(t), "handin-9", hw, "python")
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()
	writeEntry(t, h, "echo $RAILGUN_HANDID $RAILGUN_HWID $RAILGUN_API_BASEURL $RAILGUN_ROOT\n")

	res, err := h.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := "handin-9 " + hw.UUID + " http://localhost:5000/api /opt/railgun"
	if got := strings.TrimSpace(string(res.Stdout)); got != want {
		t.Errorf("env contract output = %q, want %q", got, want)
	}
}

func TestRunTimeoutKillsProcess(t *testing.T) {
	hw := testHomework(t, rules(t), rules(t))
	hw.Codes[0].TimeoutSeconds = 1
	h, err := New(testOptions(t), "handin-10", hw, "python")
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()
	writeEntry(t, h, "sleep 30\n")

	start := time.Now()
	_, err = h.Run(context.Background())
	if e, ok := AsError(err); !ok || e.Kind != KindTimeout {
		t.Fatalf("want Timeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("timeout took %v, process group not killed?", elapsed)
	}
}

func TestRunSpawnFailure(t *testing.T) {
	hw := testHomework(t, rules(t), rules(t))
	hw.Codes[0].RunnerParams["interpreter"] = "/nonexistent/interpreter"
	h, err := New(testOptions(t), "handin-11", hw, "python")
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()
	writeEntry(t, h, "true\n")

	if _, err := h.Run(context.Background()); err == nil {
		t.Fatal("expected spawn failure")
	} else if e, ok := AsError(err); !ok || e.Kind != KindSpawnFailure {
		t.Fatalf("want SpawnFailure, got %v", err)
	}
}

type fakeLeaser struct {
	user     string
	ok       bool
	released []string
}

func (f *fakeLeaser) Acquire(expires int) (string, bool, error) {
	return f.user, f.ok, nil
}

func (f *fakeLeaser) Release(user string) error {
	f.released = append(f.released, user)
	return nil
}

func TestRunAccountExhausted(t *testing.T) {
	opts := testOptions(t)
	opts.Accounts = &fakeLeaser{ok: false}
	hw := testHomework(t, rules(t), rules(t))
	h, err := New(opts, "handin-12", hw, "python")
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()
	writeEntry(t, h, "true\n")

	if _, err := h.Run(context.Background()); err == nil {
		t.Fatal("expected account exhaustion")
	} else if e, ok := AsError(err); !ok || e.Kind != KindAccountExhausted {
		t.Fatalf("want AccountExhausted, got %v", err)
	}
}

func TestPrepareCodeCopiesScaffold(t *testing.T) {
	hw := testHomework(t, rules(t), rules(t))
	h, err := New(testOptions(t), "handin-13", hw, "python")
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	if err := h.PrepareCode(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(h.Workspace().FullPath("run.sh")); err != nil {
		t.Errorf("scaffold not copied: %v", err)
	}
}

func TestNetHostValidateAddress(t *testing.T) {
	newNet := func(t *testing.T, params map[string]string, addr string) *NetHost {
		t.Helper()
		codeDir := t.TempDir()
		hw := &homework.Homework{
			UUID:  "abc",
			Rules: rules(t),
			Codes: []*homework.CodePackage{{
				Lang:         "netapi",
				Path:         codeDir,
				Entry:        "run.sh",
				RunnerParams: params,
				Rules:        rules(t),
			}},
		}
		h, err := NewNetHost(testOptions(t), "handin-n", hw, addr)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { h.Close() })
		return h
	}

	t.Run("url rule rejects", func(t *testing.T) {
		h := newNet(t, map[string]string{"urlrule": `^http://lab\.example\.com`},
			"http://evil.example.org/api")
		err := h.ValidateAddress(context.Background())
		if e, ok := AsError(err); !ok || e.Kind != KindAddressRejected {
			t.Fatalf("want AddressRejected, got %v", err)
		}
	})

	t.Run("ip rule passes on matching resolution", func(t *testing.T) {
		h := newNet(t, map[string]string{"iprule": `^10\.0\.`}, "http://lab.example.com/api")
		h.resolve = func(ctx context.Context, host string) ([]string, error) {
			return []string{"10.0.3.7"}, nil
		}
		if err := h.ValidateAddress(context.Background()); err != nil {
			t.Fatalf("validate: %v", err)
		}
	})

	t.Run("resolution failure fails closed", func(t *testing.T) {
		h := newNet(t, map[string]string{"iprule": `^10\.0\.`}, "http://lab.example.com/api")
		h.resolve = func(ctx context.Context, host string) ([]string, error) {
			return nil, errors.New("no such host")
		}
		err := h.ValidateAddress(context.Background())
		if e, ok := AsError(err); !ok || e.Kind != KindAddressRejected {
			t.Fatalf("want AddressRejected, got %v", err)
		}
	})

	t.Run("no rules accepts anything", func(t *testing.T) {
		h := newNet(t, map[string]string{}, "http://anywhere.example.net/")
		if err := h.ValidateAddress(context.Background()); err != nil {
			t.Fatalf("validate: %v", err)
		}
	})
}
