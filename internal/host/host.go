// Package host runs one handin inside an isolated working directory: it
// copies the homework scaffold, extracts the student archive under file
// rule policies and spawns the entry process with a timeout. It is the only
// package allowed to fork untrusted commands.
package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/railgunhq/railgun/internal/archive"
	"github.com/railgunhq/railgun/internal/homework"
)

// AccountLeaser leases isolated system accounts for process execution.
type AccountLeaser interface {
	Acquire(expires int) (user string, ok bool, err error)
	Release(user string) error
}

// Options carries the deployment-wide knobs shared by all hosts.
type Options struct {
	TempRoot        string
	InstallRoot     string
	APIBaseURL      string
	DefaultTimeout  time.Duration
	MaxArchiveFiles int
	LeaseSeconds    int
	Accounts        AccountLeaser
	Logger          zerolog.Logger
}

// Host owns the working directory of one handin. The caller drives it
// through PrepareCode, ExtractHandin and Run in that order, and must Close
// it on every exit path.
type Host struct {
	opts     Options
	handinID string
	hw       *homework.Homework
	code     *homework.CodePackage
	ws       *Workspace
	extraEnv map[string]string
}

// New allocates the workspace for handinID and resolves the code package
// for lang.
func New(opts Options, handinID string, hw *homework.Homework, lang string) (*Host, error) {
	code, ok := hw.GetCode(lang)
	if !ok {
		return nil, ErrLanguageNotSupported(lang)
	}
	ws, err := NewWorkspace(opts.TempRoot, handinID)
	if err != nil {
		return nil, ErrInternal(err)
	}
	return &Host{
		opts:     opts,
		handinID: handinID,
		hw:       hw,
		code:     code,
		ws:       ws,
		extraEnv: map[string]string{},
	}, nil
}

// Workspace exposes the working directory, e.g. for data handins that
// materialize their payload as a file.
func (h *Host) Workspace() *Workspace {
	return h.ws
}

// SetEnv adds a host-specific environment override for the spawned process.
func (h *Host) SetEnv(key, value string) {
	h.extraEnv[key] = value
}

// PrepareCode copies the code package scaffold into the workspace. I/O
// failures surface as internal errors, never as raw causes.
func (h *Host) PrepareCode() error {
	if err := h.ws.CopyTree(h.code.Path); err != nil {
		h.opts.Logger.Error().Err(err).
			Str("handin", h.handinID).Str("hw", h.hw.UUID).
			Msg("Failed to copy code package into workspace")
		return ErrInternal(err)
	}
	return nil
}

// ExtractHandin validates and extracts the student archive into the
// workspace. A superfluous single wrapping directory is stripped. Each file
// passes the two-tier rule check: the code package rules are consulted
// first and a DENY at either tier aborts the whole extraction; a file kept
// must be explicitly accepted by the tier that decided it.
func (h *Host) ExtractHandin(ex archive.Extractor) error {
	if h.opts.MaxArchiveFiles > 0 {
		if _, err := archive.CountFiles(ex, h.opts.MaxArchiveFiles); err != nil {
			if errors.Is(err, archive.ErrTooManyFiles) {
				return ErrTooManyFiles(h.opts.MaxArchiveFiles)
			}
			return ErrBadArchive(err)
		}
	}
	onedir, err := archive.OneDir(ex)
	if err != nil {
		return ErrBadArchive(err)
	}
	if err := ex.Reset(); err != nil {
		return ErrBadArchive(err)
	}

	for {
		name, r, err := ex.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return ErrExtractFailure(err)
		}
		if archive.IsJunkEntry(name) {
			continue
		}
		if onedir {
			name = archive.StripDir(name)
		}
		path, err := ReformPath(name)
		if err != nil {
			return ErrBadArchive(fmt.Errorf("entry %q: %w", name, err))
		}

		keep, err := h.checkRules(path)
		if err != nil {
			return err
		}
		if !keep {
			continue
		}
		if err := h.ws.WriteFile(path, r); err != nil {
			h.opts.Logger.Error().Err(err).
				Str("handin", h.handinID).Str("path", path).
				Msg("Failed to write extracted file")
			return ErrInternal(err)
		}
	}
}

// checkRules applies the two-tier verdict for one extracted path. The code
// package tier is checked first; only when it gives no explicit verdict do
// the homework rules apply, with LOCK as the default. Any non-ACCEPT,
// non-DENY verdict skips the file from extraction.
func (h *Host) checkRules(path string) (bool, error) {
	if action, ok := h.code.Rules.Match(path); ok {
		if action == homework.ActionDeny {
			return false, ErrFileDenied(path)
		}
		return action == homework.ActionAccept, nil
	}
	action := h.hw.Rules.GetAction(path, homework.ActionLock)
	if action == homework.ActionDeny {
		return false, ErrFileDenied(path)
	}
	return action == homework.ActionAccept, nil
}

// Run leases an execution account when a pool is configured, builds the
// constrained process environment and spawns the entry command under the
// package timeout.
func (h *Host) Run(ctx context.Context) (ProcessResult, error) {
	argv, err := h.buildArgv()
	if err != nil {
		return ProcessResult{}, err
	}

	var cred *syscall.Credential
	if h.opts.Accounts != nil {
		account, ok, err := h.opts.Accounts.Acquire(h.opts.LeaseSeconds)
		if err != nil {
			return ProcessResult{}, ErrInternal(err)
		}
		if !ok {
			return ProcessResult{}, ErrAccountExhausted()
		}
		defer func() {
			if err := h.opts.Accounts.Release(account); err != nil {
				h.opts.Logger.Warn().Err(err).Str("account", account).
					Msg("Failed to release execution account")
			}
		}()
		cred, err = lookupCredential(account)
		if err != nil {
			return ProcessResult{}, ErrSpawnFailure(err)
		}
		if err := h.ws.Chown(cred.Uid, cred.Gid); err != nil {
			return ProcessResult{}, ErrInternal(err)
		}
	}

	result, rerr := execute(ctx, argv, h.ws.Path(), h.buildEnv(),
		h.code.Timeout(h.opts.DefaultTimeout), cred)
	if rerr != nil {
		if rerr.Kind == KindSpawnFailure {
			h.opts.Logger.Error().Err(rerr).
				Str("handin", h.handinID).Str("hw", h.hw.UUID).
				Msg("Failed to spawn handin process")
		}
		return ProcessResult{}, rerr
	}
	return result, nil
}

func (h *Host) buildArgv() ([]string, error) {
	if h.code.Entry == "" {
		return nil, ErrInternal(fmt.Errorf("code package %q has no entry point", h.code.Lang))
	}
	entry := h.ws.FullPath(h.code.Entry)
	if interp := h.code.RunnerParams["interpreter"]; interp != "" {
		return []string{interp, entry}, nil
	}
	return []string{entry}, nil
}

// buildEnv is the only contract the untrusted process may rely on: the
// ambient environment plus explicit RAILGUN_* variables.
func (h *Host) buildEnv() []string {
	env := os.Environ()
	env = append(env,
		"RAILGUN_HANDID="+h.handinID,
		"RAILGUN_HWID="+h.hw.UUID,
		"RAILGUN_API_BASEURL="+h.opts.APIBaseURL,
		"RAILGUN_ROOT="+h.opts.InstallRoot,
	)
	for k, v := range h.extraEnv {
		env = append(env, k+"="+v)
	}
	return env
}

// Close tears the workspace down. Safe to call on every exit path.
func (h *Host) Close() error {
	return h.ws.Close()
}
