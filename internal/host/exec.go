package host

import (
	"bytes"
	"context"
	"os/exec"
	"os/user"
	"strconv"
	"syscall"
	"time"
)

// ProcessResult captures everything the spawned handin process produced.
type ProcessResult struct {
	Exitcode int
	Stdout   []byte
	Stderr   []byte
}

// execute spawns argv in dir with the given environment and waits at most
// timeout. On timeout the whole process group is killed and ErrTimeout
// returned. A non-zero exit status is a result, not an error.
func execute(ctx context.Context, argv []string, dir string, env []string,
	timeout time.Duration, cred *syscall.Credential) (ProcessResult, *Error) {

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true, Credential: cred}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return ProcessResult{}, ErrSpawnFailure(err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		// Kill the process group, not just the leader, so forked
		// children cannot outlive the handin.
		syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-done
		return ProcessResult{}, ErrTimeout()
	case err := <-done:
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				return ProcessResult{
					Exitcode: exitErr.ExitCode(),
					Stdout:   stdout.Bytes(),
					Stderr:   stderr.Bytes(),
				}, nil
			}
			return ProcessResult{}, ErrSpawnFailure(err)
		}
		return ProcessResult{
			Exitcode: 0,
			Stdout:   stdout.Bytes(),
			Stderr:   stderr.Bytes(),
		}, nil
	}
}

// lookupCredential resolves a leased system account name into the process
// credential used to drop privileges for the spawned handin.
func lookupCredential(account string) (*syscall.Credential, error) {
	u, err := user.Lookup(account)
	if err != nil {
		return nil, err
	}
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return nil, err
	}
	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return nil, err
	}
	return &syscall.Credential{Uid: uint32(uid), Gid: uint32(gid)}, nil
}
