package worker

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// PermissionCheck verifies at startup that the directories the runner
// trusts cannot be tampered with by the unprivileged execution accounts.
// The result is computed once and consulted before every handin.
type PermissionCheck struct {
	mu       sync.RWMutex
	problems []string
	done     bool
}

// Run inspects every dir for world-writable entries and caches the verdict.
func (c *PermissionCheck) Run(logger zerolog.Logger, dirs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.problems = c.problems[:0]
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				c.problems = append(c.problems, fmt.Sprintf("%s: %v", p, err))
				return fs.SkipDir
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			if info.Mode().Perm()&0o002 != 0 {
				c.problems = append(c.problems, fmt.Sprintf("%s is world-writable", p))
			}
			return nil
		})
		if err != nil && !os.IsNotExist(err) {
			c.problems = append(c.problems, fmt.Sprintf("%s: %v", dir, err))
		}
	}
	c.done = true

	if len(c.problems) > 0 {
		for _, p := range c.problems {
			logger.Error().Str("problem", p).Msg("Runner file permission problem")
		}
	} else {
		logger.Info().Int("dirs", len(dirs)).Msg("Runner file permissions verified")
	}
}

// Err returns a describing error when the check found problems or was never
// run.
func (c *PermissionCheck) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.done {
		return fmt.Errorf("permission check has not been run")
	}
	if len(c.problems) > 0 {
		return fmt.Errorf("runner files failed permission check: %s", c.problems[0])
	}
	return nil
}
