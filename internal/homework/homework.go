package homework

import (
	"sort"
	"time"
)

// Info is the human readable description of a homework in one locale.
type Info struct {
	Lang string
	Name string
	Desc string
}

// Deadline pairs a due date with the score scale applied to handins
// submitted before it.
type Deadline struct {
	At    time.Time
	Scale float64
}

// CodePackage is the language specific part of a homework: the entry point
// to spawn, its timeout, opaque compiler and runner parameters and the file
// rules checked first during extraction.
type CodePackage struct {
	Lang           string
	Path           string
	Entry          string
	TimeoutSeconds int
	CompilerParams map[string]string
	RunnerParams   map[string]string
	Rules          *RuleSet
	ReportCompile  bool
	ReportRuntime  bool
	Attachment     bool
}

// Timeout returns the process timeout, falling back to def when the package
// declares none.
func (c *CodePackage) Timeout(def time.Duration) time.Duration {
	if c.TimeoutSeconds <= 0 {
		return def
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Homework is one graded assignment definition. Immutable after load; the
// set reloads wholesale on cache rebuild.
type Homework struct {
	UUID      string
	Slug      string
	Path      string
	Infos     []Info
	Deadlines []Deadline
	ReportAll bool
	Rules     *RuleSet
	Codes     []*CodePackage
}

// Languages lists the submission languages this homework accepts, sorted.
func (hw *Homework) Languages() []string {
	langs := make([]string, 0, len(hw.Codes))
	for _, c := range hw.Codes {
		langs = append(langs, c.Lang)
	}
	sort.Strings(langs)
	return langs
}

// GetCode resolves the code package for lang.
func (hw *Homework) GetCode(lang string) (*CodePackage, bool) {
	for _, c := range hw.Codes {
		if c.Lang == lang {
			return c, true
		}
	}
	return nil, false
}

// NextDeadline returns the earliest deadline not yet passed at now.
func (hw *Homework) NextDeadline(now time.Time) (Deadline, bool) {
	for _, d := range hw.Deadlines {
		if !d.At.Before(now) {
			return d, true
		}
	}
	return Deadline{}, false
}

// ScaleAt returns the score scale in effect for a handin submitted at t.
// After the final deadline no submission is accepted.
func (hw *Homework) ScaleAt(t time.Time) (float64, bool) {
	d, ok := hw.NextDeadline(t)
	if !ok {
		return 0, false
	}
	return d.Scale, true
}
