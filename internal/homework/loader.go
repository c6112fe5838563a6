package homework

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	hwMetaFile   = "hw.yaml"
	codeMetaFile = "code.yaml"
)

type ruleDoc struct {
	Action  string `yaml:"action"`
	Pattern string `yaml:"pattern"`
}

type hwDoc struct {
	UUID  string `yaml:"uuid"`
	Names []struct {
		Lang string `yaml:"lang"`
		Name string `yaml:"name"`
	} `yaml:"names"`
	Deadlines []struct {
		Date  time.Time `yaml:"date"`
		Scale float64   `yaml:"scale"`
	} `yaml:"deadlines"`
	ReportAll bool      `yaml:"report_all"`
	Files     []ruleDoc `yaml:"files"`
}

type codeDoc struct {
	Entry          string            `yaml:"entry"`
	TimeoutSeconds int               `yaml:"timeout_seconds"`
	Compiler       map[string]string `yaml:"compiler"`
	Runner         map[string]string `yaml:"runner"`
	ReportCompile  bool              `yaml:"report_compile"`
	ReportRuntime  bool              `yaml:"report_runtime"`
	Attachment     bool              `yaml:"attachment"`
	Files          []ruleDoc         `yaml:"files"`
}

func parseRules(docs []ruleDoc) (*RuleSet, error) {
	rs := &RuleSet{}
	for _, d := range docs {
		action, err := ParseAction(d.Action)
		if err != nil {
			return nil, err
		}
		if err := rs.Append(action, d.Pattern); err != nil {
			return nil, err
		}
	}
	return rs, nil
}

// Load reads one homework definition directory: hw.yaml, optional per-locale
// descriptions under desc/, and one code package per code/<lang>/code.yaml.
func Load(path string) (*Homework, error) {
	raw, err := os.ReadFile(filepath.Join(path, hwMetaFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read homework meta: %w", err)
	}
	var doc hwDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", hwMetaFile, err)
	}
	if doc.UUID == "" {
		return nil, fmt.Errorf("homework %q has no uuid", path)
	}
	if len(doc.Names) == 0 {
		return nil, fmt.Errorf("homework %q has no name", path)
	}

	hw := &Homework{
		UUID:      doc.UUID,
		Slug:      filepath.Base(path),
		Path:      path,
		ReportAll: doc.ReportAll,
	}
	for _, n := range doc.Names {
		desc := ""
		if raw, err := os.ReadFile(filepath.Join(path, "desc", n.Lang+".md")); err == nil {
			desc = string(raw)
		}
		hw.Infos = append(hw.Infos, Info{Lang: n.Lang, Name: n.Name, Desc: desc})
	}
	for _, d := range doc.Deadlines {
		hw.Deadlines = append(hw.Deadlines, Deadline{At: d.Date.UTC(), Scale: d.Scale})
	}

	rules, err := parseRules(doc.Files)
	if err != nil {
		return nil, err
	}
	// The definition metadata must stay invisible to students, no matter
	// what the author wrote. Prepended last so these rules win.
	if err := rules.prependDefaults(
		`^hw\.yaml$`,
		`^code$`, `^code/`,
		`^desc$`, `^desc/`,
	); err != nil {
		return nil, err
	}
	hw.Rules = rules

	codeRoot := filepath.Join(path, "code")
	entries, err := os.ReadDir(codeRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to list code packages: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		pkgPath := filepath.Join(codeRoot, e.Name())
		if _, err := os.Stat(filepath.Join(pkgPath, codeMetaFile)); err != nil {
			continue
		}
		code, err := loadCode(pkgPath, e.Name())
		if err != nil {
			return nil, fmt.Errorf("code package %q: %w", e.Name(), err)
		}
		hw.Codes = append(hw.Codes, code)
	}
	if len(hw.Codes) == 0 {
		return nil, fmt.Errorf("homework %q defines no code packages", path)
	}
	return hw, nil
}

func loadCode(path, lang string) (*CodePackage, error) {
	raw, err := os.ReadFile(filepath.Join(path, codeMetaFile))
	if err != nil {
		return nil, err
	}
	var doc codeDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", codeMetaFile, err)
	}

	rules, err := parseRules(doc.Files)
	if err != nil {
		return nil, err
	}
	if err := rules.prependDefaults(`^code\.yaml$`); err != nil {
		return nil, err
	}

	return &CodePackage{
		Lang:           lang,
		Path:           path,
		Entry:          doc.Entry,
		TimeoutSeconds: doc.TimeoutSeconds,
		CompilerParams: doc.Compiler,
		RunnerParams:   doc.Runner,
		Rules:          rules,
		ReportCompile:  doc.ReportCompile,
		ReportRuntime:  doc.ReportRuntime,
		Attachment:     doc.Attachment,
	}, nil
}
