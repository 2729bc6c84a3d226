package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/martinemde/autopr/llm"
	"github.com/martinemde/autopr/sandbox"
)

// Analysis is the read-only artifact describing a cloned repository.
type Analysis struct {
	TotalFiles     int            `json:"total_files"`
	Languages      map[string]int `json:"languages"`
	Directories    []string       `json:"directories"`
	KeyFiles       []string       `json:"key_files"`
	Dependencies   []string       `json:"dependencies"`
	Framework      string         `json:"framework,omitempty"`
	PackageManager string         `json:"package_manager,omitempty"`
	ProjectRoot    string         `json:"project_root"`
	ProjectType    string         `json:"project_type,omitempty"`
	BackendFiles   []string       `json:"backend_files,omitempty"`
	FrontendFiles  []string       `json:"frontend_files,omitempty"`
	ConfigFiles    []string       `json:"config_files,omitempty"`
	AllFiles       []string       `json:"-"`
}

var languageByExt = map[string]string{
	".go": "Go", ".py": "Python", ".js": "JavaScript", ".jsx": "JavaScript",
	".ts": "TypeScript", ".tsx": "TypeScript", ".rb": "Ruby", ".rs": "Rust",
	".java": "Java", ".kt": "Kotlin", ".php": "PHP", ".cs": "C#",
	".c": "C", ".h": "C", ".cpp": "C++", ".cc": "C++", ".hpp": "C++",
	".swift": "Swift", ".vue": "Vue", ".svelte": "Svelte",
	".html": "HTML", ".css": "CSS", ".scss": "CSS", ".sql": "SQL",
	".sh": "Shell", ".yaml": "YAML", ".yml": "YAML", ".json": "JSON",
	".md": "Markdown", ".tf": "Terraform",
}

var manifestFiles = map[string]bool{
	"package.json": true, "go.mod": true, "Cargo.toml": true,
	"pyproject.toml": true, "requirements.txt": true, "setup.py": true,
	"Gemfile": true, "pom.xml": true, "build.gradle": true,
	"composer.json": true, "Makefile": true, "Dockerfile": true,
}

var lockfileManagers = []struct {
	file    string
	manager string
}{
	{"pnpm-lock.yaml", "pnpm"},
	{"yarn.lock", "yarn"},
	{"package-lock.json", "npm"},
	{"Cargo.lock", "cargo"},
	{"go.sum", "go"},
	{"poetry.lock", "poetry"},
	{"Gemfile.lock", "bundler"},
}

var frameworkDeps = []struct {
	dep       string
	framework string
}{
	{"next", "Next.js"},
	{"react", "React"},
	{"vue", "Vue"},
	{"svelte", "Svelte"},
	{"express", "Express"},
	{"fastify", "Fastify"},
	{"@angular/core", "Angular"},
	{"django", "Django"},
	{"flask", "Flask"},
	{"rails", "Rails"},
}

var frontendExts = map[string]bool{
	".jsx": true, ".tsx": true, ".vue": true, ".svelte": true,
	".html": true, ".css": true, ".scss": true,
}

// Analyzer derives an Analysis from a freshly cloned tree.
type Analyzer struct {
	client   *llm.Client
	provider string
	model    string
}

// NewAnalyzer creates an Analyzer. A nil client skips the LLM pass and
// runs heuristics only.
func NewAnalyzer(client *llm.Client, provider, model string) *Analyzer {
	return &Analyzer{client: client, provider: provider, model: model}
}

// Analyze inspects the repository bound to sb. A file-listing failure is
// fatal; everything downstream degrades to heuristics.
func (a *Analyzer) Analyze(ctx context.Context, sb sandbox.Sandbox) (*Analysis, error) {
	listing, err := sb.CallTool(ctx, "list_files", map[string]any{})
	if err != nil {
		return nil, err
	}
	if !listing.Success {
		return nil, fmt.Errorf("listing repository files: %s", listing.Error)
	}
	files := toStringSlice(listing.Data)
	if len(files) == 0 {
		return nil, fmt.Errorf("repository contains no files")
	}

	analysis := &Analysis{
		TotalFiles: len(files),
		Languages:  make(map[string]int),
		AllFiles:   files,
	}

	dirSet := map[string]bool{}
	for _, f := range files {
		if ext := strings.ToLower(path.Ext(f)); ext != "" {
			if lang, ok := languageByExt[ext]; ok {
				analysis.Languages[lang]++
			}
		}
		if dir := path.Dir(f); dir != "." {
			dirSet[strings.SplitN(dir, "/", 2)[0]] = true
		}
		base := path.Base(f)
		if manifestFiles[base] {
			analysis.KeyFiles = append(analysis.KeyFiles, f)
			analysis.ConfigFiles = append(analysis.ConfigFiles, f)
		}
	}
	for d := range dirSet {
		analysis.Directories = append(analysis.Directories, d)
	}
	sort.Strings(analysis.Directories)
	sort.Strings(analysis.KeyFiles)

	analysis.ProjectRoot = detectProjectRoot(analysis.ConfigFiles)
	a.detectDependencies(ctx, sb, analysis)
	a.detectPackageManager(files, analysis)

	if a.client != nil {
		if err := a.classifyWithModel(ctx, files, analysis); err != nil {
			classifyHeuristically(files, analysis)
		}
	} else {
		classifyHeuristically(files, analysis)
	}

	return analysis, nil
}

// detectProjectRoot picks the shallowest directory containing a
// recognized manifest. Repository root wins ties.
func detectProjectRoot(configFiles []string) string {
	root := "."
	depth := int(^uint(0) >> 1)
	for _, f := range configFiles {
		dir := path.Dir(f)
		d := 0
		if dir != "." {
			d = strings.Count(dir, "/") + 1
		}
		if d < depth {
			depth = d
			root = dir
		}
	}
	return root
}

// detectDependencies parses the project manifest defensively; parse
// failure leaves the dependency list empty.
func (a *Analyzer) detectDependencies(ctx context.Context, sb sandbox.Sandbox, analysis *Analysis) {
	manifest := ""
	for _, f := range analysis.ConfigFiles {
		if path.Base(f) == "package.json" && path.Dir(f) == analysis.ProjectRoot {
			manifest = f
			break
		}
	}
	if manifest == "" {
		return
	}

	res, err := sb.CallTool(ctx, "read_file", map[string]any{"path": manifest})
	if err != nil || !res.Success {
		return
	}

	var pkg struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	content, _ := res.Data.(string)
	if err := json.Unmarshal([]byte(content), &pkg); err != nil {
		return
	}
	for dep := range pkg.Dependencies {
		analysis.Dependencies = append(analysis.Dependencies, dep)
	}
	for dep := range pkg.DevDependencies {
		analysis.Dependencies = append(analysis.Dependencies, dep)
	}
	sort.Strings(analysis.Dependencies)

	for _, fw := range frameworkDeps {
		for _, dep := range analysis.Dependencies {
			if dep == fw.dep {
				analysis.Framework = fw.framework
				return
			}
		}
	}
}

func (a *Analyzer) detectPackageManager(files []string, analysis *Analysis) {
	fileSet := make(map[string]bool, len(files))
	for _, f := range files {
		fileSet[path.Base(f)] = true
	}
	for _, lm := range lockfileManagers {
		if fileSet[lm.file] {
			analysis.PackageManager = lm.manager
			return
		}
	}
}

const analyzeSystemPrompt = "You are a codebase analyst. Given a list of file paths, classify the project. Return ONLY a JSON object with fields: project_type (string), backend_files (array of paths), frontend_files (array of paths), config_files (array of paths). No markdown fencing."

const maxSampledPaths = 200

// classifyWithModel makes a single bounded model call over a sampled
// path list.
func (a *Analyzer) classifyWithModel(ctx context.Context, files []string, analysis *Analysis) error {
	sample := files
	if len(sample) > maxSampledPaths {
		sample = sample[:maxSampledPaths]
	}

	text, err := llm.Generate(ctx, a.client, "File paths:\n"+strings.Join(sample, "\n"), llm.GenerateOptions{
		Provider:  a.provider,
		Model:     a.model,
		System:    analyzeSystemPrompt,
		MaxTokens: 2048,
	})
	if err != nil {
		return err
	}

	var parsed struct {
		ProjectType   string   `json:"project_type"`
		BackendFiles  []string `json:"backend_files"`
		FrontendFiles []string `json:"frontend_files"`
		ConfigFiles   []string `json:"config_files"`
	}
	if err := json.Unmarshal([]byte(stripFences(text)), &parsed); err != nil {
		return err
	}
	if parsed.ProjectType == "" {
		return fmt.Errorf("classification returned no project type")
	}

	analysis.ProjectType = parsed.ProjectType
	analysis.BackendFiles = keepKnown(parsed.BackendFiles, files)
	analysis.FrontendFiles = keepKnown(parsed.FrontendFiles, files)
	if extra := keepKnown(parsed.ConfigFiles, files); len(extra) > 0 {
		analysis.ConfigFiles = mergeUnique(analysis.ConfigFiles, extra)
	}
	return nil
}

// classifyHeuristically splits files into backend/frontend/config by
// extension and path shape.
func classifyHeuristically(files []string, analysis *Analysis) {
	for _, f := range files {
		ext := strings.ToLower(path.Ext(f))
		base := path.Base(f)
		switch {
		case manifestFiles[base]:
			// Already collected as config.
		case isFrontendPath(f, ext):
			analysis.FrontendFiles = append(analysis.FrontendFiles, f)
		case isBackendExt(ext):
			analysis.BackendFiles = append(analysis.BackendFiles, f)
		}
	}
	switch {
	case len(analysis.FrontendFiles) > 0 && len(analysis.BackendFiles) > 0:
		analysis.ProjectType = "fullstack"
	case len(analysis.FrontendFiles) > 0:
		analysis.ProjectType = "frontend"
	case len(analysis.BackendFiles) > 0:
		analysis.ProjectType = "backend"
	default:
		analysis.ProjectType = "unknown"
	}
}

func isFrontendPath(f, ext string) bool {
	if frontendExts[ext] {
		return true
	}
	if ext != ".js" && ext != ".ts" {
		return false
	}
	for _, dir := range []string{"src/", "components/", "pages/", "views/"} {
		if strings.HasPrefix(f, dir) || strings.Contains(f, "/"+dir) {
			return true
		}
	}
	return false
}

func isBackendExt(ext string) bool {
	switch ext {
	case ".py", ".java", ".go", ".rs", ".php", ".rb", ".js", ".ts":
		return true
	}
	return false
}

// Summary renders the analysis for prompt embedding.
func (a *Analysis) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Files: %d, Project type: %s, Root: %s\n", a.TotalFiles, a.ProjectType, a.ProjectRoot)
	if len(a.Languages) > 0 {
		langs := make([]string, 0, len(a.Languages))
		for lang, n := range a.Languages {
			langs = append(langs, fmt.Sprintf("%s (%d)", lang, n))
		}
		sort.Strings(langs)
		fmt.Fprintf(&sb, "Languages: %s\n", strings.Join(langs, ", "))
	}
	if a.Framework != "" {
		fmt.Fprintf(&sb, "Framework: %s\n", a.Framework)
	}
	if a.PackageManager != "" {
		fmt.Fprintf(&sb, "Package manager: %s\n", a.PackageManager)
	}
	if len(a.KeyFiles) > 0 {
		fmt.Fprintf(&sb, "Key files: %s\n", strings.Join(a.KeyFiles, ", "))
	}
	return sb.String()
}

func toStringSlice(data any) []string {
	switch v := data.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case map[string]any:
		// list_files wraps its listing in {"files": [...], "count": n}.
		return toStringSlice(v["files"])
	}
	return nil
}

func keepKnown(candidates, known []string) []string {
	set := make(map[string]bool, len(known))
	for _, f := range known {
		set[f] = true
	}
	var out []string
	for _, c := range candidates {
		if set[c] {
			out = append(out, c)
		}
	}
	return out
}

func mergeUnique(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	out := append([]string{}, a...)
	for _, f := range a {
		seen[f] = true
	}
	for _, f := range b {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.SplitN(text, "\n", 2)
	if len(lines) > 1 {
		text = lines[1]
	}
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}
