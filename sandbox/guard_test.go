package sandbox

import (
	"strings"
	"testing"
)

func TestResolvePathWithinRoot(t *testing.T) {
	root := "/tmp/sandbox-root"
	cases := []string{"main.go", "src/app.js", "./docs/readme.md", "a/b/c.txt"}
	for _, path := range cases {
		abs, rel, err := resolvePath(root, path)
		if err != nil {
			t.Errorf("resolvePath(%q): unexpected error %v", path, err)
			continue
		}
		if !strings.HasPrefix(abs, root) {
			t.Errorf("resolvePath(%q): abs %q not under root", path, abs)
		}
		if strings.HasPrefix(rel, "..") {
			t.Errorf("resolvePath(%q): rel %q escapes", path, rel)
		}
	}
}

func TestResolvePathRejectsTraversal(t *testing.T) {
	root := "/tmp/sandbox-root"
	cases := []string{
		"../etc/passwd",
		"..",
		"../../secret",
		"src/../../outside",
		"a/b/../../../outside",
		"/etc/passwd",
		"/tmp/sandbox-root-sibling/file",
	}
	for _, path := range cases {
		if _, _, err := resolvePath(root, path); err == nil {
			t.Errorf("resolvePath(%q): expected rejection", path)
		}
	}
}

func TestResolvePathAllowsAbsoluteUnderRoot(t *testing.T) {
	root := "/tmp/sandbox-root"
	abs, rel, err := resolvePath(root, "/tmp/sandbox-root/src/main.go")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if abs != "/tmp/sandbox-root/src/main.go" || rel != "src/main.go" {
		t.Errorf("got abs=%q rel=%q", abs, rel)
	}
}

func TestResolvePathRejectsDeniedPatterns(t *testing.T) {
	root := "/tmp/sandbox-root"
	cases := []string{
		".git/config",
		"sub/.git/HEAD",
		".env",
		".env.local",
		"config/.env",
		".netrc",
		".ssh/known_hosts",
		"home/.aws/credentials",
		"id_rsa",
		"keys/id_ed25519",
		"package-lock.json",
		"frontend/yarn.lock",
		"pnpm-lock.yaml",
		"Cargo.lock",
		"go.sum",
	}
	for _, path := range cases {
		if _, _, err := resolvePath(root, path); err == nil {
			t.Errorf("resolvePath(%q): expected denylist rejection", path)
		}
	}
}

func TestResolvePathAllowsSimilarNames(t *testing.T) {
	root := "/tmp/sandbox-root"
	cases := []string{
		"environment.ts", // not .env
		"package.json",   // not package-lock.json
		"go.mod",         // not go.sum
		"gitignore.txt",  // not .git/
		".github/workflows/ci.yml",
	}
	for _, path := range cases {
		if _, _, err := resolvePath(root, path); err != nil {
			t.Errorf("resolvePath(%q): false positive: %v", path, err)
		}
	}
}

func TestShellQuote(t *testing.T) {
	cases := map[string]string{
		"plain":        "'plain'",
		"with space":   "'with space'",
		"it's":         `'it'\''s'`,
		"a;rm -rf /":   "'a;rm -rf /'",
		"$(whoami)":    "'$(whoami)'",
		"`id`":         "'`id`'",
		"double\"rate": "'double\"rate'",
	}
	for in, want := range cases {
		if got := shellQuote(in); got != want {
			t.Errorf("shellQuote(%q) = %s, want %s", in, got, want)
		}
	}
}
