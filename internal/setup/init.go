// Package setup handles project initialization.
package setup

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/msageha/gatecheck/internal/policy"
	"github.com/msageha/gatecheck/internal/report"
	"github.com/msageha/gatecheck/templates"
)

// PolicyFileName is the default policy file written by init.
const PolicyFileName = "gatecheck.yaml"

// Run writes the starter policy into projectDir. It refuses to overwrite
// an existing policy file and returns the path it wrote.
func Run(projectDir string) (string, error) {
	absDir, err := filepath.Abs(projectDir)
	if err != nil {
		return "", fmt.Errorf("resolve project dir: %w", err)
	}
	if info, err := os.Stat(absDir); err != nil || !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", absDir)
	}

	path := filepath.Join(absDir, PolicyFileName)
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("%s already exists", path)
	}

	content, err := templates.FS.ReadFile(PolicyFileName)
	if err != nil {
		return "", fmt.Errorf("read embedded template: %w", err)
	}

	// The shipped template must always pass its own validation.
	if _, err := policy.LoadBytes(content); err != nil {
		return "", fmt.Errorf("embedded template invalid: %w", err)
	}

	if err := report.WriteAtomic(path, content); err != nil {
		return "", fmt.Errorf("write %s: %w", PolicyFileName, err)
	}
	return path, nil
}
