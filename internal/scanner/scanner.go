// Package scanner walks a file tree and matches forbidden-token rules
// against source files, respecting include/exclude globs.
package scanner

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/msageha/gatecheck/internal/model"
)

const (
	// binarySniffBytes is how much of a file is inspected for NUL bytes.
	binarySniffBytes = 8 * 1024
	// maxLineBytes bounds a single scanned line.
	maxLineBytes = 1 << 20
)

type compiledRule struct {
	model.PatternRule
	re *regexp.Regexp
}

type Scanner struct {
	logger *zap.SugaredLogger
}

func New(logger *zap.SugaredLogger) *Scanner {
	return &Scanner{logger: logger}
}

// Scan matches every rule against every applicable file under root.
// Findings are returned in deterministic (path, line, rule) order.
// Symlinks are not followed; binary and unreadable files are skipped.
func (s *Scanner) Scan(ctx context.Context, root string, rules []model.PatternRule) ([]model.ScanFinding, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, rule := range rules {
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile pattern rule %s: %w", rule.ID, err)
		}
		compiled = append(compiled, compiledRule{PatternRule: rule, re: re})
	}

	var findings []model.ScanFinding

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are skipped, not fatal.
			s.logger.Debugf("scan_skip path=%s reason=walk_error error=%v", path, err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			s.logger.Debugf("scan_skip path=%s reason=symlink", path)
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		// Exclude evaluation happens before the file is opened: excluded
		// files are never read at all.
		applicable := applicableRules(compiled, rel)
		if len(applicable) == 0 {
			return nil
		}

		fileFindings, scanErr := s.scanFile(path, rel, applicable)
		if scanErr != nil {
			s.logger.Debugf("scan_skip path=%s reason=unreadable error=%v", path, scanErr)
			return nil
		}
		findings = append(findings, fileFindings...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(findings, func(i, j int) bool {
		if findings[i].FilePath != findings[j].FilePath {
			return findings[i].FilePath < findings[j].FilePath
		}
		if findings[i].LineNumber != findings[j].LineNumber {
			return findings[i].LineNumber < findings[j].LineNumber
		}
		return findings[i].RuleID < findings[j].RuleID
	})

	return findings, nil
}

func applicableRules(rules []compiledRule, rel string) []compiledRule {
	var applicable []compiledRule
	for _, rule := range rules {
		if !matchesAny(rule.AppliesToGlobs, rel) {
			continue
		}
		if matchesAny(rule.ExcludeGlobs, rel) {
			continue
		}
		applicable = append(applicable, rule)
	}
	return applicable
}

func matchesAny(globs []string, rel string) bool {
	for _, glob := range globs {
		if ok, _ := doublestar.Match(glob, rel); ok {
			return true
		}
	}
	return false
}

func (s *Scanner) scanFile(path, rel string, rules []compiledRule) ([]model.ScanFinding, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sniff := make([]byte, binarySniffBytes)
	n, err := f.Read(sniff)
	if err != nil && n == 0 {
		return nil, err
	}
	if bytes.IndexByte(sniff[:n], 0) >= 0 {
		s.logger.Debugf("scan_skip path=%s reason=binary", path)
		return nil, nil
	}
	if _, err := f.Seek(0, 0); err != nil {
		return nil, err
	}

	var findings []model.ScanFinding
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)

	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		for _, rule := range rules {
			// Every match on the line is recorded, not just the first.
			for _, match := range rule.re.FindAllString(line, -1) {
				findings = append(findings, model.ScanFinding{
					RuleID:      rule.ID,
					Severity:    rule.Severity,
					FilePath:    rel,
					LineNumber:  lineNo,
					MatchedText: match,
				})
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return findings, nil
}
