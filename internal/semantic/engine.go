// Package semantic ranks project files by relevance to a change request so that prompts can be
// trimmed to a context budget.
package semantic

import (
	"regexp"
	"sort"
	"strings"
)

// Engine scores files by token overlap with a query.
type Engine struct {
	maxFileBytes int
}

// Result captures a ranked file.
type Result struct {
	Path    string
	Score   float64
	Snippet string
}

// NewEngine constructs an engine. Only the first maxFileBytes of each file are scored.
func NewEngine(maxFileBytes int) *Engine {
	if maxFileBytes <= 0 {
		maxFileBytes = 64 * 1024
	}
	return &Engine{maxFileBytes: maxFileBytes}
}

// Rank orders every file by descending relevance to query; ties and zero scores sort by path.
func (e *Engine) Rank(query string, files map[string]string) []Result {
	qTokens := tokenize(query)

	results := make([]Result, 0, len(files))
	for path, content := range files {
		scored := content
		if len(scored) > e.maxFileBytes {
			scored = scored[:e.maxFileBytes]
		}
		// Path segments count as document tokens so "update the navbar" finds Navbar.tsx.
		score := overlapScore(qTokens, append(tokenize(path), tokenize(scored)...))
		results = append(results, Result{Path: path, Score: score, Snippet: summarize(content)})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score == results[j].Score {
			return results[i].Path < results[j].Path
		}
		return results[i].Score > results[j].Score
	})
	return results
}

// Select returns the most relevant files whose combined size fits within budget bytes.
// A budget <= 0 returns files unchanged. Files that do not fit are skipped, smaller ones may still be added.
func (e *Engine) Select(query string, files map[string]string, budget int) (map[string]string, []string) {
	if budget <= 0 {
		return files, nil
	}

	selected := make(map[string]string)
	var dropped []string
	used := 0
	for _, r := range e.Rank(query, files) {
		size := len(files[r.Path])
		if used+size > budget {
			dropped = append(dropped, r.Path)
			continue
		}
		used += size
		selected[r.Path] = files[r.Path]
	}
	return selected, dropped
}

func overlapScore(query, doc []string) float64 {
	if len(query) == 0 || len(doc) == 0 {
		return 0
	}
	seen := make(map[string]struct{}, len(doc))
	for _, t := range doc {
		seen[t] = struct{}{}
	}
	var overlap int
	for _, q := range query {
		if _, ok := seen[q]; ok {
			overlap++
		}
	}
	return float64(overlap) / float64(len(query))
}

var tokenRe = regexp.MustCompile(`[A-Za-z0-9_]+`)

func tokenize(s string) []string {
	matches := tokenRe.FindAllString(strings.ToLower(s), -1)
	if len(matches) == 0 {
		return nil
	}
	return matches
}

func summarize(content string) string {
	lines := strings.Split(content, "\n")
	for _, line := range lines {
		trim := strings.TrimSpace(line)
		if trim == "" {
			continue
		}
		if len(trim) > 200 {
			return trim[:200] + "..."
		}
		return trim
	}
	if len(content) > 200 {
		return content[:200] + "..."
	}
	return content
}
