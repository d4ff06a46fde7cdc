// Package parser extracts file updates from model output and renders file sets back into prompts.
//
// The grammar is deliberately small: a response is a sequence of sections introduced by a
// "FILE: <path>" marker, each carrying a fenced code block. Sections that do not fit the grammar
// are skipped rather than reported.
package parser

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"
)

const fence = "```"

var (
	fileMarker  = regexp.MustCompile(`\bFILE:\s+`)
	fenceHeader = regexp.MustCompile("^```\\w*\\n")
)

// FileUpdate is one parsed file section.
type FileUpdate struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// ParseFileChanges returns the well-formed file sections of text in order. It never fails.
func ParseFileChanges(text string) []FileUpdate {
	return ParseFileChangesWithLogger(text, nil)
}

// ParseFileChangesWithLogger is ParseFileChanges with skipped sections reported to logger.
func ParseFileChangesWithLogger(text string, logger *zap.Logger) []FileUpdate {
	if logger == nil {
		logger = zap.NewNop()
	}

	sections := fileMarker.Split(text, -1)
	if len(sections) < 2 {
		return nil
	}

	var updates []FileUpdate
	for i, section := range sections[1:] {
		update, ok, err := parseSection(section)
		switch {
		case err != nil:
			logger.Warn("error processing file section", zap.Int("section", i), zap.Error(err))
		case !ok:
			logger.Debug("skipping malformed file section", zap.Int("section", i))
		default:
			updates = append(updates, update)
		}
	}
	return updates
}

func parseSection(section string) (update FileUpdate, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			update, ok, err = FileUpdate{}, false, fmt.Errorf("panic: %v", r)
		}
	}()

	lines := strings.Split(strings.TrimSpace(section), "\n")
	path := strings.TrimSpace(lines[0])
	if path == "" {
		return FileUpdate{}, false, nil
	}

	start, end := -1, -1
	for i := 1; i < len(lines); i++ {
		if !strings.HasPrefix(strings.TrimSpace(lines[i]), fence) {
			continue
		}
		if start < 0 {
			start = i
			continue
		}
		end = i
		break
	}
	if start < 0 || end < 0 {
		return FileUpdate{}, false, nil
	}

	content := strings.Join(lines[start+1:end], "\n")
	content = fenceHeader.ReplaceAllString(content, "")
	return FileUpdate{Path: path, Content: content}, true, nil
}

// FormatFiles renders files as FILE sections separated by blank lines, ordered by path.
func FormatFiles(files map[string]string) string {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	blocks := make([]string, 0, len(paths))
	for _, p := range paths {
		blocks = append(blocks, FormatFile(p, files[p]))
	}
	return strings.Join(blocks, "\n\n")
}

// FormatFile renders a single FILE section.
func FormatFile(path, content string) string {
	return "FILE: " + path + "\n" + fence + "\n" + content + "\n" + fence
}
