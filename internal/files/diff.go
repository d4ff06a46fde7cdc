package files

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

const diffContext = 3

type diffLine struct {
	op    byte
	text  string
	noEOL bool // last line of its file, without a trailing newline
}

// unifiedDiff renders a line-based unified diff from before to after. Identical input yields "".
func unifiedDiff(path, before, after string) string {
	if before == after {
		return ""
	}

	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var ops []diffLine
	for _, d := range diffs {
		op := byte(' ')
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			op = '-'
		case diffmatchpatch.DiffInsert:
			op = '+'
		}
		segment := splitLines(d.Text)
		for j, line := range segment {
			ops = append(ops, diffLine{op: op, text: line, noEOL: j == len(segment)-1 && !strings.HasSuffix(d.Text, "\n")})
		}
	}

	oldAt := make([]int, len(ops))
	newAt := make([]int, len(ops))
	o, n := 1, 1
	for i, l := range ops {
		oldAt[i], newAt[i] = o, n
		if l.op != '+' {
			o++
		}
		if l.op != '-' {
			n++
		}
	}

	var out strings.Builder
	fmt.Fprintf(&out, "--- a/%s\n+++ b/%s\n", path, path)

	hunks := 0
	i := 0
	for i < len(ops) {
		for i < len(ops) && ops[i].op == ' ' {
			i++
		}
		if i == len(ops) {
			break
		}

		start := max(0, i-diffContext)
		end := i
		for end < len(ops) {
			if ops[end].op != ' ' {
				end++
				continue
			}
			run := 0
			for end+run < len(ops) && ops[end+run].op == ' ' {
				run++
			}
			if end+run == len(ops) || run > 2*diffContext {
				end += min(run, diffContext)
				break
			}
			end += run
		}

		oldCount, newCount := 0, 0
		for _, l := range ops[start:end] {
			if l.op != '+' {
				oldCount++
			}
			if l.op != '-' {
				newCount++
			}
		}
		oldStart, newStart := oldAt[start], newAt[start]
		if oldCount == 0 {
			oldStart--
		}
		if newCount == 0 {
			newStart--
		}

		hunks++
		fmt.Fprintf(&out, "@@ -%d,%d +%d,%d @@\n", oldStart, oldCount, newStart, newCount)
		for _, l := range ops[start:end] {
			out.WriteByte(l.op)
			out.WriteString(l.text)
			out.WriteByte('\n')
			if l.noEOL {
				out.WriteString("\\ No newline at end of file\n")
			}
		}
		i = end
	}

	if hunks == 0 {
		return ""
	}
	return out.String()
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
