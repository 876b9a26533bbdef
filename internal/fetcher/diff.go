package fetcher

import (
	"fmt"
	"strings"
)

// DiffStats counts the line-level changes between two document versions.
type DiffStats struct {
	Added   int
	Removed int
	Changed int
}

// diff op codes.
const (
	opEqual = iota
	opDelete
	opInsert
)

type diffOp struct {
	op   int
	line string
}

const diffContextLines = 3

// lcsMaxLines bounds the quadratic LCS table. Beyond it the diff degrades
// to full replacement, which is still a valid unified diff.
const lcsMaxLines = 20000

// UnifiedDiff renders a unified diff from previous to current with three
// context lines per hunk, plus the change counts.
func UnifiedDiff(previous, current string) (string, DiffStats) {
	a := splitLines(previous)
	b := splitLines(current)
	ops := diffLines(a, b)

	var stats DiffStats
	for _, op := range ops {
		switch op.op {
		case opDelete:
			stats.Removed++
		case opInsert:
			stats.Added++
		}
	}
	stats.Changed = min(stats.Added, stats.Removed)

	var sb strings.Builder
	sb.WriteString("--- previous\n")
	sb.WriteString("+++ current\n")
	writeHunks(&sb, ops)
	return sb.String(), stats
}

// diffLines produces the edit script via longest-common-subsequence.
func diffLines(a, b []string) []diffOp {
	if len(a) > lcsMaxLines || len(b) > lcsMaxLines {
		ops := make([]diffOp, 0, len(a)+len(b))
		for _, line := range a {
			ops = append(ops, diffOp{opDelete, line})
		}
		for _, line := range b {
			ops = append(ops, diffOp{opInsert, line})
		}
		return ops
	}

	// lcs[i][j] = length of the LCS of a[i:] and b[j:].
	lcs := make([][]int, len(a)+1)
	for i := range lcs {
		lcs[i] = make([]int, len(b)+1)
	}
	for i := len(a) - 1; i >= 0; i-- {
		for j := len(b) - 1; j >= 0; j-- {
			if a[i] == b[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else if lcs[i+1][j] >= lcs[i][j+1] {
				lcs[i][j] = lcs[i+1][j]
			} else {
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}

	var ops []diffOp
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			ops = append(ops, diffOp{opEqual, a[i]})
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			ops = append(ops, diffOp{opDelete, a[i]})
			i++
		default:
			ops = append(ops, diffOp{opInsert, b[j]})
			j++
		}
	}
	for ; i < len(a); i++ {
		ops = append(ops, diffOp{opDelete, a[i]})
	}
	for ; j < len(b); j++ {
		ops = append(ops, diffOp{opInsert, b[j]})
	}
	return ops
}

// writeHunks groups the edit script into @@ hunks. Changes separated by at
// most 2*diffContextLines equal lines share a hunk; each hunk carries up to
// diffContextLines of context on both sides.
func writeHunks(sb *strings.Builder, ops []diffOp) {
	// Line numbers in a and b at the start of each op.
	aPos := make([]int, len(ops)+1)
	bPos := make([]int, len(ops)+1)
	a, b := 1, 1
	for i, op := range ops {
		aPos[i], bPos[i] = a, b
		switch op.op {
		case opEqual:
			a++
			b++
		case opDelete:
			a++
		case opInsert:
			b++
		}
	}
	aPos[len(ops)], bPos[len(ops)] = a, b

	i := 0
	for i < len(ops) {
		if ops[i].op == opEqual {
			i++
			continue
		}

		// Extend the change group across equal gaps small enough to merge.
		last := i
		j := i + 1
		equalRun := 0
		for j < len(ops) {
			if ops[j].op == opEqual {
				equalRun++
				if equalRun > 2*diffContextLines {
					break
				}
			} else {
				last = j
				equalRun = 0
			}
			j++
		}

		lo := max(0, i-diffContextLines)
		hi := min(len(ops), last+1+diffContextLines)

		fmt.Fprintf(sb, "@@ -%d,%d +%d,%d @@\n",
			aPos[lo], aPos[hi]-aPos[lo], bPos[lo], bPos[hi]-bPos[lo])
		for k := lo; k < hi; k++ {
			switch ops[k].op {
			case opEqual:
				sb.WriteString(" ")
			case opDelete:
				sb.WriteString("-")
			case opInsert:
				sb.WriteString("+")
			}
			sb.WriteString(ops[k].line)
			sb.WriteString("\n")
		}
		i = hi
	}
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}
