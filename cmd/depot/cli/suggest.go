// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"strings"

	"github.com/spf13/pflag"
)

// maxSuggestionDistance is the largest edit distance still offered as
// a "did you mean" hint.
const maxSuggestionDistance = 3

// closest returns the candidate nearest to input, or "" when none is
// within maxSuggestionDistance. Ties go to the earlier candidate.
func closest(input string, candidates []string) string {
	best, bestDistance := "", maxSuggestionDistance+1
	for _, candidate := range candidates {
		if distance := levenshtein(input, candidate); distance < bestDistance {
			best, bestDistance = candidate, distance
		}
	}
	return best
}

func suggestCommand(unknown string, commands []*Command) string {
	names := make([]string, 0, len(commands))
	for _, command := range commands {
		names = append(names, command.Name)
	}
	return closest(unknown, names)
}

// suggestFlag looks only at the first long flag in args that flagSet
// does not define, and returns the nearest defined flag as "--name".
func suggestFlag(args []string, flagSet *pflag.FlagSet) string {
	for _, arg := range args {
		if arg == "--" {
			return ""
		}
		name, isLong := strings.CutPrefix(arg, "--")
		if !isLong {
			continue
		}
		name, _, _ = strings.Cut(name, "=")
		if flagSet.Lookup(name) != nil {
			continue
		}

		var defined []string
		flagSet.VisitAll(func(flag *pflag.Flag) { defined = append(defined, flag.Name) })
		if match := closest(name, defined); match != "" {
			return "--" + match
		}
		return ""
	}
	return ""
}

// levenshtein is the edit distance between a and b, computed one row
// at a time over the shorter string.
func levenshtein(a, b string) int {
	if len(a) > len(b) {
		a, b = b, a
	}
	if a == "" {
		return len(b)
	}

	row := make([]int, len(a)+1)
	for i := range row {
		row[i] = i
	}
	for j := 1; j <= len(b); j++ {
		diagonal := row[0]
		row[0] = j
		for i := 1; i <= len(a); i++ {
			substitution := diagonal
			if a[i-1] != b[j-1] {
				substitution++
			}
			diagonal = row[i]
			row[i] = min(row[i]+1, row[i-1]+1, substitution)
		}
	}
	return row[len(a)]
}
