package palette

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// Match is a command accepted by a palette query.
type Match struct {
	Command *Command

	// Enabled is false when the command is not available in the context
	// the query was made in. Disabled matches are still listed.
	Enabled bool

	// Positions are the rune indices of the name matched by the query.
	Positions []int
}

// filter keeps the commands whose name contains the query as a
// case-insensitive subsequence. Enabled matches come first; the order is
// otherwise that of cmds.
func filter(cmds []*Command, query, context string) []Match {
	matches := make([]Match, 0, len(cmds))
	for _, cmd := range cmds {
		pos, ok := subsequence(query, cmd.Name)
		if !ok {
			continue
		}
		matches = append(matches, Match{
			Command:   cmd,
			Enabled:   cmd.Available(context),
			Positions: pos,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Enabled && !matches[j].Enabled
	})
	return matches
}

// subsequence reports whether every rune of query appears in text in order,
// ignoring case, and returns the rune positions matched.
func subsequence(query, text string) ([]int, bool) {
	if query == "" {
		return nil, true
	}

	q := []rune(strings.ToLower(query))
	positions := make([]int, 0, len(q))
	i := 0
	for idx, r := range []rune(strings.ToLower(text)) {
		if r == q[i] {
			positions = append(positions, idx)
			i++
			if i == len(q) {
				return positions, true
			}
		}
	}
	return nil, false
}

// Highlight wraps the matched runes of name with open and close markers.
func Highlight(name string, positions []int, open, close string) string {
	if len(positions) == 0 {
		return name
	}

	var b strings.Builder
	b.Grow(len(name) + len(positions)*(len(open)+len(close)))
	next := 0
	idx := 0
	for len(name) > 0 {
		r, size := utf8.DecodeRuneInString(name)
		if next < len(positions) && positions[next] == idx {
			b.WriteString(open)
			b.WriteRune(r)
			b.WriteString(close)
			next++
		} else {
			b.WriteRune(r)
		}
		name = name[size:]
		idx++
	}
	return b.String()
}
