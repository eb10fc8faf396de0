package gcode

import (
	"math"
	"strconv"
	"strings"
)

// Character classes follow Grbl's own reader: spaces are insignificant, `;` comments run to end
// of line and `(...)` groups may appear mid-line.

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isNumberStart(c byte) bool {
	return c == '-' || c == '+' || c == '.' || (c >= '0' && c <= '9')
}

// StripComments removes `;` to end of line comments and `(...)` comment groups, returning the
// trimmed remainder. An unclosed parenthesis comment runs to end of line, matching how Grbl
// discards it.
func StripComments(line string) string {
	var sb strings.Builder
	inParens := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		if inParens {
			if c == ')' {
				inParens = false
			}
			continue
		}
		if c == '(' {
			inParens = true
			continue
		}
		if c == ';' {
			break
		}
		sb.WriteByte(c)
	}
	return strings.TrimSpace(sb.String())
}

type word struct {
	letter byte
	number float64
}

// scanWords extracts letter/number words from a comment-free line. Scanning is lenient: letters
// without a following number, and stray characters, are skipped rather than rejected, so that
// malformed lines still yield whatever words they do contain.
func scanWords(line string) []word {
	var words []word
	i := 0
	for i < len(line) {
		c := line[i]
		if !isLetter(c) {
			i++
			continue
		}
		letter := c &^ 0x20 // uppercase
		i++
		for i < len(line) && line[i] == ' ' {
			i++
		}
		start := i
		for i < len(line) && isNumberStart(line[i]) {
			i++
		}
		number, err := strconv.ParseFloat(line[start:i], 64)
		if err != nil {
			continue
		}
		words = append(words, word{letter: letter, number: number})
	}
	return words
}

// commandString renders a G/M word the way Grbl documents them: integer commands without a
// decimal point (G0, M3), fractional ones with a single decimal (G38.2).
func commandString(w word) string {
	_, frac := math.Modf(w.number)
	if frac == 0 {
		return string(w.letter) + strconv.FormatFloat(w.number, 'f', 0, 64)
	}
	return string(w.letter) + strconv.FormatFloat(w.number, 'f', 1, 64)
}
