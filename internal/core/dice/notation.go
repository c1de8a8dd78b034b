// Package dice parses dice notation and interprets received roll results.
//
// The client never generates roll outcomes. The server (or the REST
// fallback) owns the RNG; this package only validates what the user asked
// for and renders what came back.
package dice

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	apperrors "github.com/bykotofff/dnd-game-sub001/internal/platform/errors"
)

// MaxDicePerRoll caps the number of dice a single notation may request.
const MaxDicePerRoll = 100

var notationPattern = regexp.MustCompile(`^(\d+)?d(\d+)([+-]\d+)?$`)

// Notation is a parsed dice expression such as "2d6+3".
type Notation struct {
	Count    int
	Sides    int
	Modifier int
	Raw      string
}

// String returns the canonical form of the notation.
func (n Notation) String() string {
	s := fmt.Sprintf("%dd%d", n.Count, n.Sides)
	if n.Modifier > 0 {
		s += fmt.Sprintf("+%d", n.Modifier)
	} else if n.Modifier < 0 {
		s += strconv.Itoa(n.Modifier)
	}
	return s
}

// ParseNotation parses expressions of the form "[count]d<sides>[+/-mod]".
// A bare "dN" is shorthand for "1dN". Whitespace is ignored and the
// notation is case-insensitive.
func ParseNotation(notation string) (Notation, error) {
	raw := notation
	notation = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(notation), " ", ""))
	if notation == "" {
		return Notation{}, apperrors.New(apperrors.CodeDiceInvalidNotation, "dice notation is required")
	}

	match := notationPattern.FindStringSubmatch(notation)
	if match == nil {
		return Notation{}, apperrors.WithMetadata(apperrors.CodeDiceInvalidNotation,
			fmt.Sprintf("invalid dice notation %q", raw),
			map[string]string{"notation": raw})
	}

	count := 1
	if match[1] != "" {
		parsed, err := strconv.Atoi(match[1])
		if err != nil {
			return Notation{}, apperrors.Wrap(apperrors.CodeDiceInvalidNotation, "parse dice count", err)
		}
		count = parsed
	}
	sides, err := strconv.Atoi(match[2])
	if err != nil {
		return Notation{}, apperrors.Wrap(apperrors.CodeDiceInvalidNotation, "parse dice sides", err)
	}
	modifier := 0
	if match[3] != "" {
		parsed, err := strconv.Atoi(match[3])
		if err != nil {
			return Notation{}, apperrors.Wrap(apperrors.CodeDiceInvalidNotation, "parse dice modifier", err)
		}
		modifier = parsed
	}

	if count <= 0 || sides <= 0 {
		return Notation{}, apperrors.New(apperrors.CodeDiceInvalidNotation, "dice count and sides must be positive")
	}
	if count > MaxDicePerRoll {
		return Notation{}, apperrors.WithMetadata(apperrors.CodeDiceTooManyDice,
			fmt.Sprintf("at most %d dice per roll", MaxDicePerRoll),
			map[string]string{"count": strconv.Itoa(count)})
	}

	return Notation{
		Count:    count,
		Sides:    sides,
		Modifier: modifier,
		Raw:      strings.TrimSpace(raw),
	}, nil
}

// ValidNotation reports whether the expression parses.
func ValidNotation(notation string) bool {
	_, err := ParseNotation(notation)
	return err == nil
}
