package invoice

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/velo-automation/velo/internal/shared"
)

var numberPattern = regexp.MustCompile(`^RE-(\d{4})-(\d{3,})$`)

// FormatNumber renders RE-YYYY-NNN.
func FormatNumber(year, seq int) string {
	return fmt.Sprintf("RE-%04d-%03d", year, seq)
}

// ParseNumber splits an invoice number into year and sequence.
func ParseNumber(number string) (year, seq int, err error) {
	m := numberPattern.FindStringSubmatch(number)
	if m == nil {
		return 0, 0, fmt.Errorf("invoice number %q: expected RE-YYYY-NNN: %w", number, shared.ErrValidation)
	}
	year, _ = strconv.Atoi(m[1])
	seq, _ = strconv.Atoi(m[2])
	return year, seq, nil
}

// NumberSuffix returns the YYYY-NNN part shared with reminder numbers.
func NumberSuffix(number string) (string, error) {
	year, seq, err := ParseNumber(number)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%04d-%03d", year, seq), nil
}

// NextNumber returns the next free number of the given year.
func NextNumber(existing []string, year int) string {
	highest := 0
	for _, n := range existing {
		y, seq, err := ParseNumber(n)
		if err != nil || y != year {
			continue
		}
		if seq > highest {
			highest = seq
		}
	}
	return FormatNumber(year, highest+1)
}
