package aggregate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var boxOfficeRe = regexp.MustCompile(`\$\s*([\d,]*\.?\d+)\s*([MmBb])?`)

// ParseBoxOffice reads "$352.1M", "$1.2B" or "$104,900,000" as dollars.
func ParseBoxOffice(s string) (float64, bool) {
	m := boxOfficeRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0, false
	}
	switch strings.ToUpper(m[2]) {
	case "B":
		v *= 1e9
	case "M":
		v *= 1e6
	}
	return v, true
}

// FormatBoxOffice renders a dollar amount in billions or millions.
// Amounts below a million are not shown.
func FormatBoxOffice(total float64) string {
	switch {
	case total >= 1e9:
		return fmt.Sprintf("$%.1fB", total/1e9)
	case total >= 1e6:
		return fmt.Sprintf("$%.0fM", total/1e6)
	}
	return ""
}

// TotalBoxOffice sums the parseable box office figures of deaths.
func TotalBoxOffice(deaths []DeathEvent) string {
	var (
		total  float64
		parsed bool
	)
	for _, d := range deaths {
		if v, ok := ParseBoxOffice(d.BoxOffice); ok {
			total += v
			parsed = true
		}
	}
	if !parsed {
		return ""
	}
	return FormatBoxOffice(total)
}
