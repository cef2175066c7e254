// Package duration parses the compact grant-duration tokens accepted by
// the portal: a positive integer followed by a unit letter (h, d, w, m,
// y), or the sentinel "0f" meaning the grant never expires. A month is
// always 30 days and a year 365; the tokens are approximations, not
// calendar arithmetic.
package duration

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ForeverToken is the sentinel for a grant with no expiration.
const ForeverToken = "0f"

var (
	tokenPattern  = regexp.MustCompile(`^(\d+)([hdwmy])`)
	optionPattern = regexp.MustCompile(`^(\d+)([hdwmyf])`)
)

var unitLabels = map[string]string{
	"h": "Hour",
	"d": "Day",
	"w": "Week",
	"m": "Month",
	"y": "Year",
	"f": "Forever",
}

type Spec struct {
	Forever bool
	Delta   time.Duration
}

// Parse turns a duration token into a Spec. Malformed tokens fall back
// to a one-day grant rather than failing; admins control the accepted
// token list, so a bad token only ever means a misconfigured option.
func Parse(token string) Spec {
	if token == ForeverToken {
		return Spec{Forever: true}
	}

	m := tokenPattern.FindStringSubmatch(token)
	if m == nil {
		return Spec{Delta: 24 * time.Hour}
	}

	n, err := strconv.Atoi(m[1])
	if err != nil {
		return Spec{Delta: 24 * time.Hour}
	}

	amount := time.Duration(n)
	switch m[2] {
	case "h":
		return Spec{Delta: amount * time.Hour}
	case "d":
		return Spec{Delta: amount * 24 * time.Hour}
	case "w":
		return Spec{Delta: amount * 7 * 24 * time.Hour}
	case "m":
		return Spec{Delta: amount * 30 * 24 * time.Hour}
	case "y":
		return Spec{Delta: amount * 365 * 24 * time.Hour}
	}
	return Spec{Delta: 24 * time.Hour}
}

// ExpiresAt computes the absolute expiration instant for a grant made
// at now. Forever specs have no expiration and return nil.
func (s Spec) ExpiresAt(now time.Time) *time.Time {
	if s.Forever {
		return nil
	}
	t := now.Add(s.Delta)
	return &t
}

// Option is a duration token paired with its human-readable label, used
// to render the portal's expiration choices.
type Option struct {
	Token string `json:"token"`
	Label string `json:"label"`
}

// Options renders a comma-separated token list (the EXPIRATION_OPTIONS
// config value) into presentation pairs. Unrecognized tokens are
// silently skipped.
func Options(raw string) []Option {
	var options []Option
	for _, token := range strings.Split(raw, ",") {
		token = strings.TrimSpace(token)
		if token == ForeverToken {
			options = append(options, Option{Token: token, Label: "Forever"})
			continue
		}

		m := optionPattern.FindStringSubmatch(token)
		if m == nil {
			continue
		}

		label := m[1] + " " + unitLabels[m[2]]
		if n, err := strconv.Atoi(m[1]); err == nil && n > 1 {
			label += "s"
		}
		options = append(options, Option{Token: token, Label: label})
	}
	return options
}
