package fping

import (
	"strconv"
	"strings"
)

// Outcome maps a probed address to its round-trip time in milliseconds.
// A nil value means the probe was lost or its detail could not be parsed.
type Outcome map[string]*float64

// Parse converts fping summary lines into an Outcome. Lines without a colon
// are diagnostics and are skipped. A later line for the same address
// replaces the earlier one.
func Parse(lines []string) Outcome {
	out := make(Outcome)

	for _, line := range lines {
		addr, detail, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}

		out[strings.TrimSpace(addr)] = parseRTT(strings.TrimSpace(detail))
	}

	return out
}

// parseRTT handles the two fping formats: a bare number ("10.2") and the
// newer "[0], 84 bytes, 10.2 ms" form, where the value precedes the unit.
// Thousands separators and units other than ms are not understood.
func parseRTT(detail string) *float64 {
	raw := detail
	if strings.Contains(detail, "ms") {
		fields := strings.Fields(detail)
		if len(fields) < 2 {
			return nil
		}
		raw = fields[len(fields)-2]
	}

	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}

	return &val
}
