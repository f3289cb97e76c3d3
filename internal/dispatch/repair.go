package dispatch

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/AtharvRG/fractal/internal/envelope"
)

// Repair names reported by Repair.
const (
	RepairWhitespace = "whitespace"
	RepairPercent    = "percent"
	RepairPlus       = "plus"
	RepairModeDot    = "mode-dot"
)

var (
	percentEscape  = regexp.MustCompile(`%[0-9A-Fa-f]{2}`)
	missingModeDot = regexp.MustCompile(`^[pn][A-Za-z0-9_-]`)
)

// Repair undoes common transcription damage: whitespace from line wrapping,
// a second layer of percent-encoding, '+' from lossy copy tools, and a
// dropped '.' after the "n"/"p" mode letter. It returns the repaired string
// and the names of the repairs that changed it.
func Repair(s string) (string, []string) {
	var applied []string

	if stripped := stripWhitespace(s); stripped != s {
		s = stripped
		applied = append(applied, RepairWhitespace)
	}

	// '%' and '+' are dense symbols.
	if !strings.HasPrefix(s, DensePrefix) && percentEscape.MatchString(s) {
		if dec, err := url.PathUnescape(s); err == nil && dec != s {
			s = stripWhitespace(dec)
			applied = append(applied, RepairPercent)
		}
	}

	dense := strings.HasPrefix(s, DensePrefix)
	if !dense && strings.Contains(s, "+") {
		s = strings.ReplaceAll(s, "+", "-")
		applied = append(applied, RepairPlus)
	}

	if !dense && !envelope.IsEnvelope(s) &&
		!strings.HasPrefix(s, ModePlain) && !strings.HasPrefix(s, ModePacked) &&
		missingModeDot.MatchString(s) {
		s = s[:1] + "." + s[1:]
		applied = append(applied, RepairModeDot)
	}

	return s, applied
}

func stripWhitespace(s string) string {
	if strings.IndexFunc(s, unicode.IsSpace) < 0 {
		return s
	}
	return strings.Join(strings.Fields(s), "")
}
