package same

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Location is a single six-digit SAME location code (PSSCCC) with an
// optional human-readable description. Unknown codes keep an empty
// description rather than failing the parse.
type Location struct {
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
}

// State returns the two-digit state portion (SS) of the code.
func (l Location) State() string {
	if len(l.Code) != 6 {
		return ""
	}
	return l.Code[1:3]
}

// Header is one decoded SAME header. It is immutable once parsed.
//
// On-air grammar (non-EOM):
//
//	ZCZC-ORG-EEE-PSSCCC(-PSSCCC){0,30}+TTTT-JJJHHMM-LLLLLLLL-
type Header struct {
	Raw        string        `json:"raw"`
	EOM        bool          `json:"eom"`
	Originator string        `json:"originator,omitempty"` // EAS, WXR, CIV, PEP, EAN
	Event      string        `json:"event,omitempty"`      // three-letter event code
	Locations  []Location    `json:"locations,omitempty"`
	Purge      time.Duration `json:"-"`                    // from +TTTT (HHMM)
	PurgeRaw   string        `json:"purge,omitempty"`      // original TTTT field
	IssueDay   int           `json:"issue_day,omitempty"`  // ordinal day of year (JJJ)
	IssueHour  int           `json:"issue_hour"`
	IssueMin   int           `json:"issue_minute"`
	Station    string        `json:"station,omitempty"` // eight characters, space padded
	Confidence float64       `json:"confidence"`
}

// LocationCodes returns just the six-digit codes, in on-air order.
func (h *Header) LocationCodes() []string {
	codes := make([]string, len(h.Locations))
	for i, l := range h.Locations {
		codes[i] = l.Code
	}
	return codes
}

// EventDescription returns the human-readable name for the event code, or
// the code itself when unknown.
func (h *Header) EventDescription() string {
	if d, ok := eventNames[h.Event]; ok {
		return d
	}
	return h.Event
}

// IssueTime reconstructs the issue instant from the JJJHHMM fields. The
// on-air format carries no year, so the reference supplies it; when the
// ordinal day would land more than half a year ahead of the reference the
// previous year is assumed (a header received around new year).
func (h *Header) IssueTime(ref time.Time) time.Time {
	ref = ref.UTC()
	year := ref.Year()
	t := time.Date(year, 1, 1, h.IssueHour, h.IssueMin, 0, 0, time.UTC).
		AddDate(0, 0, h.IssueDay-1)
	if t.Sub(ref) > 180*24*time.Hour {
		t = t.AddDate(-1, 0, 0)
	}
	return t
}

// validOriginators are the originator codes defined by 47 CFR 11.31.
var validOriginators = map[string]bool{
	"EAS": true,
	"WXR": true,
	"CIV": true,
	"PEP": true,
	"EAN": true,
}

// NormalizeHeaderText canonicalizes raw decoded header text for signature
// and comparison purposes: trailing CR/LF and whitespace stripped,
// uppercased. The station callsign's interior spacing is significant and is
// preserved.
func NormalizeHeaderText(raw string) string {
	return strings.ToUpper(strings.TrimRight(raw, "\r\n \t"))
}

// Signature returns the SHA-256 of the normalized header text, hex encoded.
// This is the key used for duplicate suppression.
func Signature(raw string) string {
	sum := sha256.Sum256([]byte(NormalizeHeaderText(raw)))
	return hex.EncodeToString(sum[:])
}

// ValidateHeaderText checks the structural invariants of a non-EOM header:
// exactly one '+', at least six '-' separators, and all location codes six
// ASCII digits. EOM text ("NNNN") is always valid.
func ValidateHeaderText(raw string) error {
	text := NormalizeHeaderText(raw)
	if strings.HasPrefix(text, "NNNN") {
		return nil
	}
	if !strings.HasPrefix(text, "ZCZC-") {
		return fmt.Errorf("%w: header does not start with ZCZC- or NNNN", ErrBadFraming)
	}
	if strings.Count(text, "+") != 1 {
		return fmt.Errorf("%w: header must contain exactly one '+'", ErrBadFraming)
	}
	if strings.Count(text, "-") < 6 {
		return fmt.Errorf("%w: header must contain at least six '-' separators", ErrBadFraming)
	}
	body := text[len("ZCZC-"):]
	plus := strings.IndexByte(body, '+')
	fields := strings.Split(body[:plus], "-")
	if len(fields) < 3 {
		return fmt.Errorf("%w: header has %d fields before '+', need at least 3", ErrBadFraming, len(fields))
	}
	for _, code := range fields[2:] {
		if !isSixDigits(code) {
			return fmt.Errorf("%w: location code %q is not six ASCII digits", ErrBadFraming, code)
		}
	}
	return nil
}

func isSixDigits(s string) bool {
	if len(s) != 6 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// ParseHeader parses raw SAME header text into its fields. The lookup map
// (six-digit SAME code to description) may be nil; unknown codes are
// preserved with empty descriptions. The raw text is validated first.
func ParseHeader(raw string, fipsLookup map[string]string) (*Header, error) {
	text := NormalizeHeaderText(raw)

	if strings.HasPrefix(text, "NNNN") {
		return &Header{Raw: text, EOM: true}, nil
	}

	if err := ValidateHeaderText(text); err != nil {
		return nil, err
	}

	h := &Header{Raw: text}

	body := strings.TrimSuffix(text[len("ZCZC-"):], "-")
	plus := strings.IndexByte(body, '+')
	before := strings.Split(body[:plus], "-")
	after := strings.Split(body[plus+1:], "-")

	h.Originator = before[0]
	h.Event = before[1]
	if !validOriginators[h.Originator] {
		return nil, fmt.Errorf("%w: unknown originator %q", ErrBadFraming, h.Originator)
	}
	if len(h.Event) != 3 {
		return nil, fmt.Errorf("%w: event code %q is not three characters", ErrBadFraming, h.Event)
	}

	for _, code := range before[2:] {
		h.Locations = append(h.Locations, Location{
			Code:        code,
			Description: fipsLookup[code],
		})
	}

	// after: TTTT, JJJHHMM, LLLLLLLL
	if len(after) < 3 {
		return nil, fmt.Errorf("%w: missing purge/issue/station fields", ErrBadFraming)
	}
	h.PurgeRaw = after[0]
	if len(after[0]) == 4 {
		hh, err1 := strconv.Atoi(after[0][:2])
		mm, err2 := strconv.Atoi(after[0][2:])
		if err1 != nil || err2 != nil {
			return nil, fmt.Errorf("%w: bad purge offset %q", ErrBadFraming, after[0])
		}
		h.Purge = time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	} else {
		return nil, fmt.Errorf("%w: bad purge offset %q", ErrBadFraming, after[0])
	}

	if len(after[1]) == 7 {
		day, err1 := strconv.Atoi(after[1][:3])
		hh, err2 := strconv.Atoi(after[1][3:5])
		mm, err3 := strconv.Atoi(after[1][5:])
		if err1 != nil || err2 != nil || err3 != nil {
			return nil, fmt.Errorf("%w: bad issue time %q", ErrBadFraming, after[1])
		}
		h.IssueDay, h.IssueHour, h.IssueMin = day, hh, mm
	} else {
		return nil, fmt.Errorf("%w: bad issue time %q", ErrBadFraming, after[1])
	}

	// Station callsign is 8 characters, space padded on air. Tolerate
	// shorter when trailing spaces were eaten upstream.
	h.Station = after[2]

	return h, nil
}

// FormatHeader renders header fields back into on-air ASCII text. The
// station callsign is space padded to eight characters. Used by the
// broadcast encoder; the inverse of ParseHeader for valid inputs.
func FormatHeader(originator, event string, locations []string, purge time.Duration, issue time.Time, station string) (string, error) {
	if !validOriginators[originator] {
		return "", fmt.Errorf("%w: unknown originator %q", ErrConfig, originator)
	}
	if len(event) != 3 {
		return "", fmt.Errorf("%w: event code %q must be three characters", ErrConfig, event)
	}
	if len(locations) == 0 || len(locations) > 31 {
		return "", fmt.Errorf("%w: need 1..31 location codes, got %d", ErrConfig, len(locations))
	}
	if len(station) == 0 || len(station) > 8 {
		return "", fmt.Errorf("%w: station callsign %q must be 1..8 characters", ErrConfig, station)
	}
	for _, code := range locations {
		if !isSixDigits(code) {
			return "", fmt.Errorf("%w: location code %q is not six digits", ErrConfig, code)
		}
	}

	var sb strings.Builder
	sb.WriteString("ZCZC-")
	sb.WriteString(originator)
	sb.WriteByte('-')
	sb.WriteString(event)
	for _, code := range locations {
		sb.WriteByte('-')
		sb.WriteString(code)
	}
	total := int(purge.Minutes())
	fmt.Fprintf(&sb, "+%02d%02d", total/60, total%60)
	utc := issue.UTC()
	fmt.Fprintf(&sb, "-%03d%02d%02d", utc.YearDay(), utc.Hour(), utc.Minute())
	fmt.Fprintf(&sb, "-%-8s-", station)
	return sb.String(), nil
}
