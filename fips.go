package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/KR8MER/eas-station-sub002/same"
)

// NormalizeFIPS canonicalizes a SAME location code: strip non-digits,
// right-truncate to six digits, zero-pad to six. Empty input is rejected.
func NormalizeFIPS(code string) (string, error) {
	var digits strings.Builder
	for _, r := range code {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	s := digits.String()
	if s == "" {
		return "", fmt.Errorf("%w: FIPS code %q has no digits", same.ErrConfig, code)
	}
	if len(s) > 6 {
		s = s[:6]
	}
	for len(s) < 6 {
		s = "0" + s
	}
	return s, nil
}

// NormalizeFIPSList normalizes every code in a configured jurisdiction
// list, preserving order and rejecting the list if any code is invalid.
func NormalizeFIPSList(codes []string) ([]string, error) {
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		n, err := NormalizeFIPS(c)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// fipsState returns the two-digit state portion (SS) of a six-digit code.
func fipsState(code string) string {
	return code[1:3]
}

// MatchFIPS returns the sorted set of configured codes covered by the
// alert's location codes. Pure function; inputs are normalized first.
//
// Coverage rules:
//   - direct match on the full six digits
//   - 000000 is the nationwide wildcard and covers everything configured
//   - 0SS000 is the statewide wildcard and covers every configured code
//     whose state digits equal SS
//
// The leading part-code digit is informational and never participates in
// matching; no other wildcard forms exist.
func MatchFIPS(alertCodes, configuredCodes []string) ([]string, error) {
	alerts, err := NormalizeFIPSList(alertCodes)
	if err != nil {
		return nil, err
	}
	configured, err := NormalizeFIPSList(configuredCodes)
	if err != nil {
		return nil, err
	}

	matched := make(map[string]bool)
	for _, a := range alerts {
		switch {
		case a == "000000":
			for _, c := range configured {
				matched[c] = true
			}
		case a[0] == '0' && strings.HasSuffix(a, "000") && fipsState(a) != "00":
			state := fipsState(a)
			for _, c := range configured {
				if fipsState(c) == state {
					matched[c] = true
				}
			}
		default:
			for _, c := range configured {
				if stripPart(c) == stripPart(a) {
					matched[c] = true
				}
			}
		}
	}

	out := make([]string, 0, len(matched))
	for c := range matched {
		out = append(out, c)
	}
	sort.Strings(out)
	return out, nil
}

// stripPart zeroes the part-code digit so that P differences between an
// alert code and a configured code do not defeat a county match.
func stripPart(code string) string {
	return "0" + code[1:]
}

// fipsDescriptions maps six-digit SAME codes to display names for the
// jurisdictions this station is likely to see. Parsing preserves unknown
// codes as bare strings, so the table only needs to cover the local area.
var fipsDescriptions = map[string]string{
	"039003": "Allen County, OH",
	"039011": "Auglaize County, OH",
	"039051": "Fulton County, OH",
	"039063": "Hancock County, OH",
	"039069": "Henry County, OH",
	"039107": "Mercer County, OH",
	"039125": "Paulding County, OH",
	"039137": "Putnam County, OH",
	"039161": "Van Wert County, OH",
	"039171": "Williams County, OH",
	"039173": "Wood County, OH",
	"018001": "Adams County, IN",
	"018003": "Allen County, IN",
	"018179": "Wells County, IN",
	"000000": "United States (all)",
}

// FIPSDescriptions returns the lookup table handed to the SAME decoder.
func FIPSDescriptions() map[string]string {
	return fipsDescriptions
}
