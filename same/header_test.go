package same

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatParseRoundTrip(t *testing.T) {
	issue := time.Date(2026, 3, 11, 14, 30, 0, 0, time.UTC)
	text, err := FormatHeader("WXR", "TOR", []string{"039137", "039003"},
		30*time.Minute, issue, "KMRO/EAS")
	require.NoError(t, err)
	assert.Equal(t, "ZCZC-WXR-TOR-039137-039003+0030-0701430-KMRO/EAS-", text)

	h, err := ParseHeader(text, map[string]string{"039137": "Putnam County, OH"})
	require.NoError(t, err)
	assert.False(t, h.EOM)
	assert.Equal(t, "WXR", h.Originator)
	assert.Equal(t, "TOR", h.Event)
	assert.Equal(t, []string{"039137", "039003"}, h.LocationCodes())
	assert.Equal(t, "Putnam County, OH", h.Locations[0].Description)
	assert.Equal(t, 30*time.Minute, h.Purge)
	assert.Equal(t, 70, h.IssueDay)
	assert.Equal(t, 14, h.IssueHour)
	assert.Equal(t, 30, h.IssueMin)
	assert.Equal(t, "KMRO/EAS", h.Station)
	assert.Equal(t, "Tornado Warning", h.EventDescription())
}

func TestFormatHeaderPadsStation(t *testing.T) {
	issue := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	text, err := FormatHeader("EAS", "RWT", []string{"039137"}, time.Hour, issue, "ABC")
	require.NoError(t, err)
	assert.Contains(t, text, "-ABC     -")
}

func TestFormatHeaderRejectsBadFields(t *testing.T) {
	issue := time.Now()
	locs := []string{"039137"}

	_, err := FormatHeader("XXX", "TOR", locs, time.Hour, issue, "KMRO")
	assert.ErrorIs(t, err, ErrConfig)

	_, err = FormatHeader("EAS", "TORN", locs, time.Hour, issue, "KMRO")
	assert.ErrorIs(t, err, ErrConfig)

	_, err = FormatHeader("EAS", "TOR", nil, time.Hour, issue, "KMRO")
	assert.ErrorIs(t, err, ErrConfig)

	_, err = FormatHeader("EAS", "TOR", locs, time.Hour, issue, "TOOLONGCALL")
	assert.ErrorIs(t, err, ErrConfig)

	_, err = FormatHeader("EAS", "TOR", []string{"39137"}, time.Hour, issue, "KMRO")
	assert.ErrorIs(t, err, ErrConfig)

	tooMany := make([]string, 32)
	for i := range tooMany {
		tooMany[i] = "039137"
	}
	_, err = FormatHeader("EAS", "TOR", tooMany, time.Hour, issue, "KMRO")
	assert.ErrorIs(t, err, ErrConfig)
}

func TestParseHeaderEOM(t *testing.T) {
	h, err := ParseHeader("NNNN", nil)
	require.NoError(t, err)
	assert.True(t, h.EOM)
	assert.Empty(t, h.Locations)
}

func TestParseHeaderRejectsMalformed(t *testing.T) {
	cases := []string{
		"ABCD-WXR-TOR-039137+0030-0701430-KMRO/EAS-",
		"ZCZC-WXR-TOR-039137+0030+0030-0701430-KMRO/EAS-",
		"ZCZC-WXR-TOR-03913A+0030-0701430-KMRO/EAS-",
		"ZCZC-WXR-TOR-039137+003-0701430-KMRO/EAS-",
		"ZCZC-WXR-TOR-039137+0030-070143-KMRO/EAS-",
		"ZCZC-QQQ-TOR-039137+0030-0701430-KMRO/EAS-",
	}
	for _, c := range cases {
		_, err := ParseHeader(c, nil)
		assert.Error(t, err, "expected %q to be rejected", c)
	}
}

func TestSignatureIgnoresTrailingJunk(t *testing.T) {
	base := "ZCZC-WXR-TOR-039137+0030-0701430-KMRO/EAS-"
	assert.Equal(t, Signature(base), Signature(base+"\r\n"))
	assert.Equal(t, Signature(base), Signature(base+"  "))
	assert.NotEqual(t, Signature(base), Signature("ZCZC-WXR-SVR-039137+0030-0701430-KMRO/EAS-"))
}

func TestIssueTimeYearRollover(t *testing.T) {
	h := &Header{IssueDay: 365, IssueHour: 23, IssueMin: 50}
	// Received just after new year: day 365 must resolve to the previous
	// year, not eleven months in the future.
	ref := time.Date(2026, 1, 2, 0, 5, 0, 0, time.UTC)
	got := h.IssueTime(ref)
	assert.Equal(t, 2025, got.Year())
	assert.Equal(t, 365, got.YearDay())

	h2 := &Header{IssueDay: 70, IssueHour: 14, IssueMin: 30}
	ref2 := time.Date(2026, 3, 11, 14, 35, 0, 0, time.UTC)
	got2 := h2.IssueTime(ref2)
	assert.Equal(t, 2026, got2.Year())
	assert.Equal(t, 70, got2.YearDay())
}
