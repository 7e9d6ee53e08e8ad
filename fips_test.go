package main

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/KR8MER/eas-station-sub002/same"
)

func TestNormalizeFIPS(t *testing.T) {
	cases := map[string]string{
		"039137":   "039137",
		"39137":    "039137",
		"0039137":  "003913",
		"039-137":  "039137",
		" 039137 ": "039137",
		"1":        "000001",
	}
	for in, want := range cases {
		got, err := NormalizeFIPS(in)
		require.NoError(t, err, "input %q", in)
		assert.Equal(t, want, got, "input %q", in)
	}

	_, err := NormalizeFIPS("")
	assert.ErrorIs(t, err, same.ErrConfig)
	_, err = NormalizeFIPS("no digits")
	assert.ErrorIs(t, err, same.ErrConfig)
}

func TestMatchFIPSDirect(t *testing.T) {
	configured := []string{"039137", "039003", "018001"}

	matched, err := MatchFIPS([]string{"039137"}, configured)
	require.NoError(t, err)
	assert.Equal(t, []string{"039137"}, matched)

	// Part digit differences never defeat a county match.
	matched, err = MatchFIPS([]string{"139137"}, configured)
	require.NoError(t, err)
	assert.Equal(t, []string{"039137"}, matched)

	matched, err = MatchFIPS([]string{"039999"}, configured)
	require.NoError(t, err)
	assert.Empty(t, matched)
}

func TestMatchFIPSStatewide(t *testing.T) {
	configured := []string{"039137", "039003", "018001"}

	matched, err := MatchFIPS([]string{"039000"}, configured)
	require.NoError(t, err)
	assert.Equal(t, []string{"039003", "039137"}, matched)

	matched, err = MatchFIPS([]string{"018000"}, configured)
	require.NoError(t, err)
	assert.Equal(t, []string{"018001"}, matched)
}

func TestMatchFIPSNational(t *testing.T) {
	configured := []string{"039137", "018001"}
	matched, err := MatchFIPS([]string{"000000"}, configured)
	require.NoError(t, err)
	assert.Equal(t, []string{"018001", "039137"}, matched)
}

func TestMatchFIPSProperties(t *testing.T) {
	sixDigits := rapid.StringMatching(`[0-9]{6}`)

	rapid.Check(t, func(t *rapid.T) {
		alerts := rapid.SliceOfN(sixDigits, 0, 8).Draw(t, "alerts")
		configured := rapid.SliceOfN(sixDigits, 0, 8).Draw(t, "configured")

		matched, err := MatchFIPS(alerts, configured)
		require.NoError(t, err)

		// Result is a sorted subset of the configured codes.
		assert.True(t, sort.StringsAreSorted(matched))
		set := make(map[string]bool, len(configured))
		for _, c := range configured {
			set[c] = true
		}
		for _, m := range matched {
			assert.True(t, set[m], "matched %q was never configured", m)
		}

		// Matching is insensitive to alert-code order.
		if len(alerts) > 1 {
			reversed := make([]string, len(alerts))
			for i, a := range alerts {
				reversed[len(alerts)-1-i] = a
			}
			again, err := MatchFIPS(reversed, configured)
			require.NoError(t, err)
			assert.Equal(t, matched, again)
		}

		// The national wildcard covers everything configured.
		all, err := MatchFIPS([]string{"000000"}, configured)
		require.NoError(t, err)
		assert.Len(t, all, len(set))
	})
}
