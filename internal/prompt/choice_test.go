// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package prompt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHotKeyParsing(t *testing.T) {
	t.Parallel()

	tests := []struct {
		label  string
		clean  string
		hotKey string
	}{
		{"&Yes", "Yes", "y"},
		{"&No", "No", "n"},
		{"Yes to &All", "Yes to All", "a"},
		{"Cancel", "Cancel", ""},
		{"Trailing&", "Trailing", ""},
	}

	for _, tc := range tests {
		c := Choice{Label: tc.label}
		require.Equal(t, tc.clean, c.CleanLabel(), "label %q", tc.label)
		require.Equal(t, tc.hotKey, c.HotKey(), "label %q", tc.label)
	}
}

func TestMatchChoiceByLabelAndHotKey(t *testing.T) {
	t.Parallel()

	choices := []Choice{{Label: "&Yes"}, {Label: "&No"}, {Label: "Yes to &All"}}

	require.Equal(t, 0, matchChoice("y", choices))
	require.Equal(t, 0, matchChoice("YES", choices))
	require.Equal(t, 1, matchChoice(" n ", choices))
	require.Equal(t, 2, matchChoice("a", choices))
	require.Equal(t, 2, matchChoice("yes to all", choices))
	require.Equal(t, -1, matchChoice("q", choices))
	require.Equal(t, -1, matchChoice("", choices))
}

func TestLabelMatchWinsOverHotKey(t *testing.T) {
	t.Parallel()

	// "A" is a full label for the first choice and the hot key of the second.
	choices := []Choice{{Label: "A"}, {Label: "&Abort"}}
	require.Equal(t, 0, matchChoice("a", choices))
}

func TestMatchChoicesMultiSelect(t *testing.T) {
	t.Parallel()

	choices := []Choice{{Label: "&Apple"}, {Label: "&Banana"}, {Label: "&Cherry"}}

	require.Equal(t, []int{0, 2}, matchChoices("a, cherry", choices))
	require.Equal(t, []int{1}, matchChoices(" b ,junk, b", choices), "unmatched dropped, duplicates collapsed")
	require.Empty(t, matchChoices("x, y, z", choices))
	require.Empty(t, matchChoices("", choices))
}
