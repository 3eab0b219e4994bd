// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package prompt implements choice and input prompts that round-trip through
// the editor connection. Prompts run off the pipeline goroutine; only one
// prompt may be active at a time.
package prompt

import "strings"

// Choice is one selectable option of a choice prompt. An '&' in the label
// marks the following character as the hot key, e.g. "&Yes" has hot key 'y'.
type Choice struct {
	Label       string
	HelpMessage string
}

// CleanLabel returns the label with the hot key marker removed.
func (c Choice) CleanLabel() string {
	return strings.Replace(c.Label, "&", "", 1)
}

// HotKey returns the lower-cased hot key character, or an empty string when
// the label has none.
func (c Choice) HotKey() string {
	marker := strings.Index(c.Label, "&")
	if marker < 0 || marker+1 >= len(c.Label) {
		return ""
	}
	return strings.ToLower(c.Label[marker+1 : marker+2])
}

// matchChoice finds the choice matching one input token by clean label or by
// hot key, case-insensitive. Returns -1 when nothing matches.
func matchChoice(token string, choices []Choice) int {
	token = strings.TrimSpace(token)
	if token == "" {
		return -1
	}

	for i, c := range choices {
		if strings.EqualFold(token, c.CleanLabel()) {
			return i
		}
	}
	for i, c := range choices {
		if hotKey := c.HotKey(); hotKey != "" && strings.EqualFold(token, hotKey) {
			return i
		}
	}
	return -1
}

// matchChoices resolves a comma-separated multi-select input against the
// choice set. Unmatched tokens are dropped; duplicates collapse to the first
// occurrence. An empty result for a non-empty input means nothing matched and
// the caller should re-prompt.
func matchChoices(input string, choices []Choice) []int {
	var matched []int
	seen := make(map[int]bool)

	for _, token := range strings.Split(input, ",") {
		i := matchChoice(token, choices)
		if i < 0 || seen[i] {
			continue
		}
		seen[i] = true
		matched = append(matched, i)
	}
	return matched
}
