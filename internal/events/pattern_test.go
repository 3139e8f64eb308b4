// Copyright © 2026 the aemstarter authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatternMatcher_Match(t *testing.T) {
	matcher := NewPatternMatcher()

	tests := []struct {
		name      string
		pattern   string
		eventType string
		matches   bool
	}{
		// Exact matches
		{
			name:      "exact match",
			pattern:   "instance.state",
			eventType: "instance.state",
			matches:   true,
		},
		{
			name:      "exact no match",
			pattern:   "instance.state",
			eventType: "instance.log",
			matches:   false,
		},

		// Wildcard at end (instance.*)
		{
			name:      "wildcard end matches state",
			pattern:   "instance.*",
			eventType: "instance.state",
			matches:   true,
		},
		{
			name:      "wildcard end matches pid",
			pattern:   "instance.*",
			eventType: "instance.pid",
			matches:   true,
		},
		{
			name:      "wildcard end no match different prefix",
			pattern:   "instance.*",
			eventType: "backup.created",
			matches:   false,
		},

		// Wildcard at start (*.status)
		{
			name:      "wildcard start matches health",
			pattern:   "*.status",
			eventType: "health.status",
			matches:   true,
		},
		{
			name:      "wildcard start matches proxy",
			pattern:   "*.status",
			eventType: "proxy.status",
			matches:   true,
		},
		{
			name:      "wildcard start no match different suffix",
			pattern:   "*.status",
			eventType: "stack.started",
			matches:   false,
		},

		// Match all
		{
			name:      "match all",
			pattern:   "*",
			eventType: "anything.here",
			matches:   true,
		},
		{
			name:      "match all single word",
			pattern:   "*",
			eventType: "event",
			matches:   true,
		},

		// Edge cases
		{
			name:      "empty pattern",
			pattern:   "",
			eventType: "instance.state",
			matches:   false,
		},
		{
			name:      "empty event type",
			pattern:   "instance.*",
			eventType: "",
			matches:   false,
		},
		{
			name:      "prefix without dot does not match",
			pattern:   "instance.*",
			eventType: "instancelog",
			matches:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.matches, matcher.Match(tt.eventType, tt.pattern))
		})
	}
}

func TestPatternMatcher_Compile(t *testing.T) {
	matcher := NewPatternMatcher()

	compiled, err := matcher.Compile("instance.*")
	require.NoError(t, err)
	assert.True(t, compiled.Match("instance.state"))
	assert.False(t, compiled.Match("backup.created"))

	_, err = matcher.Compile("")
	assert.Error(t, err)
}
