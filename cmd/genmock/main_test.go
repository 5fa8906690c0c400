package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/p2pquake-service/internal/domain"
)

func TestGenerate_Reproducible(t *testing.T) {
	a, err := generate(5, 42)
	require.NoError(t, err)
	b, err := generate(5, 42)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := generate(5, 43)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestGenerate_Contents(t *testing.T) {
	lines, err := generate(3, 1)
	require.NoError(t, err)

	counts := map[domain.InfoCode]int{}
	var last domain.Message
	for _, line := range lines {
		msg, err := domain.ParseMessage(line)
		require.NoError(t, err)
		counts[msg.Meta().Code]++
		last = msg
	}

	assert.Equal(t, 3, counts[domain.CodeJMAQuake])
	assert.Equal(t, 2, counts[domain.CodeJMATsunami])
	assert.Equal(t, 1, counts[domain.CodeEEW])
	assert.GreaterOrEqual(t, counts[domain.CodeUserquake], 3)

	ts, ok := last.(domain.JMATsunami)
	require.True(t, ok)
	assert.True(t, ts.Cancelled)
	assert.Equal(t, "mock-tsunami-001", ts.EventID())
}
