package run

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var runNamePattern = regexp.MustCompile(`^[a-z]+-[a-z]+-\d+$`)

func TestGenerateRunNameMatchesShape(t *testing.T) {
	name, err := GenerateRunName()
	require.NoError(t, err)
	assert.Regexp(t, runNamePattern, name)
}

func TestGenerateRunNameVariesAcrossCalls(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		name, err := GenerateRunName()
		require.NoError(t, err)
		seen[name] = true
	}
	assert.Greater(t, len(seen), 1)
}

func TestGenerateRunIDReturnsDistinctUUIDs(t *testing.T) {
	a := GenerateRunID()
	b := GenerateRunID()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 36)
}
