package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckTools_MissingCommandSkips(t *testing.T) {
	checks := NewCheckTools(t.TempDir(), []CheckCommand{
		{Name: "typecheck", Argv: []string{"definitely-not-a-real-binary-zx9"}},
	})

	report := checks.All(context.Background())
	assert.True(t, report.OK)
	require.Len(t, report.Results, 1)
	assert.True(t, report.Results[0].Skipped)
	assert.True(t, report.Results[0].OK)
	assert.Contains(t, report.Results[0].Output, "not found")
}

func TestCheckTools_PassAndFail(t *testing.T) {
	checks := NewCheckTools(t.TempDir(), []CheckCommand{
		{Name: "passing", Argv: []string{"true"}},
		{Name: "failing", Argv: []string{"false"}},
	})

	report := checks.All(context.Background())
	assert.False(t, report.OK)
	require.Len(t, report.Results, 2)
	assert.True(t, report.Results[0].OK)
	assert.False(t, report.Results[1].OK)
	assert.False(t, report.Results[1].Skipped)
}

func TestCheckTools_DefaultSuite(t *testing.T) {
	checks := NewCheckTools(t.TempDir(), nil)
	report := checks.All(context.Background())
	require.Len(t, report.Results, 3)
	names := []string{report.Results[0].Name, report.Results[1].Name, report.Results[2].Name}
	assert.Equal(t, []string{"typecheck", "lint", "unit"}, names)
}
