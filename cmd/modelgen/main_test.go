package main

import (
	"testing"

	"edge-infer/internal/model"
	"edge-infer/internal/shared"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWidths(t *testing.T) {
	w, err := parseWidths("64, 32,")
	require.NoError(t, err)
	assert.Equal(t, []int{64, 32}, w)

	w, err = parseWidths("")
	require.NoError(t, err)
	assert.Empty(t, w)

	_, err = parseWidths("x")
	assert.Error(t, err)
}

func TestDenseConfigRoundTrips(t *testing.T) {
	for _, task := range []shared.Task{shared.TaskClassification, shared.TaskDetection} {
		cfg, err := denseConfig(task, 8, 3, 10, 4, []int{8})
		require.NoError(t, err)
		m, err := model.BuildDense(cfg)
		require.NoError(t, err)

		blob, err := model.Encode(m)
		require.NoError(t, err)
		parsed, err := model.Parse(blob)
		require.NoError(t, err)
		assert.Equal(t, task, parsed.Task)
		assert.Equal(t, 192, parsed.Input().Elements())
	}
}

func TestDenseConfigUnknownTask(t *testing.T) {
	_, err := denseConfig("segmentation", 8, 3, 10, 4, nil)
	assert.Error(t, err)
}
