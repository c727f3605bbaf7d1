package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 B"},
		{-5, "0 B"},
		{512, "512 B"},
		{KiB, "1.0 KiB"},
		{50 * MiB, "50 MiB"},
		{2048 * MiB, "2.0 GiB"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatSize(tt.bytes), "FormatSize(%d)", tt.bytes)
	}
}

func TestCountByKind(t *testing.T) {
	t.Parallel()

	plan := &ActionPlan{Actions: []PlannedAction{
		{Type: ActionUnzip},
		{Type: ActionRename},
		{Type: ActionRename},
		{Type: ActionQuarantine},
	}}

	counts := plan.CountByKind()
	assert.Equal(t, 2, counts[ActionRename])
	assert.Equal(t, 1, counts[ActionUnzip])
	assert.Equal(t, 1, counts[ActionQuarantine])
	assert.Zero(t, counts[ActionDedupe])
}

func TestCountSucceeded(t *testing.T) {
	t.Parallel()

	results := []ActionResult{{Success: true}, {Success: false}, {Success: true}}
	assert.Equal(t, 2, CountSucceeded(results))
	assert.Zero(t, CountSucceeded(nil))
}

func TestHumanSize(t *testing.T) {
	t.Parallel()

	fd := &FileDescriptor{Size: 3 * KiB}
	assert.Equal(t, "3.0 KiB", fd.HumanSize())
}
