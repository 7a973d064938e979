package tokens

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCount(t *testing.T) {
	assert.Equal(t, 0, Count(""))

	short := Count("hello")
	long := Count("hello world, this is a longer sentence about sqlite migrations")
	assert.Positive(t, short)
	assert.Greater(t, long, short)
}

func TestEstimate(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Estimate(tt.text), tt.text)
	}
}

func TestBudget(t *testing.T) {
	b := Budget{Limit: 10}
	assert.True(t, b.Take(6))
	assert.False(t, b.Take(5))
	assert.True(t, b.Take(4))
	assert.Equal(t, 10, b.Used)

	unlimited := Budget{}
	assert.True(t, unlimited.Take(1_000_000))
}
