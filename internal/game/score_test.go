package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoints(t *testing.T) {
	assert.Equal(t, 1000, Points(30, 30), "instant answer earns full points")
	assert.Equal(t, 750, Points(15, 30), "half the timer left earns 75%")
	assert.Equal(t, 500, Points(0, 30), "buzzer beater earns the floor")
	assert.Equal(t, 500, Points(-3, 30), "negative remainder clamps to the floor")
	assert.Equal(t, 1000, Points(99, 30), "remainder beyond the timer clamps to full")
	assert.Equal(t, 500, Points(10, 0), "zero-length timer degrades to the floor")
}

func TestGradedPoints(t *testing.T) {
	correct, pts := GradedPoints(5, 30, 30)
	assert.False(t, correct)
	assert.Zero(t, pts)

	correct, pts = GradedPoints(10, 30, 30)
	assert.True(t, correct)
	assert.Equal(t, 1000, pts)

	correct, pts = GradedPoints(6, 0, 30)
	assert.True(t, correct)
	assert.Equal(t, 500, pts, "passing grades keep the correct-answer floor")

	correct, pts = GradedPoints(8, 30, 30)
	assert.True(t, correct)
	assert.Equal(t, 800, pts)
}
