package controller

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingBufferMeanWithinWindow(t *testing.T) {
	rb := newRingBuffer(3)
	rb.Push(1)
	rb.Push(2)
	assert.Equal(t, 1.5, rb.Mean())
}

func TestRingBufferEvictsOldest(t *testing.T) {
	rb := newRingBuffer(2)
	rb.Push(1)
	rb.Push(2)
	rb.Push(3)
	assert.Equal(t, 2.5, rb.Mean())
}

func TestRingBufferEmptyMeanIsZero(t *testing.T) {
	rb := newRingBuffer(3)
	assert.Equal(t, 0.0, rb.Mean())
}
