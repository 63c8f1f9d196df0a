package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusActive.CanTransitionTo(StatusReleased))
	assert.False(t, StatusReleased.CanTransitionTo(StatusActive))
	assert.False(t, StatusReleased.CanTransitionTo(StatusReleased))
	assert.False(t, StatusActive.CanTransitionTo(StatusActive))
}

func TestLocked(t *testing.T) {
	a := StartNumberAssignment{}
	assert.False(t, a.Locked())
	now := time.Now()
	a.LockedAt = &now
	assert.True(t, a.Locked())
}
