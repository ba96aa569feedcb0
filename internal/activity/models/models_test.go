package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEventType(t *testing.T) {
	for _, typ := range EventTypes {
		assert.True(t, typ.IsValid(), typ)
	}
	assert.False(t, EventType("keystroke").IsValid())
	assert.True(t, TypeAppSwitch.IsFocusTransition())
	assert.True(t, TypeWindowFocus.IsFocusTransition())
	assert.False(t, TypeFileSave.IsFocusTransition())
}

func TestEventBefore(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	a := Event{ID: "a", Timestamp: t0}
	b := Event{ID: "b", Timestamp: t0}
	c := Event{ID: "0", Timestamp: t0.Add(time.Second)}

	assert.True(t, a.Before(b), "equal timestamps order by id")
	assert.False(t, b.Before(a))
	assert.True(t, b.Before(c))
}

func TestEffectiveLimit(t *testing.T) {
	assert.Equal(t, DefaultPageLimit, EffectiveLimit(0))
	assert.Equal(t, 10, EffectiveLimit(10))
	assert.Equal(t, MaxPageLimit, EffectiveLimit(MaxPageLimit+1))
}
