package detectors

import (
	"time"

	activity "focuswatch/internal/activity/models"
)

// session is a contiguous focus period. It opens at a focus transition and
// closes at the next transition, at an idle event, or before an idle gap.
type session struct {
	Start         time.Time
	End           time.Time
	App           string
	Events        []activity.Event
	Notifications int
	// Open marks the trailing session still running at the end of the window.
	Open bool
}

func (s session) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

func buildSessions(events []activity.Event, idleGap time.Duration) []session {
	var (
		out    []session
		cur    *session
		lastTS time.Time
	)
	closeAt := func(t time.Time) {
		if cur != nil {
			cur.End = t
			out = append(out, *cur)
			cur = nil
		}
	}

	for _, e := range events {
		if cur != nil && idleGap > 0 && e.Timestamp.Sub(lastTS) > idleGap {
			closeAt(lastTS)
		}
		lastTS = e.Timestamp

		switch {
		case e.Type == activity.TypeIdle:
			closeAt(e.Timestamp)
		case e.Type.IsFocusTransition():
			closeAt(e.Timestamp)
			cur = &session{Start: e.Timestamp, App: e.App(), Events: []activity.Event{e}}
		case cur != nil:
			cur.Events = append(cur.Events, e)
			if e.Type == activity.TypeNotification {
				cur.Notifications++
			}
		}
	}
	if cur != nil {
		cur.End = lastTS
		cur.Open = true
		out = append(out, *cur)
	}
	return out
}
