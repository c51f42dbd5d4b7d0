package engine

import (
	"time"

	"doorguard/internal/model"
)

// WindowStats is what the transition counter derives from one window of readings.
type WindowStats struct {
	Entries  int
	Latest   model.DoorStatus
	OpenedAt *time.Time
	Readings int
}

// CountTransitions expects readings in ascending recorded_at order.
// An entry is a CLOSED reading directly followed by an OPEN one.
//
// When the last reading is OPEN, OpenedAt is the first OPEN after the most
// recent CLOSED. If the window holds no CLOSED at all the first reading is
// used, so an open period that began before the window is under-reported.
func CountTransitions(readings []model.Reading) WindowStats {
	out := WindowStats{Latest: model.DoorUnknown, Readings: len(readings)}
	if len(readings) == 0 {
		return out
	}
	for i := 1; i < len(readings); i++ {
		if readings[i-1].DoorStatus == model.DoorClosed && readings[i].DoorStatus == model.DoorOpen {
			out.Entries++
		}
	}
	last := len(readings) - 1
	out.Latest = readings[last].DoorStatus
	if out.Latest != model.DoorOpen {
		return out
	}
	start := 0
	for i := last; i >= 0; i-- {
		if readings[i].DoorStatus == model.DoorClosed {
			start = i + 1
			break
		}
	}
	// Skip anything that is neither OPEN nor CLOSED between the CLOSED and the open run.
	for start <= last && readings[start].DoorStatus != model.DoorOpen {
		start++
	}
	opened := readings[start].RecordedAt
	out.OpenedAt = &opened
	return out
}
