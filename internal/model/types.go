package model

import "time"

type DoorStatus string

const (
	DoorOpen    DoorStatus = "OPEN"
	DoorClosed  DoorStatus = "CLOSED"
	DoorUnknown DoorStatus = "unknown"
)

// Reading is one persisted door sensor sample.
type Reading struct {
	ID         int64      `json:"id"`
	RecordedAt time.Time  `json:"recorded_at"`
	DoorStatus DoorStatus `json:"door_status"`
	Source     string     `json:"source,omitempty"`
}

type Posture string

const (
	PostureSecure          Posture = "secure"
	PostureDoorOpen        Posture = "door_open"
	PostureDoorOpenTooLong Posture = "door_open_too_long"
	PostureIntrusion       Posture = "intrusion"
)

type Evaluation struct {
	Status         Posture `json:"status"`
	IsRedAlert     bool    `json:"is_red_alert"`
	IsAmberWarning bool    `json:"is_amber_warning"`
}

type AlertKind string

const (
	AlertIntrusion       AlertKind = "intrusion"
	AlertDoorOpenTooLong AlertKind = "door_open_too_long"
)

// Snapshot is the derived door state. DoorOpenedAt is set only while the door is OPEN.
type Snapshot struct {
	TotalEntriesInWindow int        `json:"total_entries_in_window"`
	CurrentDoorStatus    DoorStatus `json:"current_door_status"`
	DoorOpenedAt         *time.Time `json:"door_opened_at"`
	LastUpdated          time.Time  `json:"last_updated"`
	ReadingsInWindow     int        `json:"readings_in_window"`
	PossiblyIncomplete   bool       `json:"possibly_incomplete"`
}

// OpenDuration returns how long the door has been open at now, or zero.
func (s Snapshot) OpenDuration(now time.Time) time.Duration {
	if s.CurrentDoorStatus != DoorOpen || s.DoorOpenedAt == nil {
		return 0
	}
	d := now.Sub(*s.DoorOpenedAt)
	if d < 0 {
		return 0
	}
	return d
}

type Alert struct {
	ID           string     `json:"id"`
	Timestamp    time.Time  `json:"timestamp"`
	Kind         AlertKind  `json:"alert_type"`
	ReadingID    int64      `json:"reading_id,omitempty"`
	DoorOpenedAt *time.Time `json:"door_opened_at,omitempty"`
	Source       string     `json:"source,omitempty"`
}
