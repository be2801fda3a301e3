package models

// CallType distinguishes voice from video calls.
type CallType string

const (
	CallVoice CallType = "voice"
	CallVideo CallType = "video"
)

// CallStatus is a call's signaling state.
type CallStatus string

const (
	CallIdle      CallStatus = "idle"
	CallCalling   CallStatus = "calling"
	CallRinging   CallStatus = "ringing"
	CallConnected CallStatus = "connected"
	CallEnded     CallStatus = "ended"
	CallDeclined  CallStatus = "declined"
	CallMissed    CallStatus = "missed"
)

// CallParticipant is a snapshot of a user at call time. Intentionally
// denormalized: the record is frozen when the call starts, not joined live.
type CallParticipant struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
	Status Status `json:"status"`
	Muted  bool   `json:"muted"`
	Video  bool   `json:"video"`
}

// Call is a signaling record. Media transport is out of scope; only the
// state machine over these rows is.
type Call struct {
	ID           string            `json:"id"`
	Type         CallType          `json:"type"`
	Initiator    CallParticipant   `json:"initiator"`
	Participants []CallParticipant `json:"participants"`
	Status       CallStatus        `json:"status"`
	StartTime    int64             `json:"start_time,omitempty"` // Unix ms
	EndTime      int64             `json:"end_time,omitempty"`   // Unix ms
	ChannelID    string            `json:"channel_id,omitempty"`
	Recording    string            `json:"recording,omitempty"`
}

// Snapshot builds a frozen CallParticipant from a user.
func (u User) Snapshot() CallParticipant {
	return CallParticipant{
		UserID: u.ID,
		Name:   u.Name,
		Avatar: u.Avatar,
		Status: u.Status,
	}
}
