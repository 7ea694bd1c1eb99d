package tractive

import (
	"encoding/json"
	"fmt"
)

// Token is the response of the authentication endpoint.
type Token struct {
	UserID      string `json:"user_id"`
	AccessToken string `json:"access_token"`
	ExpiresAt   int64  `json:"expires_at"`
}

// MessageKind tags the discriminated union of frames the channel stream
// emits.
type MessageKind string

const (
	KindHandshake     MessageKind = "handshake"
	KindKeepAlive     MessageKind = "keep-alive"
	KindTrackerStatus MessageKind = "tracker_status"
	KindOther         MessageKind = "other"
)

// Message is a tagged union over the frames on the channel stream.
// Exactly one of the typed fields is populated, selected by Kind.
type Message struct {
	Kind          MessageKind
	Handshake     *HandshakeMessage
	KeepAlive     *KeepAliveMessage
	TrackerStatus *TrackerStatusMessage
}

// HandshakeMessage declares the keep-alive window for the current
// connection.
type HandshakeMessage struct {
	ChannelID    string `json:"channel_id"`
	KeepAliveTTL int64  `json:"keep_alive_ttl"` // seconds
}

// KeepAliveMessage is a periodic liveness frame.
type KeepAliveMessage struct {
	ChannelID string `json:"channelId"`
	Timestamp int64  `json:"keepAlive"`
}

// TrackerStatusMessage carries optional hardware and position updates for
// one tracker.
type TrackerStatusMessage struct {
	TrackerID string         `json:"tracker_id"`
	Hardware  *HardwarePart  `json:"hardware"`
	Position  *PositionPart  `json:"position"`
}

// HardwarePart is the hardware sub-entry of a tracker_status frame.
type HardwarePart struct {
	Timestamp    int64 `json:"time"`
	BatteryLevel int   `json:"battery_level"`
}

// PositionPart is the position sub-entry of a tracker_status frame.
type PositionPart struct {
	Timestamp int64      `json:"time"`
	LatLong   [2]float64 `json:"latlong"`
	Accuracy  uint32     `json:"accuracy"`
	Course    *uint16    `json:"course"`
}

// envelope is the wire shape used only to discriminate on the "message"
// field before decoding into the right concrete type.
type envelope struct {
	Message string `json:"message"`
}

// UnmarshalJSON implements the tagged-union decode: the "message"
// discriminator selects which typed payload to populate; unrecognized
// discriminators decode to KindOther rather than failing.
func (m *Message) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("failed to read message discriminator: %w", err)
	}

	switch env.Message {
	case string(KindHandshake):
		var payload HandshakeMessage
		if err := json.Unmarshal(data, &payload); err != nil {
			return err
		}
		m.Kind = KindHandshake
		m.Handshake = &payload
	case string(KindKeepAlive):
		var payload KeepAliveMessage
		if err := json.Unmarshal(data, &payload); err != nil {
			return err
		}
		m.Kind = KindKeepAlive
		m.KeepAlive = &payload
	case string(KindTrackerStatus):
		var payload TrackerStatusMessage
		if err := json.Unmarshal(data, &payload); err != nil {
			return err
		}
		m.Kind = KindTrackerStatus
		m.TrackerStatus = &payload
	default:
		m.Kind = KindOther
	}
	return nil
}
