package session

import (
	"time"

	"github.com/MrWong99/speechblobs/internal/document"
	"github.com/MrWong99/speechblobs/internal/notify"
	"github.com/MrWong99/speechblobs/internal/recorder"
)

// EventKind identifies what changed.
type EventKind string

const (
	// EventRecorder carries a new recorder status.
	EventRecorder EventKind = "recorder"

	// EventDocument carries a new document view.
	EventDocument EventKind = "document"

	// EventPlayback carries the playing flag.
	EventPlayback EventKind = "playback"

	// EventNotification carries the visible notification, or none when it
	// was cleared.
	EventNotification EventKind = "notification"
)

// Event is one change pushed to subscribers.
type Event struct {
	Kind         EventKind            `json:"kind"`
	Recorder     *recorder.Status     `json:"recorder,omitempty"`
	Document     *DocumentView        `json:"document,omitempty"`
	Playing      *bool                `json:"playing,omitempty"`
	Notification *notify.Notification `json:"notification,omitempty"`
}

// Segment is the client view of one record.
type Segment struct {
	Index      int             `json:"index"`
	ID         string          `json:"id"`
	Status     document.Status `json:"status"`
	Text       string          `json:"text,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	DurationMS int64           `json:"duration_ms"`
	CreatedAt  time.Time       `json:"created_at"`
}

// DocumentView is the client view of the document.
type DocumentView struct {
	Version  uint64          `json:"version"`
	Cursor   document.Cursor `json:"cursor"`
	Segments []Segment       `json:"segments"`
}

// ViewOf renders a snapshot.
func ViewOf(snap document.Snapshot) DocumentView {
	v := DocumentView{
		Version:  snap.Version,
		Cursor:   snap.Cursor,
		Segments: make([]Segment, len(snap.Records)),
	}
	for i, rec := range snap.Records {
		tr := rec.Transcription()
		v.Segments[i] = Segment{
			Index:      i,
			ID:         rec.ID,
			Status:     tr.Status,
			Text:       tr.Text,
			Reason:     tr.Reason,
			DurationMS: rec.Duration.Milliseconds(),
			CreatedAt:  rec.CreatedAt,
		}
	}
	return v
}

// Status is a point-in-time view of the whole session.
type Status struct {
	Recorder     recorder.Status      `json:"recorder"`
	Playing      bool                 `json:"playing"`
	PlayingID    string               `json:"playing_id,omitempty"`
	Cursor       document.Cursor      `json:"cursor"`
	Segments     int                  `json:"segments"`
	Pending      int                  `json:"pending_transcriptions"`
	Credential   bool                 `json:"credential_configured"`
	Notification *notify.Notification `json:"notification,omitempty"`
}
