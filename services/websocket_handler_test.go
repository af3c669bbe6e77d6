package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/3than777/Elocutionist-sub004/models"
	ws "github.com/3than777/Elocutionist-sub004/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type streamEvent struct {
	Type        string         `json:"type"`
	InterviewID string         `json:"interview_id"`
	RequestID   string         `json:"request_id"`
	Data        map[string]any `json:"data"`
	Code        string         `json:"code"`
}

func newStreamClient(t *testing.T, f *recordingFixture) (*WebSocketHandler, *ws.Client) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := ws.NewHub()
	go hub.Run(ctx)

	client := hub.RegisterClient(nil, "user-1", f.interview.ID)
	require.Eventually(t, func() bool { return hub.Clients(f.interview.ID) == 1 }, 2*time.Second, 10*time.Millisecond)
	return NewWebSocketHandler(f.svc, hub), client
}

func nextEvent(t *testing.T, client *ws.Client) streamEvent {
	t.Helper()
	select {
	case payload, ok := <-client.Send:
		require.True(t, ok, "client closed")
		var ev streamEvent
		require.NoError(t, json.Unmarshal(payload, &ev))
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
		return streamEvent{}
	}
}

func TestHandleTextFrame(t *testing.T) {
	f := newRecordingFixture(t)
	h, client := newStreamClient(t, f)

	h.HandleFrame(client, ws.Frame{Type: "text", Content: "I shipped the migration.", RequestID: "r1"})

	ack := nextEvent(t, client)
	assert.Equal(t, "ack", ack.Type)
	assert.Equal(t, "r1", ack.RequestID)

	entry := nextEvent(t, client)
	assert.Equal(t, "entry", entry.Type)
	assert.Equal(t, f.interview.ID, entry.InterviewID)
	assert.Equal(t, "user", entry.Data["speaker"])
	assert.Equal(t, "I shipped the migration.", entry.Data["text"])

	rec, err := f.repo.FindRecordingByInterview(context.Background(), f.interview.ID)
	require.NoError(t, err)
	require.Len(t, rec.Transcript, 1)
}

func TestHandleAudioFrame(t *testing.T) {
	f := newRecordingFixture(t)
	f.ai.transcribe = func(audio []byte, mimeHint string) (*Transcription, error) {
		return &Transcription{Text: "Spoken answer"}, nil
	}
	h, client := newStreamClient(t, f)

	h.HandleFrame(client, ws.Frame{
		Type:        "audio",
		AudioBase64: base64.StdEncoding.EncodeToString([]byte("webm bytes")),
		MimeType:    "audio/webm",
		RequestID:   "a1",
	})

	assert.Equal(t, "ack", nextEvent(t, client).Type)
	entry := nextEvent(t, client)
	assert.Equal(t, "Spoken answer", entry.Data["text"])
	assert.NotEmpty(t, entry.Data["audio_ref"])
}

func TestHandleFrameErrors(t *testing.T) {
	tests := []struct {
		name  string
		frame ws.Frame
		code  string
	}{
		{"unknown type", ws.Frame{Type: "video"}, "INVALID_INPUT"},
		{"audio without data", ws.Frame{Type: "audio"}, "INVALID_INPUT"},
		{"audio not base64", ws.Frame{Type: "audio", AudioBase64: "%%%"}, "INVALID_INPUT"},
		{"blank text", ws.Frame{Type: "text", Content: "  "}, "INVALID_INPUT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRecordingFixture(t)
			h, client := newStreamClient(t, f)

			tt.frame.RequestID = "bad"
			h.HandleFrame(client, tt.frame)

			ev := nextEvent(t, client)
			assert.Equal(t, "error", ev.Type)
			assert.Equal(t, "bad", ev.RequestID)
			assert.Equal(t, tt.code, ev.Code)
		})
	}
}

func TestHandleEndSessionFrame(t *testing.T) {
	f := newRecordingFixture(t)
	h, client := newStreamClient(t, f)
	f.add(t, models.SpeakerUser, "Thanks for your time.")

	h.HandleFrame(client, ws.Frame{Type: "end_session", RequestID: "e1"})

	ev := nextEvent(t, client)
	assert.Equal(t, "session_ended", ev.Type)
	assert.Equal(t, false, ev.Data["is_active"])

	// Entries after the end are rejected.
	h.HandleFrame(client, ws.Frame{Type: "text", Content: "one more thing"})
	assert.Equal(t, "error", nextEvent(t, client).Type)
}
