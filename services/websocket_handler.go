package services

import (
	"context"
	"encoding/base64"
	"log/slog"
	"time"

	"github.com/3than777/Elocutionist-sub004/apperr"
	"github.com/3than777/Elocutionist-sub004/models"
	ws "github.com/3than777/Elocutionist-sub004/websocket"
)

const frameTimeout = 2 * time.Minute

// WebSocketHandler turns transcript stream frames into recording
// operations and reports each outcome back.
type WebSocketHandler struct {
	recordings *RecordingService
	hub        *ws.Hub
}

func NewWebSocketHandler(recordings *RecordingService, hub *ws.Hub) *WebSocketHandler {
	return &WebSocketHandler{
		recordings: recordings,
		hub:        hub,
	}
}

// HandleFrame processes one frame. New entries are broadcast to every
// stream of the interview; errors go to the sender only.
func (h *WebSocketHandler) HandleFrame(client *ws.Client, frame ws.Frame) {
	ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
	defer cancel()

	switch frame.Type {
	case "text":
		speaker := models.Speaker(frame.Speaker)
		if speaker == "" {
			speaker = models.SpeakerUser
		}
		entry, err := h.recordings.AddTranscriptEntry(ctx, client.UserID, client.InterviewID, models.TranscriptEntry{
			Speaker: speaker,
			Text:    frame.Content,
		})
		h.reply(client, frame, entry, err)

	case "audio":
		if frame.AudioBase64 == "" {
			h.sendError(client, frame, apperr.Validation(apperr.CodeInvalidInput, "no audio data provided"))
			return
		}
		audio, err := base64.StdEncoding.DecodeString(frame.AudioBase64)
		if err != nil {
			slog.Error("Failed to decode Base64 audio data", "error", err, "interview_id", client.InterviewID)
			h.sendError(client, frame, apperr.Validation(apperr.CodeInvalidInput, "audio is not valid base64"))
			return
		}
		slog.Info("Audio frame received", "interview_id", client.InterviewID, "audio_size", len(audio))
		entry, err := h.recordings.AddAudio(ctx, client.UserID, client.InterviewID, audio, frame.MimeType)
		h.reply(client, frame, entry, err)

	case "end_session":
		recording, err := h.recordings.EndSession(ctx, client.UserID, client.InterviewID)
		if err != nil {
			h.sendError(client, frame, err)
			return
		}
		h.hub.Broadcast(client.InterviewID, ws.Event{Type: "session_ended", RequestID: frame.RequestID, Data: recording})

	default:
		slog.Warn("Unknown frame type", "type", frame.Type, "interview_id", client.InterviewID)
		h.sendError(client, frame, apperr.Validation(apperr.CodeInvalidInput, "unknown frame type"))
	}
}

func (h *WebSocketHandler) reply(client *ws.Client, frame ws.Frame, entry models.TranscriptEntry, err error) {
	if err != nil {
		h.sendError(client, frame, err)
		return
	}
	client.SendEvent(ws.Event{Type: "ack", RequestID: frame.RequestID})
	h.hub.Broadcast(client.InterviewID, ws.Event{Type: "entry", RequestID: frame.RequestID, Data: entry})
}

func (h *WebSocketHandler) sendError(client *ws.Client, frame ws.Frame, err error) {
	slog.Warn("Transcript frame rejected", "interview_id", client.InterviewID, "type", frame.Type, "error", err)
	client.SendEvent(ws.Event{
		Type:      "error",
		RequestID: frame.RequestID,
		Error:     apperr.UserMessage(err),
		Code:      apperr.CodeOf(err),
	})
}
