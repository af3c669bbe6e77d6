package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/3than777/Elocutionist-sub004/apperr"
	"github.com/3than777/Elocutionist-sub004/models"

	"google.golang.org/genai"
)

const (
	ModelName             = "gemini-2.5-flash"
	DefaultRequestTimeout = 60 * time.Second
	maxPromptTranscript   = 60000 // characters of transcript sent for feedback
)

// Transcription is the result of speech-to-text on one audio chunk.
type Transcription struct {
	Text           string              `json:"text"`
	Confidence     *float64            `json:"confidence,omitempty"`
	DurationMillis *int64              `json:"duration_millis,omitempty"`
	Segments       []TranscriptSegment `json:"segments,omitempty"`
}

type TranscriptSegment struct {
	Text        string `json:"text"`
	StartMillis int64  `json:"start_millis"`
	EndMillis   int64  `json:"end_millis"`
}

// FeedbackRequest is everything the model sees when writing feedback.
type FeedbackRequest struct {
	InterviewType string
	Difficulty    string
	Transcript    string
	Analysis      *models.VocalAnalysis
}

// GenerationClient is the remote generation API used by the session and
// rating pipelines.
type GenerationClient interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
	TranscribeAudio(ctx context.Context, audio []byte, mimeHint string) (*Transcription, error)
	AnalyzeTranscript(ctx context.Context, req FeedbackRequest) (*models.FeedbackReport, error)
}

// VisionClient reads text out of images and office documents.
type VisionClient interface {
	ExtractDocumentText(ctx context.Context, data []byte, mimeType string) (string, error)
}

// contentGenerator is the slice of *genai.Models the service uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiService handles all Gemini AI operations. Every error it returns is
// an *apperr.Error classified as transient or permanent.
type GeminiService struct {
	generator contentGenerator
	model     string
	timeout   time.Duration
}

func NewGeminiService(ctx context.Context, cfg AIConfig) (*GeminiService, error) {
	genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		slog.Error("Failed to create genai client", "error", err)
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return newGeminiService(genaiClient.Models, cfg.Model, cfg.RequestTimeout), nil
}

func newGeminiService(generator contentGenerator, model string, timeout time.Duration) *GeminiService {
	if model == "" {
		model = ModelName
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &GeminiService{generator: generator, model: model, timeout: timeout}
}

// GenerateText runs a single free-form prompt.
func (g *GeminiService) GenerateText(ctx context.Context, prompt string) (string, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(
			"You are an experienced interview coach. Be specific, fair and encouraging.",
			genai.RoleUser,
		),
	}
	text, err := g.generate(ctx, "generate_text", genai.Text(prompt), config)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", apperr.Permanent(apperr.CodeEmptyResponse, fmt.Errorf("model returned no text"))
	}
	return text, nil
}

// TranscribeAudio transcribes one chunk of candidate speech.
func (g *GeminiService) TranscribeAudio(ctx context.Context, audio []byte, mimeHint string) (*Transcription, error) {
	if len(audio) == 0 {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "audio is empty")
	}
	if mimeHint == "" {
		mimeHint = "audio/ogg"
	}

	parts := []*genai.Part{
		genai.NewPartFromText(`Transcribe this interview answer verbatim. Keep filler words.
Respond with JSON: {"text": string, "confidence": number between 0 and 1, "duration_millis": integer,
"segments": [{"text": string, "start_millis": integer, "end_millis": integer}]}.
If nothing intelligible is said, return an empty "text".`),
		{InlineData: &genai.Blob{MIMEType: mimeHint, Data: audio}},
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	raw, err := g.generate(ctx, "transcribe_audio", contents, jsonConfig())
	if err != nil {
		return nil, err
	}

	var result Transcription
	if err := decodeJSONResponse(raw, &result); err != nil {
		return nil, err
	}
	result.Text = strings.TrimSpace(result.Text)
	if result.Confidence != nil && (*result.Confidence < 0 || *result.Confidence > 1) {
		result.Confidence = nil
	}

	slog.Info("Audio transcribed successfully", "size", len(audio), "transcript_length", len(result.Text))
	return &result, nil
}

// AnalyzeTranscript asks for a structured feedback report on a finished
// interview.
func (g *GeminiService) AnalyzeTranscript(ctx context.Context, req FeedbackRequest) (*models.FeedbackReport, error) {
	raw, err := g.generate(ctx, "analyze_transcript", genai.Text(buildFeedbackPrompt(req)), jsonConfig())
	if err != nil {
		return nil, err
	}

	var report models.FeedbackReport
	if err := decodeJSONResponse(raw, &report); err != nil {
		return nil, err
	}
	if err := report.Validate(); err != nil {
		return nil, err
	}
	return &report, nil
}

// ExtractDocumentText reads the text of an image or office document. An
// empty result is returned as is; the caller decides whether that is an
// error.
func (g *GeminiService) ExtractDocumentText(ctx context.Context, data []byte, mimeType string) (string, error) {
	parts := []*genai.Part{
		genai.NewPartFromText("Extract all readable text from this file. Preserve reading order and paragraph breaks. Output only the text, with no commentary. If there is no text, output nothing."),
		{InlineData: &genai.Blob{MIMEType: mimeType, Data: data}},
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	return g.generate(ctx, "extract_document", contents, nil)
}

func (g *GeminiService) generate(ctx context.Context, operation string, contents []*genai.Content, config *genai.GenerateContentConfig) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	started := time.Now()
	result, err := g.generator.GenerateContent(ctx, g.model, contents, config)
	geminiRequestDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
	if err != nil {
		classified := apperr.ClassifyRemote(err)
		geminiRequestsTotal.WithLabelValues(operation, string(apperr.KindOf(classified))).Inc()
		slog.Warn("Gemini request failed", "operation", operation, "error", err, "kind", apperr.KindOf(classified))
		return "", classified
	}

	if result.PromptFeedback != nil && result.PromptFeedback.BlockReason != "" {
		geminiRequestsTotal.WithLabelValues(operation, "blocked").Inc()
		return "", apperr.Permanent(apperr.CodeContentRejected, fmt.Errorf("prompt blocked: %s", result.PromptFeedback.BlockReason))
	}

	geminiRequestsTotal.WithLabelValues(operation, "success").Inc()
	return strings.TrimSpace(result.Text()), nil
}

func jsonConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.2),
	}
}

// decodeJSONResponse tolerates a markdown code fence around the JSON.
func decodeJSONResponse(raw string, v any) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return apperr.Permanent(apperr.CodeEmptyResponse, fmt.Errorf("model returned no content"))
	}
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), v); err != nil {
		return apperr.Permanent(apperr.CodeMalformedResponse, fmt.Errorf("failed to decode model response: %w", err))
	}
	return nil
}

func buildFeedbackPrompt(req FeedbackRequest) string {
	transcript := req.Transcript
	if len(transcript) > maxPromptTranscript {
		// Keep the tail, cut at a rune boundary.
		cut := len(transcript) - maxPromptTranscript
		for cut < len(transcript) && !utf8.RuneStart(transcript[cut]) {
			cut++
		}
		transcript = transcript[cut:]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Evaluate this %s mock interview at %s difficulty.\n\n",
		valueOr(req.InterviewType, "general"), valueOr(req.Difficulty, "medium"))
	b.WriteString("Transcript (offsets are mm:ss since the session started):\n")
	b.WriteString(transcript)

	if a := req.Analysis; a != nil {
		fmt.Fprintf(&b, "\nVocal analysis: %.0f words per minute, %d filler words, %d pauses averaging %dms, volume consistency %.2f, clarity %.0f/100.\n",
			a.WordsPerMinute, a.FillerWordCount, a.PauseCount, a.AveragePauseMillis, a.VolumeConsistency, a.ClarityScore)
	}

	b.WriteString(`
Judge only the candidate's ("user") answers. Respond with JSON:
{"overall_rating": integer 1-10,
 "category_scores": {"communication": 0-100, "technical_depth": 0-100, "structure": 0-100, "confidence": 0-100},
 "strengths": [string], "weaknesses": [string], "recommendations": [string],
 "summary": string}`)
	return b.String()
}

func valueOr(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
