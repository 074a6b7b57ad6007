package classify

import (
	"context"
	"fmt"
	"strings"

	language "cloud.google.com/go/ai/generativelanguage/apiv1alpha"
	"cloud.google.com/go/ai/generativelanguage/apiv1alpha/generativelanguagepb"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// GeminiConfig configures the generative-language classifier adapter.
type GeminiConfig struct {
	APIKey string
	// Model is the fully qualified model name, e.g. "models/gemini-2.0-flash".
	Model string
	// MimeType of frame payloads sent inline; defaults to image/jpeg.
	MimeType string
}

// GeminiClassifier implements Classifier against the Google generative
// language API: frames go up as inline image blobs followed by the task
// prompt, the first candidate's text parts come back as the raw verdict.
type GeminiClassifier struct {
	client *language.GenerativeClient
	cfg    GeminiConfig
	logger *zap.Logger
}

// NewGeminiClassifier creates the API client. API key may be empty, in
// which case application default credentials are used.
func NewGeminiClassifier(ctx context.Context, cfg GeminiConfig) (*GeminiClassifier, error) {
	if cfg.Model == "" {
		cfg.Model = "models/gemini-2.0-flash"
	}
	if cfg.MimeType == "" {
		cfg.MimeType = "image/jpeg"
	}

	var opts []option.ClientOption
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	client, err := language.NewGenerativeClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create generative client: %w", err)
	}

	return &GeminiClassifier{
		client: client,
		cfg:    cfg,
		logger: zap.L().Named("gemini-classifier"),
	}, nil
}

// Classify sends the frame window and prompt to the model and decodes
// whatever comes back, structured or not.
func (g *GeminiClassifier) Classify(ctx context.Context, frames [][]byte, prompt string) (Result, error) {
	if len(frames) == 0 {
		return Result{}, fmt.Errorf("no frames to classify")
	}

	parts := make([]*generativelanguagepb.Part, 0, len(frames)+1)
	for _, f := range frames {
		parts = append(parts, &generativelanguagepb.Part{
			Data: &generativelanguagepb.Part_InlineData{
				InlineData: &generativelanguagepb.Blob{
					MimeType: g.cfg.MimeType,
					Data:     f,
				},
			},
		})
	}
	parts = append(parts, &generativelanguagepb.Part{
		Data: &generativelanguagepb.Part_Text{Text: prompt},
	})

	req := &generativelanguagepb.GenerateContentRequest{
		Model: g.cfg.Model,
		Contents: []*generativelanguagepb.Content{{
			Role:  "user",
			Parts: parts,
		}},
	}

	resp, err := g.client.GenerateContent(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("generate content: %w", err)
	}

	raw := extractText(resp)
	if raw == "" {
		return Result{}, fmt.Errorf("model returned no text candidates")
	}

	res := DecodeResponse(raw)
	g.logger.Debug("classifier verdict",
		zap.Bool("detected", res.Detected),
		zap.String("incident_type", res.IncidentType),
		zap.String("mode", string(res.Mode)),
		zap.Int("frames", len(frames)))
	return res, nil
}

// Close releases the underlying API client.
func (g *GeminiClassifier) Close() error {
	return g.client.Close()
}

func extractText(resp *generativelanguagepb.GenerateContentResponse) string {
	var sb strings.Builder
	for _, cand := range resp.GetCandidates() {
		for _, part := range cand.GetContent().GetParts() {
			if t, ok := part.GetData().(*generativelanguagepb.Part_Text); ok {
				sb.WriteString(t.Text)
			}
		}
		// First candidate only; the rest are alternates.
		if sb.Len() > 0 {
			break
		}
	}
	return sb.String()
}
