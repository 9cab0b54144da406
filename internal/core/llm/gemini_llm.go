package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/markdave123-py/Lumina/internal/core"
)

var (
	_ core.Captioner  = (*GeminiVision)(nil)
	_ core.OCRBackend = (*GeminiVision)(nil)
)

const (
	captionPrompt = "Describe this image in one or two plain sentences for search. " +
		"Mention the main subjects, setting and any visible text."
	ocrPrompt = "Transcribe all text visible in this image exactly as written. " +
		"Return only the transcribed text."
)

// GeminiVision captions images and reads text out of them with a multimodal model.
type GeminiVision struct {
	client    *genai.Client
	modelName string
}

func NewGeminiVision(ctx context.Context, apiKey, modelName string) (*GeminiVision, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	return &GeminiVision{client: cl, modelName: modelName}, nil
}

func (g *GeminiVision) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *GeminiVision) Name() string { return "gemini" }

// Caption returns a short natural-language description of the image.
func (g *GeminiVision) Caption(ctx context.Context, data []byte, contentType string) (string, error) {
	text, err := g.generate(ctx, captionPrompt, data, contentType)
	if err != nil {
		return "", classify("gemini caption", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("gemini caption: empty response: %w", core.ErrTransient)
	}
	return text, nil
}

// Recognize transcribes the text in a scanned page or photo.
func (g *GeminiVision) Recognize(ctx context.Context, data []byte, contentType string) (*core.ExtractedText, error) {
	text, err := g.generate(ctx, ocrPrompt, data, contentType)
	if err != nil {
		return nil, classify("gemini ocr", err)
	}
	return &core.ExtractedText{
		Text:     strings.TrimSpace(text),
		Metadata: map[string]string{"ocr_backend": g.Name()},
	}, nil
}

func (g *GeminiVision) generate(ctx context.Context, prompt string, data []byte, contentType string) (string, error) {
	m := g.client.GenerativeModel(g.modelName)

	resp, err := m.GenerateContent(ctx, genai.Blob{MIMEType: contentType, Data: data}, genai.Text(prompt))
	if err != nil {
		return "", err
	}
	return responseText(resp), nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String()
}
