// Package classifier extracts reconciliation hints from receipt
// documents when the processor's charge metadata is incomplete.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Hints is what a classifier can recover from a receipt document.
// Empty fields mean the document did not carry that information.
type Hints struct {
	CustomerName string `json:"customer_name"`
	Category     string `json:"category"`
	Description  string `json:"description"`
}

// Classifier reads a receipt document and returns hints. Failures must
// degrade to an error, never block reconciliation; callers treat a nil
// result as "no hints".
type Classifier interface {
	Classify(ctx context.Context, contentType string, data []byte) (*Hints, error)
}

// GeminiClassifier asks a Gemini model to read the document.
type GeminiClassifier struct {
	model string
}

// NewGeminiClassifier creates a classifier for the given model name.
func NewGeminiClassifier(model string) *GeminiClassifier {
	return &GeminiClassifier{model: model}
}

const hintsPrompt = "You are a receipt reader for a payout reconciliation system.\n\n" +
	"Task:\n" +
	"- Read the attached receipt document.\n" +
	"- Output STRICT JSON only (no comments, no extra text).\n" +
	"- Output a single JSON object.\n\n" +
	"The object must have these fields:\n" +
	"- \"customer_name\": string or null (the paying customer, not the merchant)\n" +
	"- \"category\": string or null (a short spending category)\n" +
	"- \"description\": string or null (one line describing the purchase)\n\n" +
	"Return ONLY valid raw JSON.\n" +
	"Do NOT wrap the response in code fences.\n" +
	"Output must begin with \"{\" and end with \"}\".\n"

// Classify implements Classifier.
func (c *GeminiClassifier) Classify(ctx context.Context, contentType string, data []byte) (*Hints, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("classifier: create genai client: %w", err)
	}

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: hintsPrompt},
				{
					InlineData: &genai.Blob{
						MIMEType: contentType,
						Data:     data,
					},
				},
			},
		},
	}

	resp, err := client.Models.GenerateContent(ctx, c.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("classifier: generate content: %w", err)
	}

	rawText := resp.Text()
	if rawText == "" {
		return nil, fmt.Errorf("classifier: empty response from model")
	}

	var hints Hints
	if err := json.Unmarshal([]byte(cleanModelJSON(rawText)), &hints); err != nil {
		return nil, fmt.Errorf("classifier: unmarshal JSON: %w\nraw response: %s", err, rawText)
	}
	return &hints, nil
}

// cleanModelJSON strips Markdown fences and surrounding junk when the
// model ignores the raw-JSON instruction.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}

	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}

	s = strings.TrimSpace(s)

	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}

	return s
}
