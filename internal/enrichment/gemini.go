// Package enrichment provides optional Gemini-backed analysis of user
// messages. The analyzer is capability-gated: without an API key it
// reports unavailable and callers fall back to the keyword layer.
package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"codecoach/internal/logging"
	"codecoach/internal/sentiment"
)

// responseSchema constrains the model to the exact JSON we parse.
const responseSchema = `{
  "type": "object",
  "properties": {
    "emotional_state": {"type": "string", "enum": ["neutral", "frustrated", "discouraged", "fatigued", "motivated", "celebrating", "masked"]},
    "intensity": {"type": "number"},
    "hidden_feelings": {"type": "string"},
    "intervention_needed": {"type": "boolean"},
    "recommended_tone": {"type": "string"},
    "suggested_action": {"type": "string"}
  },
  "required": ["emotional_state", "intensity", "intervention_needed"]
}`

// Request carries the message plus the behavioral context the model
// should weigh.
type Request struct {
	Message       string
	BurnoutScore  float64
	CoachState    string
	RecentSignals []string
	KeywordState  sentiment.EmotionalState
}

// Insights is the parsed model output.
type Insights struct {
	EmotionalState     sentiment.EmotionalState `json:"emotional_state"`
	Intensity          float64                  `json:"intensity"`
	HiddenFeelings     string                   `json:"hidden_feelings,omitempty"`
	InterventionNeeded bool                     `json:"intervention_needed"`
	RecommendedTone    string                   `json:"recommended_tone,omitempty"`
	SuggestedAction    string                   `json:"suggested_action,omitempty"`
}

// wireInsights matches the schema before enum validation.
type wireInsights struct {
	EmotionalState     string  `json:"emotional_state"`
	Intensity          float64 `json:"intensity"`
	HiddenFeelings     string  `json:"hidden_feelings"`
	InterventionNeeded bool    `json:"intervention_needed"`
	RecommendedTone    string  `json:"recommended_tone"`
	SuggestedAction    string  `json:"suggested_action"`
}

// TextGenerator abstracts the model call so transports can be swapped
// out in tests.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// geminiGenerator calls the real Gemini API.
type geminiGenerator struct {
	client *genai.Client
	model  string
}

func (g *geminiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	return resp.Text(), nil
}

// Analyzer wraps the Gemini client behind a capability flag.
type Analyzer struct {
	gen   TextGenerator
	model string
}

// NewAnalyzer creates an analyzer. An empty API key yields a disabled
// analyzer, not an error; client construction failures are logged and
// also yield a disabled analyzer.
func NewAnalyzer(ctx context.Context, apiKey, model string) *Analyzer {
	if apiKey == "" {
		return &Analyzer{}
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		logging.EnrichmentWarn("gemini client unavailable: %v", err)
		return &Analyzer{}
	}
	return &Analyzer{
		gen:   &geminiGenerator{client: client, model: model},
		model: model,
	}
}

// NewWithGenerator wires a custom generator instead of the Gemini client.
func NewWithGenerator(gen TextGenerator) *Analyzer {
	return &Analyzer{gen: gen}
}

// Available reports whether deep analysis can be attempted.
func (a *Analyzer) Available() bool {
	return a != nil && a.gen != nil
}

// Analyze asks the model for emotional insights. Callers bound the call
// with a context timeout and treat any error as non-fatal.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (Insights, error) {
	if !a.Available() {
		return Insights{}, fmt.Errorf("analyzer not available")
	}

	timer := logging.StartTimer(logging.CategoryEnrichment, "gemini analysis")
	raw, err := a.gen.Generate(ctx, buildPrompt(req))
	timer.Stop()
	if err != nil {
		return Insights{}, fmt.Errorf("enrichment call failed: %w", err)
	}

	payload := extractLastJSON(stripMarkdownCodeFences(raw))
	var wire wireInsights
	if err := json.Unmarshal([]byte(payload), &wire); err != nil {
		return Insights{}, fmt.Errorf("parse enrichment response: %w", err)
	}

	in := Insights{
		EmotionalState:     sentiment.ParseState(wire.EmotionalState),
		Intensity:          clamp01(wire.Intensity),
		HiddenFeelings:     wire.HiddenFeelings,
		InterventionNeeded: wire.InterventionNeeded,
		RecommendedTone:    wire.RecommendedTone,
		SuggestedAction:    wire.SuggestedAction,
	}
	logging.Enrichment("state=%s intensity=%.2f intervention=%v", in.EmotionalState, in.Intensity, in.InterventionNeeded)
	return in, nil
}

// Fallback produces a heuristic result when the model is unreachable.
func Fallback(req Request) Insights {
	state := sentiment.StateNeutral
	msg := strings.ToLower(req.Message)
	switch {
	case strings.Contains(msg, "tired") || strings.Contains(msg, "break"):
		state = sentiment.StateFatigued
	case strings.Contains(msg, "stuck") || strings.Contains(msg, "hard"):
		state = sentiment.StateFrustrated
	case req.BurnoutScore > 0.7:
		state = sentiment.StateFatigued
	}
	return Insights{
		EmotionalState:     state,
		Intensity:          clamp01(req.BurnoutScore + 0.2),
		InterventionNeeded: req.BurnoutScore > 0.5,
	}
}

func buildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("You are an emotional-state analyst for a competitive programming coach.\n")
	b.WriteString("Given the user's message and behavioral context, infer how they actually feel,\n")
	b.WriteString("including feelings the message may be hiding.\n\n")
	fmt.Fprintf(&b, "Message: %q\n", req.Message)
	fmt.Fprintf(&b, "Behavioral burnout score (0-1): %.2f\n", req.BurnoutScore)
	fmt.Fprintf(&b, "Coach state: %s\n", req.CoachState)
	fmt.Fprintf(&b, "Keyword sentiment: %s\n", req.KeywordState)
	if len(req.RecentSignals) > 0 {
		fmt.Fprintf(&b, "Recent behavioral signals: %s\n", strings.Join(req.RecentSignals, ", "))
	}
	b.WriteString("\nRespond with JSON only, matching this schema:\n")
	b.WriteString(responseSchema)
	return b.String()
}

// stripMarkdownCodeFences removes ```json fences the model sometimes adds.
func stripMarkdownCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// extractLastJSON pulls the last balanced JSON object out of free text.
func extractLastJSON(s string) string {
	end := strings.LastIndex(s, "}")
	if end == -1 {
		return s
	}
	depth := 0
	for i := end; i >= 0; i-- {
		switch s[i] {
		case '}':
			depth++
		case '{':
			depth--
			if depth == 0 {
				return s[i : end+1]
			}
		}
	}
	return s
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
