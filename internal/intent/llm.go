package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Request is a single-shot completion request.
type Request struct {
	Model       string
	System      string
	Prompt      string
	MaxTokens   int32
	Temperature float32
}

// Completer is a chat model capable of a single completion.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

const systemPrompt = `You are the triage assistant of a clinic's booking line. Classify the patient's
message into exactly one intent and reply with JSON only.

Intents:
- book: wants a new consultation
- cancel: wants to cancel an existing appointment
- reschedule: wants to change or move an existing appointment
- select_slot: replies with a number choosing an option from a list we sent
- greeting: hello, hi, hey
- smalltalk: any other question or chit-chat
- unknown: cannot tell

Response format:
{"intent": "<intent>", "choice": <number or 0>, "confidence": <0..1>, "fields": {}}`

// LLMResolver asks a chat model for a JSON classification.
type LLMResolver struct {
	client Completer
	model  string
	name   string
}

// NewLLMResolver wraps a completer. name labels results for metrics.
func NewLLMResolver(client Completer, model, name string) *LLMResolver {
	if client == nil {
		panic("intent: completer required")
	}
	if name == "" {
		name = "llm"
	}
	return &LLMResolver{client: client, model: model, name: name}
}

func (r *LLMResolver) Resolve(ctx context.Context, text string, sc SessionContext) (Result, error) {
	prompt := fmt.Sprintf("Conversation step: %q\nOptions currently offered: %d\nPatient message: %q", sc.State, sc.OptionsLen, text)
	raw, err := r.client.Complete(ctx, Request{
		Model:       r.model,
		System:      systemPrompt,
		Prompt:      prompt,
		MaxTokens:   300,
		Temperature: 0.1,
	})
	if err != nil {
		return Result{}, fmt.Errorf("intent: %s completion: %w", r.name, err)
	}
	res, err := parseModelOutput(raw)
	if err != nil {
		return Result{}, fmt.Errorf("intent: %s: %w", r.name, err)
	}
	res.Source = r.name
	return res, nil
}

type modelOutput struct {
	Intent     string            `json:"intent"`
	Choice     json.RawMessage   `json:"choice"`
	Confidence *float64          `json:"confidence"`
	Fields     map[string]string `json:"fields"`
}

// parseModelOutput tolerates code fences and prose around the JSON object.
func parseModelOutput(raw string) (Result, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return Result{}, fmt.Errorf("no json object in model output %q", truncate(raw, 80))
	}
	var out modelOutput
	if err := json.Unmarshal([]byte(raw[start:end+1]), &out); err != nil {
		return Result{}, fmt.Errorf("decode model output: %w", err)
	}
	if strings.TrimSpace(out.Intent) == "" {
		return Result{}, fmt.Errorf("model output missing intent")
	}
	res := Result{Kind: ParseKind(out.Intent), Confidence: 0.8, Fields: out.Fields}
	if out.Confidence != nil {
		res.Confidence = *out.Confidence
	}
	if len(out.Choice) > 0 {
		s := strings.Trim(string(out.Choice), `" `)
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			res.Choice = n
		}
	}
	return res, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
