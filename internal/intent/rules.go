package intent

import (
	"context"
	"regexp"
	"strconv"
	"strings"
)

var (
	wordRE   = regexp.MustCompile(`[a-z]+`)
	numberRE = regexp.MustCompile(`^\s*#?(\d{1,3})\s*[.)]?\s*$`)
)

var greetingWords = map[string]bool{"hi": true, "hello": true, "hey": true, "start": true, "hii": true, "namaste": true}

// RuleResolver is the keyword classifier used when no model is configured and
// as the fallback when a model call fails.
type RuleResolver struct{}

// NewRuleResolver returns the keyword resolver.
func NewRuleResolver() RuleResolver { return RuleResolver{} }

func (RuleResolver) Resolve(_ context.Context, text string, _ SessionContext) (Result, error) {
	res := classifyRules(text)
	res.Source = "rules"
	return res, nil
}

func classifyRules(text string) Result {
	if m := numberRE.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			return Result{Kind: KindSelectSlot, Choice: n, Confidence: 1}
		}
	}

	words := wordRE.FindAllString(strings.ToLower(text), -1)
	has := func(candidates ...string) bool {
		for _, w := range words {
			for _, c := range candidates {
				if w == c {
					return true
				}
			}
		}
		return false
	}

	switch {
	case has("cancel", "cancellation"):
		return Result{Kind: KindCancel, Confidence: 0.9}
	case has("reschedule", "change", "move", "postpone"):
		return Result{Kind: KindReschedule, Confidence: 0.9}
	case has("book", "booking", "appointment", "consultation", "schedule", "slot", "slots"):
		return Result{Kind: KindBook, Confidence: 0.9}
	case len(words) > 0 && len(words) <= 3 && greetingWords[words[0]]:
		return Result{Kind: KindGreeting, Confidence: 0.9}
	case strings.HasSuffix(strings.TrimSpace(text), "?"):
		return Result{Kind: KindSmalltalk, Confidence: 0.6}
	default:
		return Result{Kind: KindUnknown, Confidence: 0}
	}
}

func normalizeLabel(label string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(label)), " ", "_")
}
