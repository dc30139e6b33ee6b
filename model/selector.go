package model

import (
	"fmt"
	"strings"
)

// Provider names used in Info and error classification.
const (
	ProviderAnthropic  = "anthropic"
	ProviderOpenRouter = "openrouter"
)

// reasoningNamespace prefixes model ids that must route to the direct
// Anthropic integration. Tool-call semantics for that family are only
// correct through the native API, not the aggregation layer.
const reasoningNamespace = "anthropic/"

// thinkingHeadroom is the completion allowance added on top of a thinking
// budget when computing the max-token ceiling.
const thinkingHeadroom = 8192

// Selector maps a logical model id to a concrete provider and the id that
// provider expects.
type Selector struct {
	direct    Provider // Anthropic, may be nil when no credential is configured
	aggregate Provider // OpenRouter, may be nil when no credential is configured
}

// NewSelector creates a selector over the direct and aggregation providers.
// Either may be nil; selecting a model that needs the missing one yields a
// missing_capability error.
func NewSelector(direct, aggregate Provider) *Selector {
	return &Selector{direct: direct, aggregate: aggregate}
}

// Select resolves a logical model id. Ids under the reasoning-capable
// namespace route to the direct provider with the namespace stripped;
// everything else routes through the aggregation provider unchanged.
func (s *Selector) Select(modelID string) (Provider, string, error) {
	if strings.HasPrefix(modelID, reasoningNamespace) {
		if s.direct == nil {
			return nil, "", &ProviderError{
				Class:    ErrorClassCapability,
				Provider: ProviderAnthropic,
				Err:      fmt.Errorf("model %q requires the direct anthropic integration but no credential is configured", modelID),
			}
		}
		return s.direct, strings.TrimPrefix(modelID, reasoningNamespace), nil
	}

	if s.aggregate == nil {
		return nil, "", &ProviderError{
			Class:    ErrorClassCapability,
			Provider: ProviderOpenRouter,
			Err:      fmt.Errorf("model %q requires the aggregation provider but no credential is configured", modelID),
		}
	}
	return s.aggregate, modelID, nil
}

// ConfigureThinking applies an extended-reasoning budget to the request for
// whichever provider its model id selects.
func (s *Selector) ConfigureThinking(req *Request, budgetTokens int) error {
	p, _, err := s.Select(req.ModelID)
	if err != nil {
		return err
	}
	return ApplyThinking(req, budgetTokens, p.Info())
}

// ApplyThinking configures the extended-reasoning budget on req. Providers
// advertising native thinking support take the structured budget directly.
// The rest degrade to provider-family raw parameters: the Anthropic family
// gets an explicit token budget plus a computed max-token ceiling; OpenRouter
// gets a three-level effort bucket plus a computed completion ceiling. Any
// other provider propagates the unsupported error unchanged.
func ApplyThinking(req *Request, budgetTokens int, info Info) error {
	if info.SupportsThinking {
		req.Thinking = &ThinkingConfig{BudgetTokens: budgetTokens}
		req.MaxTokens = ThinkingMaxTokens(budgetTokens)
		return nil
	}

	switch info.Provider {
	case ProviderAnthropic:
		req.Thinking = &ThinkingConfig{BudgetTokens: budgetTokens}
		req.MaxTokens = ThinkingMaxTokens(budgetTokens)
	case ProviderOpenRouter:
		req.ReasoningEffort = EffortForBudget(budgetTokens)
		req.MaxTokens = ThinkingMaxTokens(budgetTokens)
	default:
		return &ProviderError{
			Class:    ErrorClassCapability,
			Provider: info.Provider,
			Err:      ErrThinkingUnsupported,
		}
	}
	return nil
}

// EffortForBudget buckets a token budget into the coarse effort levels used
// by providers without token-level thinking control.
func EffortForBudget(budgetTokens int) ReasoningEffort {
	switch {
	case budgetTokens <= 2000:
		return ReasoningEffortLow
	case budgetTokens <= 15000:
		return ReasoningEffortMedium
	default:
		return ReasoningEffortHigh
	}
}

// ThinkingMaxTokens computes the max-token ceiling for a thinking budget:
// the budget itself plus completion headroom.
func ThinkingMaxTokens(budgetTokens int) int64 {
	return int64(budgetTokens + thinkingHeadroom)
}
