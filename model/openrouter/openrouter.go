// Package openrouter provides a model.Provider backed by the OpenRouter
// aggregation API. OpenRouter speaks the Chat Completions wire format, so
// the adapter drives the official OpenAI client against a custom base URL
// and reads OpenRouter's nonstandard reasoning field out of the raw JSON.
package openrouter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/tidwall/gjson"

	"github.com/confabhq/confab/model"
)

// DefaultBaseURL is the OpenRouter API endpoint.
const DefaultBaseURL = "https://openrouter.ai/api/v1"

// DefaultMaxTokens is used when the request does not set a limit.
const DefaultMaxTokens = 4096

// DefaultMaxToolRounds bounds the internal tool loop.
const DefaultMaxToolRounds = 10

// aggCall aggregates partial tool call streaming deltas (id, name, arguments)
// so complete calls can be reconstructed when the finish reason arrives.
type aggCall struct{ id, name, args string }

// arguments decodes the accumulated JSON arguments, degrading to an empty
// map when the payload is truncated or malformed.
func (a aggCall) arguments() map[string]any {
	args := map[string]any{}
	if a.args != "" {
		if err := json.Unmarshal([]byte(a.args), &args); err != nil {
			return map[string]any{}
		}
	}
	return args
}

// Options configures the OpenRouter provider.
type Options struct {
	// APIKey authenticates against OpenRouter.
	APIKey string

	// BaseURL overrides the API endpoint, mainly for tests.
	BaseURL string

	// MaxTokens caps generation when the request does not specify one.
	MaxTokens int64

	// Temperature is forwarded on every request.
	Temperature float64

	// MaxToolRounds bounds the internal tool loop.
	MaxToolRounds int
}

// Provider implements model.Provider against the OpenRouter API. It also
// implements model.Lister so the registry can refresh the catalog of
// routable model ids.
type Provider struct {
	client *openai.Client
	opts   Options
}

// NewProvider creates a Provider with the given options.
func NewProvider(optFns ...func(o *Options)) *Provider {
	opts := Options{
		BaseURL:       DefaultBaseURL,
		MaxTokens:     DefaultMaxTokens,
		Temperature:   0.7,
		MaxToolRounds: DefaultMaxToolRounds,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = DefaultMaxToolRounds
	}

	client := openai.NewClient(
		option.WithBaseURL(opts.BaseURL),
		option.WithAPIKey(opts.APIKey),
	)
	return &Provider{client: &client, opts: opts}
}

// NewProviderFromClient creates a Provider from an existing client,
// mainly for tests that point the SDK at a fake server.
func NewProviderFromClient(client *openai.Client, optFns ...func(o *Options)) *Provider {
	opts := Options{
		BaseURL:       DefaultBaseURL,
		MaxTokens:     DefaultMaxTokens,
		Temperature:   0.7,
		MaxToolRounds: DefaultMaxToolRounds,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = DefaultMaxToolRounds
	}
	return &Provider{client: client, opts: opts}
}

// Info reports the provider's capabilities. Thinking is not natively
// supported; the selector degrades budgets to reasoning effort instead.
func (p *Provider) Info() model.Info {
	return model.Info{
		Provider:         model.ProviderOpenRouter,
		SupportsTools:    true,
		SupportsThinking: false,
	}
}

// ListModels fetches the ids of all models routable through OpenRouter.
func (p *Provider) ListModels(ctx context.Context) ([]string, error) {
	iter := p.client.Models.ListAutoPaging(ctx)

	var ids []string
	for iter.Next() {
		ids = append(ids, iter.Current().ID)
	}
	if err := iter.Err(); err != nil {
		return nil, wrapErr(err)
	}
	return ids, nil
}

// Generate runs the request against OpenRouter. Tool calls are executed
// through req.ToolHandler and fed back until the model stops asking for
// tools; each intermediate round is closed with an Intermediate message
// end event.
func (p *Provider) Generate(ctx context.Context, req model.Request) (<-chan model.StreamEvent, <-chan error) {
	events := make(chan model.StreamEvent)
	errCh := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errCh)

		params := p.buildParams(req)

		var (
			usage     model.Usage
			reasoning string
			modelID   = req.ModelID
		)

		for round := 0; round < p.opts.MaxToolRounds; round++ {
			var (
				res roundResult
				err error
			)
			if req.Stream {
				res, err = p.streamRound(ctx, events, params, round > 0)
			} else {
				res, err = p.completeRound(ctx, events, params, round > 0)
			}
			if err != nil {
				errCh <- err
				return
			}

			usage.Add(res.usage)
			reasoning += res.reasoning
			if res.modelID != "" {
				modelID = res.modelID
			}

			if res.finish == "tool_calls" && len(res.calls) > 0 && req.ToolHandler != nil {
				if !emit(ctx, events, model.StreamEvent{Type: model.EventMessageEnd, Intermediate: true}) {
					errCh <- ctx.Err()
					return
				}
				assistant, results := p.runTools(ctx, req, res.calls)
				params.Messages = append(params.Messages, assistant)
				params.Messages = append(params.Messages, results...)
				continue
			}

			final := model.StreamEvent{
				Type: model.EventMessageEnd,
				Final: &model.Completion{
					Content:      res.content,
					Reasoning:    reasoning,
					ModelID:      modelID,
					Usage:        usage,
					FinishReason: res.finish,
				},
			}
			if !emit(ctx, events, final) {
				errCh <- ctx.Err()
			}
			return
		}

		errCh <- &model.ProviderError{
			Class:    model.ErrorClassBadRequest,
			Provider: model.ProviderOpenRouter,
			Err:      fmt.Errorf("tool loop exceeded %d rounds", p.opts.MaxToolRounds),
		}
	}()

	return events, errCh
}

// roundResult collects what a single exchange produced.
type roundResult struct {
	content   string
	reasoning string
	finish    string
	modelID   string
	usage     model.Usage
	calls     []aggCall
}

// streamRound streams one model turn and returns its aggregate result.
// continuation suppresses the message start event for tool-loop rounds.
func (p *Provider) streamRound(ctx context.Context, events chan<- model.StreamEvent, params openai.ChatCompletionNewParams, continuation bool) (roundResult, error) {
	var res roundResult

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	agg := map[int64]*aggCall{}
	var order []int64

	for stream.Next() {
		ck := stream.Current()

		if !continuation {
			if !emit(ctx, events, model.StreamEvent{Type: model.EventMessageStart}) {
				return res, ctx.Err()
			}
			continuation = true
		}

		if ck.Model != "" {
			res.modelID = ck.Model
		}
		res.usage.InputTokens += int(ck.Usage.PromptTokens)
		res.usage.OutputTokens += int(ck.Usage.CompletionTokens)

		for _, ch := range ck.Choices {
			if ch.Delta.Content != "" {
				res.content += ch.Delta.Content
				if !emit(ctx, events, model.StreamEvent{Type: model.EventContentDelta, Delta: ch.Delta.Content}) {
					return res, ctx.Err()
				}
			}

			// OpenRouter surfaces model reasoning in a field the
			// Chat Completions schema does not define.
			if r := gjson.Get(ch.Delta.RawJSON(), "reasoning"); r.Type == gjson.String && r.Str != "" {
				res.reasoning += r.Str
				if !emit(ctx, events, model.StreamEvent{Type: model.EventReasoningDelta, Delta: r.Str}) {
					return res, ctx.Err()
				}
			}

			for _, tc := range ch.Delta.ToolCalls {
				ac, ok := agg[tc.Index]
				if !ok {
					ac = &aggCall{}
					agg[tc.Index] = ac
					order = append(order, tc.Index)
				}
				if tc.ID != "" {
					ac.id = tc.ID
				}
				if tc.Function.Name != "" {
					ac.name = tc.Function.Name
				}
				if tc.Function.Arguments != "" {
					ac.args += tc.Function.Arguments
				}
			}

			if ch.FinishReason != "" {
				res.finish = ch.FinishReason
			}
		}
	}

	if err := stream.Err(); err != nil {
		return res, wrapErr(err)
	}

	for _, idx := range order {
		ac := agg[idx]
		res.calls = append(res.calls, *ac)
		call := &model.ToolCall{ID: ac.id, Name: ac.name, Arguments: ac.arguments()}
		if !emit(ctx, events, model.StreamEvent{Type: model.EventToolCall, Tool: call}) {
			return res, ctx.Err()
		}
	}
	return res, nil
}

// completeRound runs one non-streaming exchange. Used by the memory and
// initiation paths, which want whole responses without delta traffic.
func (p *Provider) completeRound(ctx context.Context, events chan<- model.StreamEvent, params openai.ChatCompletionNewParams, continuation bool) (roundResult, error) {
	var res roundResult

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return res, wrapErr(err)
	}
	if len(resp.Choices) == 0 {
		return res, &model.ProviderError{
			Class:    model.ErrorClassUnknown,
			Provider: model.ProviderOpenRouter,
			Err:      fmt.Errorf("no choices returned"),
		}
	}

	if !continuation {
		if !emit(ctx, events, model.StreamEvent{Type: model.EventMessageStart}) {
			return res, ctx.Err()
		}
	}

	ch0 := resp.Choices[0]
	res.content = ch0.Message.Content
	res.finish = ch0.FinishReason
	res.modelID = resp.Model
	res.reasoning = gjson.Get(ch0.Message.RawJSON(), "reasoning").Str
	res.usage.InputTokens = int(resp.Usage.PromptTokens)
	res.usage.OutputTokens = int(resp.Usage.CompletionTokens)

	for _, tc := range ch0.Message.ToolCalls {
		ac := aggCall{id: tc.ID, name: tc.Function.Name, args: tc.Function.Arguments}
		res.calls = append(res.calls, ac)
		call := &model.ToolCall{ID: ac.id, Name: ac.name, Arguments: ac.arguments()}
		if !emit(ctx, events, model.StreamEvent{Type: model.EventToolCall, Tool: call}) {
			return res, ctx.Err()
		}
	}
	return res, nil
}

// runTools executes the round's tool calls and builds the assistant echo
// plus per-call tool messages to feed back into the conversation. Handler
// failures become error-text results, not turn failures.
func (p *Provider) runTools(ctx context.Context, req model.Request, calls []aggCall) (openai.ChatCompletionMessageParamUnion, []openai.ChatCompletionMessageParamUnion) {
	toolCalls := make([]openai.ChatCompletionMessageToolCallParam, len(calls))
	results := make([]openai.ChatCompletionMessageParamUnion, 0, len(calls))

	for i, ac := range calls {
		toolCalls[i] = openai.ChatCompletionMessageToolCallParam{
			ID:   ac.id,
			Type: "function",
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      ac.name,
				Arguments: ac.args,
			},
		}

		out, err := req.ToolHandler(ctx, model.ToolCall{ID: ac.id, Name: ac.name, Arguments: ac.arguments()})
		if err != nil {
			out = err.Error()
		}
		results = append(results, openai.ToolMessage(out, ac.id))
	}

	assistant := openai.ChatCompletionMessageParamUnion{OfAssistant: &openai.ChatCompletionAssistantMessageParam{
		Role:      "assistant",
		ToolCalls: toolCalls,
	}}
	return assistant, results
}

// buildParams assembles the request parameters including tool definitions.
func (p *Provider) buildParams(req model.Request) openai.ChatCompletionNewParams {
	maxTokens := p.opts.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	params := openai.ChatCompletionNewParams{
		Messages:            buildMessages(req),
		Model:               req.ModelID,
		Temperature:         openai.Float(p.opts.Temperature),
		MaxCompletionTokens: openai.Int(maxTokens),
	}

	if req.ReasoningEffort != "" {
		params.ReasoningEffort = openai.ReasoningEffort(req.ReasoningEffort)
	}

	if req.Stream {
		params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		}
	}

	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
		for i, def := range req.Tools {
			tools[i] = openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        def.Name,
					Description: openai.String(def.Description),
					Parameters:  def.Parameters,
				},
			}
		}
		params.Tools = tools
	}

	return params
}

// buildMessages converts instructions and chat history into request
// messages. Speaker names are prefixed so multi-party history keeps
// attribution across a wire format with no name slot for user turns.
func buildMessages(req model.Request) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.Instructions != "" {
		messages = append(messages, openai.SystemMessage(req.Instructions))
	}

	for _, msg := range req.Messages {
		content := msg.Content
		if msg.Name != "" {
			content = msg.Name + ": " + content
		}
		switch msg.Role {
		case "system":
			messages = append(messages, openai.SystemMessage(msg.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(content))
		default:
			messages = append(messages, openai.UserMessage(content))
		}
	}
	return messages
}

// emit sends an event unless the context is done.
func emit(ctx context.Context, events chan<- model.StreamEvent, ev model.StreamEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// wrapErr converts SDK errors into classified provider errors.
func wrapErr(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return model.NewProviderError(model.ProviderOpenRouter, apierr.StatusCode, err)
	}
	return &model.ProviderError{
		Class:    model.Classify(err),
		Provider: model.ProviderOpenRouter,
		Err:      err,
	}
}
