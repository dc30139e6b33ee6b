// Package anthropic provides a model.Provider backed by the Anthropic
// Messages API. It streams content, thinking and tool-use events, runs
// tool calls through the request's ToolHandler, and maps extended
// thinking onto the API's native thinking budget.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/confabhq/confab/model"
)

// DefaultMaxTokens is used when the request does not set a limit.
const DefaultMaxTokens = 4096

// DefaultMaxToolRounds bounds the internal tool loop so a model that keeps
// requesting tools cannot spin forever.
const DefaultMaxToolRounds = 10

// Options configures the Anthropic provider.
type Options struct {
	// APIKey authenticates against the Anthropic API.
	APIKey string

	// MaxTokens caps generation when the request does not specify one.
	MaxTokens int64

	// Temperature is applied when thinking is disabled. The API only
	// accepts temperature 1 together with extended thinking, so the
	// value is dropped for thinking requests.
	Temperature float64

	// MaxToolRounds bounds the internal tool loop.
	MaxToolRounds int
}

// Provider implements model.Provider using the Anthropic Messages API.
type Provider struct {
	client *anthropic.Client
	opts   Options
}

// NewProvider creates a Provider with the given options.
func NewProvider(optFns ...func(o *Options)) *Provider {
	opts := Options{
		MaxTokens:     DefaultMaxTokens,
		Temperature:   1.0,
		MaxToolRounds: DefaultMaxToolRounds,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = DefaultMaxToolRounds
	}

	client := anthropic.NewClient(option.WithAPIKey(opts.APIKey))
	return &Provider{client: &client, opts: opts}
}

// NewProviderFromClient creates a Provider from an existing client,
// mainly for tests that point the SDK at a fake server.
func NewProviderFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Provider {
	opts := Options{
		MaxTokens:     DefaultMaxTokens,
		Temperature:   1.0,
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

// Info reports the provider's capabilities.
func (p *Provider) Info() model.Info {
	return model.Info{
		Provider:         model.ProviderAnthropic,
		SupportsTools:    true,
		SupportsThinking: true,
	}
}

// Generate runs the request against the Messages API. Tool calls are
// executed through req.ToolHandler and their results fed back to the
// model until it stops asking for tools; each intermediate round is
// closed with an Intermediate message end event.
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
			res, err := p.runRound(ctx, events, params, req, round > 0)
			if err != nil {
				errCh <- err
				return
			}

			usage.Add(res.usage)
			reasoning += res.thinking
			if res.modelID != "" {
				modelID = res.modelID
			}

			if res.stopReason == "tool_use" && len(res.calls) > 0 && req.ToolHandler != nil {
				if !emit(ctx, events, model.StreamEvent{Type: model.EventMessageEnd, Intermediate: true}) {
					errCh <- ctx.Err()
					return
				}
				assistant, user := p.runTools(ctx, req, res)
				params.Messages = append(params.Messages, assistant, user)
				continue
			}

			final := model.StreamEvent{
				Type: model.EventMessageEnd,
				Final: &model.Completion{
					Content:      res.content,
					Reasoning:    reasoning,
					ModelID:      modelID,
					Usage:        usage,
					FinishReason: res.stopReason,
				},
			}
			if !emit(ctx, events, final) {
				errCh <- ctx.Err()
			}
			return
		}

		errCh <- &model.ProviderError{
			Class:    model.ErrorClassBadRequest,
			Provider: model.ProviderAnthropic,
			Err:      fmt.Errorf("tool loop exceeded %d rounds", p.opts.MaxToolRounds),
		}
	}()

	return events, errCh
}

// roundResult collects what a single streamed exchange produced.
type roundResult struct {
	content    string
	thinking   string
	stopReason string
	modelID    string
	usage      model.Usage
	calls      []toolAgg
}

// toolAgg accumulates a tool_use block while its input JSON streams in.
type toolAgg struct {
	id   string
	name string
	json string
	args map[string]any
}

// runRound streams one model turn and returns its aggregate result.
// continuation suppresses the message start event for tool-loop rounds
// so consumers see one logical message per assistant reply.
func (p *Provider) runRound(ctx context.Context, events chan<- model.StreamEvent, params anthropic.MessageNewParams, req model.Request, continuation bool) (roundResult, error) {
	var res roundResult

	stream := p.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	// Tool blocks arrive as a start event followed by input_json_delta
	// chunks, keyed by block index.
	open := map[int64]*toolAgg{}

	for stream.Next() {
		event := stream.Current()

		switch ev := event.AsAny().(type) {
		case anthropic.MessageStartEvent:
			res.usage.InputTokens += int(ev.Message.Usage.InputTokens)
			res.modelID = string(ev.Message.Model)
			if !continuation {
				if !emit(ctx, events, model.StreamEvent{Type: model.EventMessageStart}) {
					return res, ctx.Err()
				}
			}
			// Tool-loop rounds resume an already-started message.
			continuation = true

		case anthropic.ContentBlockStartEvent:
			if block, ok := ev.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
				open[ev.Index] = &toolAgg{id: block.ID, name: block.Name}
			}

		case anthropic.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				res.content += delta.Text
				if !emit(ctx, events, model.StreamEvent{Type: model.EventContentDelta, Delta: delta.Text}) {
					return res, ctx.Err()
				}
			case anthropic.ThinkingDelta:
				res.thinking += delta.Thinking
				if !emit(ctx, events, model.StreamEvent{Type: model.EventReasoningDelta, Delta: delta.Thinking}) {
					return res, ctx.Err()
				}
			case anthropic.InputJSONDelta:
				if agg, ok := open[ev.Index]; ok {
					agg.json += delta.PartialJSON
				}
			}

		case anthropic.ContentBlockStopEvent:
			agg, ok := open[ev.Index]
			if !ok {
				continue
			}
			delete(open, ev.Index)

			agg.args = map[string]any{}
			if agg.json != "" {
				if err := json.Unmarshal([]byte(agg.json), &agg.args); err != nil {
					agg.args = map[string]any{}
				}
			}
			res.calls = append(res.calls, *agg)

			call := &model.ToolCall{ID: agg.id, Name: agg.name, Arguments: agg.args}
			if !emit(ctx, events, model.StreamEvent{Type: model.EventToolCall, Tool: call}) {
				return res, ctx.Err()
			}

		case anthropic.MessageDeltaEvent:
			if ev.Delta.StopReason != "" {
				res.stopReason = string(ev.Delta.StopReason)
			}
			res.usage.OutputTokens += int(ev.Usage.OutputTokens)
		}
	}

	if err := stream.Err(); err != nil {
		return res, wrapErr(err)
	}
	return res, nil
}

// runTools executes the round's tool calls and builds the assistant
// echo plus the tool_result reply to feed back into the conversation.
// Handler failures become error-flagged tool results, not turn failures.
func (p *Provider) runTools(ctx context.Context, req model.Request, res roundResult) (anthropic.MessageParam, anthropic.MessageParam) {
	var assistantBlocks []anthropic.ContentBlockParamUnion
	if res.content != "" {
		assistantBlocks = append(assistantBlocks, anthropic.NewTextBlock(res.content))
	}

	var resultBlocks []anthropic.ContentBlockParamUnion
	for _, agg := range res.calls {
		assistantBlocks = append(assistantBlocks, anthropic.NewToolUseBlock(agg.id, agg.args, agg.name))

		out, err := req.ToolHandler(ctx, model.ToolCall{ID: agg.id, Name: agg.name, Arguments: agg.args})
		isError := false
		if err != nil {
			out = err.Error()
			isError = true
		}
		resultBlocks = append(resultBlocks, anthropic.NewToolResultBlock(agg.id, out, isError))
	}

	return anthropic.NewAssistantMessage(assistantBlocks...), anthropic.NewUserMessage(resultBlocks...)
}

// buildParams maps a model.Request onto Messages API parameters.
func (p *Provider) buildParams(req model.Request) anthropic.MessageNewParams {
	maxTokens := p.opts.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.ModelID),
		MaxTokens: maxTokens,
		Messages:  buildMessages(req.Messages),
	}

	system := req.Instructions
	for _, msg := range req.Messages {
		if msg.Role == "system" && msg.Content != "" {
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
		}
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}

	if req.Thinking != nil {
		budget := int64(req.Thinking.BudgetTokens)
		if params.MaxTokens <= budget {
			params.MaxTokens = model.ThinkingMaxTokens(req.Thinking.BudgetTokens)
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
	} else if p.opts.Temperature > 0 {
		params.Temperature = anthropic.Float(p.opts.Temperature)
	}

	return params
}

// buildMessages converts chat history into API message params. System
// entries are folded into the system prompt by buildParams; speaker
// names are prefixed so multi-party history keeps attribution.
func buildMessages(history []model.ChatMessage) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(history))
	for _, msg := range history {
		content := msg.Content
		if msg.Name != "" {
			content = msg.Name + ": " + content
		}
		switch msg.Role {
		case "assistant":
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(content)))
		case "system":
			// handled in buildParams
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(content)))
		}
	}
	return out
}

// buildTools converts tool definitions into API tool params.
func buildTools(defs []model.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		schema := anthropic.ToolInputSchemaParam{
			Type: constant.Object("object"),
		}
		if props, ok := def.Parameters["properties"]; ok {
			schema.Properties = props
		}
		switch reqs := def.Parameters["required"].(type) {
		case []string:
			schema.Required = reqs
		case []any:
			for _, r := range reqs {
				if s, ok := r.(string); ok {
					schema.Required = append(schema.Required, s)
				}
			}
		}

		tool := anthropic.ToolUnionParamOfTool(schema, def.Name)
		if tool.OfTool != nil && def.Description != "" {
			tool.OfTool.Description = anthropic.String(def.Description)
		}
		out = append(out, tool)
	}
	return out
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
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		return model.NewProviderError(model.ProviderAnthropic, apierr.StatusCode, err)
	}
	return &model.ProviderError{
		Class:    model.Classify(err),
		Provider: model.ProviderAnthropic,
		Err:      err,
	}
}
