package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/confabhq/confab/core"
	"github.com/confabhq/confab/internal/util"
	"github.com/confabhq/confab/tool"
)

// refinementSession exposes the bounded ledger toolset for one refinement
// run. Every tool operates only on the session agent's own memories.
// Mutations consume the operation limiter; search is free. Constitutional
// entries refuse deletion and merging at the tool layer.
type refinementSession struct {
	memories core.MemoryStore
	agentID  string
	counter  TokenCounter
	limiter  *core.OpLimiter
	applied  int
}

func newRefinementSession(memories core.MemoryStore, agentID string, counter TokenCounter, limiter *core.OpLimiter) *refinementSession {
	return &refinementSession{
		memories: memories,
		agentID:  agentID,
		counter:  counter,
		limiter:  limiter,
	}
}

// registry builds the toolset handed to the refinement call.
func (s *refinementSession) registry() *tool.Registry {
	return tool.NewRegistry().MustRegister(
		tool.NewFunctionTool(
			"search_memories",
			"Search your memory ledger by text. Returns matching entries with their ids.",
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string", "description": "Text to search for"},
				},
				"required": []string{"query"},
			},
			s.search,
		),
		tool.NewFunctionTool(
			"update_memory",
			"Rewrite the content of one memory entry.",
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":      map[string]any{"type": "string", "description": "Memory id"},
					"content": map[string]any{"type": "string", "description": "Replacement content"},
				},
				"required": []string{"id", "content"},
			},
			s.update,
		),
		tool.NewFunctionTool(
			"merge_memories",
			"Merge two or more entries into one new permanent entry and delete the originals. Constitutional entries cannot be merged.",
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"ids":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Ids of the entries to merge"},
					"content": map[string]any{"type": "string", "description": "Content of the merged entry"},
				},
				"required": []string{"ids", "content"},
			},
			s.merge,
		),
		tool.NewFunctionTool(
			"delete_memory",
			"Delete one memory entry. Constitutional entries cannot be deleted.",
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id": map[string]any{"type": "string", "description": "Memory id"},
				},
				"required": []string{"id"},
			},
			s.delete,
		),
		tool.NewFunctionTool(
			"mark_constitutional",
			"Permanently protect one entry from deletion and merging. This cannot be undone.",
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id": map[string]any{"type": "string", "description": "Memory id"},
				},
				"required": []string{"id"},
			},
			s.markConstitutional,
		),
	)
}

// Applied returns how many mutations the session performed.
func (s *refinementSession) Applied() int { return s.applied }

func (s *refinementSession) search(ctx context.Context, args map[string]any) (any, error) {
	matches, err := s.memories.Search(ctx, s.agentID, util.StringArg(args, "query"))
	if err != nil {
		return nil, err
	}

	results := make([]map[string]any, 0, len(matches))
	for _, m := range matches {
		results = append(results, map[string]any{
			"id":             m.ID,
			"type":           string(m.MemoryType),
			"constitutional": m.Constitutional,
			"tokens":         m.Tokens,
			"content":        m.Content,
		})
	}
	return results, nil
}

func (s *refinementSession) update(ctx context.Context, args map[string]any) (any, error) {
	mem, err := s.owned(ctx, "update_memory", util.StringArg(args, "id"))
	if err != nil {
		return nil, err
	}

	content := strings.TrimSpace(util.StringArg(args, "content"))
	if content == "" {
		return nil, tool.NewToolError("update_memory", "replacement content is empty; use delete_memory to remove an entry", "VALIDATION_ERROR")
	}
	if err := s.consume("update_memory"); err != nil {
		return nil, err
	}

	mem.Content = content
	mem.Tokens = s.counter.Count(content)
	if err := s.memories.Update(ctx, mem); err != nil {
		return nil, err
	}
	return map[string]any{"id": mem.ID, "tokens": mem.Tokens}, nil
}

func (s *refinementSession) merge(ctx context.Context, args map[string]any) (any, error) {
	ids := util.StringSliceArg(args, "ids")
	if len(ids) < 2 {
		return nil, tool.NewToolError("merge_memories", "merging needs at least two entry ids", "VALIDATION_ERROR")
	}

	sources := make([]*core.AgentMemory, 0, len(ids))
	for _, id := range ids {
		mem, err := s.owned(ctx, "merge_memories", id)
		if err != nil {
			return nil, err
		}
		if mem.Constitutional {
			return nil, tool.NewToolError("merge_memories",
				fmt.Sprintf("memory %s is constitutional and cannot be merged", mem.ID), "CONSTITUTIONAL")
		}
		sources = append(sources, mem)
	}

	content := strings.TrimSpace(util.StringArg(args, "content"))
	if content == "" {
		return nil, tool.NewToolError("merge_memories", "merged content is empty", "VALIDATION_ERROR")
	}
	if err := s.consume("merge_memories"); err != nil {
		return nil, err
	}

	merged := core.NewAgentMemory(s.agentID, core.MemoryCore, content, s.counter.Count(content))
	if err := s.memories.Create(ctx, merged); err != nil {
		return nil, err
	}
	for _, mem := range sources {
		if err := s.memories.Delete(ctx, mem.ID); err != nil {
			return nil, err
		}
	}
	return map[string]any{"id": merged.ID, "merged": len(sources), "tokens": merged.Tokens}, nil
}

func (s *refinementSession) delete(ctx context.Context, args map[string]any) (any, error) {
	mem, err := s.owned(ctx, "delete_memory", util.StringArg(args, "id"))
	if err != nil {
		return nil, err
	}
	if mem.Constitutional {
		return nil, tool.NewToolError("delete_memory",
			fmt.Sprintf("memory %s is constitutional and cannot be deleted", mem.ID), "CONSTITUTIONAL")
	}
	if err := s.consume("delete_memory"); err != nil {
		return nil, err
	}

	if err := s.memories.Delete(ctx, mem.ID); err != nil {
		return nil, err
	}
	return map[string]any{"id": mem.ID, "deleted": true}, nil
}

func (s *refinementSession) markConstitutional(ctx context.Context, args map[string]any) (any, error) {
	mem, err := s.owned(ctx, "mark_constitutional", util.StringArg(args, "id"))
	if err != nil {
		return nil, err
	}
	if mem.Constitutional {
		return map[string]any{"id": mem.ID, "constitutional": true}, nil
	}
	if err := s.consume("mark_constitutional"); err != nil {
		return nil, err
	}

	if err := s.memories.MarkConstitutional(ctx, mem.ID); err != nil {
		return nil, err
	}
	return map[string]any{"id": mem.ID, "constitutional": true}, nil
}

// owned loads a memory and verifies it belongs to the session agent.
func (s *refinementSession) owned(ctx context.Context, toolName, id string) (*core.AgentMemory, error) {
	if id == "" {
		return nil, tool.NewToolError(toolName, "memory id is required", "VALIDATION_ERROR")
	}
	mem, err := s.memories.Get(ctx, id)
	if err != nil {
		return nil, tool.NewToolError(toolName, fmt.Sprintf("no such memory: %s", id), "NOT_FOUND")
	}
	if mem.AgentID != s.agentID {
		return nil, tool.NewToolError(toolName, fmt.Sprintf("no such memory: %s", id), "NOT_FOUND")
	}
	return mem, nil
}

// consume takes one slot from the operation cap.
func (s *refinementSession) consume(toolName string) error {
	if err := s.limiter.Increment(); err != nil {
		return tool.NewToolError(toolName, "operation cap reached for this session", "OP_LIMIT")
	}
	s.applied++
	return nil
}
