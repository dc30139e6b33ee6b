package memory

import (
	"fmt"
	"strings"

	"github.com/confabhq/confab/core"
)

// DefaultChunkTokens is the target size of one transcript chunk. Extraction
// quality drops sharply past this point, so long idle spans are consolidated
// chunk by chunk.
const DefaultChunkTokens = 100_000

// Chunk is one token-bounded, speaker-attributed slice of a chat transcript.
type Chunk struct {
	Transcript string
	Messages   int
	Tokens     int
}

// ChunkMessages renders messages into transcript chunks of at most budget
// tokens each, preserving order. Messages are never split: a single message
// larger than the budget becomes its own oversized chunk. Blank messages are
// skipped. names maps agent ids to display names for attribution.
func ChunkMessages(msgs []*core.Message, names map[string]string, counter TokenCounter, budget int) []Chunk {
	if budget <= 0 {
		budget = DefaultChunkTokens
	}

	var chunks []Chunk
	var lines []string
	var count, tokens int

	flush := func() {
		if count == 0 {
			return
		}
		chunks = append(chunks, Chunk{
			Transcript: strings.Join(lines, "\n\n"),
			Messages:   count,
			Tokens:     tokens,
		})
		lines = nil
		count = 0
		tokens = 0
	}

	for _, msg := range msgs {
		if msg.Streaming || strings.TrimSpace(msg.Content) == "" {
			continue
		}
		line := speakerLine(msg, names)
		n := counter.Count(line)
		if count > 0 && tokens+n > budget {
			flush()
		}
		lines = append(lines, line)
		count++
		tokens += n
	}
	flush()

	return chunks
}

// speakerLine renders one message as an attributed transcript line.
func speakerLine(msg *core.Message, names map[string]string) string {
	speaker := "Human"
	switch {
	case msg.Role == core.RoleSystem:
		speaker = "System"
	case msg.AgentID != "":
		speaker = names[msg.AgentID]
		if speaker == "" {
			speaker = "former participant"
		}
	}
	return fmt.Sprintf("%s: %s", speaker, msg.Content)
}
