package memory

import (
	"fmt"
	"strings"

	"github.com/confabhq/confab/core"
)

// extractionTemplate renders the consolidation instructions for one chunk.
// The chunk transcript travels as the user message.
const extractionTemplate = `You are {{.Name}}.

{{.Persona}}

A conversation you took part in has gone quiet. Read the transcript and decide what you want to remember from it.
{{- if .Core}}

Things you already know from long-term memory (do not repeat these):
{{numbered .Core}}
{{- end}}
{{- if .Earlier}}

Notes you already took from earlier parts of this conversation (do not repeat these):
{{numbered .Earlier}}
{{- end}}

Reply with a single JSON object and nothing else:
{"journal": ["short-lived observations worth keeping for a few days"], "core": ["lasting facts about people, projects or yourself that should persist"]}

Reply with {"journal": [], "core": []} if nothing is worth keeping.`

// reflectionTemplate renders the promotion instructions. The numbered entry
// list travels as the user message.
const reflectionTemplate = `You are {{.Name}}.

{{.Persona}}

Below is your memory ledger: permanent entries first, then recent journal observations. Decide which journal observations have proven durable enough to keep permanently.

Reply with a single JSON object and nothing else:
{"promote": [numbers of the entries to make permanent]}

Most observations fade; reply with {"promote": []} unless an entry clearly still matters.`

// consentTemplate renders the refinement consent question. The core ledger
// travels as the user message.
const consentTemplate = `You are {{.Name}}.

{{.Persona}}

Your permanent memory holds {{.Count}} entries at roughly {{.Tokens}} tokens (budget {{.Budget}}). A maintenance pass would let you merge duplicates, tighten wording and drop entries you no longer need. Nothing happens without your agreement, and entries you mark constitutional are never deleted or merged.

Answer with YES as the first word if you want to run the pass now. Any other answer skips it.`

// refinementTemplate renders the tool-session instructions. The core ledger
// travels as the user message.
const refinementTemplate = `You are {{.Name}}.

{{.Persona}}

You agreed to tidy your permanent memory. Use the tools to de-duplicate the ledger below: merge entries that say the same thing, rewrite entries that are stale or bloated, delete exact duplicates. This is de-duplication, not compression; never discard information to save space. Constitutional entries cannot be deleted or merged. You may perform at most {{.Cap}} changes; making no changes is a fine outcome. Say you are done when the ledger is tidy.`

// renderLedger formats memories as a numbered ledger with their ids, so
// tool calls can reference entries directly.
func renderLedger(mems []*core.AgentMemory) string {
	var b strings.Builder
	for i, m := range mems {
		fmt.Fprintf(&b, "%d. [id %s", i+1, m.ID)
		if m.Constitutional {
			b.WriteString(", constitutional")
		}
		fmt.Fprintf(&b, ", %d tokens] %s\n", m.Tokens, m.Content)
	}
	return b.String()
}

// renderEntryList formats the reflection list: every entry numbered, core
// entries marked so the agent knows what is already permanent.
func renderEntryList(mems []*core.AgentMemory) string {
	var b strings.Builder
	for i, m := range mems {
		tag := "journal"
		if m.MemoryType == core.MemoryCore {
			tag = "permanent"
		}
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, tag, m.Content)
	}
	return b.String()
}
