package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/confabhq/confab/core"
)

// timeLayout is RFC 3339 with fixed-width nanoseconds. Times are stored in
// UTC, so the rendered strings compare in chronological order and the store
// can push time filters into SQL.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLite is a durable implementation of all five store contracts backed by a
// single database file. Collection fields (participant lists, tool usage,
// audit payloads) are stored as JSON text; times are stored as fixed-width
// UTC strings.
type SQLite struct {
	db    *sql.DB
	clock core.Clock
}

// SQLiteOptions configures a SQLite store.
type SQLiteOptions struct {
	// Clock stamps UpdatedAt on writes.
	Clock core.Clock
}

// NewSQLite opens or creates the database file at path and prepares the
// schema. The parent directory is created if missing.
func NewSQLite(path string, optFns ...func(o *SQLiteOptions)) (*SQLite, error) {
	opts := SQLiteOptions{Clock: core.SystemClock{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Clock == nil {
		opts.Clock = core.SystemClock{}
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &SQLite{db: db, clock: opts.Clock}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *SQLite) Close() error { return s.db.Close() }

// Chats returns the chat store view.
func (s *SQLite) Chats() core.ChatStore { return (*sqlChats)(s) }

// Messages returns the message store view.
func (s *SQLite) Messages() core.MessageStore { return (*sqlMessages)(s) }

// Agents returns the agent store view.
func (s *SQLite) Agents() core.AgentStore { return (*sqlAgents)(s) }

// Memories returns the memory store view.
func (s *SQLite) Memories() core.MemoryStore { return (*sqlMemories)(s) }

// Audits returns the audit store view.
func (s *SQLite) Audits() core.AuditStore { return (*sqlAudits)(s) }

func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chats (
		id                      TEXT PRIMARY KEY,
		account_id              TEXT NOT NULL,
		title                   TEXT NOT NULL DEFAULT '',
		response_mode           TEXT NOT NULL DEFAULT 'automatic',
		agent_ids               TEXT,
		archived                INTEGER NOT NULL DEFAULT 0,
		discarded               INTEGER NOT NULL DEFAULT 0,
		initiated_by_agent      TEXT NOT NULL DEFAULT '',
		pending_human_reply     INTEGER NOT NULL DEFAULT 0,
		consolidated_at         TEXT,
		consolidated_message_id TEXT NOT NULL DEFAULT '',
		created_at              TEXT NOT NULL,
		updated_at              TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chats_account ON chats(account_id);
	CREATE INDEX IF NOT EXISTS idx_chats_initiator ON chats(initiated_by_agent);

	CREATE TABLE IF NOT EXISTS messages (
		id            TEXT PRIMARY KEY,
		chat_id       TEXT NOT NULL,
		agent_id      TEXT NOT NULL DEFAULT '',
		role          TEXT NOT NULL,
		content       TEXT NOT NULL DEFAULT '',
		reasoning     TEXT NOT NULL DEFAULT '',
		model_id      TEXT NOT NULL DEFAULT '',
		input_tokens  INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		tool_usage    TEXT,
		streaming     INTEGER NOT NULL DEFAULT 0,
		created_at    TEXT NOT NULL,
		updated_at    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, id);
	CREATE INDEX IF NOT EXISTS idx_messages_role_created ON messages(role, created_at);

	CREATE TABLE IF NOT EXISTS agents (
		id              TEXT PRIMARY KEY,
		account_id      TEXT NOT NULL,
		name            TEXT NOT NULL,
		persona         TEXT NOT NULL DEFAULT '',
		model_id        TEXT NOT NULL,
		thinking_budget INTEGER,
		enabled_tools   TEXT,
		initiation_cap  INTEGER NOT NULL DEFAULT 0,
		refined_at      TEXT,
		active          INTEGER NOT NULL DEFAULT 1,
		created_at      TEXT NOT NULL,
		updated_at      TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_agents_account ON agents(account_id);

	CREATE TABLE IF NOT EXISTS agent_memories (
		id             TEXT PRIMARY KEY,
		agent_id       TEXT NOT NULL,
		memory_type    TEXT NOT NULL,
		constitutional INTEGER NOT NULL DEFAULT 0,
		content        TEXT NOT NULL DEFAULT '',
		tokens         INTEGER NOT NULL DEFAULT 0,
		created_at     TEXT NOT NULL,
		updated_at     TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_memories_agent ON agent_memories(agent_id, id);

	CREATE TABLE IF NOT EXISTS audit_entries (
		id         TEXT PRIMARY KEY,
		agent_id   TEXT NOT NULL,
		account_id TEXT NOT NULL,
		action     TEXT NOT NULL,
		payload    TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_agent ON audit_entries(agent_id, id);
	CREATE INDEX IF NOT EXISTS idx_audit_account_created ON audit_entries(account_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ensureExists resolves the RowsAffected ambiguity between a missing row and
// a guarded update that matched nothing.
func (s *SQLite) ensureExists(ctx context.Context, entity, table, id string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", entity, id, core.ErrNotFound)
	}
	return err
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func timeText(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullableTimeText(t *time.Time) any {
	if t == nil {
		return nil
	}
	return timeText(*t)
}

func parseTimeText(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseNullableTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTimeText(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// jsonText renders v for a TEXT column, mapping empty collections to NULL.
func jsonText(v any) (any, error) {
	switch x := v.(type) {
	case []string:
		if len(x) == 0 {
			return nil, nil
		}
	case []core.ToolUse:
		if len(x) == 0 {
			return nil, nil
		}
	case map[string]any:
		if len(x) == 0 {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func fromJSON(s sql.NullString, dst any) error {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(s.String), dst)
}

const chatColumns = `id, account_id, title, response_mode, agent_ids, archived, discarded,
	initiated_by_agent, pending_human_reply, consolidated_at, consolidated_message_id,
	created_at, updated_at`

func scanChat(row scanner) (*core.Chat, error) {
	var (
		c                      core.Chat
		agentIDs, consolidated sql.NullString
		createdAt, updatedAt   string
	)
	err := row.Scan(&c.ID, &c.AccountID, &c.Title, &c.ResponseMode, &agentIDs, &c.Archived,
		&c.Discarded, &c.InitiatedByAgent, &c.PendingHumanReply, &consolidated,
		&c.ConsolidatedMessageID, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if err := fromJSON(agentIDs, &c.AgentIDs); err != nil {
		return nil, fmt.Errorf("decode chat %s agent ids: %w", c.ID, err)
	}
	if c.ConsolidatedAt, err = parseNullableTime(consolidated); err != nil {
		return nil, err
	}
	if c.CreatedAt, err = parseTimeText(createdAt); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTimeText(updatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

type sqlChats SQLite

func (s *sqlChats) Create(ctx context.Context, chat *core.Chat) error {
	agentIDs, err := jsonText(chat.AgentIDs)
	if err != nil {
		return fmt.Errorf("encode agent ids: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO chats (`+chatColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		chat.ID, chat.AccountID, chat.Title, string(chat.ResponseMode), agentIDs, chat.Archived,
		chat.Discarded, chat.InitiatedByAgent, chat.PendingHumanReply,
		nullableTimeText(chat.ConsolidatedAt), chat.ConsolidatedMessageID,
		timeText(chat.CreatedAt), timeText(chat.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert chat %s: %w", chat.ID, err)
	}
	return nil
}

func (s *sqlChats) Get(ctx context.Context, id string) (*core.Chat, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+chatColumns+` FROM chats WHERE id = ?`, id)
	chat, err := scanChat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("chat %s: %w", id, core.ErrNotFound)
	}
	return chat, err
}

func (s *sqlChats) Update(ctx context.Context, chat *core.Chat) error {
	agentIDs, err := jsonText(chat.AgentIDs)
	if err != nil {
		return fmt.Errorf("encode agent ids: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE chats SET account_id = ?, title = ?, response_mode = ?, agent_ids = ?,
			archived = ?, discarded = ?, initiated_by_agent = ?, pending_human_reply = ?,
			consolidated_at = ?, consolidated_message_id = ?, created_at = ?, updated_at = ?
		WHERE id = ?`,
		chat.AccountID, chat.Title, string(chat.ResponseMode), agentIDs, chat.Archived,
		chat.Discarded, chat.InitiatedByAgent, chat.PendingHumanReply,
		nullableTimeText(chat.ConsolidatedAt), chat.ConsolidatedMessageID,
		timeText(chat.CreatedAt), timeText(s.clock.Now()), chat.ID)
	if err != nil {
		return fmt.Errorf("update chat %s: %w", chat.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("chat %s: %w", chat.ID, core.ErrNotFound)
	}
	return nil
}

func (s *sqlChats) AdvanceWatermark(ctx context.Context, chatID, messageID string, at time.Time) error {
	// Entity ids are chronological, so the string compare in the guard keeps
	// the watermark monotonic.
	res, err := s.db.ExecContext(ctx,
		`UPDATE chats SET consolidated_message_id = ?, consolidated_at = ?, updated_at = ?
		WHERE id = ? AND consolidated_message_id < ?`,
		messageID, timeText(at), timeText(s.clock.Now()), chatID, messageID)
	if err != nil {
		return fmt.Errorf("advance watermark on chat %s: %w", chatID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	return (*SQLite)(s).ensureExists(ctx, "chat", "chats", chatID)
}

func (s *sqlChats) ListIdleMultiAgent(ctx context.Context, idleBefore time.Time) ([]*core.Chat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chatColumns+` FROM chats c
		WHERE c.archived = 0 AND c.discarded = 0
			AND EXISTS (
				SELECT 1 FROM messages m WHERE m.chat_id = c.id
					AND m.id = (SELECT MAX(id) FROM messages WHERE chat_id = c.id)
					AND m.created_at < ?)
			AND EXISTS (
				SELECT 1 FROM messages m WHERE m.chat_id = c.id
					AND m.streaming = 0 AND m.id > c.consolidated_message_id)
		ORDER BY c.id`, timeText(idleBefore))
	if err != nil {
		return nil, fmt.Errorf("list idle chats: %w", err)
	}
	defer rows.Close()
	var out []*core.Chat
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		// Participant lists live in a JSON column, so the multi-agent check
		// stays in Go.
		if !chat.MultiAgent() {
			continue
		}
		out = append(out, chat)
	}
	return out, rows.Err()
}

func (s *sqlChats) CountPendingInitiated(ctx context.Context, agentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chats
		WHERE initiated_by_agent = ? AND pending_human_reply = 1 AND archived = 0 AND discarded = 0`,
		agentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending initiated chats: %w", err)
	}
	return n, nil
}

func (s *sqlChats) ListContinuable(ctx context.Context, accountID string, limit int) ([]*core.Chat, error) {
	q := `SELECT ` + chatColumns + ` FROM chats
		WHERE account_id = ? AND archived = 0 AND discarded = 0
		ORDER BY updated_at DESC, id DESC`
	args := []any{accountID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list continuable chats: %w", err)
	}
	defer rows.Close()
	var out []*core.Chat
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, chat)
	}
	return out, rows.Err()
}

const messageColumns = `id, chat_id, agent_id, role, content, reasoning, model_id,
	input_tokens, output_tokens, tool_usage, streaming, created_at, updated_at`

func scanMessage(row scanner) (*core.Message, error) {
	var (
		m                    core.Message
		toolUsage            sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&m.ID, &m.ChatID, &m.AgentID, &m.Role, &m.Content, &m.Reasoning, &m.ModelID,
		&m.InputTokens, &m.OutputTokens, &toolUsage, &m.Streaming, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if err := fromJSON(toolUsage, &m.ToolUsage); err != nil {
		return nil, fmt.Errorf("decode message %s tool usage: %w", m.ID, err)
	}
	if m.CreatedAt, err = parseTimeText(createdAt); err != nil {
		return nil, err
	}
	if m.UpdatedAt, err = parseTimeText(updatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

type sqlMessages SQLite

func (s *sqlMessages) Create(ctx context.Context, msg *core.Message) error {
	toolUsage, err := jsonText(msg.ToolUsage)
	if err != nil {
		return fmt.Errorf("encode tool usage: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ChatID, msg.AgentID, string(msg.Role), msg.Content, msg.Reasoning, msg.ModelID,
		msg.InputTokens, msg.OutputTokens, toolUsage, msg.Streaming,
		timeText(msg.CreatedAt), timeText(msg.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert message %s: %w", msg.ID, err)
	}
	return nil
}

func (s *sqlMessages) Get(ctx context.Context, id string) (*core.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %s: %w", id, core.ErrNotFound)
	}
	return msg, err
}

func (s *sqlMessages) Update(ctx context.Context, msg *core.Message) error {
	toolUsage, err := jsonText(msg.ToolUsage)
	if err != nil {
		return fmt.Errorf("encode tool usage: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET chat_id = ?, agent_id = ?, role = ?, content = ?, reasoning = ?,
			model_id = ?, input_tokens = ?, output_tokens = ?, tool_usage = ?, streaming = ?,
			created_at = ?, updated_at = ?
		WHERE id = ?`,
		msg.ChatID, msg.AgentID, string(msg.Role), msg.Content, msg.Reasoning, msg.ModelID,
		msg.InputTokens, msg.OutputTokens, toolUsage, msg.Streaming,
		timeText(msg.CreatedAt), timeText(s.clock.Now()), msg.ID)
	if err != nil {
		return fmt.Errorf("update message %s: %w", msg.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("message %s: %w", msg.ID, core.ErrNotFound)
	}
	return nil
}

func (s *sqlMessages) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete message %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("message %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (s *sqlMessages) ListByChat(ctx context.Context, chatID string, limit int) ([]*core.Message, error) {
	q := `SELECT ` + messageColumns + ` FROM messages WHERE chat_id = ? ORDER BY id`
	args := []any{chatID}
	if limit > 0 {
		// Newest first to apply the cap, flipped back below.
		q = `SELECT ` + messageColumns + ` FROM messages WHERE chat_id = ? ORDER BY id DESC LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	var out []*core.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if limit > 0 {
		slices.Reverse(out)
	}
	return out, nil
}

func (s *sqlMessages) ListAfter(ctx context.Context, chatID, afterMessageID string) ([]*core.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		WHERE chat_id = ? AND streaming = 0 AND id > ?
		ORDER BY id`, chatID, afterMessageID)
	if err != nil {
		return nil, fmt.Errorf("list messages after %s: %w", afterMessageID, err)
	}
	defer rows.Close()
	var out []*core.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *sqlMessages) CountHumanSince(ctx context.Context, accountID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages
		WHERE role = ? AND created_at >= ?
			AND chat_id IN (SELECT id FROM chats WHERE account_id = ?)`,
		string(core.RoleUser), timeText(since), accountID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count human messages: %w", err)
	}
	return n, nil
}

func (s *sqlMessages) ListRecentHuman(ctx context.Context, accountID string, since time.Time, limit int) ([]*core.Message, error) {
	q := `SELECT ` + messageColumns + ` FROM messages
		WHERE role = ? AND created_at >= ?
			AND chat_id IN (SELECT id FROM chats WHERE account_id = ?)
		ORDER BY id DESC`
	args := []any{string(core.RoleUser), timeText(since), accountID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list human messages: %w", err)
	}
	defer rows.Close()
	var out []*core.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

const agentColumns = `id, account_id, name, persona, model_id, thinking_budget, enabled_tools,
	initiation_cap, refined_at, active, created_at, updated_at`

func scanAgent(row scanner) (*core.Agent, error) {
	var (
		a                       core.Agent
		budget                  sql.NullInt64
		enabledTools, refinedAt sql.NullString
		createdAt, updatedAt    string
	)
	err := row.Scan(&a.ID, &a.AccountID, &a.Name, &a.Persona, &a.ModelID, &budget, &enabledTools,
		&a.InitiationCap, &refinedAt, &a.Active, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if budget.Valid {
		b := int(budget.Int64)
		a.ThinkingBudget = &b
	}
	if err := fromJSON(enabledTools, &a.EnabledTools); err != nil {
		return nil, fmt.Errorf("decode agent %s tools: %w", a.ID, err)
	}
	if a.RefinedAt, err = parseNullableTime(refinedAt); err != nil {
		return nil, err
	}
	if a.CreatedAt, err = parseTimeText(createdAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTimeText(updatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

type sqlAgents SQLite

func (s *sqlAgents) Create(ctx context.Context, agent *core.Agent) error {
	enabledTools, err := jsonText(agent.EnabledTools)
	if err != nil {
		return fmt.Errorf("encode enabled tools: %w", err)
	}
	var budget any
	if agent.ThinkingBudget != nil {
		budget = *agent.ThinkingBudget
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agents (`+agentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		agent.ID, agent.AccountID, agent.Name, agent.Persona, agent.ModelID, budget, enabledTools,
		agent.InitiationCap, nullableTimeText(agent.RefinedAt), agent.Active,
		timeText(agent.CreatedAt), timeText(agent.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert agent %s: %w", agent.ID, err)
	}
	return nil
}

func (s *sqlAgents) Get(ctx context.Context, id string) (*core.Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	agent, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("agent %s: %w", id, core.ErrNotFound)
	}
	return agent, err
}

func (s *sqlAgents) Update(ctx context.Context, agent *core.Agent) error {
	enabledTools, err := jsonText(agent.EnabledTools)
	if err != nil {
		return fmt.Errorf("encode enabled tools: %w", err)
	}
	var budget any
	if agent.ThinkingBudget != nil {
		budget = *agent.ThinkingBudget
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET account_id = ?, name = ?, persona = ?, model_id = ?, thinking_budget = ?,
			enabled_tools = ?, initiation_cap = ?, refined_at = ?, active = ?, created_at = ?,
			updated_at = ?
		WHERE id = ?`,
		agent.AccountID, agent.Name, agent.Persona, agent.ModelID, budget, enabledTools,
		agent.InitiationCap, nullableTimeText(agent.RefinedAt), agent.Active,
		timeText(agent.CreatedAt), timeText(s.clock.Now()), agent.ID)
	if err != nil {
		return fmt.Errorf("update agent %s: %w", agent.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("agent %s: %w", agent.ID, core.ErrNotFound)
	}
	return nil
}

func (s *sqlAgents) ListActive(ctx context.Context) ([]*core.Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list active agents: %w", err)
	}
	defer rows.Close()
	var out []*core.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, agent)
	}
	return out, rows.Err()
}

func (s *sqlAgents) ListByAccount(ctx context.Context, accountID string) ([]*core.Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE account_id = ? ORDER BY id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list account agents: %w", err)
	}
	defer rows.Close()
	var out []*core.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, agent)
	}
	return out, rows.Err()
}

func (s *sqlAgents) SetRefinedAt(ctx context.Context, agentID string, t time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET refined_at = ?, updated_at = ? WHERE id = ?`,
		timeText(t), timeText(s.clock.Now()), agentID)
	if err != nil {
		return fmt.Errorf("set refined at on agent %s: %w", agentID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("agent %s: %w", agentID, core.ErrNotFound)
	}
	return nil
}

const memoryColumns = `id, agent_id, memory_type, constitutional, content, tokens, created_at, updated_at`

func scanAgentMemory(row scanner) (*core.AgentMemory, error) {
	var (
		m                    core.AgentMemory
		createdAt, updatedAt string
	)
	err := row.Scan(&m.ID, &m.AgentID, &m.MemoryType, &m.Constitutional, &m.Content, &m.Tokens,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if m.CreatedAt, err = parseTimeText(createdAt); err != nil {
		return nil, err
	}
	if m.UpdatedAt, err = parseTimeText(updatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

type sqlMemories SQLite

func (s *sqlMemories) Create(ctx context.Context, mem *core.AgentMemory) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_memories (`+memoryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		mem.ID, mem.AgentID, string(mem.MemoryType), mem.Constitutional, mem.Content, mem.Tokens,
		timeText(mem.CreatedAt), timeText(mem.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert memory %s: %w", mem.ID, err)
	}
	return nil
}

func (s *sqlMemories) Get(ctx context.Context, id string) (*core.AgentMemory, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM agent_memories WHERE id = ?`, id)
	mem, err := scanAgentMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("memory %s: %w", id, core.ErrNotFound)
	}
	return mem, err
}

// Update persists Content and Tokens only; type and constitutional flags are
// unreachable from here.
func (s *sqlMemories) Update(ctx context.Context, mem *core.AgentMemory) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agent_memories SET content = ?, tokens = ?, updated_at = ? WHERE id = ?`,
		mem.Content, mem.Tokens, timeText(s.clock.Now()), mem.ID)
	if err != nil {
		return fmt.Errorf("update memory %s: %w", mem.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("memory %s: %w", mem.ID, core.ErrNotFound)
	}
	return nil
}

func (s *sqlMemories) Promote(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agent_memories SET memory_type = ?, updated_at = ? WHERE id = ? AND memory_type = ?`,
		string(core.MemoryCore), timeText(s.clock.Now()), id, string(core.MemoryJournal))
	if err != nil {
		return fmt.Errorf("promote memory %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	// Either already core (a no-op) or missing.
	return (*SQLite)(s).ensureExists(ctx, "memory", "agent_memories", id)
}

func (s *sqlMemories) MarkConstitutional(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agent_memories SET constitutional = 1, updated_at = ? WHERE id = ?`,
		timeText(s.clock.Now()), id)
	if err != nil {
		return fmt.Errorf("mark memory %s constitutional: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("memory %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (s *sqlMemories) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agent_memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete memory %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("memory %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (s *sqlMemories) ListByAgent(ctx context.Context, agentID string) ([]*core.AgentMemory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM agent_memories WHERE agent_id = ? ORDER BY id`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()
	var out []*core.AgentMemory
	for rows.Next() {
		mem, err := scanAgentMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, mem)
	}
	return out, rows.Err()
}

// Search matches in Go rather than with LIKE, which only case-folds ASCII in
// SQLite. An agent's memory set is small enough to scan.
func (s *sqlMemories) Search(ctx context.Context, agentID, query string) ([]*core.AgentMemory, error) {
	all, err := s.ListByAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(query)
	var out []*core.AgentMemory
	for _, m := range all {
		if strings.Contains(strings.ToLower(m.Content), needle) {
			out = append(out, m)
		}
	}
	return out, nil
}

const auditColumns = `id, agent_id, account_id, action, payload, created_at`

func scanAuditEntry(row scanner) (*core.AuditEntry, error) {
	var (
		e         core.AuditEntry
		payload   sql.NullString
		createdAt string
	)
	err := row.Scan(&e.ID, &e.AgentID, &e.AccountID, &e.Action, &payload, &createdAt)
	if err != nil {
		return nil, err
	}
	if err := fromJSON(payload, &e.Payload); err != nil {
		return nil, fmt.Errorf("decode audit entry %s payload: %w", e.ID, err)
	}
	if e.CreatedAt, err = parseTimeText(createdAt); err != nil {
		return nil, err
	}
	return &e, nil
}

type sqlAudits SQLite

func (s *sqlAudits) Create(ctx context.Context, entry *core.AuditEntry) error {
	payload, err := jsonText(entry.Payload)
	if err != nil {
		return fmt.Errorf("encode audit payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_entries (`+auditColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.AgentID, entry.AccountID, entry.Action, payload, timeText(entry.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert audit entry %s: %w", entry.ID, err)
	}
	return nil
}

func (s *sqlAudits) ListByAgent(ctx context.Context, agentID string, limit int) ([]*core.AuditEntry, error) {
	q := `SELECT ` + auditColumns + ` FROM audit_entries WHERE agent_id = ? ORDER BY id DESC`
	args := []any{agentID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()
	var out []*core.AuditEntry
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *sqlAudits) CountByAccountSince(ctx context.Context, accountID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_entries WHERE account_id = ? AND created_at >= ?`,
		accountID, timeText(since)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count audit entries: %w", err)
	}
	return n, nil
}
