// Package confab wires the full agent chat runtime behind one façade: entity
// stores, model providers, the streaming turn pipeline, the memory lifecycle
// sweeps and the initiation engine. Most applications interact with this
// package by:
//  1. Creating a Confab via New() (optionally overriding config, stores,
//     providers or the logger)
//  2. Creating agents and chats through the entity store accessors
//  3. Calling Start() to launch the queue workers and sweep schedulers
//  4. Posting human messages with SendMessage and watching live updates
//     through Subscribe
//
// The façade delegates streaming turns to turn.Orchestrator, multi-agent
// ordering to turn.Sequencer, memory upkeep to the memory package sweeps and
// proactive outreach to initiative.Engine. All defaults are safe for local
// development and testing; production deployments supply provider credentials,
// a SQLite path and log settings through the config file.
package confab

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/confabhq/confab/broadcast"
	"github.com/confabhq/confab/config"
	"github.com/confabhq/confab/core"
	"github.com/confabhq/confab/initiative"
	"github.com/confabhq/confab/logging"
	"github.com/confabhq/confab/memory"
	"github.com/confabhq/confab/metrics"
	"github.com/confabhq/confab/model"
	"github.com/confabhq/confab/model/anthropic"
	"github.com/confabhq/confab/model/openrouter"
	"github.com/confabhq/confab/queue"
	"github.com/confabhq/confab/schedule"
	"github.com/confabhq/confab/store"
	"github.com/confabhq/confab/tool"
	"github.com/confabhq/confab/turn"
)

// Stores groups the five entity store contracts behind one handle. Both
// store.InMemory and store.SQLite satisfy it.
type Stores interface {
	Chats() core.ChatStore
	Messages() core.MessageStore
	Agents() core.AgentStore
	Memories() core.MemoryStore
	Audits() core.AuditStore
}

// Options configures a Confab instance.
type Options struct {
	// Config supplies runtime tuning. Nil selects config.Default().
	Config *config.Config

	// Store overrides the persistence backend chosen by Config. When nil, a
	// non-empty Config.Store.Path opens SQLite and an empty one selects the
	// in-memory store.
	Store Stores

	// DirectProvider and AggregateProvider override the model providers
	// built from Config credentials, mainly for tests and examples running
	// scripted models.
	DirectProvider    model.Provider
	AggregateProvider model.Provider

	// Tools is the turn toolset. Defaults to an empty registry; register
	// tools on it before Start.
	Tools *tool.Registry

	// Broker receives live chat updates. Defaults to the in-process
	// broadcast broker.
	Broker core.Broker

	// Logger overrides the structured logger built from Config.Logging.
	Logger logging.Logger

	// Metrics overrides the instrument set. Defaults to a fresh Prometheus
	// registry when Config.Metrics.Enabled, a no-op set otherwise.
	Metrics *metrics.Metrics

	// Clock drives every time-dependent component.
	Clock core.Clock

	// OnFinalized fires after a turn persists non-blank content, e.g. to
	// enqueue moderation. It must not block.
	OnFinalized func(ctx context.Context, msg *core.Message)
}

// Confab is the high-level façade aggregating the stores, the turn pipeline,
// the memory sweeps and the initiation engine.
type Confab struct {
	cfg *config.Config

	stores    Stores
	selector  *model.Selector
	registry  *model.Registry
	broker    core.Broker
	tools     *tool.Registry
	pool      *queue.Pool
	scheduler *schedule.Scheduler

	orchestrator *turn.Orchestrator
	sequencer    *turn.Sequencer
	consolidator *memory.Consolidator
	reflector    *memory.Reflector
	refiner      *memory.Refiner
	engine       *initiative.Engine

	logger  logging.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	started bool
	closers []func() error
}

// New creates a Confab instance with optional overrides. Any unset
// collaborator is built from the config: stores from Store.Path, providers
// from API keys, the logger from the logging section.
func New(optFns ...func(o *Options)) (*Confab, error) {
	opts := Options{
		Clock: core.SystemClock{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Clock == nil {
		opts.Clock = core.SystemClock{}
	}

	cfg := opts.Config
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("resolve timezone: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NewSlogLogger(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format, false)
	}

	c := &Confab{cfg: cfg, logger: logger}

	c.stores = opts.Store
	if c.stores == nil {
		if cfg.Store.Path != "" {
			sqlite, err := store.NewSQLite(cfg.Store.Path, func(o *store.SQLiteOptions) {
				o.Clock = opts.Clock
			})
			if err != nil {
				return nil, fmt.Errorf("open store: %w", err)
			}
			c.closers = append(c.closers, sqlite.Close)
			c.stores = sqlite
		} else {
			c.stores = store.NewInMemory(func(o *store.InMemoryOptions) {
				o.Clock = opts.Clock
			})
		}
	}

	c.metrics = opts.Metrics
	if c.metrics == nil {
		if cfg.Metrics.Enabled {
			c.metrics = metrics.New(nil)
		} else {
			c.metrics = metrics.NewNop()
		}
	}

	direct := opts.DirectProvider
	if direct == nil && cfg.Providers.Anthropic.APIKey != "" {
		direct = anthropic.NewProvider(func(o *anthropic.Options) {
			o.APIKey = cfg.Providers.Anthropic.APIKey
			o.MaxToolRounds = cfg.Turn.MaxToolRounds
		})
	}
	aggregate := opts.AggregateProvider
	if aggregate == nil && cfg.Providers.OpenRouter.APIKey != "" {
		aggregate = openrouter.NewProvider(func(o *openrouter.Options) {
			o.APIKey = cfg.Providers.OpenRouter.APIKey
			if cfg.Providers.OpenRouter.BaseURL != "" {
				o.BaseURL = cfg.Providers.OpenRouter.BaseURL
			}
			o.MaxToolRounds = cfg.Turn.MaxToolRounds
		})
	}
	c.selector = model.NewSelector(direct, aggregate)

	// The aggregate provider doubles as the model catalog when it can list.
	var lister model.Lister
	if l, ok := aggregate.(model.Lister); ok {
		lister = l
	}
	c.registry = model.NewRegistry(lister, func(o *model.RegistryOptions) {
		o.Logger = logger
	})

	c.broker = opts.Broker
	if c.broker == nil {
		c.broker = broadcast.New(func(o *broadcast.BrokerOptions) {
			o.Logger = logger
		})
	}

	c.tools = opts.Tools
	if c.tools == nil {
		c.tools = tool.NewRegistry(func(o *tool.RegistryOptions) {
			o.Logger = logger
		})
	}

	c.pool = queue.NewPool(func(o *queue.PoolOptions) {
		o.Workers = cfg.Queue.Workers
		o.Buffer = cfg.Queue.Buffer
		o.Logger = logger
		o.Metrics = c.metrics
	})

	builder := turn.NewContextBuilder(c.stores.Messages(), c.stores.Agents(), c.stores.Memories(), func(o *turn.BuilderOptions) {
		o.HistoryLimit = cfg.Turn.HistoryLimit
		o.JournalWindow = cfg.Memory.JournalWindow()
		o.Tools = c.tools
		o.Clock = opts.Clock
	})

	c.orchestrator = turn.NewOrchestrator(c.stores.Messages(), c.selector, builder, func(o *turn.Options) {
		o.Broker = c.broker
		o.Registry = c.registry
		o.Logger = logger
		o.Clock = opts.Clock
		o.Metrics = c.metrics
		o.ContentInterval = cfg.Turn.ContentFlushInterval()
		o.ReasoningInterval = cfg.Turn.ReasoningFlushInterval()
		o.QuietTools = cfg.Turn.QuietTools
		o.OnFinalized = opts.OnFinalized
	})

	c.sequencer = turn.NewSequencer(c.orchestrator, c.stores.Chats(), c.stores.Agents(), c.pool, func(o *turn.SequencerOptions) {
		o.Logger = logger
		o.Retry = queue.NewClassifiedBackoff()
	})

	c.consolidator = memory.NewConsolidator(c.stores.Chats(), c.stores.Messages(), c.stores.Agents(), c.stores.Memories(), c.selector, func(o *memory.ConsolidatorOptions) {
		o.IdleThreshold = cfg.Memory.IdleThreshold()
		o.ChunkTokens = cfg.Memory.ChunkTokens
		o.Logger = logger
		o.Clock = opts.Clock
		o.Metrics = c.metrics
	})

	c.reflector = memory.NewReflector(c.stores.Agents(), c.stores.Memories(), c.selector, func(o *memory.ReflectorOptions) {
		o.JournalWindow = cfg.Memory.JournalWindow()
		o.Logger = logger
		o.Clock = opts.Clock
		o.Metrics = c.metrics
	})

	c.refiner = memory.NewRefiner(c.stores.Agents(), c.stores.Memories(), c.selector, func(o *memory.RefinerOptions) {
		o.TokenBudget = cfg.Memory.CoreTokenBudget
		o.RefineInterval = cfg.Memory.RefineInterval()
		o.OperationCap = cfg.Memory.OperationCap
		o.Logger = logger
		o.Clock = opts.Clock
		o.Metrics = c.metrics
	})

	c.engine = initiative.NewEngine(c.stores.Chats(), c.stores.Messages(), c.stores.Agents(), c.stores.Audits(), c.sequencer, c.selector, func(o *initiative.EngineOptions) {
		o.ActivityWindow = cfg.Initiative.ActivityWindow()
		o.DefaultCap = cfg.Initiative.DefaultCap
		o.HourStart = cfg.Initiative.HourStart
		o.HourEnd = cfg.Initiative.HourEnd
		o.Location = loc
		o.MaxJitter = cfg.Initiative.MaxJitter()
		o.Logger = logger
		o.Clock = opts.Clock
		o.Metrics = c.metrics
		o.Broker = c.broker
	})

	c.scheduler = schedule.New(func(o *schedule.SchedulerOptions) {
		o.Logger = logger
	})
	c.scheduler.Add(schedule.Job{
		Name:    "consolidate",
		Every:   time.Duration(cfg.Schedule.ConsolidateEveryMin) * time.Minute,
		Sweeper: schedule.SweeperFunc(c.consolidator.Run),
	})
	c.scheduler.Add(schedule.Job{
		Name:    "reflect",
		Every:   time.Duration(cfg.Schedule.ReflectEveryMin) * time.Minute,
		Sweeper: schedule.SweeperFunc(c.reflector.Run),
	})
	c.scheduler.Add(schedule.Job{
		Name:    "refine",
		Every:   time.Duration(cfg.Schedule.RefineEveryMin) * time.Minute,
		Sweeper: schedule.SweeperFunc(c.refiner.Run),
	})
	c.scheduler.Add(schedule.Job{
		Name:    "initiate",
		Every:   time.Duration(cfg.Schedule.InitiateEveryMin) * time.Minute,
		Sweeper: schedule.SweeperFunc(c.engine.Run),
	})

	return c, nil
}

// Start launches the queue workers and the sweep scheduler, and refreshes
// the model registry once so the first turns see a current catalog. Starting
// twice is a no-op.
func (c *Confab) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}
	c.started = true

	c.pool.Start(ctx)
	if err := c.registry.Refresh(ctx); err != nil {
		c.logger.Warn("confab.registry_refresh_failed", "error", err.Error())
	}
	c.scheduler.Start(ctx)

	c.logger.Info("confab.started",
		"workers", c.cfg.Queue.Workers,
		"store", c.storeKind(),
		"models", c.registry.Size())
	return nil
}

// Stop winds the runtime down: the scheduler first so no new sweeps begin,
// then the queue drains within ctx, then owned stores close. A stopped
// instance does not restart.
func (c *Confab) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	if c.started {
		c.started = false
		c.scheduler.Stop()
		err = c.pool.Shutdown(ctx)
	}
	for _, closeFn := range c.closers {
		if cerr := closeFn(); cerr != nil && err == nil {
			err = cerr
		}
	}
	c.closers = nil

	c.logger.Info("confab.stopped")
	return err
}

func (c *Confab) storeKind() string {
	if c.cfg.Store.Path != "" {
		return "sqlite"
	}
	return "memory"
}

// SendMessage appends a human message to a chat and, in automatic mode,
// schedules a response turn for every participant in order. A chat awaiting
// a reply to an agent-initiated opener is marked answered.
func (c *Confab) SendMessage(ctx context.Context, chatID, content string) (*core.Message, error) {
	chat, err := c.stores.Chats().Get(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.Respondable() {
		return nil, fmt.Errorf("chat %s is closed", chatID)
	}

	msg := core.NewMessage(chatID, core.RoleUser, content)
	if err := c.stores.Messages().Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}

	if chat.PendingHumanReply {
		chat.PendingHumanReply = false
		if err := c.stores.Chats().Update(ctx, chat); err != nil {
			return nil, fmt.Errorf("clear pending reply: %w", err)
		}
	}

	if chat.ResponseMode == core.ResponseModeAutomatic && len(chat.AgentIDs) > 0 {
		if err := c.sequencer.ScheduleTurns(ctx, chat.ID, chat.AgentIDs, ""); err != nil {
			return nil, fmt.Errorf("schedule turns: %w", err)
		}
	}
	return msg, nil
}

// RequestTurn schedules a single agent's response turn, the explicit
// counterpart to SendMessage's automatic scheduling for manual-mode chats.
func (c *Confab) RequestTurn(ctx context.Context, chatID, agentID string) error {
	return c.sequencer.ScheduleTurn(ctx, chatID, agentID, "")
}

// Subscribe returns the live update channel for a chat and a cancel function
// releasing the subscription.
func (c *Confab) Subscribe(chatID string) (<-chan core.BroadcastEvent, func()) {
	return c.broker.Subscribe(core.ChatTopic(chatID))
}

// SubscribeAccount returns the account-wide notice channel, which carries
// initiation decision notices among others.
func (c *Confab) SubscribeAccount(accountID string) (<-chan core.BroadcastEvent, func()) {
	return c.broker.Subscribe(core.AccountTopic(accountID))
}

// Consolidate runs one consolidation pass outside the schedule.
func (c *Confab) Consolidate(ctx context.Context) error { return c.consolidator.Run(ctx) }

// Reflect runs one reflection pass outside the schedule.
func (c *Confab) Reflect(ctx context.Context) error { return c.reflector.Run(ctx) }

// Refine runs one refinement pass outside the schedule.
func (c *Confab) Refine(ctx context.Context) error { return c.refiner.Run(ctx) }

// Initiate runs one initiation sweep outside the schedule.
func (c *Confab) Initiate(ctx context.Context) error { return c.engine.Run(ctx) }

// InitiateAgent runs the initiation decision for a single agent, skipping
// the sweep's hour window and jitter gates.
func (c *Confab) InitiateAgent(ctx context.Context, agentID string) error {
	return c.engine.RunAgent(ctx, agentID)
}

// Chats returns the chat store.
func (c *Confab) Chats() core.ChatStore { return c.stores.Chats() }

// Messages returns the message store.
func (c *Confab) Messages() core.MessageStore { return c.stores.Messages() }

// Agents returns the agent store.
func (c *Confab) Agents() core.AgentStore { return c.stores.Agents() }

// Memories returns the agent memory store.
func (c *Confab) Memories() core.MemoryStore { return c.stores.Memories() }

// Audits returns the audit store.
func (c *Confab) Audits() core.AuditStore { return c.stores.Audits() }

// Tools returns the turn tool registry.
func (c *Confab) Tools() *tool.Registry { return c.tools }

// Metrics returns the instrument set, e.g. to mount its HTTP handler.
func (c *Confab) Metrics() *metrics.Metrics { return c.metrics }

// Config returns the resolved runtime configuration.
func (c *Confab) Config() *config.Config { return c.cfg }
