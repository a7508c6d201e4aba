// Package host wires the full service set of one agent process: transport,
// dispatcher, stores, the loop runner, and the background services. The
// construction order is explicit and Stop unwinds it in reverse.
package host

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/rockbotlabs/rockbot/internal/a2a"
	"github.com/rockbotlabs/rockbot/internal/agent"
	"github.com/rockbotlabs/rockbot/internal/bus"
	"github.com/rockbotlabs/rockbot/internal/config"
	"github.com/rockbotlabs/rockbot/internal/discovery"
	"github.com/rockbotlabs/rockbot/internal/dream"
	"github.com/rockbotlabs/rockbot/internal/feedback"
	"github.com/rockbotlabs/rockbot/internal/memory"
	"github.com/rockbotlabs/rockbot/internal/messages"
	"github.com/rockbotlabs/rockbot/internal/pipeline"
	"github.com/rockbotlabs/rockbot/internal/profile"
	"github.com/rockbotlabs/rockbot/internal/providers"
	"github.com/rockbotlabs/rockbot/internal/scheduler"
	"github.com/rockbotlabs/rockbot/internal/skills"
	"github.com/rockbotlabs/rockbot/internal/subagent"
	"github.com/rockbotlabs/rockbot/internal/telemetry"
	"github.com/rockbotlabs/rockbot/internal/tools"
	"github.com/rockbotlabs/rockbot/pkg/protocol"
)

const janitorInterval = 5 * time.Minute

// Host owns every singleton of one agent process. Handlers hold non-owning
// references; the host starts the long-lived services and tears them down.
type Host struct {
	cfg      *config.Config
	identity bus.Identity

	transport  bus.Transport
	publisher  *pipeline.Publisher
	dispatcher *pipeline.Dispatcher

	profiles      *profile.Manager
	conversations *memory.ConversationStore
	longterm      *memory.LongTermStore
	working       *memory.WorkingStore
	convlog       *memory.ConversationLog
	skillStore    *skills.Store
	usage         *skills.UsageLog
	feedback      *feedback.Store

	serializer *agent.Serializer
	activity   *agent.ActivityMonitor
	runner     *agent.Runner
	builder    *agent.ContextBuilder
	primary    *agent.UserMessageHandler

	registry  *tools.Registry
	scheduler *scheduler.Scheduler
	subagents *subagent.Manager

	coordinator *a2a.Coordinator
	a2aServer   *a2a.Server
	directory   *discovery.Directory
	dreamer     *dream.Driver

	ctx    context.Context
	cancel context.CancelFunc

	subs           []bus.Subscription
	shutdownTraces func(context.Context) error
	wg             sync.WaitGroup
	ownsTransport  bool
}

// Option adjusts host construction.
type Option func(*Host)

// WithTransport runs the host on an externally owned transport instead of a
// private in-memory broker, so several hosts can share one bus. The caller
// keeps responsibility for closing it.
func WithTransport(t bus.Transport) Option {
	return func(h *Host) { h.transport = t }
}

// New constructs the host from config. The provider is injected so embedders
// and tests can substitute their own; Run in cmd passes the OpenAI client.
func New(cfg *config.Config, provider providers.Provider, opts ...Option) (*Host, error) {
	dataDir := cfg.Agent.DataDir

	profiles, err := profile.NewManager(cfg.ProfileBase(), cfg.Agent.Name)
	if err != nil {
		return nil, fmt.Errorf("host: load profile: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	h := &Host{
		cfg:      cfg,
		identity: bus.NewIdentity(cfg.Agent.Name),
		profiles: profiles,
		ctx:      ctx,
		cancel:   cancel,
	}

	for _, opt := range opts {
		opt(h)
	}
	if h.transport == nil {
		h.transport = bus.NewInMemory(cfg.Bus.Prefetch)
		h.ownsTransport = true
	}
	h.publisher = pipeline.NewPublisher(h.transport, h.identity)

	h.conversations = memory.NewConversationStore(cfg.Memory.MaxTurnsPerSession, cfg.Memory.SessionIdleTimeout.Std())
	h.longterm = memory.NewLongTermStore(filepath.Join(dataDir, "memory"))
	h.working = memory.NewWorkingStore(filepath.Join(dataDir, "working-memory"), cfg.Memory.WorkingTTL.Std(), cfg.Memory.WorkingMaxEntries)
	h.convlog = memory.NewConversationLog(filepath.Join(dataDir, "conversation-log"))
	h.skillStore = skills.NewStore(filepath.Join(dataDir, "skills"))
	h.usage = skills.NewUsageLog(filepath.Join(dataDir, "skill-usage"))
	h.feedback = feedback.NewStore(filepath.Join(dataDir, "feedback"))

	behavior := agent.ModelBehavior{
		MaxSteps:         cfg.Loop.MaxSteps,
		ChunkThreshold:   cfg.Loop.ChunkThreshold,
		RecallTopK:       cfg.Loop.RecallTopK,
		RecallScoreFloor: cfg.Loop.RecallScoreFloor,
	}

	h.serializer = agent.NewSerializer()
	h.activity = agent.NewActivityMonitor()
	h.runner = agent.NewRunner(provider, h.working, behavior)
	if cfg.Provider.MaxRetries > 0 {
		retry := providers.DefaultRetryConfig()
		retry.MaxRetries = cfg.Provider.MaxRetries
		h.runner.WithRetryConfig(retry)
	}
	h.builder = agent.NewContextBuilder(agent.ContextBuilderConfig{
		Profiles:      h.profiles,
		Conversations: h.conversations,
		LongTerm:      h.longterm,
		Working:       h.working,
		Skills:        h.skillStore,
		Behavior:      behavior,
		Timezone:      cfg.Location(),
		Rules:         cfg.Agent.Rules,
	})

	h.scheduler = scheduler.New(filepath.Join(dataDir, "scheduled-tasks.json"), h.publisher, cfg.Location())

	// Base tool set, shared with subagents. Orchestration tools (spawn,
	// invoke_agent, list_agents) go only on the primary registry below so
	// subagents cannot recurse or delegate.
	summarizer := skills.NewSummarizer(provider, h.skillStore)
	base := tools.NewRegistry()
	if err := registerAll(base,
		tools.NewMemorySaveTool(h.longterm),
		tools.NewMemoryGetTool(h.longterm),
		tools.NewMemoryDeleteTool(h.longterm),
		tools.NewMemorySearchTool(h.longterm),
		tools.NewWorkingMemorySetTool(h.working, cfg.Memory.WorkingTTL.Std()),
		tools.NewWorkingMemoryGetTool(h.working),
		tools.NewWorkingMemoryListTool(h.working),
		tools.NewWorkingMemorySearchTool(h.working),
		tools.NewWorkingMemoryDeleteTool(h.working),
		tools.NewSkillSaveTool(h.skillStore, func(name string) {
			h.wg.Add(1)
			go func() {
				defer h.wg.Done()
				summarizer.Backfill(h.ctx, name)
			}()
		}),
		tools.NewSkillGetTool(h.skillStore, h.usage),
		tools.NewSkillListTool(h.skillStore),
		tools.NewSkillDeleteTool(h.skillStore),
		tools.NewSkillSearchTool(h.skillStore, h.usage),
		tools.NewRecordFeedbackTool(h.feedback),
		tools.NewScheduleTaskTool(h.scheduler),
		tools.NewCancelTaskTool(h.scheduler),
		tools.NewListTasksTool(h.scheduler),
	); err != nil {
		cancel()
		return nil, fmt.Errorf("host: register tools: %w", err)
	}

	h.subagents = subagent.NewManager(h.ctx, subagent.ManagerConfig{
		MaxConcurrent:  cfg.Subagents.MaxConcurrent,
		Builder:        h.builder,
		Runner:         h.runner,
		BaseRegistry:   base,
		Publisher:      h.publisher,
		LongTerm:       h.longterm,
		Working:        h.working,
		DefaultTimeout: time.Duration(cfg.Subagents.TimeoutMinutes) * time.Minute,
	})

	h.registry = base.Clone()
	if err := registerAll(h.registry,
		subagent.NewSpawnTool(h.subagents),
		subagent.NewCancelTool(h.subagents),
		subagent.NewListTool(h.subagents),
	); err != nil {
		cancel()
		return nil, fmt.Errorf("host: register tools: %w", err)
	}

	h.primary = agent.NewUserMessageHandler(agent.UserMessageHandlerConfig{
		Serializer:      h.serializer,
		Builder:         h.builder,
		Runner:          h.runner,
		Registry:        h.registry,
		Conversations:   h.conversations,
		ConversationLog: h.convlog,
		Publisher:       h.publisher,
		Activity:        h.activity,
	})

	h.coordinator = a2a.NewCoordinator(h.ctx, a2a.CoordinatorConfig{
		SelfName:       h.identity.Name,
		Publisher:      h.publisher,
		Serializer:     h.serializer,
		Primary:        h.primary,
		Working:        h.working,
		DefaultTimeout: time.Duration(cfg.A2A.TimeoutMinutes) * time.Minute,
	})
	h.a2aServer = a2a.NewServer(h.publisher, a2a.TaskHandlerFunc(h.runRemoteTask))

	wellKnown := make([]messages.AgentCard, 0, len(cfg.A2A.WellKnown))
	for _, w := range cfg.A2A.WellKnown {
		wellKnown = append(wellKnown, messages.AgentCard{
			Name:        w.Name,
			Description: w.Description,
			Skills:      w.Skills,
		})
	}
	var selfCard *messages.AgentCard
	if cfg.Discovery.Announce {
		selfCard = &messages.AgentCard{
			Name:        h.identity.Name,
			Description: cfg.Discovery.Description,
			Skills:      cfg.Discovery.Skills,
		}
	}
	h.directory = discovery.NewDirectory(discovery.Config{
		SelfCard:  selfCard,
		WellKnown: wellKnown,
		Publisher: h.publisher,
	})

	if err := registerAll(h.registry,
		a2a.NewInvokeTool(h.coordinator),
		discovery.NewListAgentsTool(h.directory),
	); err != nil {
		cancel()
		return nil, fmt.Errorf("host: register tools: %w", err)
	}

	if cfg.Dream.Enabled {
		h.dreamer = dream.NewDriver(dream.Config{
			Provider:        provider,
			LongTerm:        h.longterm,
			Working:         h.working,
			ConversationLog: h.convlog,
			Feedback:        h.feedback,
			Activity:        h.activity,
			Serializer:      h.serializer,
			Interval:        time.Duration(cfg.Dream.IntervalMinutes) * time.Minute,
			IdleThreshold:   time.Duration(cfg.Dream.IdleThresholdMinutes) * time.Minute,
		})
	}

	h.dispatcher = pipeline.NewDispatcher(h.identity, messages.DefaultRegistry())
	h.dispatcher.Use(
		pipeline.Recover(),
		pipeline.RetryLimit(cfg.Bus.MaxRetries),
		pipeline.Logging(),
		pipeline.RateLimit(cfg.Bus.RateLimitRPM),
		pipeline.Tracing(),
	)

	tick := scheduler.NewTickHandler(scheduler.TickHandlerConfig{
		Serializer:  h.serializer,
		Builder:     h.builder,
		Runner:      h.runner,
		Registry:    h.registry,
		Publisher:   h.publisher,
		ProfileBase: cfg.ProfileBase(),
	})

	h.dispatcher.Handle(protocol.TypeUserMessage, h.primary.Handle)
	h.dispatcher.Handle(protocol.TypeScheduledTask, tick.Handle)
	h.dispatcher.Handle(protocol.TypeSubagentProgress, subagent.NewProgressRelay(h.primary).Handle)
	h.dispatcher.Handle(protocol.TypeSubagentResult, subagent.NewResultRelay(h.serializer, h.primary, h.longterm).Handle)
	h.dispatcher.Handle(protocol.TypeAgentTaskRequest, h.a2aServer.Handle)
	h.dispatcher.Handle(protocol.TypeAgentTaskCancel, h.a2aServer.HandleCancel)
	h.dispatcher.Handle(protocol.TypeAgentTaskStatusUpdate, h.coordinator.HandleStatus)
	h.dispatcher.Handle(protocol.TypeAgentTaskResult, h.coordinator.HandleResult)
	h.dispatcher.Handle(protocol.TypeAgentTaskError, h.coordinator.HandleError)
	h.dispatcher.Handle(protocol.TypeAgentCard, h.directory.HandleAnnounce)

	return h, nil
}

// Start binds subscriptions and launches the long-lived services. The host
// runs until Stop.
func (h *Host) Start() error {
	shutdownTraces, err := telemetry.Setup(h.ctx, h.cfg.Telemetry)
	if err != nil {
		return err
	}
	h.shutdownTraces = shutdownTraces

	bindings := []struct {
		topic string
		queue string
	}{
		{protocol.TopicUserRequest, h.queueName("user")},
		{protocol.TopicScheduledTick, h.queueName("scheduled")},
		{protocol.TopicSubagentProgress, h.queueName("subagent-progress")},
		{protocol.TopicSubagentResult, h.queueName("subagent-result")},
		{protocol.TopicAgentTask, h.queueName("a2a-task")},
		{protocol.TopicAgentTaskCancel, h.queueName("a2a-cancel")},
		{protocol.TopicAgentTaskStatus, h.queueName("a2a-status")},
		{protocol.AgentResponseTopic(h.identity.Name), h.queueName("a2a-response")},
		{protocol.TopicDiscoveryAnnounce, h.queueName("discovery")},
	}
	for _, b := range bindings {
		sub, err := h.dispatcher.Bind(h.ctx, h.transport, b.topic, b.queue)
		if err != nil {
			h.unbind()
			return fmt.Errorf("host: bind %s: %w", b.topic, err)
		}
		h.subs = append(h.subs, sub)
	}
	if err := h.scheduler.Start(h.ctx); err != nil {
		return fmt.Errorf("host: start scheduler: %w", err)
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if err := h.profiles.Watch(h.ctx); err != nil && h.ctx.Err() == nil {
			slog.Warn("profile watch stopped", "error", err)
		}
	}()

	if h.dreamer != nil {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			h.dreamer.Run(h.ctx)
		}()
	}

	h.wg.Add(1)
	go h.janitor()

	if err := h.directory.Announce(h.ctx); err != nil {
		slog.Warn("discovery announce failed", "error", err)
	}

	slog.Info("host started", "agent", h.identity.Name, "instance", h.identity.InstanceID)
	return nil
}

// Stop tears the host down in reverse order: subscriptions first so no new
// work arrives, then the run context, then the transport and trace exporter.
func (h *Host) Stop() {
	h.unbind()
	h.cancel()
	h.wg.Wait()
	if h.ownsTransport {
		if err := h.transport.Close(); err != nil {
			slog.Warn("transport close failed", "error", err)
		}
	}
	if h.shutdownTraces != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := h.shutdownTraces(ctx); err != nil {
			slog.Warn("trace shutdown failed", "error", err)
		}
	}
	slog.Info("host stopped", "agent", h.identity.Name)
}

// Publisher exposes the typed publisher, e.g. for frontends feeding
// user.request.
func (h *Host) Publisher() *pipeline.Publisher { return h.publisher }

// Transport exposes the in-process bus so frontends can subscribe to
// user.response.
func (h *Host) Transport() bus.Transport { return h.transport }

// Directory exposes the discovery directory.
func (h *Host) Directory() *discovery.Directory { return h.directory }

// Scheduler exposes the cron scheduler.
func (h *Host) Scheduler() *scheduler.Scheduler { return h.scheduler }

// runRemoteTask serves inbound A2A requests by running the loop in an
// ephemeral session under a background slot, so local user turns keep
// priority over remote delegations.
func (h *Host) runRemoteTask(ctx context.Context, req *messages.AgentTaskRequest) (string, error) {
	sessionID := "a2a-task-" + req.TaskID
	defer h.builder.ForgetSession(sessionID)

	content := fmt.Sprintf("Another agent (%s) asks you to perform skill %q: %s", req.FromAgent, req.Skill, req.Message)
	chatMsgs := h.builder.Build(sessionID, content)

	slot := h.serializer.TryAcquireForScheduled(ctx)
	if slot == nil {
		return "", fmt.Errorf("agent %s is busy", h.identity.Name)
	}
	defer slot.Release()

	result, err := h.runner.Run(slot.Context(), agent.RunRequest{
		Messages:  chatMsgs,
		Registry:  h.registry,
		SessionID: sessionID,
		Namespace: "session/" + sessionID,
	})
	if err != nil {
		return "", err
	}
	return result.Content, nil
}

// janitor periodically expires working-memory entries and idle sessions.
func (h *Host) janitor() {
	defer h.wg.Done()
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			swept := h.working.Sweep()
			pruned := h.conversations.PruneIdle(time.Now())
			if swept > 0 || pruned > 0 {
				slog.Debug("janitor pass", "expired_entries", swept, "pruned_sessions", pruned)
			}
		}
	}
}

func (h *Host) queueName(role string) string {
	return h.identity.Name + "." + role
}

func (h *Host) unbind() {
	for i := len(h.subs) - 1; i >= 0; i-- {
		h.subs[i].Unsubscribe()
	}
	h.subs = nil
}

func registerAll(r *tools.Registry, ts ...tools.Tool) error {
	for _, t := range ts {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}
