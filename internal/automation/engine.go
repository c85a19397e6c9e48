package automation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-iot/internal/command"
	"github.com/nerrad567/gray-logic-iot/internal/device"
	"github.com/nerrad567/gray-logic-iot/internal/payload"
	"github.com/nerrad567/gray-logic-iot/internal/rules"
)

// DeviceLookup is the part of the device catalog the engine reads.
// device.Repository satisfies it.
type DeviceLookup interface {
	GetDeviceByUUID(ctx context.Context, uuid string) (*device.Device, error)
	GetTopicByKey(ctx context.Context, schemaVersionID int64, key string) (*device.Topic, error)
}

// Dispatcher sends one command. *command.Dispatcher satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, req command.Request) (*command.Command, error)
}

// Broadcaster pushes execution summaries to live clients.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// ChannelExecuted is the broadcast channel for finished executions.
const ChannelExecuted = "automation.executed"

const (
	// maxExecutionTime is the hard limit for a single rule execution.
	maxExecutionTime = 10 * time.Minute

	defaultQueueSize = 256
)

type trigger struct {
	event command.Event
}

// Engine fires automation rules from inbound device messages.
//
// Engine is a command.EventSink. Emit only queues device.state_received
// events; Run drains the queue, evaluates matching rules and executes them.
// Each execution runs its action groups in order, with the actions of a
// group dispatched concurrently.
//
// Thread Safety: Emit and Execute are safe for concurrent use.
type Engine struct {
	registry   *Registry
	devices    DeviceLookup
	dispatcher Dispatcher
	hub        Broadcaster
	repo       Repository
	logger     Logger
	now        func() time.Time

	queue chan trigger

	cooldownMu sync.Mutex
	lastFired  map[string]time.Time

	running sync.WaitGroup
}

var _ command.EventSink = (*Engine)(nil)

// NewEngine creates a rule engine. hub and logger may be nil.
func NewEngine(registry *Registry, devices DeviceLookup, dispatcher Dispatcher, hub Broadcaster, repo Repository, logger Logger) *Engine {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Engine{
		registry:   registry,
		devices:    devices,
		dispatcher: dispatcher,
		hub:        hub,
		repo:       repo,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		queue:      make(chan trigger, defaultQueueSize),
		lastFired:  make(map[string]time.Time),
	}
}

// SetClock replaces the time source used for cooldowns and timestamps.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Emit queues an inbound device message for rule evaluation. It never
// blocks: when the queue is full the event is dropped.
func (e *Engine) Emit(_ context.Context, event command.Event) {
	if event.Name != command.EventDeviceStateReceived {
		return
	}
	select {
	case e.queue <- trigger{event: event}:
	default:
		e.logger.Warn("automation queue full, dropping event",
			"device_uuid", event.DeviceUUID,
			"subject", event.Subject,
		)
	}
}

// Run processes queued events until ctx is cancelled, then waits for
// in-flight executions to finish.
func (e *Engine) Run(ctx context.Context) {
	defer e.running.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-e.queue:
			e.handle(ctx, t.event)
		}
	}
}

// handle evaluates every rule triggered by event and starts an execution
// for each one whose condition holds and which is not cooling down.
func (e *Engine) handle(ctx context.Context, event command.Event) {
	candidates := e.registry.Matching(event.DeviceUUID, event.Topic)
	if len(candidates) == 0 {
		return
	}

	data := ConditionData(event)
	for _, rule := range candidates {
		if !rules.Matches(rule.Condition, data) {
			continue
		}
		if !e.claim(&rule) {
			e.logger.Debug("rule cooling down", "rule_id", rule.ID)
			continue
		}

		e.running.Add(1)
		go func(id, subject string) {
			defer e.running.Done()
			if _, err := e.Execute(ctx, id, subject); err != nil {
				e.logger.Error("rule execution failed", "rule_id", id, "error", err)
			}
		}(rule.ID, event.Subject)
	}
}

// claim records a firing of rule unless it fired within its cooldown.
func (e *Engine) claim(rule *Rule) bool {
	now := e.now()

	e.cooldownMu.Lock()
	defer e.cooldownMu.Unlock()

	if rule.CooldownSeconds > 0 {
		if last, ok := e.lastFired[rule.ID]; ok && now.Sub(last) < time.Duration(rule.CooldownSeconds)*time.Second {
			return false
		}
	}
	e.lastFired[rule.ID] = now
	return true
}

// ConditionData is the document rule conditions are evaluated against.
func ConditionData(event command.Event) map[string]any {
	data := map[string]any{
		"event":              event.Name,
		"device_uuid":        event.DeviceUUID,
		"device_external_id": event.DeviceExternalID,
		"topic":              event.Topic,
		"subject":            event.Subject,
		"purpose":            string(event.Purpose),
	}
	if event.Payload != nil {
		data["payload"] = event.Payload
	} else {
		data["payload"] = map[string]any{}
	}
	return data
}

// Execute runs a rule's actions now and records the execution.
//
// The returned error covers only failures to start: an unknown or disabled
// rule, or no dispatcher. Action failures are reported in the Execution.
func (e *Engine) Execute(ctx context.Context, ruleID, triggerSubject string) (*Execution, error) { //nolint:gocognit // groups, abort and status bookkeeping
	ctx, cancel := context.WithTimeout(ctx, maxExecutionTime)
	defer cancel()

	rule, err := e.registry.GetRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if !rule.Enabled {
		return nil, ErrRuleDisabled
	}
	if e.dispatcher == nil {
		return nil, ErrDispatchUnavailable
	}

	exec := &Execution{
		ID:             GenerateID(),
		RuleID:         rule.ID,
		TriggeredAt:    e.now(),
		TriggerSubject: triggerSubject,
		Status:         StatusPending,
		ActionsTotal:   len(rule.Actions),
	}
	if createErr := e.repo.CreateExecution(ctx, exec); createErr != nil {
		e.logger.Error("failed to create execution record", "error", createErr)
	}

	started := e.now()
	exec.StartedAt = &started
	exec.Status = StatusRunning

	e.logger.Info("rule execution started",
		"rule_id", rule.ID,
		"rule_name", rule.Name,
		"execution_id", exec.ID,
		"actions", len(rule.Actions),
	)

	offset := 0
	aborted := false
	for _, group := range groupActions(rule.Actions) {
		if aborted {
			exec.ActionsSkipped += len(group)
			offset += len(group)
			continue
		}
		if ctx.Err() != nil {
			exec.ActionsSkipped += len(group)
			exec.Status = StatusCancelled
			aborted = true
			offset += len(group)
			continue
		}

		outcomes := e.executeGroup(ctx, group)
		for i, out := range outcomes {
			if out.commandID != 0 {
				exec.CommandIDs = append(exec.CommandIDs, out.commandID)
			}
			if out.failure == nil {
				exec.ActionsCompleted++
				continue
			}
			out.failure.ActionIndex = offset + i
			exec.Failures = append(exec.Failures, *out.failure)
			exec.ActionsFailed++
			if !group[i].ContinueOnError {
				aborted = true
			}
		}
		offset += len(group)
	}

	completedAt := e.now()
	exec.CompletedAt = &completedAt
	duration := int(completedAt.Sub(started).Milliseconds())
	exec.DurationMS = &duration

	switch {
	case exec.Status == StatusCancelled:
	case ctx.Err() != nil && exec.ActionsCompleted < exec.ActionsTotal:
		exec.Status = StatusCancelled
	case exec.ActionsFailed > 0 && aborted:
		exec.Status = StatusFailed
	case exec.ActionsFailed > 0:
		exec.Status = StatusPartial
	default:
		exec.Status = StatusCompleted
	}

	// The execution record outlives a cancelled trigger context.
	if updateErr := e.repo.UpdateExecution(context.WithoutCancel(ctx), exec); updateErr != nil {
		e.logger.Error("failed to update execution record", "error", updateErr)
	}

	e.logger.Info("rule execution complete",
		"rule_id", rule.ID,
		"execution_id", exec.ID,
		"status", exec.Status,
		"completed", exec.ActionsCompleted,
		"failed", exec.ActionsFailed,
		"skipped", exec.ActionsSkipped,
		"duration_ms", duration,
	)

	if e.hub != nil {
		e.hub.Broadcast(ChannelExecuted, map[string]any{
			"rule_id":      rule.ID,
			"rule_name":    rule.Name,
			"execution_id": exec.ID,
			"status":       string(exec.Status),
			"command_ids":  exec.CommandIDs,
			"duration_ms":  duration,
		})
	}
	return exec, nil
}

type actionOutcome struct {
	commandID int64
	failure   *ActionFailure
}

// executeGroup runs all actions of a group concurrently. Outcomes are
// indexed like the group.
func (e *Engine) executeGroup(ctx context.Context, actions []Action) []actionOutcome {
	outcomes := make([]actionOutcome, len(actions))

	var wg sync.WaitGroup
	for i, action := range actions {
		wg.Add(1)
		go func(idx int, a Action) {
			defer wg.Done()
			outcomes[idx] = e.executeAction(ctx, a)
		}(i, action)
	}
	wg.Wait()
	return outcomes
}

// executeAction waits out the action's delay, resolves its controls against
// the target topic and dispatches the command.
func (e *Engine) executeAction(ctx context.Context, action Action) actionOutcome {
	fail := func(code string, err error) actionOutcome {
		return actionOutcome{failure: &ActionFailure{
			DeviceUUID: action.DeviceUUID,
			TopicKey:   action.TopicKey,
			ErrorCode:  code,
			ErrorMsg:   err.Error(),
		}}
	}

	if action.DelayMS > 0 {
		timer := time.NewTimer(time.Duration(action.DelayMS) * time.Millisecond)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fail(FailureCancelled, fmt.Errorf("action delayed: %w", ctx.Err()))
		}
	}

	dev, err := e.devices.GetDeviceByUUID(ctx, action.DeviceUUID)
	if err != nil {
		return fail(FailureLookup, fmt.Errorf("device %q: %w", action.DeviceUUID, err))
	}
	if dev.SchemaVersionID == nil {
		return fail(FailureLookup, fmt.Errorf("device %q has no schema", action.DeviceUUID))
	}
	topic, err := e.devices.GetTopicByKey(ctx, *dev.SchemaVersionID, action.TopicKey)
	if err != nil {
		return fail(FailureLookup, fmt.Errorf("topic %q: %w", action.TopicKey, err))
	}
	if topic.IsPublish() {
		return fail(FailureLookup, fmt.Errorf("topic %q is not a command topic", action.TopicKey))
	}

	body, errs := payload.ResolveFromControls(topic.Parameters, action.Controls)
	if len(errs) > 0 {
		return fail(FailureValidation, validationError(errs))
	}

	cmd, err := e.dispatcher.Dispatch(ctx, command.Request{
		Device:  dev,
		Topic:   topic,
		Payload: body,
	})
	if err != nil {
		return fail(FailureDispatch, err)
	}

	e.logger.Debug("rule action dispatched",
		"device_uuid", action.DeviceUUID,
		"topic", action.TopicKey,
		"command_id", cmd.ID,
		"status", cmd.Status,
	)

	if cmd.Status == command.StatusFailed {
		msg := cmd.ErrorMessage
		if msg == "" {
			msg = "publish failed"
		}
		out := fail(FailurePublish, errors.New(msg))
		out.commandID = cmd.ID
		return out
	}
	return actionOutcome{commandID: cmd.ID}
}

func validationError(errs map[string]string) error {
	keys := make([]string, 0, len(errs))
	for key := range errs {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]error, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Errorf("%s: %s", key, errs[key]))
	}
	return errors.Join(parts...)
}

// groupActions splits actions into sequential groups based on the Parallel flag.
//
// The first action always starts a new group. Subsequent actions with
// Parallel=true join the current group; Parallel=false starts a new group.
//
//	actions: [A(parallel=false), B(parallel=true), C(parallel=true), D(parallel=false)]
//	groups:  [[A, B, C], [D]]
func groupActions(actions []Action) [][]Action {
	if len(actions) == 0 {
		return nil
	}

	var groups [][]Action
	current := []Action{actions[0]}

	for _, action := range actions[1:] {
		if action.Parallel {
			current = append(current, action)
		} else {
			groups = append(groups, current)
			current = []Action{action}
		}
	}
	return append(groups, current)
}
