package automation

import "time"

// Rule runs a list of device commands when a device reports a message that
// satisfies its condition.
type Rule struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Slug        string  `json:"slug"`
	Description *string `json:"description,omitempty"`
	Enabled     bool    `json:"enabled"`

	Trigger Trigger `json:"trigger"`

	// Condition is an expression for the rules package, evaluated against
	// ConditionData of the triggering message. Nil always matches.
	Condition any `json:"condition,omitempty"`

	Actions []Action `json:"actions"`

	// CooldownSeconds suppresses further triggers for this long after one fires.
	CooldownSeconds int `json:"cooldown_seconds"`

	SortOrder int       `json:"sort_order"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Trigger selects the inbound messages a rule listens to.
type Trigger struct {
	DeviceUUID string `json:"device_uuid"`

	// TopicKey narrows the trigger to one topic of the device. Empty
	// matches every topic.
	TopicKey string `json:"topic_key,omitempty"`
}

// Action sends one command to a device topic.
//
// Actions run in order. When Parallel is true, the action runs
// concurrently with the previous action's group; otherwise it starts a new
// sequential group.
type Action struct {
	DeviceUUID string `json:"device_uuid"`
	TopicKey   string `json:"topic_key"`

	// Controls are resolved through the topic's parameters like the
	// dispatch API does.
	Controls map[string]any `json:"controls,omitempty"`

	DelayMS         int  `json:"delay_ms"`
	Parallel        bool `json:"parallel"`
	ContinueOnError bool `json:"continue_on_error"`
	SortOrder       int  `json:"sort_order"`
}

// Execution tracks one firing of a rule.
type Execution struct {
	ID             string          `json:"id"`
	RuleID         string          `json:"rule_id"`
	TriggeredAt    time.Time       `json:"triggered_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	TriggerSubject string          `json:"trigger_subject,omitempty"`
	Status         ExecutionStatus `json:"status"`

	ActionsTotal     int `json:"actions_total"`
	ActionsCompleted int `json:"actions_completed"`
	ActionsFailed    int `json:"actions_failed"`
	ActionsSkipped   int `json:"actions_skipped"`

	Failures   []ActionFailure `json:"failures,omitempty"`
	CommandIDs []int64         `json:"command_ids,omitempty"`

	DurationMS *int `json:"duration_ms,omitempty"`
}

// ActionFailure records one failed action within an execution.
type ActionFailure struct {
	ActionIndex int    `json:"action_index"`
	DeviceUUID  string `json:"device_uuid"`
	TopicKey    string `json:"topic_key"`
	ErrorCode   string `json:"error_code"`
	ErrorMsg    string `json:"error_message"`
}

// Failure codes recorded in ActionFailure.ErrorCode.
const (
	FailureLookup     = "LOOKUP_FAILED"
	FailureValidation = "VALIDATION_FAILED"
	FailureDispatch   = "DISPATCH_FAILED"
	FailurePublish    = "PUBLISH_FAILED"
	FailureCancelled  = "CANCELLED"
)

// ExecutionStatus represents the state of an execution.
type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "pending"
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusPartial   ExecutionStatus = "partial"   // Some actions failed, the rest ran
	StatusFailed    ExecutionStatus = "failed"    // A fail-fast action failed
	StatusCancelled ExecutionStatus = "cancelled" // Context cancelled mid-execution
)

// DeepCopy returns an independent copy of the rule. Cached rules are only
// ever handed out as copies.
func (r *Rule) DeepCopy() *Rule {
	if r == nil {
		return nil
	}

	cpy := *r
	if r.Description != nil {
		d := *r.Description
		cpy.Description = &d
	}
	cpy.Condition = deepCopyValue(r.Condition)

	if r.Actions != nil {
		cpy.Actions = make([]Action, len(r.Actions))
		for i, action := range r.Actions {
			cpy.Actions[i] = action
			cpy.Actions[i].Controls = deepCopyMap(action.Controls)
		}
	}
	return &cpy
}

// deepCopyMap creates a deep copy of a map[string]any.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

// deepCopyValue recursively copies nested maps and slices.
func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		return v
	}
}
