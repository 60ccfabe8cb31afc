package carnet

// EventType identifies the kind of agent event. The bridge forwards each
// event as one SSE frame with a type-tagged JSON payload.
type EventType string

const (
	EventStart         EventType = "start"
	EventModelInfo     EventType = "model_info"
	EventThinkingStart EventType = "thinking_start"
	// EventThinking carries partial thought text as it streams.
	EventThinking EventType = "thinking"
	// EventThought carries the finalized thought for one iteration.
	EventThought     EventType = "thought"
	EventAction      EventType = "action"
	EventObservation EventType = "observation"
	// EventContent carries partial answer text as it streams.
	EventContent EventType = "content"
	// EventAnswer carries the finalized user-facing answer.
	EventAnswer                EventType = "answer"
	EventAuthorizationRequired EventType = "authorization_required"
	EventDone                  EventType = "done"
	EventError                 EventType = "error"
)

// Event is one element of the ordered stream an agent turn produces.
// Data is the payload marshaled into the SSE frame: a string for text
// events, one of the *Data structs otherwise.
type Event struct {
	Type EventType `json:"event"`
	Data any       `json:"data"`
}

type ModelInfo struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type ThinkingStartData struct {
	Iteration int `json:"iteration"`
}

type ActionData struct {
	Tool  string         `json:"tool"`
	Input map[string]any `json:"input"`
}

type ObservationData struct {
	Tool    string `json:"tool"`
	Success bool   `json:"success"`
	Output  string `json:"output"`
}

type AuthorizationData struct {
	Action string `json:"action"`
}

type DoneData struct {
	MessageID  int64       `json:"message_id"`
	Thought    string      `json:"thought"`
	Answer     string      `json:"answer"`
	ReactSteps []AgentStep `json:"react_steps"`
}

// --- Step trace ---

type StepType string

const (
	StepThought     StepType = "thought"
	StepAction      StepType = "action"
	StepObservation StepType = "observation"
	StepAnswer      StepType = "answer"
)

// AgentStep is one entry of the turn's step trace, persisted alongside the
// assistant message and replayed by clients rendering past turns.
type AgentStep struct {
	Type       StepType       `json:"type"`
	Content    string         `json:"content,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
	ToolInput  map[string]any `json:"tool_input,omitempty"`
	ToolOutput string         `json:"tool_output,omitempty"`
	Success    bool           `json:"success,omitempty"`
}
