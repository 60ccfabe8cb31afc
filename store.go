package carnet

import "context"

// ChunkSearcher finds knowledge-base chunks near an embedding, scoped to
// what the user can read. Implemented by store/postgres over pgvector.
type ChunkSearcher interface {
	SearchChunks(ctx context.Context, userID string, embedding []float32, topK int) ([]SearchChunk, error)
}

// PaperSearcher finds literature records matching a text query.
type PaperSearcher interface {
	SearchPapers(ctx context.Context, userID, query string, limit int) ([]Paper, error)
}

// StoredMessage is one persisted chat message.
type StoredMessage struct {
	ID        int64       `json:"id"`
	Role      string      `json:"role"`
	Content   string      `json:"content"`
	Thought   string      `json:"thought,omitempty"`
	Steps     []AgentStep `json:"steps,omitempty"`
	CreatedAt int64       `json:"created_at"`
}

// MessageLog is the durable conversation record. The in-memory History is
// the agent's working window; the log is what clients page through.
type MessageLog interface {
	// AppendUserMessage stores a user turn and returns its id.
	AppendUserMessage(ctx context.Context, conversationID, content string) (int64, error)

	// AppendAssistantMessage stores an assistant turn with its thought and
	// step trace and returns its id.
	AppendAssistantMessage(ctx context.Context, conversationID, content, thought string, steps []AgentStep) (int64, error)

	// Messages returns up to limit messages of a conversation, oldest first.
	Messages(ctx context.Context, conversationID string, limit int) ([]StoredMessage, error)
}
