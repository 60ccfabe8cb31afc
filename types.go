package carnet

// --- LLM protocol types ---

type ChatMessage struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// ChatRequest is the narrow, vendor-agnostic chat contract. System is sent
// as a leading system message; zero Temperature/MaxTokens means provider
// defaults.
type ChatRequest struct {
	Messages    []ChatMessage `json:"messages"`
	System      string        `json:"system,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type ChatResponse struct {
	Content      string `json:"content"`
	Model        string `json:"model,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
	Usage        Usage  `json:"usage"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// --- Retrieval types (read path only; ingestion is external) ---

// SearchChunk is the read-only view returned by vector search and exposed
// to the knowledge_search tool.
type SearchChunk struct {
	ChunkID      string  `json:"chunk_id"`
	DocumentID   string  `json:"document_id"`
	KBID         string  `json:"kb_id"`
	Content      string  `json:"content"`
	Similarity   float64 `json:"similarity"` // cosine similarity in [0,1]
	DocumentName string  `json:"document_name"`
	KBName       string  `json:"kb_name"`
}

// Paper is the record returned by literature search.
type Paper struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Authors  string `json:"authors"`
	Abstract string `json:"abstract"`
	Year     int    `json:"year"`
	Venue    string `json:"venue,omitempty"`
	URL      string `json:"url,omitempty"`
}

// --- ChatMessage constructors ---

func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: "user", Content: text}
}

func SystemMessage(text string) ChatMessage {
	return ChatMessage{Role: "system", Content: text}
}

func AssistantMessage(text string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: text}
}
