package carnet

import "sync"

const (
	// historyCap is the point at which a conversation's in-memory window is
	// trimmed; historyKeep is how many recent messages survive the trim.
	historyCap  = 100
	historyKeep = 50
)

// History keeps a bounded in-memory chat window per (user, notebook) pair.
// It is the working context handed to the agent each turn; the durable record
// lives in the message log.
type History struct {
	mu      sync.Mutex
	windows map[string][]ChatMessage
}

// NewHistory creates an empty history.
func NewHistory() *History {
	return &History{windows: make(map[string][]ChatMessage)}
}

func historyKey(userID, notebookID string) string {
	return userID + "\x00" + notebookID
}

// Append adds a message to a conversation window, trimming to the most
// recent historyKeep messages once the window exceeds historyCap.
func (h *History) Append(userID, notebookID string, msg ChatMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := historyKey(userID, notebookID)
	window := append(h.windows[key], msg)
	if len(window) > historyCap {
		trimmed := make([]ChatMessage, historyKeep)
		copy(trimmed, window[len(window)-historyKeep:])
		window = trimmed
	}
	h.windows[key] = window
}

// Get returns a copy of a conversation window.
func (h *History) Get(userID, notebookID string) []ChatMessage {
	h.mu.Lock()
	defer h.mu.Unlock()

	window := h.windows[historyKey(userID, notebookID)]
	out := make([]ChatMessage, len(window))
	copy(out, window)
	return out
}

// Clear drops a conversation window.
func (h *History) Clear(userID, notebookID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.windows, historyKey(userID, notebookID))
}

// Len returns the current window length for a conversation.
func (h *History) Len(userID, notebookID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.windows[historyKey(userID, notebookID)])
}
