package carnet

import (
	"bytes"
	"fmt"
	"html"
	"sort"
	"sync"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

// CellKind distinguishes code cells from markdown cells.
type CellKind string

const (
	CellCode     CellKind = "code"
	CellMarkdown CellKind = "markdown"
)

// Cell is one notebook cell. ExecutionCount is nil until the cell has been
// executed at least once.
type Cell struct {
	ID             string         `json:"id"`
	Kind           CellKind       `json:"kind"`
	Source         string         `json:"source"`
	Outputs        []CellOutput   `json:"outputs,omitempty"`
	ExecutionCount *int           `json:"execution_count,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Notebook is an ordered list of cells under one owner. ExecutionCount
// mirrors the highest kernel counter observed for this notebook.
type Notebook struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"owner_id"`
	Title          string    `json:"title"`
	Description    string    `json:"description,omitempty"`
	Cells          []Cell    `json:"cells"`
	ExecutionCount int       `json:"execution_count"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// CellUpdate carries the mutable cell fields for UpdateCell. Nil fields are
// left unchanged.
type CellUpdate struct {
	Source   *string
	Kind     *CellKind
	Outputs  *[]CellOutput
	Metadata map[string]any
}

// NotebookStore holds notebooks in memory. An outer lock guards the map; each
// notebook carries its own lock so concurrent edits to different notebooks
// never contend. All reads return deep copies.
type NotebookStore struct {
	mu        sync.RWMutex
	notebooks map[string]*notebookEntry
}

type notebookEntry struct {
	mu sync.Mutex
	nb Notebook
}

// NewNotebookStore creates an empty store.
func NewNotebookStore() *NotebookStore {
	return &NotebookStore{notebooks: make(map[string]*notebookEntry)}
}

// Create adds a new empty notebook and returns its copy.
func (s *NotebookStore) Create(ownerID, title, description string) Notebook {
	now := time.Now()
	nb := Notebook{
		ID:          NewID(),
		OwnerID:     ownerID,
		Title:       title,
		Description: description,
		Cells:       []Cell{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.mu.Lock()
	s.notebooks[nb.ID] = &notebookEntry{nb: nb}
	s.mu.Unlock()
	return cloneNotebook(nb)
}

// Get returns a copy of a notebook.
func (s *NotebookStore) Get(id string) (Notebook, error) {
	entry, err := s.entry(id)
	if err != nil {
		return Notebook{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return cloneNotebook(entry.nb), nil
}

// Delete removes a notebook. Deleting an absent notebook is not an error.
func (s *NotebookStore) Delete(id string) {
	s.mu.Lock()
	delete(s.notebooks, id)
	s.mu.Unlock()
}

// List returns copies of every notebook owned by ownerID, newest first.
func (s *NotebookStore) List(ownerID string) []Notebook {
	s.mu.RLock()
	entries := make([]*notebookEntry, 0, len(s.notebooks))
	for _, e := range s.notebooks {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	var out []Notebook
	for _, e := range entries {
		e.mu.Lock()
		if e.nb.OwnerID == ownerID {
			out = append(out, cloneNotebook(e.nb))
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// AddCell inserts a cell at index; index -1 or past the end appends. Returns
// a copy of the new cell.
func (s *NotebookStore) AddCell(notebookID string, kind CellKind, source string, index int) (Cell, error) {
	entry, err := s.entry(notebookID)
	if err != nil {
		return Cell{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	cell := Cell{ID: NewID(), Kind: kind, Source: source}
	cells := entry.nb.Cells
	if index < 0 || index >= len(cells) {
		cells = append(cells, cell)
	} else {
		cells = append(cells[:index], append([]Cell{cell}, cells[index:]...)...)
	}
	entry.nb.Cells = cells
	entry.nb.UpdatedAt = time.Now()
	return cloneCell(cell), nil
}

// UpdateCell applies a partial update to one cell.
func (s *NotebookStore) UpdateCell(notebookID, cellID string, upd CellUpdate) (Cell, error) {
	entry, err := s.entry(notebookID)
	if err != nil {
		return Cell{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	i := cellIndex(entry.nb.Cells, cellID)
	if i < 0 {
		return Cell{}, fmt.Errorf("%s: cell %s in notebook %s", ErrKindNotFound, cellID, notebookID)
	}
	cell := &entry.nb.Cells[i]
	if upd.Source != nil {
		cell.Source = *upd.Source
		if cell.Kind == CellCode {
			// Edited code no longer matches its outputs.
			cell.Outputs = nil
		}
	}
	if upd.Kind != nil {
		cell.Kind = *upd.Kind
	}
	if upd.Outputs != nil {
		cell.Outputs = append([]CellOutput(nil), (*upd.Outputs)...)
	}
	if upd.Metadata != nil {
		if cell.Metadata == nil {
			cell.Metadata = make(map[string]any, len(upd.Metadata))
		}
		for k, v := range upd.Metadata {
			cell.Metadata[k] = v
		}
	}
	entry.nb.UpdatedAt = time.Now()
	return cloneCell(*cell), nil
}

// SetExecutionCount records an execution against a cell. The stored count
// only moves forward so an out-of-order write cannot rewind it.
func (s *NotebookStore) SetExecutionCount(notebookID, cellID string, count int, outputs []CellOutput) error {
	entry, err := s.entry(notebookID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	i := cellIndex(entry.nb.Cells, cellID)
	if i < 0 {
		return fmt.Errorf("%s: cell %s in notebook %s", ErrKindNotFound, cellID, notebookID)
	}
	cell := &entry.nb.Cells[i]
	if cell.ExecutionCount == nil || count > *cell.ExecutionCount {
		c := count
		cell.ExecutionCount = &c
	}
	// The notebook-level counter tracks the highest kernel counter seen.
	if count > entry.nb.ExecutionCount {
		entry.nb.ExecutionCount = count
	}
	cell.Outputs = append([]CellOutput(nil), outputs...)
	entry.nb.UpdatedAt = time.Now()
	return nil
}

// DeleteCell removes one cell.
func (s *NotebookStore) DeleteCell(notebookID, cellID string) error {
	entry, err := s.entry(notebookID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	i := cellIndex(entry.nb.Cells, cellID)
	if i < 0 {
		return fmt.Errorf("%s: cell %s in notebook %s", ErrKindNotFound, cellID, notebookID)
	}
	entry.nb.Cells = append(entry.nb.Cells[:i], entry.nb.Cells[i+1:]...)
	entry.nb.UpdatedAt = time.Now()
	return nil
}

// MoveCell moves a cell to a new index, clamped to the valid range.
func (s *NotebookStore) MoveCell(notebookID, cellID string, index int) error {
	entry, err := s.entry(notebookID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	cells := entry.nb.Cells
	i := cellIndex(cells, cellID)
	if i < 0 {
		return fmt.Errorf("%s: cell %s in notebook %s", ErrKindNotFound, cellID, notebookID)
	}
	cell := cells[i]
	cells = append(cells[:i], cells[i+1:]...)
	if index < 0 {
		index = 0
	}
	if index > len(cells) {
		index = len(cells)
	}
	cells = append(cells[:index], append([]Cell{cell}, cells[index:]...)...)
	entry.nb.Cells = cells
	entry.nb.UpdatedAt = time.Now()
	return nil
}

func (s *NotebookStore) entry(id string) (*notebookEntry, error) {
	s.mu.RLock()
	entry, ok := s.notebooks[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: notebook %s", ErrKindNotFound, id)
	}
	return entry, nil
}

func cellIndex(cells []Cell, cellID string) int {
	for i := range cells {
		if cells[i].ID == cellID {
			return i
		}
	}
	return -1
}

func cloneCell(c Cell) Cell {
	out := c
	out.Outputs = append([]CellOutput(nil), c.Outputs...)
	if c.ExecutionCount != nil {
		n := *c.ExecutionCount
		out.ExecutionCount = &n
	}
	if c.Metadata != nil {
		out.Metadata = make(map[string]any, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

func cloneNotebook(nb Notebook) Notebook {
	out := nb
	out.Cells = make([]Cell, len(nb.Cells))
	for i, c := range nb.Cells {
		out.Cells[i] = cloneCell(c)
	}
	return out
}

var notebookMarkdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
)

// ExportHTML renders a notebook as a standalone HTML document. Markdown cells
// go through the markdown renderer; code cells render as preformatted blocks
// with their captured outputs.
func (s *NotebookStore) ExportHTML(id string) ([]byte, error) {
	nb, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>%s</title>\n</head>\n<body>\n", html.EscapeString(nb.Title))
	fmt.Fprintf(&buf, "<h1>%s</h1>\n", html.EscapeString(nb.Title))
	if nb.Description != "" {
		fmt.Fprintf(&buf, "<p class=\"description\">%s</p>\n", html.EscapeString(nb.Description))
	}

	for _, cell := range nb.Cells {
		switch cell.Kind {
		case CellMarkdown:
			buf.WriteString("<div class=\"cell markdown\">\n")
			if err := notebookMarkdown.Convert([]byte(cell.Source), &buf); err != nil {
				return nil, fmt.Errorf("render markdown cell %s: %w", cell.ID, err)
			}
			buf.WriteString("</div>\n")
		case CellCode:
			buf.WriteString("<div class=\"cell code\">\n")
			label := " "
			if cell.ExecutionCount != nil {
				label = fmt.Sprintf("%d", *cell.ExecutionCount)
			}
			fmt.Fprintf(&buf, "<div class=\"prompt\">In [%s]:</div>\n", label)
			fmt.Fprintf(&buf, "<pre><code>%s</code></pre>\n", html.EscapeString(cell.Source))
			for _, out := range cell.Outputs {
				writeOutputHTML(&buf, out)
			}
			buf.WriteString("</div>\n")
		}
	}
	buf.WriteString("</body>\n</html>\n")
	return buf.Bytes(), nil
}

func writeOutputHTML(buf *bytes.Buffer, out CellOutput) {
	switch out.Type {
	case OutputStream:
		fmt.Fprintf(buf, "<pre class=\"output %s\">%s</pre>\n", out.Name, html.EscapeString(out.Content))
	case OutputExecuteResult:
		fmt.Fprintf(buf, "<pre class=\"output result\">%s</pre>\n", html.EscapeString(out.Content))
	case OutputDisplayData:
		if out.MimeType == "image/png" {
			fmt.Fprintf(buf, "<img src=\"data:image/png;base64,%s\" alt=\"plot\">\n", out.Content)
		}
	case OutputError:
		if out.Error != nil {
			fmt.Fprintf(buf, "<pre class=\"output error\">%s: %s</pre>\n",
				html.EscapeString(out.Error.Name), html.EscapeString(out.Error.Value))
		}
	}
}
