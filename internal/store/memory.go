package store

import (
	"sync"

	"github.com/Mateus-rgb/Lim-Code-sub001/internal/chat"
)

// Memory is the in-process store. The history slices it hands out are live
// references into its own state.
type Memory struct {
	mu            sync.Mutex
	conversations map[string][]chat.Content
}

func NewMemory() *Memory {
	return &Memory{conversations: make(map[string][]chat.Content)}
}

func (m *Memory) Create(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conversations[id]; ok {
		return chat.NewError(chat.ErrInvalidState, "conversation %s already exists", id)
	}
	m.conversations[id] = []chat.Content{}
	return nil
}

func (m *Memory) History(id string) ([]chat.Content, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	history, ok := m.conversations[id]
	if !ok {
		return nil, chat.NewError(chat.ErrNoHistory, "no history for conversation %s", id)
	}
	return history, nil
}

func (m *Memory) Append(id string, c chat.Content) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	history, ok := m.conversations[id]
	if !ok {
		return 0, chat.NewError(chat.ErrNoHistory, "no history for conversation %s", id)
	}
	m.conversations[id] = append(history, c)
	return len(history), nil
}

func (m *Memory) Update(id string, index int, c chat.Content) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	history, ok := m.conversations[id]
	if !ok {
		return chat.NewError(chat.ErrNoHistory, "no history for conversation %s", id)
	}
	if index < 0 || index >= len(history) {
		return chat.NewError(chat.ErrMessageNotFound, "message %d not found in conversation %s", index, id)
	}
	history[index] = c
	return nil
}

func (m *Memory) TruncateFrom(id string, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	history, ok := m.conversations[id]
	if !ok {
		return chat.NewError(chat.ErrNoHistory, "no history for conversation %s", id)
	}
	if index < 0 || index > len(history) {
		return chat.NewError(chat.ErrMessageNotFound, "message %d not found in conversation %s", index, id)
	}
	m.conversations[id] = history[:index]
	return nil
}

func (m *Memory) HistoryForAPI(id string, opts APIOptions) ([]chat.Content, error) {
	history, err := m.History(id)
	if err != nil {
		return nil, err
	}
	return ProjectForAPI(history, opts), nil
}

func (m *Memory) Close() error {
	return nil
}
