// Package store owns conversation histories. The orchestration loop reads
// and appends through it; serialization of concurrent loops on one
// conversation is the caller's responsibility, stated as a precondition.
package store

import (
	"github.com/Mateus-rgb/Lim-Code-sub001/internal/chat"
)

// APIOptions shape the transport-ready projection of a history.
type APIOptions struct {
	// IncludeThoughts keeps model thought parts in the projection.
	IncludeThoughts bool
	// Multimodal keeps inline binary attachments; when false they are
	// replaced with a text placeholder naming the attachment.
	Multimodal bool
}

// Store is the conversation store contract. History returns a live
// reference, not a copy: callers must not mutate it and must not hold it
// across writes.
type Store interface {
	// Create registers an empty conversation. Creating an existing id is
	// an INVALID_STATE error.
	Create(id string) error
	// History returns the full ordered history. Unknown ids yield
	// NO_HISTORY.
	History(id string) ([]chat.Content, error)
	// Append adds a message and returns its index.
	Append(id string, c chat.Content) (int, error)
	// Update replaces the message at index. Out-of-range indexes yield
	// MESSAGE_NOT_FOUND.
	Update(id string, index int, c chat.Content) error
	// TruncateFrom deletes the message at index and everything after it.
	TruncateFrom(id string, index int) error
	// HistoryForAPI returns the transport-ready projection.
	HistoryForAPI(id string, opts APIOptions) ([]chat.Content, error)
	// Close releases backing resources.
	Close() error
}

// ProjectForAPI applies APIOptions to a history. Shared by store
// implementations; element counts may shrink when messages project to
// nothing.
func ProjectForAPI(history []chat.Content, opts APIOptions) []chat.Content {
	out := make([]chat.Content, 0, len(history))
	for _, c := range history {
		parts := make([]chat.Part, 0, len(c.Parts))
		for _, p := range c.Parts {
			if p.Thought && !opts.IncludeThoughts {
				continue
			}
			if p.InlineData != nil && !opts.Multimodal {
				name := p.InlineData.DisplayName
				if name == "" {
					name = p.InlineData.MIMEType
				}
				parts = append(parts, chat.Part{Text: "[attachment: " + name + "]"})
				continue
			}
			parts = append(parts, p)
		}
		if len(parts) == 0 {
			continue
		}
		projected := c
		projected.Parts = parts
		out = append(out, projected)
	}
	return out
}
