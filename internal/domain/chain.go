package domain

import "time"

// HistoryEntry records one refinement applied to a chain. Entries are never mutated.
type HistoryEntry struct {
	ID                      string           `json:"id"`
	Instruction             string           `json:"instruction"`
	Timestamp               time.Time        `json:"timestamp"`
	IsBackgroundOperation   bool             `json:"is_background_operation"`
	Preserved               bool             `json:"preserved"`
	PreviousBackgroundState BackgroundState  `json:"previous_background_state"`
	NewBackgroundState      *BackgroundState `json:"new_background_state,omitempty"`
}

// ResultingState is the background in effect right after the entry was recorded.
func (e HistoryEntry) ResultingState() BackgroundState {
	if e.NewBackgroundState != nil {
		return *e.NewBackgroundState
	}
	return e.PreviousBackgroundState
}

// Chain is the refinement state owned by one canonical image identity.
type Chain struct {
	ChainID         string          `json:"chain_id"`
	ImageKey        string          `json:"image_key"`
	Aliases         []string        `json:"aliases,omitempty"`
	BackgroundState BackgroundState `json:"background_state"`
	History         []HistoryEntry  `json:"history"`
	CreatedAt       time.Time       `json:"created_at"`
	LastModified    time.Time       `json:"last_modified"`
}

// Clone returns a deep copy safe to hand out of the registry.
func (c *Chain) Clone() *Chain {
	if c == nil {
		return nil
	}
	out := *c
	out.Aliases = append([]string(nil), c.Aliases...)
	out.History = make([]HistoryEntry, len(c.History))
	for i, entry := range c.History {
		if entry.NewBackgroundState != nil {
			state := *entry.NewBackgroundState
			entry.NewBackgroundState = &state
		}
		out.History[i] = entry
	}
	return &out
}

// HasAlias reports whether alias is already attached to the chain
func (c *Chain) HasAlias(alias string) bool {
	if alias == c.ImageKey {
		return true
	}
	for _, a := range c.Aliases {
		if a == alias {
			return true
		}
	}
	return false
}
