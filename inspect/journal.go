package inspect

import (
	"context"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/GoCodeAlone/microapp/events"
)

// DefaultJournalSize is the number of events a Journal keeps.
const DefaultJournalSize = 256

// Entry is one recorded event.
type Entry struct {
	ID      string       `json:"id"`
	Type    string       `json:"type"`
	Scope   events.Scope `json:"scope,omitempty"`
	App     string       `json:"app,omitempty"`
	Source  string       `json:"source"`
	Subject string       `json:"subject,omitempty"`
	Time    time.Time    `json:"time"`
	Data    any          `json:"data,omitempty"`
}

// Journal is an observer remembering the most recent events.
type Journal struct {
	id string

	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
}

var _ events.Observer = (*Journal)(nil)

// NewJournal creates a journal keeping the last size events. A size below
// one uses DefaultJournalSize.
func NewJournal(size int) *Journal {
	if size < 1 {
		size = DefaultJournalSize
	}
	return &Journal{id: "inspect-journal-" + events.NewID(), entries: make([]Entry, size)}
}

// ObserverID implements events.Observer.
func (j *Journal) ObserverID() string {
	return j.id
}

// OnEvent implements events.Observer.
func (j *Journal) OnEvent(ctx context.Context, event cloudevents.Event) error {
	entry := Entry{
		ID:      event.ID(),
		Type:    event.Type(),
		Scope:   events.ScopeOf(event.Type()),
		App:     events.AppOf(event),
		Source:  event.Source(),
		Subject: event.Subject(),
		Time:    event.Time(),
	}
	var data map[string]any
	if err := event.DataAs(&data); err == nil {
		entry.Data = data
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries[j.next] = entry
	j.next = (j.next + 1) % len(j.entries)
	if j.next == 0 {
		j.full = true
	}
	return nil
}

// Entries returns the recorded events, oldest first. A non-empty eventType
// keeps only events of that type.
func (j *Journal) Entries(eventType string) []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	var ordered []Entry
	if j.full {
		ordered = append(ordered, j.entries[j.next:]...)
	}
	ordered = append(ordered, j.entries[:j.next]...)

	out := make([]Entry, 0, len(ordered))
	for _, e := range ordered {
		if eventType == "" || e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
