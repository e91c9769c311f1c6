package realtime

import (
	"fmt"
	"time"
)

// Event is a kind of row change.
type Event string

const (
	EventAll    Event = "*"
	EventInsert Event = "INSERT"
	EventUpdate Event = "UPDATE"
	EventDelete Event = "DELETE"
)

// Filter selects the row changes a subscription receives. Column and Value are optional and
// restrict changes to rows where Column equals Value. No Events means every kind.
type Filter struct {
	Table  string
	Events []Event
	Column string
	Value  string
}

// key identifies the channel of a filter, the events are not part of it.
func (f Filter) key() string {
	return fmt.Sprintf("%s:%s", f.Table, f.expr())
}

func (f Filter) expr() string {
	if f.Column == "" {
		return ""
	}

	return fmt.Sprintf("%s=eq.%s", f.Column, f.Value)
}

func (f Filter) name() string {
	if f.Value == "" {
		return f.Table
	}

	return f.Table + "-" + f.Value
}

func (f Filter) events() []Event {
	if len(f.Events) == 0 {
		return []Event{EventAll}
	}

	return f.Events
}

func (f Filter) wants(e Event) bool {
	for _, want := range f.events() {
		if want == EventAll || want == e {
			return true
		}
	}

	return false
}

// Change is a row change delivered to a handler.
type Change struct {
	Type            Event
	Schema          string
	Table           string
	Record          map[string]interface{}
	OldRecord       map[string]interface{}
	CommitTimestamp time.Time
}

// Handler receives the changes of a subscription, one at a time and in the order the backend sent them.
type Handler func(Change)
