package ir

// EventType is the kind of a write event.
type EventType string

const (
	EventCreate EventType = "create"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// WriteEvent is the unit of persistence. Create carries the full instance,
// update carries only changed fields (IRNull clears a field), delete carries
// no fields.
type WriteEvent struct {
	Type   EventType `json:"type"`
	FQID   FQID      `json:"fqid"`
	Fields IRObject  `json:"fields,omitempty"`
}

func (ev WriteEvent) toIR() IRValue {
	obj := IRObject{
		"type": IRString(ev.Type),
		"fqid": IRString(ev.FQID),
	}
	if ev.Fields != nil {
		obj["fields"] = ev.Fields
	}
	return obj
}

// HistoryEntry is one audit line: a template with {} placeholders and the
// FQIDs that fill them, attached to the instance it describes.
type HistoryEntry struct {
	FQID     FQID   `json:"fqid"`
	Template string `json:"template"`
	Args     []FQID `json:"args,omitempty"`
}

// WriteRequest is everything one dispatch commits, in one position.
type WriteRequest struct {
	RequestID string         `json:"request_id"`
	UserID    int64          `json:"user_id"`
	Timestamp int64          `json:"timestamp"`
	Events    []WriteEvent   `json:"events"`
	History   []HistoryEntry `json:"history,omitempty"`

	// Locks maps an instance to the position it had when read. The write
	// fails with a lock conflict if the stored position differs.
	Locks map[FQID]int64 `json:"locks,omitempty"`

	// CollectionLocks maps a collection to its highest position when a
	// filter over it was read. Any later change in the collection conflicts.
	CollectionLocks map[string]int64 `json:"collection_locks,omitempty"`
}

// Empty reports whether the request carries nothing to persist.
func (r WriteRequest) Empty() bool {
	return len(r.Events) == 0 && len(r.History) == 0
}
