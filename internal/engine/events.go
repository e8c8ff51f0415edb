package engine

import "github.com/roach88/plenum/internal/ir"

// eventLog coalesces the write events of one dispatch to at most one event
// per instance, in order of first appearance.
//
//   - create + update  -> create with the merged state
//   - update + update  -> update with the merged patch
//   - x + delete       -> delete
//   - create + delete  -> nothing
type eventLog struct {
	order  []ir.FQID
	events map[ir.FQID]*ir.WriteEvent
}

func newEventLog() *eventLog {
	return &eventLog{events: make(map[ir.FQID]*ir.WriteEvent)}
}

func (l *eventLog) put(ev *ir.WriteEvent) {
	if _, seen := l.events[ev.FQID]; !seen {
		l.order = append(l.order, ev.FQID)
	}
	l.events[ev.FQID] = ev
}

func (l *eventLog) create(fqid ir.FQID, data ir.IRObject) {
	l.put(&ir.WriteEvent{Type: ir.EventCreate, FQID: fqid, Fields: ir.IRObject{}.Merge(data)})
}

func (l *eventLog) update(fqid ir.FQID, patch ir.IRObject) {
	ev, ok := l.events[fqid]
	switch {
	case ok && ev.Type == ir.EventCreate:
		ev.Fields = ev.Fields.Merge(patch)
	case ok && ev.Type == ir.EventUpdate:
		for k, v := range patch {
			ev.Fields[k] = v
		}
	default:
		l.put(&ir.WriteEvent{Type: ir.EventUpdate, FQID: fqid, Fields: patch.Clone()})
	}
}

func (l *eventLog) delete(fqid ir.FQID) {
	if ev, ok := l.events[fqid]; ok && ev.Type == ir.EventCreate {
		delete(l.events, fqid)
		return
	}
	l.put(&ir.WriteEvent{Type: ir.EventDelete, FQID: fqid})
}

// list returns the coalesced events.
func (l *eventLog) list() []ir.WriteEvent {
	out := make([]ir.WriteEvent, 0, len(l.events))
	for _, fqid := range l.order {
		if ev, ok := l.events[fqid]; ok {
			out = append(out, *ev)
		}
	}
	return out
}
