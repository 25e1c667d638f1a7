// Package room keeps the participant list of a call.
package room

import (
	"sort"
)

// StreamHandle is the media a participant is seen through: the local
// capture session or a remote peer's incoming stream.
type StreamHandle interface {
	StreamID() string
}

type Participant struct {
	ID              string
	DisplayName     string
	IsLocal         bool
	AudioEnabled    bool
	VideoEnabled    bool
	IsScreenSharing bool
	Stream          StreamHandle
}

type entry struct {
	p   Participant
	seq uint64
}

// Registry is the authoritative participant map. It is not safe for
// concurrent use; the call session confines it to its loop.
type Registry struct {
	entries map[string]*entry
	localID string
	seq     uint64

	subs    map[int]func([]Participant)
	nextSub int
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		subs:    make(map[int]func([]Participant)),
	}
}

// SetLocal creates or replaces the local participant. A previous local
// entry with a different id is dropped, so there is never more than one.
func (r *Registry) SetLocal(p Participant) {
	p.IsLocal = true
	if r.localID != "" && r.localID != p.ID {
		delete(r.entries, r.localID)
	}
	r.localID = p.ID

	if e, ok := r.entries[p.ID]; ok {
		e.p = p
	} else {
		r.insert(p)
	}
	r.notify()
}

// UpsertRemote applies f to the remote entry id, creating it first if
// needed. It reports false when id is the local participant.
func (r *Registry) UpsertRemote(id string, f func(*Participant)) bool {
	if id == "" || id == r.localID {
		return false
	}
	e, ok := r.entries[id]
	if !ok {
		e = r.insert(Participant{ID: id})
	}
	before := e.p
	r.apply(e, f)
	if !ok || e.p != before {
		r.notify()
	}
	return true
}

// Update applies f to an existing entry. It reports whether id exists.
func (r *Registry) Update(id string, f func(*Participant)) bool {
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	before := e.p
	r.apply(e, f)
	if e.p != before {
		r.notify()
	}
	return true
}

func (r *Registry) apply(e *entry, f func(*Participant)) {
	next := e.p
	if f != nil {
		f(&next)
	}
	next.ID = e.p.ID
	next.IsLocal = e.p.IsLocal
	e.p = next
}

func (r *Registry) insert(p Participant) *entry {
	r.seq++
	e := &entry{p: p, seq: r.seq}
	r.entries[p.ID] = e
	return e
}

// Remove deletes id. Removing an absent id changes nothing.
func (r *Registry) Remove(id string) bool {
	if _, ok := r.entries[id]; !ok {
		return false
	}
	delete(r.entries, id)
	if id == r.localID {
		r.localID = ""
	}
	r.notify()
	return true
}

func (r *Registry) Get(id string) (Participant, bool) {
	e, ok := r.entries[id]
	if !ok {
		return Participant{}, false
	}
	return e.p, true
}

func (r *Registry) Local() (Participant, bool) {
	if r.localID == "" {
		return Participant{}, false
	}
	return r.Get(r.localID)
}

func (r *Registry) Len() int { return len(r.entries) }

// Participants returns the local participant first, then everyone else in
// join order.
func (r *Registry) Participants() []Participant {
	list := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].p.IsLocal != list[j].p.IsLocal {
			return list[i].p.IsLocal
		}
		return list[i].seq < list[j].seq
	})

	out := make([]Participant, len(list))
	for i, e := range list {
		out[i] = e.p
	}
	return out
}

// Subscribe registers f to receive the participant list after every
// change. Subscribers share the slice and must not modify it. The
// returned func unregisters f.
func (r *Registry) Subscribe(f func([]Participant)) func() {
	id := r.nextSub
	r.nextSub++
	r.subs[id] = f
	return func() { delete(r.subs, id) }
}

// Clear removes everyone, the local participant included.
func (r *Registry) Clear() {
	if len(r.entries) == 0 {
		return
	}
	r.entries = make(map[string]*entry)
	r.localID = ""
	r.notify()
}

func (r *Registry) notify() {
	if len(r.subs) == 0 {
		return
	}
	ids := make([]int, 0, len(r.subs))
	for id := range r.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	snapshot := r.Participants()
	for _, id := range ids {
		if f, ok := r.subs[id]; ok {
			f(snapshot)
		}
	}
}
