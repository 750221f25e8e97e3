package session

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/rickgao/kucoin-stream/internal/topic"
)

// RecordState is the lifecycle state of a subscription record.
type RecordState int

const (
	RecordPending RecordState = iota
	RecordActive
	RecordUnsubscribing
)

func (s RecordState) String() string {
	switch s {
	case RecordPending:
		return "pending"
	case RecordActive:
		return "active"
	case RecordUnsubscribing:
		return "unsubscribing"
	default:
		return fmt.Sprintf("record_state(%d)", int(s))
	}
}

// Record is one logical subscription.
type Record struct {
	ID      string
	Prefix  string
	Args    []string // original order, as sent on the wire
	Handler Handler
	State   RecordState
}

// routable reports whether data frames may reach the handler.
func (r *Record) routable() bool {
	return r.State == RecordActive || r.State == RecordUnsubscribing
}

// Registry maps subscription ids to records and wire topics back to ids.
// It is not safe for concurrent use; the Service loop owns it.
type Registry struct {
	records map[string]*Record
	// prefix -> arg -> ids claiming that topic, oldest first. Zero-arg
	// subscriptions use the empty arg.
	topics map[string]map[string][]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		records: make(map[string]*Record),
		topics:  make(map[string]map[string][]string),
	}
}

// InsertPending adds rec in the Pending state. Any existing record with the
// same id, in any state, makes this a duplicate.
func (r *Registry) InsertPending(rec *Record) error {
	if _, ok := r.records[rec.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateSubscription, rec.ID)
	}

	rec.State = RecordPending
	r.records[rec.ID] = rec

	args := r.topics[rec.Prefix]
	if args == nil {
		args = make(map[string][]string)
		r.topics[rec.Prefix] = args
	}
	for _, arg := range topicArgs(rec.Args) {
		args[arg] = append(args[arg], rec.ID)
	}
	return nil
}

// Activate marks a record Active, making it visible to LookupByTopic.
func (r *Registry) Activate(id string) bool {
	return r.SetState(id, RecordActive)
}

// SetState changes the state of an existing record.
func (r *Registry) SetState(id string, state RecordState) bool {
	rec, ok := r.records[id]
	if !ok {
		return false
	}
	rec.State = state
	return true
}

// Get returns the record for id.
func (r *Registry) Get(id string) (*Record, bool) {
	rec, ok := r.records[id]
	return rec, ok
}

// Remove deletes a record and its topic claims.
func (r *Registry) Remove(id string) (*Record, bool) {
	rec, ok := r.records[id]
	if !ok {
		return nil, false
	}
	delete(r.records, id)

	args := r.topics[rec.Prefix]
	for _, arg := range topicArgs(rec.Args) {
		ids := slices.DeleteFunc(args[arg], func(s string) bool { return s == id })
		if len(ids) == 0 {
			delete(args, arg)
		} else {
			args[arg] = ids
		}
	}
	if len(args) == 0 {
		delete(r.topics, rec.Prefix)
	}
	return rec, true
}

// LookupByTopic finds the record owning a wire topic. Only Active and
// Unsubscribing records are returned. When several records claim the same
// topic the oldest routable one wins.
func (r *Registry) LookupByTopic(wireTopic string) (*Record, bool) {
	prefix, arg := topic.Split(wireTopic)
	args, ok := r.topics[prefix]
	if !ok {
		return nil, false
	}
	for _, id := range args[arg] {
		if rec := r.records[id]; rec != nil && rec.routable() {
			return rec, true
		}
	}
	return nil, false
}

// AllActive returns the Active records ordered by id.
func (r *Registry) AllActive() []*Record {
	var out []*Record
	for _, rec := range r.records {
		if rec.State == RecordActive {
			out = append(out, rec)
		}
	}
	slices.SortFunc(out, byID)
	return out
}

// All returns every record ordered by id.
func (r *Registry) All() []*Record {
	out := make([]*Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	slices.SortFunc(out, byID)
	return out
}

// Len returns the number of records in any state.
func (r *Registry) Len() int {
	return len(r.records)
}

// Clear removes every record and returns them.
func (r *Registry) Clear() []*Record {
	all := r.All()
	r.records = make(map[string]*Record)
	r.topics = make(map[string]map[string][]string)
	return all
}

func byID(a, b *Record) int {
	return cmp.Compare(a.ID, b.ID)
}

// topicArgs lists the per-topic args a record claims; a zero-arg record
// claims the bare prefix.
func topicArgs(args []string) []string {
	if len(args) == 0 {
		return []string{""}
	}
	return args
}
