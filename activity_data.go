package activityz

import (
	"fmt"
	"iter"
	"time"
)

// ActivityEvent is a named, timestamped point within an activity.
type ActivityEvent struct {
	Timestamp time.Time  `json:"timestamp"`
	Name      string     `json:"name"`
	Tags      []KeyValue `json:"tags,omitempty"`
}

// NewActivityEvent creates an event with a zero timestamp. AddEvent stamps
// it from the clock of the activity it is added to.
func NewActivityEvent(name string, tags ...KeyValue) ActivityEvent {
	return ActivityEvent{Name: name, Tags: tags}
}

// ActivityLink relates an activity to another trace context. Links are set
// when the activity is created.
type ActivityLink struct {
	Context ActivityContext `json:"context"`
	Tags    []KeyValue      `json:"tags,omitempty"`
}

// Tag keys used by AddException.
const (
	ExceptionEventName  = "exception"
	ExceptionTypeTag    = "exception.type"
	ExceptionMessageTag = "exception.message"
)

// SetTag sets key to value, replacing an existing entry. A nil value removes
// the tag.
func (a *Activity) SetTag(key string, value any) {
	if a == nil {
		return
	}
	if l := a.tags.Load(); l != nil {
		l.Set(key, value)
		return
	}
	if value == nil {
		return
	}
	if a.tags.CompareAndSwap(nil, newTagList(KeyValue{Key: key, Value: value})) {
		return
	}
	a.tags.Load().Set(key, value)
}

// AddTag appends a tag, allowing duplicate keys.
func (a *Activity) AddTag(key string, value any) {
	if a == nil {
		return
	}
	kv := KeyValue{Key: key, Value: value}
	if l := a.tags.Load(); l != nil {
		l.Add(kv)
		return
	}
	if a.tags.CompareAndSwap(nil, newTagList(kv)) {
		return
	}
	a.tags.Load().Add(kv)
}

func (a *Activity) addTags(tags []KeyValue) {
	for _, kv := range tags {
		a.AddTag(kv.Key, kv.Value)
	}
}

// GetTagItem returns the first value stored under key.
func (a *Activity) GetTagItem(key string) (any, bool) {
	if a == nil {
		return nil, false
	}
	l := a.tags.Load()
	if l == nil {
		return nil, false
	}
	return l.Get(key)
}

// TagObjects walks every tag in insertion order.
func (a *Activity) TagObjects() iter.Seq2[string, any] {
	return func(yield func(string, any) bool) {
		if a == nil {
			return
		}
		l := a.tags.Load()
		if l == nil {
			return
		}
		for kv := range l.All() {
			if !yield(kv.Key, kv.Value) {
				return
			}
		}
	}
}

// Tags walks the string-valued tags in insertion order.
func (a *Activity) Tags() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		for k, v := range a.TagObjects() {
			s, ok := v.(string)
			if !ok {
				continue
			}
			if !yield(k, s) {
				return
			}
		}
	}
}

func (a *Activity) tagSlice() []KeyValue {
	if l := a.tags.Load(); l != nil {
		return l.Slice()
	}
	return nil
}

// AddBaggage links a baggage item in front of the existing ones, allowing
// duplicate keys.
func (a *Activity) AddBaggage(key, value string) {
	if a == nil {
		return
	}
	item := BaggageItem{Key: key, Value: value}
	if l := a.baggage.Load(); l != nil {
		l.AddFront(item)
		return
	}
	if a.baggage.CompareAndSwap(nil, newBaggageList(item)) {
		return
	}
	a.baggage.Load().AddFront(item)
}

// SetBaggage updates key on this activity, adding it if missing.
func (a *Activity) SetBaggage(key, value string) {
	if a == nil {
		return
	}
	if l := a.baggage.Load(); l != nil {
		l.Set(key, value)
		return
	}
	if a.baggage.CompareAndSwap(nil, newBaggageList(BaggageItem{Key: key, Value: value})) {
		return
	}
	a.baggage.Load().Set(key, value)
}

// RemoveBaggage removes key from this activity. Ancestors are untouched.
func (a *Activity) RemoveBaggage(key string) {
	if a == nil {
		return
	}
	if l := a.baggage.Load(); l != nil {
		l.Remove(baggageKeyIs(key))
	}
}

// GetBaggageItem returns the value of key from this activity or the closest
// ancestor carrying it.
func (a *Activity) GetBaggageItem(key string) string {
	for act := a; act != nil; act = act.parent {
		if l := act.baggage.Load(); l != nil {
			if v, ok := l.Get(key); ok {
				return v
			}
		}
	}
	return ""
}

// Baggage walks local baggage, newest first, followed by that of each
// ancestor. Each activity's list is captured when the walk reaches it.
func (a *Activity) Baggage() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		for act := a; act != nil; act = act.parent {
			l := act.baggage.Load()
			if l == nil {
				continue
			}
			for item := range l.All() {
				if !yield(item.Key, item.Value) {
					return
				}
			}
		}
	}
}

// AddEvent records an event. A zero timestamp is replaced with the current time.
func (a *Activity) AddEvent(e ActivityEvent) {
	if a == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = a.now()
	}
	if l := a.events.Load(); l != nil {
		l.Add(e)
		return
	}
	if a.events.CompareAndSwap(nil, newLinkedList(e)) {
		return
	}
	a.events.Load().Add(e)
}

// AddException records err as an exception event.
func (a *Activity) AddException(err error, tags ...KeyValue) {
	if a == nil || err == nil {
		return
	}
	all := make([]KeyValue, 0, len(tags)+2)
	all = append(all,
		KeyValue{Key: ExceptionTypeTag, Value: fmt.Sprintf("%T", err)},
		KeyValue{Key: ExceptionMessageTag, Value: err.Error()},
	)
	all = append(all, tags...)
	a.AddEvent(ActivityEvent{Name: ExceptionEventName, Tags: all})
}

// Events returns a copy of the recorded events in order.
func (a *Activity) Events() []ActivityEvent {
	if a == nil {
		return nil
	}
	if l := a.events.Load(); l != nil {
		return l.Slice()
	}
	return nil
}

// Links returns a copy of the links set at creation.
func (a *Activity) Links() []ActivityLink {
	if a == nil {
		return nil
	}
	if l := a.links.Load(); l != nil {
		return l.Slice()
	}
	return nil
}

func (a *Activity) setLinks(links []ActivityLink) {
	if len(links) == 0 {
		return
	}
	l := newLinkedList(links[0])
	for _, link := range links[1:] {
		l.Add(link)
	}
	a.links.Store(l)
}
