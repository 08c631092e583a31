package knowledge

import "github.com/knowledgerepo/knowledge-repository/internal/knowledge/subscription"

// EventType is the kind of change a notification reports.
type EventType string

const (
	EventAdded   EventType = "added"
	EventUpdated EventType = "updated"
	EventDeleted EventType = "deleted"
)

// Event is delivered to a matching subscriber's handler.
type Event struct {
	Type EventType
	Item *Item
	// PreviousItem is populated on EventUpdated, carrying the superseded
	// version so handlers can diff old vs. new.
	PreviousItem *Item
}

// NotificationFilter reports whether an event matches a subscription's
// interest.
type NotificationFilter = subscription.Filter[Event]

// NotificationHandler processes one delivered event.
type NotificationHandler = subscription.Handler[Event]

// notificationFilterFunc adapts a function to a NotificationFilter.
type notificationFilterFunc func(Event) bool

func (f notificationFilterFunc) Matches(ev Event) bool { return f(ev) }

// AnyEvent subscribes to every event, unconditionally.
func AnyEvent() NotificationFilter {
	return notificationFilterFunc(func(Event) bool { return true })
}

// ByTopics matches events whose item topic is in the given set.
func ByTopics(topics ...string) NotificationFilter {
	set := toSet(topics)
	return notificationFilterFunc(func(ev Event) bool {
		_, ok := set[ev.Item.Topic]
		return ok
	})
}

// ByTypes matches events whose item type is in the given set.
func ByTypes(types ...Type) NotificationFilter {
	set := make(map[Type]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return notificationFilterFunc(func(ev Event) bool {
		_, ok := set[ev.Item.Type]
		return ok
	})
}

// ByStatuses matches events whose item status is in the given set.
func ByStatuses(statuses ...Status) NotificationFilter {
	set := make(map[Status]struct{}, len(statuses))
	for _, s := range statuses {
		set[s] = struct{}{}
	}
	return notificationFilterFunc(func(ev Event) bool {
		_, ok := set[ev.Item.Status]
		return ok
	})
}

// BySources matches events whose item source id is in the given set.
func BySources(sources ...string) NotificationFilter {
	set := toSet(sources)
	return notificationFilterFunc(func(ev Event) bool {
		_, ok := set[ev.Item.SourceID]
		return ok
	})
}

// ByTagsAny matches events whose item carries at least one of the given tags.
func ByTagsAny(tags ...string) NotificationFilter {
	return notificationFilterFunc(func(ev Event) bool {
		for _, t := range tags {
			if ev.Item.HasTag(t) {
				return true
			}
		}
		return false
	})
}

// ByTagsAll matches events whose item carries every one of the given tags.
func ByTagsAll(tags ...string) NotificationFilter {
	return notificationFilterFunc(func(ev Event) bool {
		for _, t := range tags {
			if !ev.Item.HasTag(t) {
				return false
			}
		}
		return true
	})
}

// And composes filters with logical AND.
func And(filters ...NotificationFilter) NotificationFilter {
	return notificationFilterFunc(func(ev Event) bool {
		for _, f := range filters {
			if !f.Matches(ev) {
				return false
			}
		}
		return true
	})
}

// Or composes filters with logical OR.
func Or(filters ...NotificationFilter) NotificationFilter {
	return notificationFilterFunc(func(ev Event) bool {
		for _, f := range filters {
			if f.Matches(ev) {
				return true
			}
		}
		return false
	})
}

// Not negates a filter.
func Not(f NotificationFilter) NotificationFilter {
	return notificationFilterFunc(func(ev Event) bool { return !f.Matches(ev) })
}

func toSet(vals []string) map[string]struct{} {
	set := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		set[v] = struct{}{}
	}
	return set
}
