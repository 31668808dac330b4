package models

import "github.com/google/uuid"

// SubscriptionOptions controls which events a subscription receives.
type SubscriptionOptions struct {
	EventKinds              map[EventKind]struct{}
	SourceIDs               map[ComponentID]struct{}
	Filter                  func(Event) bool
	IncludeConnectedSources bool
	Synchronous             bool
}

// MatchesKind reports whether the EventKinds gate of these options admits
// the given kind (an empty set admits every kind). Source matching, topology
// routing and the Filter predicate are not applied here.
func (o SubscriptionOptions) MatchesKind(kind EventKind) bool {
	if len(o.EventKinds) == 0 {
		return true
	}
	_, ok := o.EventKinds[kind]
	return ok
}

// MatchesDirectSource reports whether the event's source, or its routing
// targets, intersect this subscription's SourceIDs set directly (cases (a),
// (b), (c) of the spec's subscription-matching rule; case (d) — topology
// fan-out — is evaluated separately by the bus using the topology service).
func (o SubscriptionOptions) MatchesDirectSource(ev Event) bool {
	if len(o.SourceIDs) == 0 {
		return true
	}
	if _, ok := o.SourceIDs[ev.SourceID]; ok {
		return true
	}
	for target := range ev.Routing.TargetIDs {
		if _, ok := o.SourceIDs[target]; ok {
			return true
		}
	}
	return false
}

// SubscriptionID identifies a registered subscription.
type SubscriptionID = uuid.UUID
