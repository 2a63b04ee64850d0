// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package gateway

// Event is one broadcast payload emitted by the core (a chat response, a
// node lifecycle change, ...). Kind names the event for filtering; Data
// is the JSON-serialisable payload delivered to subscribed clients.
type Event struct {
	Kind string
	Data any
}

// Subscription is an opaque per-client event filter. The zero value
// accepts every event (the common "operator UI wants everything" case).
type Subscription struct {
	kinds map[string]bool // nil/empty means "accept all"
}

// NewSubscription builds a filter that only accepts the given event
// kinds. An empty kinds list accepts everything.
func NewSubscription(kinds ...string) Subscription {
	if len(kinds) == 0 {
		return Subscription{}
	}
	m := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		m[k] = true
	}
	return Subscription{kinds: m}
}

// Accepts reports whether evt passes this subscription's filter.
func (s Subscription) Accepts(evt Event) bool {
	if len(s.kinds) == 0 {
		return true
	}
	return s.kinds[evt.Kind]
}
