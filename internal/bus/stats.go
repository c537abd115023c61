package bus

import "sort"

// TypeStats describes the subscribers of one message type.
type TypeStats struct {
	Type            string
	SubscriberCount int
	Channel         int
}

// Stats is a point-in-time view of the bus.
type Stats struct {
	// MessageTypes is the number of types with at least one subscriber.
	MessageTypes int

	// TotalSubscribers counts subscriptions across all types.
	TotalSubscribers int

	// Subscriptions lists per-type counts sorted by type.
	Subscriptions []TypeStats

	Mode     Mode
	Channels int
	Running  bool
	Paused   bool

	Published     uint64
	Delivered     uint64
	Rejected      uint64
	HandlerErrors uint64
	HandlerPanics uint64
	TopologySwaps uint64
}

// Stats returns current bus statistics.
func (m *Manager) Stats() Stats {
	s := Stats{
		Mode:          m.Mode(),
		Channels:      m.ChannelCount(),
		Running:       m.IsRunning(),
		Paused:        m.IsPaused(),
		Published:     m.published.Load(),
		Delivered:     m.delivered.Load(),
		Rejected:      m.rejected.Load(),
		HandlerErrors: m.handlerErrors.Load(),
		HandlerPanics: m.handlerPanics.Load(),
		TopologySwaps: m.swaps.Load(),
	}

	t := m.topo.Load()
	if t == nil {
		return s
	}

	for _, ch := range t.channels {
		ch.mu.RLock()
		for typ, subs := range ch.table {
			s.Subscriptions = append(s.Subscriptions, TypeStats{
				Type:            typ,
				SubscriberCount: len(subs),
				Channel:         ch.id,
			})
			s.TotalSubscribers += len(subs)
		}
		ch.mu.RUnlock()
	}
	sort.Slice(s.Subscriptions, func(i, j int) bool {
		return s.Subscriptions[i].Type < s.Subscriptions[j].Type
	})
	s.MessageTypes = len(s.Subscriptions)
	return s
}
