package bus

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/dshills/plexus/internal/message"
)

// Common filter predicates for subscriptions.

// FilterBySource creates a filter that only allows messages from the specified source.
func FilterBySource(source string) FilterFunc {
	return func(msg message.Message) bool {
		return msg.Source == source
	}
}

// FilterBySources creates a filter that only allows messages from one of the specified sources.
func FilterBySources(sources ...string) FilterFunc {
	set := make(map[string]bool, len(sources))
	for _, s := range sources {
		set[s] = true
	}
	return func(msg message.Message) bool {
		return set[msg.Source]
	}
}

// FilterExcludeSource drops messages from the specified source. Plugins use
// it to ignore their own broadcasts.
func FilterExcludeSource(source string) FilterFunc {
	return func(msg message.Message) bool {
		return msg.Source != source
	}
}

// FilterByCategory creates a filter for a single category.
func FilterByCategory(c message.Category) FilterFunc {
	return func(msg message.Message) bool {
		return msg.Category == c
	}
}

// FilterByTarget allows intent requests addressed to target and proposals
// addressed to the plugin named target.
func FilterByTarget(target string) FilterFunc {
	return func(msg message.Message) bool {
		switch msg.Category {
		case message.CategoryIntentRequest:
			return msg.Target == target
		case message.CategoryProposal:
			return msg.TargetPlugin == target
		default:
			return false
		}
	}
}

// FilterByTypePrefix allows messages whose type starts with prefix.
func FilterByTypePrefix(prefix string) FilterFunc {
	return func(msg message.Message) bool {
		return strings.HasPrefix(msg.Type, prefix)
	}
}

// FilterPayloadExists allows messages whose JSON payload has a value at path.
// Path syntax is gjson's (for example "user.name" or "items.#").
func FilterPayloadExists(path string) FilterFunc {
	return func(msg message.Message) bool {
		return msg.Lookup(path).Exists()
	}
}

// FilterPayloadEquals allows messages whose payload value at path renders
// as want.
func FilterPayloadEquals(path, want string) FilterFunc {
	return func(msg message.Message) bool {
		r := msg.Lookup(path)
		return r.Exists() && r.String() == want
	}
}

// FilterPayload allows messages whose payload value at path satisfies pred.
func FilterPayload(path string, pred func(gjson.Result) bool) FilterFunc {
	return func(msg message.Message) bool {
		r := msg.Lookup(path)
		return r.Exists() && pred(r)
	}
}

// FilterAnd combines multiple filters with AND logic.
// All filters must pass for the message to be delivered.
func FilterAnd(filters ...FilterFunc) FilterFunc {
	return func(msg message.Message) bool {
		for _, f := range filters {
			if !f(msg) {
				return false
			}
		}
		return true
	}
}

// FilterOr combines multiple filters with OR logic.
// At least one filter must pass for the message to be delivered.
func FilterOr(filters ...FilterFunc) FilterFunc {
	return func(msg message.Message) bool {
		for _, f := range filters {
			if f(msg) {
				return true
			}
		}
		return false
	}
}

// FilterNot negates a filter.
func FilterNot(filter FilterFunc) FilterFunc {
	return func(msg message.Message) bool {
		return !filter(msg)
	}
}
