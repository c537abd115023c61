// Package lua runs Lua scripts as plugins.
//
// A script reaches the runtime through the plexus module:
//
//	plexus.subscribe("file.saved", function(msg)
//	    plexus.info("saved", {path = msg.payload.path})
//	    plexus.request("indexer", "index.file", {path = msg.payload.path})
//	end)
//
//	function on_stop()
//	    plexus.notice("spell.stopped", nil, {priority = "urgent"})
//	end
//
// Handlers receive the message as a table with the fields id, category,
// type, source, timestamp, payload and the category-specific fields
// (event_name, target, action, target_plugin, suggestion). Returning false
// and a reason fails the delivery.
//
// # State
//
// State wraps a gopher-lua LState. Only the base, package, table, string
// and math libraries are opened, and the Sandbox removes the functions
// that load code. Grants add back os.getenv ("env") and os.time/os.clock
// ("time").
//
// Calls into a State are serialized, but a call may nest inside another
// when Lua code publishes a message that is delivered synchronously to a
// handler of the same script. Nesting is tracked through the context
// passed to each call, so the inner call proceeds instead of deadlocking.
//
// # Bridge
//
// Bridge converts between Go and Lua values. Payloads cross into Lua
// through their JSON form, so a handler sees the same shape regardless of
// the Go type the publisher used.
package lua
