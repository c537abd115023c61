package lua

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/plexus/internal/batch"
	"github.com/dshills/plexus/internal/bus"
	"github.com/dshills/plexus/internal/message"
	"github.com/dshills/plexus/internal/plugin"
)

// env is everything a started script reaches through the plexus module.
type env struct {
	plugin *Plugin
	state  *State
	pctx   *plugin.Context
	bridge *Bridge

	mu   sync.Mutex
	subs map[string]*bus.Subscription

	// handlers gives each Lua function one bus handler, so subscribing the
	// same function to a type twice keeps a single subscription.
	handlers map[*lua.LFunction]bus.Handler
}

func (e *env) module() map[string]lua.LGFunction {
	return map[string]lua.LGFunction{
		"name":        e.luaName,
		"subscribe":   e.luaSubscribe,
		"unsubscribe": e.luaUnsubscribe,
		"notice":      e.luaNotice,
		"request":     e.luaRequest,
		"respond":     e.luaRespond,
		"propose":     e.luaPropose,
		"flush":       e.luaFlush,
		"observe":     e.luaObserve,
		"parent":      e.luaParent,
		"children":    e.luaChildren,
		"depth":       e.luaDepth,
		"log":         e.logAt(slog.LevelInfo),
		"debug":       e.logAt(slog.LevelDebug),
		"info":        e.logAt(slog.LevelInfo),
		"warn":        e.logAt(slog.LevelWarn),
		"error":       e.logAt(slog.LevelError),
	}
}

// plexus.name() -> string
func (e *env) luaName(L *lua.LState) int {
	L.Push(lua.LString(e.pctx.Name()))
	return 1
}

// plexus.subscribe(type, fn [, {once=bool, source=string, category=string}]) -> id
func (e *env) luaSubscribe(L *lua.LState) int {
	msgType := L.CheckString(1)
	fn := L.CheckFunction(2)

	var opts []bus.SubscriptionOption
	if t, ok := L.Get(3).(*lua.LTable); ok {
		if once, ok := e.bridge.GetTableBool(t, "once"); ok && once {
			opts = append(opts, bus.WithOnce())
		}
		if src, ok := e.bridge.GetTableString(t, "source"); ok {
			opts = append(opts, bus.WithFilter(bus.FilterBySource(src)))
		}
		if cat, ok := e.bridge.GetTableString(t, "category"); ok {
			c := message.ParseCategory(cat)
			if !c.IsKnown() {
				L.ArgError(3, "unknown category "+cat)
				return 0
			}
			opts = append(opts, bus.WithFilter(bus.FilterByCategory(c)))
		}
	}

	sub, err := e.pctx.Subscribe(msgType, e.handlerFor(fn), opts...)
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}

	e.mu.Lock()
	e.subs[sub.ID()] = sub
	e.mu.Unlock()

	L.Push(lua.LString(sub.ID()))
	return 1
}

// plexus.unsubscribe(id) -> bool
func (e *env) luaUnsubscribe(L *lua.LState) int {
	id := L.CheckString(1)

	e.mu.Lock()
	sub, ok := e.subs[id]
	delete(e.subs, id)
	e.mu.Unlock()

	L.Push(lua.LBool(ok && sub.Unsubscribe()))
	return 1
}

// handlerFor returns the bus handler for fn, creating it on first use.
func (e *env) handlerFor(fn *lua.LFunction) bus.Handler {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.handlers[fn]
	if !ok {
		if e.handlers == nil {
			e.handlers = make(map[*lua.LFunction]bus.Handler)
		}
		h = e.handler(fn)
		e.handlers[fn] = h
	}
	return h
}

// handler wraps a Lua function as a bus handler. The function receives the
// message as a table; returning false with an optional reason fails the
// delivery.
func (e *env) handler(fn *lua.LFunction) bus.Handler {
	return bus.NewHandler(func(ctx context.Context, msg message.Message) error {
		return e.state.Do(ctx, func(ctx context.Context, L *lua.LState) error {
			tbl, err := e.bridge.MessageTable(msg)
			if err != nil {
				return err
			}
			results, err := pcall(L, fn, tbl)
			if err != nil {
				return err
			}
			return handlerResult(results)
		})
	})
}

func handlerResult(results []lua.LValue) error {
	if len(results) == 0 || results[0] != lua.LFalse {
		return nil
	}
	herr := &HandlerError{}
	if len(results) > 1 {
		if s, ok := results[1].(lua.LString); ok {
			herr.Reason = string(s)
		}
	}
	return herr
}

// plexus.notice(event_name, payload [, opts]) -> delivered, queued
func (e *env) luaNotice(L *lua.LState) int {
	msg := message.NewNotice(L.CheckString(1), e.bridge.ToGoValue(L.Get(2)))
	return e.publish(L, msg, 3)
}

// plexus.request(target, action, payload [, opts]) -> delivered, queued
func (e *env) luaRequest(L *lua.LState) int {
	msg := message.NewIntentRequest(L.CheckString(1), L.CheckString(2), e.bridge.ToGoValue(L.Get(3)))
	return e.publish(L, msg, 4)
}

// plexus.respond(action, payload [, opts]) -> delivered, queued
func (e *env) luaRespond(L *lua.LState) int {
	msg := message.NewIntentResponse(L.CheckString(1), e.bridge.ToGoValue(L.Get(2)))
	return e.publish(L, msg, 3)
}

// plexus.propose(target_plugin, suggestion, payload [, opts]) -> delivered, queued
func (e *env) luaPropose(L *lua.LState) int {
	msg := message.NewProposal(L.CheckString(1), L.CheckString(2), e.bridge.ToGoValue(L.Get(3)))
	return e.publish(L, msg, 4)
}

// publish applies the options table at argument optsIdx ({priority=string,
// type=string}) and sends msg. A rejected message returns nil and the reason.
func (e *env) publish(L *lua.LState, msg message.Message, optsIdx int) int {
	if t, ok := L.Get(optsIdx).(*lua.LTable); ok {
		if typ, ok := e.bridge.GetTableString(t, "type"); ok {
			msg = msg.WithType(typ)
		}
		if name, ok := e.bridge.GetTableString(t, "priority"); ok {
			prio, known := message.ParsePriority(name)
			if !known {
				L.ArgError(optsIdx, "unknown priority "+name)
				return 0
			}
			msg = msg.WithPriority(prio)
		}
	}
	if msg.Priority == message.PriorityUnset {
		msg = msg.WithPriority(e.plugin.priorityFor(msg.Type))
	}

	report := e.pctx.Publish(e.state.Context(), msg)
	if report.Rejected != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(report.Rejected.Error()))
		return 2
	}
	L.Push(lua.LNumber(report.Delivered))
	L.Push(lua.LBool(report.Queued))
	return 2
}

// plexus.flush() -> delivered
//
// The script holds its state while it runs, and handlers of a flush running
// on another goroutine may be waiting for it, so this never waits for one.
func (e *env) luaFlush(L *lua.LState) int {
	report := e.pctx.Flush(batch.NoWait(e.state.Context()))
	L.Push(lua.LNumber(report.Delivered))
	return 1
}

// plexus.observe(name) -> bool
func (e *env) luaObserve(L *lua.LState) int {
	_, ok := e.pctx.Observe(L.CheckString(1))
	L.Push(lua.LBool(ok))
	return 1
}

// plexus.parent() -> string or nil
func (e *env) luaParent(L *lua.LState) int {
	parent, ok := e.pctx.Parent()
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(parent))
	return 1
}

// plexus.children() -> {string}
func (e *env) luaChildren(L *lua.LState) int {
	L.Push(e.bridge.ToLuaValue(e.pctx.Children()))
	return 1
}

// plexus.depth() -> number
func (e *env) luaDepth(L *lua.LState) int {
	L.Push(lua.LNumber(e.pctx.Depth()))
	return 1
}

// logAt returns plexus.<level>(msg [, fields]).
func (e *env) logAt(level slog.Level) lua.LGFunction {
	return func(L *lua.LState) int {
		msg := L.CheckString(1)

		var attrs []any
		if t, ok := L.Get(2).(*lua.LTable); ok {
			fields, _ := e.bridge.ToGoValue(t).(map[string]any)
			keys := make([]string, 0, len(fields))
			for k := range fields {
				keys = append(keys, k)
			}
			slices.Sort(keys)
			for _, k := range keys {
				attrs = append(attrs, k, fields[k])
			}
		}
		e.pctx.Logger().Log(e.state.Context(), level, msg, attrs...)
		return 0
	}
}

func (e *env) unsubscribeAll() {
	e.mu.Lock()
	subs := e.subs
	e.subs = make(map[string]*bus.Subscription)
	e.handlers = nil
	e.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
}
