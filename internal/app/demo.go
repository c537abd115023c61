package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"github.com/dshills/plexus/internal/bus"
	"github.com/dshills/plexus/internal/hierarchy"
	"github.com/dshills/plexus/internal/message"
	"github.com/dshills/plexus/internal/plugin"
)

// Demo plugin names.
const (
	demoEditor = "editor"
	demoSpell  = "editor.spell"
	demoLint   = "editor.lint"
	demoStyle  = "editor.lint.style"
	demoAudit  = "audit"
)

// DemoResult summarizes what the demo observed.
type DemoResult struct {
	Responses   int    // spell check responses the editor received
	Saves       int    // document.saved notices the audit plugin saw
	CursorMoves int    // cursor.moved notices delivered by the end of the run
	QueuedMoves int    // cursor.moved notices held by the batcher
	NodeRemoved bool   // the audit plugin saw hierarchy.node_removed
	StyleParent string // parent of editor.lint.style after detaching editor.lint
	Snapshot    Snapshot
}

// RunDemo attaches a small set of sample plugins to r, runs the publish,
// request/response, batching and hierarchy scenarios, and writes a report
// to w. r must be started.
func RunDemo(ctx context.Context, r *Runtime, w io.Writer) (DemoResult, error) {
	if !r.IsRunning() {
		return DemoResult{}, ErrNotRunning
	}

	var (
		res       DemoResult
		responses atomic.Int32
		saves     atomic.Int32
		moves     atomic.Int32
		removed   atomic.Bool
	)

	audit := &plugin.Funcs{
		PluginName: demoAudit,
		OnStart: func(_ context.Context, pctx *plugin.Context) error {
			if _, err := pctx.SubscribeFunc("document.saved", func(context.Context, message.Message) error {
				saves.Add(1)
				return nil
			}); err != nil {
				return err
			}
			if _, err := pctx.SubscribeFunc("cursor.moved", func(context.Context, message.Message) error {
				moves.Add(1)
				return nil
			}); err != nil {
				return err
			}
			_, err := pctx.SubscribeFunc(hierarchy.EventNodeRemoved, func(_ context.Context, msg message.Message) error {
				if msg.Lookup("id").String() == demoLint {
					removed.Store(true)
				}
				return nil
			})
			return err
		},
	}

	var editorCtx *plugin.Context
	editor := &plugin.Funcs{
		PluginName: demoEditor,
		OnStart: func(_ context.Context, pctx *plugin.Context) error {
			editorCtx = pctx
			_, err := pctx.SubscribeFunc("spell.check"+message.ResponseSuffix, func(_ context.Context, msg message.Message) error {
				responses.Add(1)
				pctx.Logger().Debug("spell check answered", "suggestion", msg.Lookup("suggestion").String())
				return nil
			})
			return err
		},
	}

	spell := &plugin.Funcs{
		PluginName: demoSpell,
		OnStart: func(_ context.Context, pctx *plugin.Context) error {
			_, err := pctx.SubscribeFunc("spell.check", func(ctx context.Context, msg message.Message) error {
				word := msg.Lookup("word").String()
				if word == "" {
					return errors.New("spell.check: no word")
				}
				answer := message.NewIntentResponse("spell.check", map[string]any{
					"word":       word,
					"suggestion": suggest(word),
				}).WithPriority(message.PriorityUrgent)
				return pctx.Publish(ctx, answer).Err()
			}, bus.WithFilter(func(msg message.Message) bool { return msg.Target == demoSpell }))
			return err
		},
	}

	lint := &plugin.Funcs{PluginName: demoLint}
	style := &plugin.Funcs{PluginName: demoStyle}

	plugins := []struct {
		p      plugin.Plugin
		parent string
	}{
		{audit, ""},
		{editor, ""},
		{spell, demoEditor},
		{lint, demoEditor},
		{style, demoLint},
	}
	for _, a := range plugins {
		if err := r.Plugins().Attach(ctx, a.p, a.parent); err != nil {
			return res, fmt.Errorf("attach %s: %w", a.p.Name(), err)
		}
	}
	fmt.Fprintf(w, "attached %d plugins\n", r.Plugins().Count())
	writeTree(w, r.Hierarchy())

	// Notice that skips the batcher.
	save := message.NewNotice("document.saved", map[string]any{"path": "main.go"}).
		WithPriority(message.PriorityUrgent)
	report := editorCtx.Publish(ctx, save)
	fmt.Fprintf(w, "\n[publish] document.saved: delivered=%d succeeded=%d\n", report.Delivered, report.Succeeded)

	// Request answered synchronously by the spell checker.
	ask := message.NewIntentRequest(demoSpell, "spell.check", map[string]any{"word": "teh"}).
		WithPriority(message.PriorityImmediate)
	report = editorCtx.Publish(ctx, ask)
	fmt.Fprintf(w, "[request] spell.check: delivered=%d failed=%d responses=%d\n",
		report.Delivered, report.Failed, responses.Load())

	// Batched notices held until flush.
	for i := range 5 {
		report = editorCtx.Notice(ctx, "cursor.moved", map[string]any{"line": i + 1, "column": 1})
		if report.Queued {
			res.QueuedMoves++
		}
	}
	fmt.Fprintf(w, "[batch] cursor.moved: queued=%d delivered_before_flush=%d\n", res.QueuedMoves, moves.Load())
	report = editorCtx.Flush(ctx)
	fmt.Fprintf(w, "[batch] flush: delivered=%d\n", report.Delivered)

	// Detach the lint plugin and promote its child to the editor.
	if err := r.Plugins().Detach(ctx, demoLint, hierarchy.PromoteChildren); err != nil {
		return res, fmt.Errorf("detach %s: %w", demoLint, err)
	}
	res.StyleParent, _ = r.Hierarchy().Parent(demoStyle)
	fmt.Fprintf(w, "\n[hierarchy] detached %s (promote children): %s now under %s\n",
		demoLint, demoStyle, res.StyleParent)
	writeTree(w, r.Hierarchy())

	res.Responses = int(responses.Load())
	res.Saves = int(saves.Load())
	res.CursorMoves = int(moves.Load())
	res.NodeRemoved = removed.Load()
	res.Snapshot = r.Stats()

	writeStats(w, res.Snapshot)
	return res, nil
}

// suggest fixes a couple of common typos.
func suggest(word string) string {
	switch word {
	case "teh":
		return "the"
	case "recieve":
		return "receive"
	default:
		return word
	}
}

func writeTree(w io.Writer, tree *hierarchy.Manager) {
	var walk func(id string, depth int)
	walk = func(id string, depth int) {
		fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", depth+1), id)
		for _, child := range tree.Children(id) {
			walk(child, depth+1)
		}
	}
	for _, root := range tree.Roots() {
		walk(root, 0)
	}
}

func writeStats(w io.Writer, s Snapshot) {
	fmt.Fprintf(w, "\nstats:\n")
	fmt.Fprintf(w, "  bus: mode=%s channels=%d published=%d delivered=%d rejected=%d errors=%d panics=%d\n",
		s.Bus.Mode, s.Bus.Channels, s.Bus.Published, s.Bus.Delivered, s.Bus.Rejected,
		s.Bus.HandlerErrors, s.Bus.HandlerPanics)
	fmt.Fprintf(w, "  hierarchy: nodes=%d roots=%d deepest=%s(%d)\n",
		s.Hierarchy.Nodes, s.Hierarchy.Roots, s.Hierarchy.DeepestNode, s.Hierarchy.Deepest)
	fmt.Fprintf(w, "  plugins: %d attached, %d active, %d capabilities\n",
		s.Plugins, s.ActivePlugins, s.Capabilities)
}
