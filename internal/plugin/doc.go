// Package plugin attaches plugins to the message bus.
//
// Attaching a plugin:
//   - registers it in the hierarchy, under its parent or as a root
//   - gives it a batcher so its low-priority messages are grouped
//   - provides its capability under the plugin's name
//   - calls its Start hook with a Context
//
// Detaching runs the same steps backwards. The Stop hook runs first, then
// the plugin's subscriptions are cancelled, its pending batch is flushed, its
// capability is retracted and its hierarchy node is removed. A failure while
// attaching undoes the steps already taken.
//
// # Quick Start
//
//	m := plugin.NewManager(busManager, registry, tree)
//	err := m.Attach(ctx, &plugin.Funcs{
//		PluginName: "greeter",
//		OnStart: func(ctx context.Context, pctx *plugin.Context) error {
//			_, err := pctx.SubscribeFunc("user.login", func(ctx context.Context, msg message.Message) error {
//				pctx.Logger().Info("hello", "user", msg.Lookup("user").String())
//				return nil
//			})
//			return err
//		},
//	}, "")
//	defer m.DetachAll(ctx)
//
// # Scripted plugins
//
// Loader discovers plugin directories that hold a manifest (plugin.json,
// plugin.toml or plugin.yaml) and a Lua entry point. The lua subpackage turns
// a discovered manifest into a Plugin.
package plugin
