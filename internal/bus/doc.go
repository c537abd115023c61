// Package bus routes categorized messages between plugins.
//
// A Channel maps message types to ordered handler lists and delivers each
// published message synchronously to a snapshot of those handlers. Handler
// errors and panics are isolated: they are logged and collected in the
// returned Report, and never stop delivery to the remaining handlers.
//
// A Manager fronts one or more channels. It creates them on first use,
// routes each type to a channel by hashing the type in multi-channel mode,
// and can switch topology at runtime without losing subscriptions.
//
// Basic usage:
//
//	m := bus.NewManager(bus.WithMode(bus.ModeMulti), bus.WithChannels(4))
//	sub, _ := m.Subscribe("user.login", bus.NewHandler(func(ctx context.Context, msg message.Message) error {
//		fmt.Println(msg.Lookup("user").String())
//		return nil
//	}))
//	defer sub.Unsubscribe()
//
//	report := m.Publish(ctx, message.NewNotice("user.login", map[string]any{"user": "Alex"}))
package bus
