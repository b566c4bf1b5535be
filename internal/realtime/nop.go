package realtime

import "context"

// Nop is used when no Redis is configured: nobody is online and events go
// nowhere.
type Nop struct{}

func (Nop) Heartbeat(context.Context, string, []string) error { return nil }

func (Nop) Online(context.Context, string) ([]string, error) { return []string{}, nil }

func (Nop) Leave(context.Context, string, string) error { return nil }

func (Nop) Publish(context.Context, Event) error { return nil }

func (Nop) Ping(context.Context) error { return nil }
