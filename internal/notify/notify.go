// Package notify delivers operator notifications for crawl milestones.
package notify

import "context"

// NoOp discards all notifications. Used when no topic is configured.
type NoOp struct{}

func (NoOp) AreaFinished(context.Context, string) {}

func (NoOp) DeepTaskStillCapped(context.Context, string, string) {}
