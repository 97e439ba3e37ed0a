package application

import "context"

// TranscriptSink receives recognized text, e.g. the cart store that turns
// "add two bananas" into a cart update.
type TranscriptSink interface {
	Consume(ctx context.Context, transcript string) error
}

type NoopSink struct{}

func (n *NoopSink) Consume(_ context.Context, _ string) error {
	return nil
}
