package activitymap

import (
	"context"

	"github.com/goliatone/go-identity"
	"github.com/goliatone/go-print"
)

// Publisher receives normalized records, e.g. a queue producer.
type Publisher func(ctx context.Context, record Normalized) error

// NewSink adapts publish into an identity.ActivitySink.
func NewSink(publish Publisher, opts ...Option) identity.ActivitySink {
	return identity.ActivitySinkFunc(func(ctx context.Context, event identity.ActivityEvent) error {
		if publish == nil {
			return nil
		}
		return publish(ctx, Normalize(event, opts...))
	})
}

// NewLoggerActivitySink writes every normalized record to logger at info level.
func NewLoggerActivitySink(logger identity.Logger, opts ...Option) identity.ActivitySink {
	return NewSink(func(_ context.Context, record Normalized) error {
		if logger != nil {
			logger.Info("activity %s actor=%s object=%s/%s\n%s",
				record.Verb, record.ActorID, record.ObjectType, record.ObjectID,
				print.MaybePrettyJSON(record.Metadata),
			)
		}
		return nil
	}, opts...)
}
