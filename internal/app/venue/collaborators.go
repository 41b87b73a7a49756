package venue

import (
	"context"

	"github.com/coachpo/venuelink/internal/domain/schema"
)

// ResultSink persists settled order results. Implementations live with the caller.
type ResultSink interface {
	RecordResult(ctx context.Context, req schema.OrderRequest, res schema.OrderResult) error
}

// CredentialSource supplies credentials held at rest. When configured it is
// consulted for every signed call so rotated secrets take effect without a restart.
type CredentialSource interface {
	Credential(ctx context.Context) (schema.Credential, error)
}

// ResultSinkFunc adapts a function to ResultSink.
type ResultSinkFunc func(ctx context.Context, req schema.OrderRequest, res schema.OrderResult) error

// RecordResult implements ResultSink.
func (f ResultSinkFunc) RecordResult(ctx context.Context, req schema.OrderRequest, res schema.OrderResult) error {
	return f(ctx, req, res)
}
