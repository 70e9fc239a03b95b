package application

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/bnema/warmpool/internal/domain"
)

// Invoke runs one capability call through the guard. Once a streamed call has
// emitted chunks, a later failure is reported as ErrStreamInterrupted and not retried.
func (g *Guard) Invoke(ctx context.Context, call domain.Call, onChunk domain.ChunkFunc) (domain.Artifact, error) {
	if err := call.Validate(); err != nil {
		return domain.Artifact{}, &domain.CapabilityError{Message: err.Error(), Name: "InvalidRequest"}
	}

	var (
		emitted  atomic.Bool
		artifact domain.Artifact
	)
	forward := func(chunk domain.Chunk) {
		emitted.Store(true)
		if onChunk != nil {
			onChunk(chunk)
		}
	}

	err := g.Run(ctx, string(call.Capability), func(ctx context.Context, session *Session) error {
		result, err := session.Invoke(ctx, call, forward)
		if err != nil {
			if emitted.Load() {
				return fmt.Errorf("%w: %w", domain.ErrStreamInterrupted, err)
			}
			return err
		}
		artifact = result
		return nil
	})
	if err != nil {
		return domain.Artifact{}, err
	}

	return artifact, nil
}
