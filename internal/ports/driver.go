package ports

import (
	"context"

	"github.com/bnema/warmpool/internal/domain"
)

// Driver owns one automated browser. Close must be safe to call more than once.
type Driver interface {
	// Init performs a full fresh login and returns the validated credential.
	Init(ctx context.Context) (string, error)
	Invoke(ctx context.Context, call domain.Call, onChunk domain.ChunkFunc) (domain.Artifact, error)
	Close() error
}

type DriverFactory func(id domain.SessionID) Driver
