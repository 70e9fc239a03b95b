package ports

import (
	"context"

	"github.com/bnema/warmpool/internal/domain"
)

type StateRepository interface {
	Get(ctx context.Context) (domain.LoginState, error)
	Save(ctx context.Context, state domain.LoginState) error
}
