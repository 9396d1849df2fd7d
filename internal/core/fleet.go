package core

import (
	"fmt"

	"github.com/auto-dns/cf-app-keepalive/internal/domain"
)

// Fleet is the validated, immutable target list.
type Fleet []domain.Target

func (f Fleet) Targets() []domain.Target {
	out := make([]domain.Target, len(f))
	copy(out, f)
	return out
}

func (f Fleet) Find(id string) (domain.Target, error) {
	for _, t := range f {
		if t.ID == id {
			return t, nil
		}
	}
	return domain.Target{}, fmt.Errorf("%w: %s", domain.ErrUnknownTarget, id)
}
