package actions

import (
	"context"
	"math/rand"
	"time"

	"flock/internal/automation"
	"flock/internal/models"
)

// Engage — прокрутка ленты с лайками части постов. Базовая «живая»
// активность аккаунта.
type Engage struct{}

func (*Engage) Kind() string { return KindEngage }

func (a *Engage) Execute(ctx context.Context, h automation.Handle, _ *models.Identity, _ *models.IdentitySettings) (*Outcome, error) {
	if err := ensureHome(ctx, h); err != nil {
		return nil, &ActionError{Kind: KindEngage, Err: err}
	}
	posts := 3 + rand.Intn(5)
	liked := 0
	for i := 0; i < posts; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// скролл к следующему посту
		if err := h.Perform(ctx, automation.Gesture{
			Kind: automation.GestureSwipe,
			X:    540, Y: 1500, X2: 540, Y2: 400,
		}); err != nil {
			return nil, &ActionError{Kind: KindEngage, Err: err}
		}
		select {
		case <-time.After(time.Duration(500+rand.Intn(1500)) * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		// лайкаем примерно каждый третий
		if rand.Intn(3) == 0 {
			if err := doubleTapLike(ctx, h); err != nil {
				return nil, &ActionError{Kind: KindEngage, Err: err}
			}
			liked++
		}
	}
	return &Outcome{Performed: 1, Detail: "scrolled feed"}, nil
}

func doubleTapLike(ctx context.Context, h automation.Handle) error {
	tap := automation.Gesture{Kind: automation.GestureTap, X: 540, Y: 900}
	if err := h.Perform(ctx, tap); err != nil {
		return err
	}
	return h.Perform(ctx, tap)
}
