package actions

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"flock/internal/automation"
	"flock/internal/models"
)

// Follow — подписка на аккаунты из выдачи по тегу аккаунта.
type Follow struct{}

func (*Follow) Kind() string { return KindFollow }

func (a *Follow) Execute(ctx context.Context, h automation.Handle, id *models.Identity, _ *models.IdentitySettings) (*Outcome, error) {
	tags, err := models.DecodeTags(id)
	if err != nil {
		return nil, &ActionError{Kind: KindFollow, Err: err}
	}
	if len(tags) == 0 {
		return &Outcome{Performed: 0, Detail: "no tags configured"}, nil
	}
	tag := tags[rand.Intn(len(tags))]
	if err := searchTag(ctx, h, tag); err != nil {
		return nil, &ActionError{Kind: KindFollow, Err: err}
	}
	// открыть первый результат и нажать follow
	if err := h.Perform(ctx, automation.Gesture{Kind: automation.GestureTap, X: 270, Y: 620}); err != nil {
		return nil, &ActionError{Kind: KindFollow, Err: err}
	}
	if err := settle(ctx); err != nil {
		return nil, err
	}
	if err := h.Perform(ctx, automation.Gesture{Kind: automation.GestureTap, X: 820, Y: 380}); err != nil {
		return nil, &ActionError{Kind: KindFollow, Err: err}
	}
	return &Outcome{Performed: 1, Detail: fmt.Sprintf("followed from #%s", tag)}, nil
}

// Unfollow — отписка от самых старых подписок через свой профиль.
type Unfollow struct{}

func (*Unfollow) Kind() string { return KindUnfollow }

func (a *Unfollow) Execute(ctx context.Context, h automation.Handle, _ *models.Identity, _ *models.IdentitySettings) (*Outcome, error) {
	if err := ensureHome(ctx, h); err != nil {
		return nil, &ActionError{Kind: KindUnfollow, Err: err}
	}
	// профиль → following → кнопка у первой строки
	steps := []automation.Gesture{
		{Kind: automation.GestureTap, X: 970, Y: 1840}, // вкладка профиля
		{Kind: automation.GestureTap, X: 800, Y: 420},  // счётчик following
		{Kind: automation.GestureTap, X: 900, Y: 560},  // following у первой строки
		{Kind: automation.GestureTap, X: 540, Y: 1180}, // подтверждение
	}
	for _, g := range steps {
		if err := h.Perform(ctx, g); err != nil {
			return nil, &ActionError{Kind: KindUnfollow, Err: err}
		}
		if err := settle(ctx); err != nil {
			return nil, err
		}
	}
	return &Outcome{Performed: 1, Detail: "unfollowed oldest"}, nil
}

func searchTag(ctx context.Context, h automation.Handle, tag string) error {
	if err := ensureHome(ctx, h); err != nil {
		return err
	}
	if err := h.Perform(ctx, automation.Gesture{Kind: automation.GestureTap, X: 324, Y: 1840}); err != nil {
		return err
	}
	if err := settle(ctx); err != nil {
		return err
	}
	if err := h.Perform(ctx, automation.Gesture{Kind: automation.GestureTap, X: 540, Y: 120}); err != nil {
		return err
	}
	if err := h.InputText(ctx, "#"+tag); err != nil {
		return err
	}
	if err := h.Perform(ctx, automation.Gesture{Kind: automation.GestureKey, Key: "KEYCODE_ENTER"}); err != nil {
		return err
	}
	return settle(ctx)
}

func settle(ctx context.Context) error {
	select {
	case <-time.After(time.Duration(700+rand.Intn(800)) * time.Millisecond):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
