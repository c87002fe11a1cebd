package actions

import (
	"context"
	"fmt"
	"math/rand"

	"flock/internal/automation"
	"flock/internal/models"
)

// Like — лайки по свежей выдаче тега.
type Like struct{}

func (*Like) Kind() string { return KindLike }

func (a *Like) Execute(ctx context.Context, h automation.Handle, id *models.Identity, _ *models.IdentitySettings) (*Outcome, error) {
	tags, err := models.DecodeTags(id)
	if err != nil {
		return nil, &ActionError{Kind: KindLike, Err: err}
	}
	if len(tags) == 0 {
		return &Outcome{Performed: 0, Detail: "no tags configured"}, nil
	}
	tag := tags[rand.Intn(len(tags))]
	if err := searchTag(ctx, h, tag); err != nil {
		return nil, &ActionError{Kind: KindLike, Err: err}
	}
	// открыть первый пост сетки и лайкнуть несколько подряд
	if err := h.Perform(ctx, automation.Gesture{Kind: automation.GestureTap, X: 180, Y: 700}); err != nil {
		return nil, &ActionError{Kind: KindLike, Err: err}
	}
	n := 2 + rand.Intn(3)
	for i := 0; i < n; i++ {
		if err := settle(ctx); err != nil {
			return nil, err
		}
		if err := doubleTapLike(ctx, h); err != nil {
			return nil, &ActionError{Kind: KindLike, Err: err}
		}
		if err := h.Perform(ctx, automation.Gesture{
			Kind: automation.GestureSwipe, X: 540, Y: 1500, X2: 540, Y2: 400,
		}); err != nil {
			return nil, &ActionError{Kind: KindLike, Err: err}
		}
	}
	return &Outcome{Performed: n, Detail: fmt.Sprintf("liked %d posts in #%s", n, tag)}, nil
}

// Story — просмотр сторис из верхней карусели ленты.
type Story struct{}

func (*Story) Kind() string { return KindStory }

func (a *Story) Execute(ctx context.Context, h automation.Handle, _ *models.Identity, _ *models.IdentitySettings) (*Outcome, error) {
	if err := ensureHome(ctx, h); err != nil {
		return nil, &ActionError{Kind: KindStory, Err: err}
	}
	if err := h.Perform(ctx, automation.Gesture{Kind: automation.GestureTap, X: 300, Y: 260}); err != nil {
		return nil, &ActionError{Kind: KindStory, Err: err}
	}
	n := 3 + rand.Intn(5)
	for i := 0; i < n; i++ {
		if err := settle(ctx); err != nil {
			return nil, err
		}
		// тап по правому краю — следующая сторис
		if err := h.Perform(ctx, automation.Gesture{Kind: automation.GestureTap, X: 1000, Y: 960}); err != nil {
			return nil, &ActionError{Kind: KindStory, Err: err}
		}
	}
	if err := h.Perform(ctx, automation.Gesture{Kind: automation.GestureKey, Key: "KEYCODE_BACK"}); err != nil {
		return nil, &ActionError{Kind: KindStory, Err: err}
	}
	return &Outcome{Performed: n, Detail: fmt.Sprintf("viewed %d stories", n)}, nil
}
