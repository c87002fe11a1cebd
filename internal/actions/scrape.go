package actions

import (
	"context"
	"fmt"
	"math/rand"

	"flock/internal/automation"
	"flock/internal/models"
)

// Scrape — сбор скриншотов выдачи по тегам; разбор содержимого делает
// внешний пайплайн, мы только снимаем и считаем.
type Scrape struct{}

func (*Scrape) Kind() string { return KindScrape }

func (a *Scrape) Execute(ctx context.Context, h automation.Handle, id *models.Identity, _ *models.IdentitySettings) (*Outcome, error) {
	tags, err := models.DecodeTags(id)
	if err != nil {
		return nil, &ActionError{Kind: KindScrape, Err: err}
	}
	if len(tags) == 0 {
		return &Outcome{Performed: 0, Detail: "no tags configured"}, nil
	}
	tag := tags[rand.Intn(len(tags))]
	if err := searchTag(ctx, h, tag); err != nil {
		return nil, &ActionError{Kind: KindScrape, Err: err}
	}
	pages := 2 + rand.Intn(3)
	captured := 0
	for i := 0; i < pages; i++ {
		img, err := h.Capture(ctx)
		if err != nil {
			return nil, &ActionError{Kind: KindScrape, Err: err}
		}
		if len(img) > 0 {
			captured++
		}
		if err := h.Perform(ctx, automation.Gesture{
			Kind: automation.GestureSwipe, X: 540, Y: 1600, X2: 540, Y2: 300,
		}); err != nil {
			return nil, &ActionError{Kind: KindScrape, Err: err}
		}
		if err := settle(ctx); err != nil {
			return nil, err
		}
	}
	return &Outcome{Performed: captured, Detail: fmt.Sprintf("captured %d pages of #%s", captured, tag)}, nil
}
