package actions

import (
	"context"
	"fmt"

	"flock/internal/automation"
)

// Recover пытается вернуть клиент в известное состояние: закрыть попап,
// уйти на домашний экран. Ограниченное число попыток, дальше ошибка.
func Recover(ctx context.Context, h automation.Handle, attempts int) error {
	for i := 0; i < attempts; i++ {
		st, err := h.ClassifyScreen(ctx)
		if err != nil {
			return err
		}
		switch st {
		case automation.ScreenHome:
			return nil
		case automation.ScreenPopup:
			if err := h.Perform(ctx, automation.Gesture{Kind: automation.GestureKey, Key: "KEYCODE_BACK"}); err != nil {
				return err
			}
		default:
			if err := h.Perform(ctx, automation.Gesture{Kind: automation.GestureKey, Key: "KEYCODE_HOME"}); err != nil {
				return err
			}
		}
	}
	st, _ := h.ClassifyScreen(ctx)
	return fmt.Errorf("screen not recovered after %d attempts (last: %s)", attempts, st)
}

// ensureHome — общий пролог стратегий: действие начинается с ленты.
func ensureHome(ctx context.Context, h automation.Handle) error {
	st, err := h.ClassifyScreen(ctx)
	if err != nil {
		return err
	}
	if st == automation.ScreenHome {
		return nil
	}
	return Recover(ctx, h, 3)
}
