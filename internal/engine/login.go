package engine

import (
	"context"
	"fmt"
	"time"

	"flock/internal/automation"
)

// AuthError — полу-фатальная ошибка логина: неожиданный экран, залоченный
// или зачелленженный аккаунт. Оркестратор не ретраит такой аккаунт в
// пределах текущего окна, чтобы не дёргать антифрод повторными входами.
type AuthError struct {
	Username string
	Screen   automation.ScreenState
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("login %s: screen %s: %v", e.Username, e.Screen, e.Err)
}
func (e *AuthError) Unwrap() error { return e.Err }

// login запускает приложение под нужным пакетом, классифицирует экран и
// доводит до залогиненного состояния. Ограниченное число попыток
// восстановления, дальше AuthError.
func (e *Engine) login(ctx context.Context, h automation.Handle) error {
	if err := h.LaunchApp(ctx, e.id.AppPackage); err != nil {
		return &AuthError{Username: e.id.Username, Screen: automation.ScreenUnknown, Err: err}
	}
	if err := e.settle(ctx, e.cfg.AppSettle); err != nil {
		return err
	}

	last := automation.ScreenUnknown
	for attempt := 0; attempt < e.cfg.LoginAttempts; attempt++ {
		if e.stopped(ctx) {
			return nil
		}
		st, err := h.ClassifyScreen(ctx)
		if err != nil {
			return &AuthError{Username: e.id.Username, Screen: last, Err: err}
		}
		last = st
		e.log.WithField("screen", st.String()).Debug("login screen")

		switch st {
		case automation.ScreenHome:
			return nil

		case automation.ScreenLogin:
			if err := e.enterCredentials(ctx, h); err != nil {
				return &AuthError{Username: e.id.Username, Screen: st, Err: err}
			}

		case automation.ScreenTwoFactor:
			code, err := e.twofa.ResolveSecondFactor(ctx, &e.id)
			if err != nil {
				return &AuthError{Username: e.id.Username, Screen: st, Err: err}
			}
			if err := h.InputText(ctx, code); err != nil {
				return &AuthError{Username: e.id.Username, Screen: st, Err: err}
			}
			if err := h.Perform(ctx, automation.Gesture{Kind: automation.GestureKey, Key: "KEYCODE_ENTER"}); err != nil {
				return &AuthError{Username: e.id.Username, Screen: st, Err: err}
			}

		case automation.ScreenChallenge:
			// сами не разруливаем: нужен оператор
			return &AuthError{Username: e.id.Username, Screen: st, Err: fmt.Errorf("account challenged")}

		case automation.ScreenPopup:
			// пост-логиновые интерстишелы закрываем back-ом
			if err := h.Perform(ctx, automation.Gesture{Kind: automation.GestureKey, Key: "KEYCODE_BACK"}); err != nil {
				return &AuthError{Username: e.id.Username, Screen: st, Err: err}
			}

		default:
			// незнакомый экран: домой и перезапуск приложения
			_ = h.Perform(ctx, automation.Gesture{Kind: automation.GestureKey, Key: "KEYCODE_HOME"})
			if err := h.LaunchApp(ctx, e.id.AppPackage); err != nil {
				return &AuthError{Username: e.id.Username, Screen: st, Err: err}
			}
		}
		if err := e.settle(ctx, 2*time.Second); err != nil {
			return err
		}
	}
	return &AuthError{
		Username: e.id.Username,
		Screen:   last,
		Err:      fmt.Errorf("no logged-in screen after %d attempts", e.cfg.LoginAttempts),
	}
}

func (e *Engine) enterCredentials(ctx context.Context, h automation.Handle) error {
	// поле логина
	if err := h.Perform(ctx, automation.Gesture{Kind: automation.GestureTap, X: 540, Y: 760}); err != nil {
		return err
	}
	if err := h.InputText(ctx, e.id.Username); err != nil {
		return err
	}
	// поле пароля
	if err := h.Perform(ctx, automation.Gesture{Kind: automation.GestureTap, X: 540, Y: 890}); err != nil {
		return err
	}
	if err := h.InputText(ctx, e.id.Password); err != nil {
		return err
	}
	// кнопка входа
	return h.Perform(ctx, automation.Gesture{Kind: automation.GestureTap, X: 540, Y: 1020})
}

func (e *Engine) settle(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stop:
		return nil
	}
}
