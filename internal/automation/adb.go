package automation

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// ADBDriver — минимальная реализация Driver поверх adb CLI.
// Протокол низкоуровневой автоматизации нас не интересует: это тонкая
// обвязка, вся логика живёт выше и работает через интерфейсы.
type ADBDriver struct {
	Bin string // путь к adb; пусто — "adb" из PATH
}

func NewADBDriver(bin string) *ADBDriver {
	if bin == "" {
		bin = "adb"
	}
	return &ADBDriver{Bin: bin}
}

func (d *ADBDriver) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, d.Bin, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("adb %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(out.String()))
	}
	return out.Bytes(), nil
}

func (d *ADBDriver) Connect(ctx context.Context, address string) (Handle, error) {
	// сетевые устройства требуют adb connect, usb-серийники — нет
	if strings.Contains(address, ":") {
		out, err := d.run(ctx, "connect", address)
		if err != nil {
			return nil, err
		}
		if bytes.Contains(out, []byte("failed")) || bytes.Contains(out, []byte("unable")) {
			return nil, fmt.Errorf("adb connect %s: %s", address, strings.TrimSpace(string(out)))
		}
	}
	if _, err := d.run(ctx, "-s", address, "shell", "true"); err != nil {
		return nil, err
	}
	return &adbHandle{d: d, serial: address}, nil
}

func (d *ADBDriver) Reset(ctx context.Context, address string, hard bool) error {
	if hard {
		// полный рестарт adb-сервера; чинит зависшие транспорты
		_, _ = d.run(ctx, "kill-server")
		if _, err := d.run(ctx, "start-server"); err != nil {
			return err
		}
		return nil
	}
	_, err := d.run(ctx, "-s", address, "reconnect")
	if err != nil && strings.Contains(address, ":") {
		// для tcp-устройств reconnect до connect может не знать серийник
		return nil
	}
	return err
}

type adbHandle struct {
	d      *ADBDriver
	serial string
}

func (h *adbHandle) shell(ctx context.Context, args ...string) ([]byte, error) {
	full := append([]string{"-s", h.serial, "shell"}, args...)
	return h.d.run(ctx, full...)
}

func (h *adbHandle) LaunchApp(ctx context.Context, pkg string) error {
	_, err := h.shell(ctx, "monkey", "-p", pkg, "-c", "android.intent.category.LAUNCHER", "1")
	return err
}

// ClassifyScreen опирается на текущее окно в фокусе. Грубо, но для
// ветвления логина/восстановления достаточно.
func (h *adbHandle) ClassifyScreen(ctx context.Context) (ScreenState, error) {
	out, err := h.shell(ctx, "dumpsys", "window", "windows")
	if err != nil {
		return ScreenUnknown, err
	}
	s := strings.ToLower(string(out))
	switch {
	case strings.Contains(s, "twofactor") || strings.Contains(s, "two_factor"):
		return ScreenTwoFactor, nil
	case strings.Contains(s, "challenge") || strings.Contains(s, "checkpoint"):
		return ScreenChallenge, nil
	case strings.Contains(s, "login") || strings.Contains(s, "signin"):
		return ScreenLogin, nil
	case strings.Contains(s, "dialog") || strings.Contains(s, "popup"):
		return ScreenPopup, nil
	case strings.Contains(s, "mainactivity") || strings.Contains(s, "maintabactivity"):
		return ScreenHome, nil
	default:
		return ScreenUnknown, nil
	}
}

func (h *adbHandle) Perform(ctx context.Context, g Gesture) error {
	switch g.Kind {
	case GestureTap:
		_, err := h.shell(ctx, "input", "tap", fmt.Sprint(g.X), fmt.Sprint(g.Y))
		return err
	case GestureSwipe:
		_, err := h.shell(ctx, "input", "swipe",
			fmt.Sprint(g.X), fmt.Sprint(g.Y), fmt.Sprint(g.X2), fmt.Sprint(g.Y2))
		return err
	case GestureKey:
		_, err := h.shell(ctx, "input", "keyevent", g.Key)
		return err
	default:
		return fmt.Errorf("unknown gesture kind: %s", g.Kind)
	}
}

func (h *adbHandle) InputText(ctx context.Context, text string) error {
	// input text не любит пробелы
	_, err := h.shell(ctx, "input", "text", strings.ReplaceAll(text, " ", "%s"))
	return err
}

func (h *adbHandle) Capture(ctx context.Context) ([]byte, error) {
	return h.d.run(ctx, "-s", h.serial, "exec-out", "screencap", "-p")
}

func (h *adbHandle) Close() error {
	if strings.Contains(h.serial, ":") {
		_, _ = h.d.run(context.Background(), "disconnect", h.serial)
	}
	return nil
}
