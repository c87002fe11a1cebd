package automation

import "context"

// ScreenState — грубая классификация текущего экрана клиента.
type ScreenState int

const (
	ScreenUnknown ScreenState = iota
	ScreenHome
	ScreenLogin
	ScreenTwoFactor
	ScreenChallenge // блокировка/проверка аккаунта, сами не разруливаем
	ScreenPopup
)

func (s ScreenState) String() string {
	switch s {
	case ScreenHome:
		return "home"
	case ScreenLogin:
		return "login"
	case ScreenTwoFactor:
		return "two_factor"
	case ScreenChallenge:
		return "challenge"
	case ScreenPopup:
		return "popup"
	default:
		return "unknown"
	}
}

// Виды жестов.
const (
	GestureTap   = "tap"
	GestureSwipe = "swipe"
	GestureKey   = "key"
)

type Gesture struct {
	Kind   string
	X, Y   int
	X2, Y2 int    // для swipe
	Key    string // keyevent, например "KEYCODE_BACK"
}

// Handle — живая сессия автоматизации одного устройства. Не делится
// между горутинами: держит его ровно один владелец (движок или
// исполнитель задачи), пока не отдаст обратно менеджеру соединений.
type Handle interface {
	LaunchApp(ctx context.Context, pkg string) error
	ClassifyScreen(ctx context.Context) (ScreenState, error)
	Perform(ctx context.Context, g Gesture) error
	InputText(ctx context.Context, text string) error
	Capture(ctx context.Context) ([]byte, error)
	Close() error
}

// Driver — фабрика Handle. Reset перезапускает службу автоматизации на
// устройстве; hard=true — более агрессивный вариант (полный рестарт).
type Driver interface {
	Connect(ctx context.Context, address string) (Handle, error)
	Reset(ctx context.Context, address string, hard bool) error
}
