package actions

import (
	"context"
	"math/rand"

	"flock/internal/models"
)

// TodayCounter — сколько действий данного вида аккаунт уже сделал
// сегодня. Сброс в полночь обеспечивает датированный запрос в сторе,
// мутируемых счётчиков нет.
type TodayCounter interface {
	CountToday(ctx context.Context, deviceUUID, username, kind string) (int64, error)
}

// Picker выбирает следующее действие: включённые виды в случайном
// порядке, первый с неисчерпанным дневным лимитом.
type Picker struct {
	reg    *Registry
	counts TodayCounter
	rnd    *rand.Rand
}

func NewPicker(reg *Registry, counts TodayCounter, rnd *rand.Rand) *Picker {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(rand.Int63()))
	}
	return &Picker{reg: reg, counts: counts, rnd: rnd}
}

// Next возвращает nil, nil когда все лимиты на сегодня выбраны.
func (p *Picker) Next(ctx context.Context, deviceUUID string, id *models.Identity, set *models.IdentitySettings) (Executor, error) {
	kinds := make([]string, len(set.EnabledActions))
	copy(kinds, set.EnabledActions)
	p.rnd.Shuffle(len(kinds), func(i, j int) { kinds[i], kinds[j] = kinds[j], kinds[i] })

	for _, kind := range kinds {
		ex, ok := p.reg.Get(kind)
		if !ok {
			continue
		}
		limit, ok := set.DailyLimits[kind]
		if ok && limit >= 0 {
			done, err := p.counts.CountToday(ctx, deviceUUID, id.Username, kind)
			if err != nil {
				return nil, err
			}
			if done >= int64(limit) {
				continue
			}
		}
		return ex, nil
	}
	return nil, nil
}
