package models

import (
	"encoding/json"
	"fmt"
)

// Window — часовое окно [Start, End). Start > End означает переход
// через полночь: {22, 4} активно с 22:00 по 03:59.
type Window struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (w Window) Contains(hour int) bool {
	if w.Start == w.End {
		return false
	}
	if w.Start < w.End {
		return hour >= w.Start && hour < w.End
	}
	return hour >= w.Start || hour < w.End
}

func (w Window) Valid() bool {
	return w.Start >= 0 && w.Start <= 23 && w.End >= 0 && w.End <= 23
}

// InAnyWindow — true, если час попадает хотя бы в одно окно.
func InAnyWindow(ws []Window, hour int) bool {
	for _, w := range ws {
		if w.Contains(hour) {
			return true
		}
	}
	return false
}

// IdentitySettings — типизированные настройки аккаунта. В БД хранятся
// JSON-колонкой; распаковываем один раз при загрузке, с дефолтами и
// валидацией, а не щупаем map по месту использования.
type IdentitySettings struct {
	EnabledActions []string       `json:"enabled_actions"`
	DailyLimits    map[string]int `json:"daily_limits"`

	AllowMentions    bool `json:"allow_mentions"`
	AllowLinks       bool `json:"allow_links"`
	AllowTextOverlay bool `json:"allow_text_overlay"`
}

// Дефолтные дневные лимиты по видам действий.
var defaultDailyLimits = map[string]int{
	"engage":   150,
	"follow":   80,
	"unfollow": 60,
	"like":     200,
	"scrape":   500,
	"story":    100,
}

// DecodeSettings распаковывает Settings с дефолтами.
func DecodeSettings(id *Identity) (*IdentitySettings, error) {
	set := &IdentitySettings{}
	if len(id.Settings) > 0 {
		if err := json.Unmarshal(id.Settings, set); err != nil {
			return nil, fmt.Errorf("identity %s: bad settings json: %w", id.Username, err)
		}
	}
	if len(set.EnabledActions) == 0 {
		set.EnabledActions = []string{"engage"}
	}
	if set.DailyLimits == nil {
		set.DailyLimits = map[string]int{}
	}
	for kind, n := range defaultDailyLimits {
		if _, ok := set.DailyLimits[kind]; !ok {
			set.DailyLimits[kind] = n
		}
	}
	return set, nil
}

// DecodeSchedule распаковывает и валидирует расписание.
func DecodeSchedule(id *Identity) ([]Window, error) {
	if len(id.Schedule) == 0 {
		return nil, nil
	}
	var ws []Window
	if err := json.Unmarshal(id.Schedule, &ws); err != nil {
		return nil, fmt.Errorf("identity %s: bad schedule json: %w", id.Username, err)
	}
	for _, w := range ws {
		if !w.Valid() {
			return nil, fmt.Errorf("identity %s: window %d-%d out of range", id.Username, w.Start, w.End)
		}
	}
	return ws, nil
}

// DecodeTags — хелпер для распаковки JSON-поля тегов.
func DecodeTags(id *Identity) ([]string, error) {
	if len(id.Tags) == 0 {
		return nil, nil
	}
	var tags []string
	if err := json.Unmarshal(id.Tags, &tags); err != nil {
		return nil, fmt.Errorf("identity %s: bad tags json: %w", id.Username, err)
	}
	return tags, nil
}
