package actions

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flock/internal/models"
)

type fakeCounts struct {
	counts map[string]int64 // kind → сделано сегодня
	err    error
}

func (f *fakeCounts) CountToday(_ context.Context, _, _, kind string) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.counts[kind], nil
}

func testIdentity() *models.Identity {
	return &models.Identity{Username: "alice"}
}

func TestPickerSkipsExhaustedKinds(t *testing.T) {
	set := &models.IdentitySettings{
		EnabledActions: []string{KindLike, KindFollow},
		DailyLimits:    map[string]int{KindLike: 10, KindFollow: 5},
	}
	counts := &fakeCounts{counts: map[string]int64{KindLike: 10}}
	p := NewPicker(DefaultRegistry(), counts, rand.New(rand.NewSource(1)))

	for i := 0; i < 20; i++ {
		ex, err := p.Next(context.Background(), "d1", testIdentity(), set)
		require.NoError(t, err)
		require.NotNil(t, ex)
		assert.Equal(t, KindFollow, ex.Kind(), "like exhausted, only follow remains")
	}
}

func TestPickerAllExhausted(t *testing.T) {
	set := &models.IdentitySettings{
		EnabledActions: []string{KindLike, KindFollow},
		DailyLimits:    map[string]int{KindLike: 10, KindFollow: 5},
	}
	counts := &fakeCounts{counts: map[string]int64{KindLike: 10, KindFollow: 5}}
	p := NewPicker(DefaultRegistry(), counts, nil)

	ex, err := p.Next(context.Background(), "d1", testIdentity(), set)
	require.NoError(t, err)
	assert.Nil(t, ex, "nil, nil when every daily limit is spent")
}

func TestPickerIgnoresUnknownKinds(t *testing.T) {
	set := &models.IdentitySettings{
		EnabledActions: []string{"teleport", KindScrape},
		DailyLimits:    map[string]int{KindScrape: 100},
	}
	p := NewPicker(DefaultRegistry(), &fakeCounts{}, rand.New(rand.NewSource(2)))

	ex, err := p.Next(context.Background(), "d1", testIdentity(), set)
	require.NoError(t, err)
	require.NotNil(t, ex)
	assert.Equal(t, KindScrape, ex.Kind())
}

func TestPickerPropagatesCountError(t *testing.T) {
	set := &models.IdentitySettings{
		EnabledActions: []string{KindLike},
		DailyLimits:    map[string]int{KindLike: 10},
	}
	boom := errors.New("db down")
	p := NewPicker(DefaultRegistry(), &fakeCounts{err: boom}, nil)

	_, err := p.Next(context.Background(), "d1", testIdentity(), set)
	assert.ErrorIs(t, err, boom)
}

func TestPickerUnlimitedKind(t *testing.T) {
	// вид без лимита в настройках не ограничивается
	set := &models.IdentitySettings{
		EnabledActions: []string{KindStory},
		DailyLimits:    map[string]int{},
	}
	counts := &fakeCounts{counts: map[string]int64{KindStory: 100000}}
	p := NewPicker(DefaultRegistry(), counts, nil)

	ex, err := p.Next(context.Background(), "d1", testIdentity(), set)
	require.NoError(t, err)
	require.NotNil(t, ex)
	assert.Equal(t, KindStory, ex.Kind())
}
