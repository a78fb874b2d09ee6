package trackpref

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KartoffelChipss/pelagica/playerd/internal/types"
)

type fakeCatalog struct {
	items   map[string]types.Item
	config  types.UserConfiguration
	confErr error
}

func (f *fakeCatalog) Item(_ context.Context, _, itemID string) (types.Item, error) {
	it, ok := f.items[itemID]
	if !ok {
		return types.Item{}, errors.New("not found")
	}
	return it, nil
}

func (f *fakeCatalog) UserConfiguration(context.Context, string) (types.UserConfiguration, error) {
	return f.config, f.confErr
}

func newCatalog() *fakeCatalog {
	other := movie()
	other.ID = "m2"
	return &fakeCatalog{
		items:  map[string]types.Item{"m1": movie(), "m2": other},
		config: types.UserConfiguration{AudioLanguagePreference: "de"},
	}
}

func TestServiceOpenUsesServerPreferences(t *testing.T) {
	svc := NewService(newCatalog(), "u1", openStore(t), Preferences{})

	item, got, err := svc.Open(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "m1", item.ID)
	assert.Equal(t, 2, got.AudioIndex)
	assert.True(t, got.MatchedUserLanguage)

	id, cur, ok := svc.Current()
	assert.True(t, ok)
	assert.Equal(t, "m1", id)
	assert.Equal(t, got, cur)
}

func TestServiceOverridesWin(t *testing.T) {
	svc := NewService(newCatalog(), "u1", openStore(t), Preferences{AudioLanguage: "eng"})

	_, got, err := svc.Open(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.AudioIndex)

	svc.SetOverrides(Preferences{AudioLanguage: "ja", SubtitleLanguage: "fre"})
	_, cur, _ := svc.Current()
	assert.False(t, cur.MatchedUserLanguage)
	require.NotNil(t, cur.SubtitleIndex)
	assert.Equal(t, 2, *cur.SubtitleIndex)
}

func TestServiceKeepsServerPreferencesOnConfigError(t *testing.T) {
	cat := newCatalog()
	svc := NewService(cat, "u1", openStore(t), Preferences{})
	_, _, err := svc.Open(context.Background(), "m1")
	require.NoError(t, err)

	cat.confErr = errors.New("offline")
	_, got, err := svc.Open(context.Background(), "m2")
	require.NoError(t, err)
	assert.Equal(t, 2, got.AudioIndex)
}

func TestServiceChoiceSurvivesReopenOfSameItem(t *testing.T) {
	svc := NewService(newCatalog(), "u1", openStore(t), Preferences{})
	_, _, err := svc.Open(context.Background(), "m1")
	require.NoError(t, err)

	_, err = svc.ChooseAudio(1)
	require.NoError(t, err)

	_, got, err := svc.Open(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.AudioIndex)
}

func TestServiceChooseWithoutItem(t *testing.T) {
	svc := NewService(newCatalog(), "u1", nil, Preferences{})

	_, err := svc.ChooseAudio(1)
	assert.ErrorIs(t, err, ErrNoItem)
	_, err = svc.ChooseSubtitle(nil)
	assert.ErrorIs(t, err, ErrNoItem)

	_, _, err = svc.Open(context.Background(), "missing")
	assert.Error(t, err)
	_, _, ok := svc.Current()
	assert.False(t, ok)
}
