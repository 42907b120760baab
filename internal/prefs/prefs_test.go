package prefs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"colorcal/internal/model"
)

func TestStore_MergeKeepsUserChoices(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.yaml")
	s, err := Open(path)
	require.NoError(t, err)
	assert.Empty(t, s.All())

	cals := []model.Calendar{
		{ID: "work", Name: "Work", Color: "#ff0000"},
		{ID: "home", Name: "Home", Color: "rgb(1,2,3)"},
	}
	merged, err := s.Merge(cals)
	require.NoError(t, err)
	assert.Equal(t, []CalendarPref{
		{ID: "work", Name: "Work", Enabled: true, Color: "#FF0000"},
		{ID: "home", Name: "Home", Enabled: true, Color: model.DefaultColor},
	}, merged)

	_, err = s.Update([]CalendarPref{
		{ID: "work", Enabled: false, Color: "#FF0000"},
		{ID: "home", Enabled: true, Color: "#00aa00"},
		{ID: "ghost", Enabled: true},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"home"}, s.EnabledIDs())

	// Provider renamed a calendar, changed colors and added one.
	reopened, err := Open(path)
	require.NoError(t, err)
	merged, err = reopened.Merge([]model.Calendar{
		{ID: "work", Name: "Work (new)", Color: "#0000ff"},
		{ID: "home", Name: "Home", Color: "#999999"},
		{ID: "gym", Name: "Gym", Color: "#123456"},
	})
	require.NoError(t, err)
	assert.Equal(t, []CalendarPref{
		{ID: "work", Name: "Work (new)", Enabled: false, Color: "#0000FF"},
		{ID: "home", Name: "Home", Enabled: true, Color: "#00AA00", CustomColor: true},
		{ID: "gym", Name: "Gym", Enabled: true, Color: "#123456"},
	}, merged)
	assert.Equal(t, map[string]string{"work": "#0000FF", "home": "#00AA00", "gym": "#123456"}, reopened.Colors())

	// Calendars that disappear are dropped.
	merged, err = reopened.Merge([]model.Calendar{{ID: "gym", Name: "Gym", Color: "#123456"}})
	require.NoError(t, err)
	assert.Len(t, merged, 1)
}

func TestOpen(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	_, err = s.Merge([]model.Calendar{{ID: "a"}})
	require.NoError(t, err)

	bad := filepath.Join(t.TempDir(), "prefs.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("calendars: {"), 0o600))
	_, err = Open(bad)
	assert.Error(t, err)
}

func TestEnabledIDs_NoneEnabled(t *testing.T) {
	assert.Empty(t, EnabledIDs([]CalendarPref{{ID: "a"}, {ID: "b"}}))
	assert.NotNil(t, EnabledIDs(nil))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		cal  model.Calendar
		want GroupLabel
	}{
		{cal: model.Calendar{SourceType: "local", SourceTitle: "On My Mac"}, want: GroupOnMyMac},
		{cal: model.Calendar{SourceType: "caldav", SourceTitle: "iCloud"}, want: GroupICloud},
		{cal: model.Calendar{SourceType: "caldav", SourceTitle: "me@gmail.com"}, want: GroupGoogle},
		{cal: model.Calendar{SourceType: "caldav", SourceTitle: "Fastmail"}, want: GroupOther},
		{cal: model.Calendar{SourceType: "exchange", SourceTitle: "Corp"}, want: GroupExchange},
		{cal: model.Calendar{SourceType: "mobileme"}, want: GroupICloud},
		{cal: model.Calendar{SourceType: "subscribed", SourceTitle: "calendar.google.com"}, want: GroupSubscribed},
		{cal: model.Calendar{SourceType: "birthdays"}, want: GroupSubscribed},
		{cal: model.Calendar{SourceTitle: "Google"}, want: GroupGoogle},
		{cal: model.Calendar{}, want: GroupOther},
	}
	for _, tt := range tests {
		t.Run(string(tt.want)+"/"+tt.cal.SourceType+"/"+tt.cal.SourceTitle, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.cal))
		})
	}
}
