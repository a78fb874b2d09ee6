// Package trackpref decides which audio and subtitle stream of an item to
// select, from an explicit choice, the last choice made for the item, or the
// user's language preferences.
package trackpref

import (
	"strings"

	"golang.org/x/text/language"

	"github.com/KartoffelChipss/pelagica/playerd/internal/prefs"
	"github.com/KartoffelChipss/pelagica/playerd/internal/types"
)

// DefaultAudioIndex is selected when nothing else applies.
const DefaultAudioIndex = 1

// Preferences are the user's stored language preferences.
type Preferences struct {
	AudioLanguage    string
	SubtitleLanguage string
}

// Choice is what the user picked for the item during this session.
// SubtitleSet with a nil Subtitle means subtitles were switched off.
type Choice struct {
	AudioSet    bool
	Audio       int
	SubtitleSet bool
	Subtitle    *int
}

// TrackPreference is the resolved selection.
type TrackPreference struct {
	AudioIndex int `json:"audioIndex"`
	// SubtitleIndex is the position among the item's subtitle streams, nil for none.
	SubtitleIndex       *int `json:"subtitleIndex"`
	MatchedUserLanguage bool `json:"matchedUserLanguage"`
}

// Resolve applies, per kind: explicit choice, then the item's last
// choice, then the language preference, then the default. A subtitle is not
// picked by language when the audio already matched the preferred language.
func Resolve(item types.Item, p Preferences, last prefs.LastLanguage, choice Choice) TrackPreference {
	var out TrackPreference

	switch {
	case choice.AudioSet:
		out.AudioIndex = choice.Audio
	case last.Audio != nil:
		out.AudioIndex = *last.Audio
	default:
		out.AudioIndex = DefaultAudioIndex
		if idx, ok := matchAudio(item.MediaStreams, p.AudioLanguage); ok {
			out.AudioIndex = idx
			out.MatchedUserLanguage = true
		}
	}

	switch {
	case choice.SubtitleSet:
		out.SubtitleIndex = copyIndex(choice.Subtitle)
	case last.Subtitle != nil:
		out.SubtitleIndex = copyIndex(last.Subtitle)
	case !out.MatchedUserLanguage:
		if pos, ok := matchSubtitle(item.MediaStreams, p.SubtitleLanguage); ok {
			out.SubtitleIndex = &pos
		}
	}

	return out
}

func copyIndex(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// matchAudio returns the stream Index of the first audio stream in lang.
func matchAudio(streams []types.MediaStream, lang string) (int, bool) {
	if lang == "" {
		return 0, false
	}
	for _, s := range streams {
		if s.Type == types.StreamAudio && SameLanguage(s.Language, lang) {
			return s.Index, true
		}
	}
	return 0, false
}

// matchSubtitle returns the position, among subtitle streams only, of the
// first one in lang.
func matchSubtitle(streams []types.MediaStream, lang string) (int, bool) {
	if lang == "" {
		return 0, false
	}
	pos := 0
	for _, s := range streams {
		if s.Type != types.StreamSubtitle {
			continue
		}
		if SameLanguage(s.Language, lang) {
			return pos, true
		}
		pos++
	}
	return 0, false
}

// SameLanguage compares language codes case-insensitively, then by base
// language so two- and three-letter codes of one language match.
func SameLanguage(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return false
	}
	if strings.EqualFold(a, b) {
		return true
	}

	ta, errA := language.Parse(a)
	tb, errB := language.Parse(b)
	if errA != nil || errB != nil {
		return false
	}
	ba, ca := ta.Base()
	bb, cb := tb.Base()
	if ca == language.No || cb == language.No {
		return false
	}
	return ba == bb
}
