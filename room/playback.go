package room

import (
	"net/url"
	"path"
	"strings"
	"time"
)

// VideoKind classifies a video locator and selects the player adapter on the
// client side.
type VideoKind string

// VideoKind instances
const (
	KindEmbeddable VideoKind = "embed"
	KindDirectFile VideoKind = "file"
	KindOpaque     VideoKind = "opaque"
)

var embeddableHosts = map[string]bool{
	"youtube.com":      true,
	"www.youtube.com":  true,
	"m.youtube.com":    true,
	"youtu.be":         true,
	"vimeo.com":        true,
	"player.vimeo.com": true,
}

var directFileExts = map[string]bool{
	".mp4":  true,
	".webm": true,
	".ogg":  true,
	".ogv":  true,
	".mkv":  true,
	".m3u8": true,
}

// DetectKind classifies a locator. Anything that does not parse or match a
// known provider or file extension falls back to KindOpaque, the
// limited-control iframe mode.
func DetectKind(locator string) VideoKind {
	u, err := url.Parse(locator)
	if err != nil || u.Host == "" {
		return KindOpaque
	}
	host := strings.ToLower(u.Hostname())
	if embeddableHosts[host] {
		return KindEmbeddable
	}
	if directFileExts[strings.ToLower(path.Ext(u.Path))] {
		return KindDirectFile
	}
	return KindOpaque
}

// PlaybackState describes the shared media playback state in a room. It is
// owned exclusively by the room manager goroutine; position is a checkpoint
// taken at lastUpdated, not a continuously accurate value.
type PlaybackState struct {
	locator     string
	kind        VideoKind
	playing     bool
	position    float64
	lastUpdated time.Time
}

// NewPlaybackState restores a state from persisted values.
func NewPlaybackState(locator string, kind VideoKind, playing bool, position float64) *PlaybackState {
	if kind == "" {
		kind = DetectKind(locator)
	}
	return &PlaybackState{
		locator:     locator,
		kind:        kind,
		playing:     playing,
		position:    clampPosition(position),
		lastUpdated: time.Now(),
	}
}

func clampPosition(p float64) float64 {
	if p < 0 {
		return 0
	}
	return p
}

func (s *PlaybackState) Play(position float64, now time.Time) {
	s.playing = true
	s.position = clampPosition(position)
	s.lastUpdated = now
}

func (s *PlaybackState) Pause(position float64, now time.Time) {
	s.playing = false
	s.position = clampPosition(position)
	s.lastUpdated = now
}

func (s *PlaybackState) Seek(position float64, now time.Time) {
	s.position = clampPosition(position)
	s.lastUpdated = now
}

// SetVideo switches the room to a new locator and resets playback.
func (s *PlaybackState) SetVideo(locator string, now time.Time) {
	s.locator = locator
	s.kind = DetectKind(locator)
	s.playing = false
	s.position = 0
	s.lastUpdated = now
}

func (s *PlaybackState) Locator() string { return s.locator }
func (s *PlaybackState) Kind() VideoKind { return s.kind }
func (s *PlaybackState) Playing() bool   { return s.playing }

// CurrentPosition extrapolates the checkpointed position to now while
// playing.
func (s *PlaybackState) CurrentPosition(now time.Time) float64 {
	pos := s.position
	if s.playing {
		pos += now.Sub(s.lastUpdated).Seconds()
	}
	return clampPosition(pos)
}

// Snapshot returns the broadcastable view of the state.
func (s *PlaybackState) Snapshot(now time.Time) VideoStatePayload {
	return VideoStatePayload{
		Locator:         s.locator,
		Kind:            s.kind,
		Playing:         s.playing,
		Position:        s.CurrentPosition(now),
		ServerTimestamp: wallClock(now),
	}
}
