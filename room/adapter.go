package room

import (
	"sync"
	"time"
)

// PlayerAdapter is the capability surface the sync protocol drives on the
// follower side. Adapters backed by providers without a reliable time-query
// API may return fixed values; the reconciler tolerates that.
type PlayerAdapter interface {
	Position() (float64, error)
	Playing() (bool, error)
	SeekTo(position float64) error
	Play() error
	Pause() error
}

// NewPlayerForKind returns the adapter for a detected video kind.
func NewPlayerForKind(kind VideoKind) PlayerAdapter {
	switch kind {
	case KindEmbeddable, KindDirectFile:
		return NewSimPlayer()
	default:
		return &OpaquePlayer{}
	}
}

// SimPlayer models a controllable player (embedded provider or direct file)
// for the headless client: position advances with the wall clock while
// playing.
type SimPlayer struct {
	mu       sync.Mutex
	position float64
	playing  bool
	lastTick time.Time
}

func NewSimPlayer() *SimPlayer {
	return &SimPlayer{lastTick: time.Now()}
}

func (p *SimPlayer) tick() {
	now := time.Now()
	if p.playing {
		p.position += now.Sub(p.lastTick).Seconds()
	}
	p.lastTick = now
}

func (p *SimPlayer) Position() (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tick()
	return p.position, nil
}

func (p *SimPlayer) Playing() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing, nil
}

func (p *SimPlayer) SeekTo(position float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tick()
	p.position = clampPosition(position)
	return nil
}

func (p *SimPlayer) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tick()
	p.playing = true
	return nil
}

func (p *SimPlayer) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tick()
	p.playing = false
	return nil
}

// OpaquePlayer is the limited-control fallback for locators embedded as a
// bare iframe: no time query, no seeking. Position always reports zero and
// seek/pause are accepted no-ops so the protocol loop never fails on it.
type OpaquePlayer struct {
	mu      sync.Mutex
	playing bool
}

func (p *OpaquePlayer) Position() (float64, error) { return 0, nil }

func (p *OpaquePlayer) Playing() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing, nil
}

func (p *OpaquePlayer) SeekTo(position float64) error { return nil }

func (p *OpaquePlayer) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = true
	return nil
}

func (p *OpaquePlayer) Pause() error { return nil }
