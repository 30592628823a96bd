package room

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Drift tolerances and delays for follower-side reconciliation.
const (
	// DiscreteDriftTolerance applies to explicit play/pause/seek events.
	DiscreteDriftTolerance = 1.0
	// PeriodicDriftTolerance applies to the periodic sync reports.
	PeriodicDriftTolerance = 3.0

	// A local position this close to the start while the authoritative
	// position is well past it means the local player restarted, not that
	// the admin sought to zero.
	restartGuardLocal         = 1.0
	restartGuardAuthoritative = 5.0

	// DefaultSettleDelay separates a seek from the following play/pause
	// command: embedded players drop one of the two when issued together.
	DefaultSettleDelay = 500 * time.Millisecond
	// DefaultWarmupDelay replaces the settle delay on the first sync after
	// joining, while the player itself may still be initialising.
	DefaultWarmupDelay = 1500 * time.Millisecond
)

// ReconcileState is the phase of the follower correction state machine.
type ReconcileState int

// ReconcileState instances
const (
	ReconcileIdle ReconcileState = iota
	ReconcileSeeking
	ReconcileAwaitingSettle
	ReconcileApplyingPlayState
)

// Authoritative is the admin-side truth a sync message carries.
type Authoritative struct {
	Position     float64
	Playing      bool
	HasPlayState bool // seek-only and coarse syncs carry no play state
	Tolerance    float64
}

// Reconciler converges a local player onto the authoritative state without
// visible stutter. It is a short-lived state machine per correction:
// Idle -> Seeking -> AwaitingSettle -> ApplyingPlayState -> Idle. Sync
// messages arriving outside Idle are dropped, which is what keeps a
// follower's own corrective actions from being re-interpreted as new input.
type Reconciler struct {
	mu     sync.Mutex
	state  ReconcileState
	player PlayerAdapter
	settle time.Duration
	warmup time.Duration
	warm   bool // next correction is the first since (re)start
	timer  *time.Timer
	log    zerolog.Logger
}

func NewReconciler(player PlayerAdapter, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		state:  ReconcileIdle,
		player: player,
		settle: DefaultSettleDelay,
		warmup: DefaultWarmupDelay,
		warm:   true,
		log:    logger,
	}
}

// SetPlayer swaps the adapter (on video change) and re-arms the warm-up
// delay for the next correction.
func (rc *Reconciler) SetPlayer(p PlayerAdapter) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.timer != nil {
		rc.timer.Stop()
	}
	rc.player = p
	rc.state = ReconcileIdle
	rc.warm = true
}

// Player returns the adapter currently under control.
func (rc *Reconciler) Player() PlayerAdapter {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.player
}

func (rc *Reconciler) State() ReconcileState {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.state
}

// Stop cancels any in-flight correction.
func (rc *Reconciler) Stop() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.timer != nil {
		rc.timer.Stop()
	}
	rc.state = ReconcileIdle
}

// Apply runs one correction against the authoritative state. Returns true if
// the correction was started, false if one was already in flight.
func (rc *Reconciler) Apply(a Authoritative) bool {
	rc.mu.Lock()
	if rc.state != ReconcileIdle {
		rc.mu.Unlock()
		return false
	}
	rc.state = ReconcileSeeking
	warm := rc.warm
	rc.warm = false
	player := rc.player
	rc.mu.Unlock()

	seeked := false
	if local, err := player.Position(); err != nil {
		rc.log.Debug().Err(err).Msg("adapter cannot report position, skipping seek")
	} else if rc.needSeek(local, a) {
		if err := player.SeekTo(a.Position); err != nil {
			rc.log.Debug().Err(err).Msg("adapter seek failed")
		} else {
			seeked = true
		}
	}

	stateDiffers := false
	if a.HasPlayState {
		if playing, err := player.Playing(); err == nil && playing != a.Playing {
			stateDiffers = true
		}
	}

	if !seeked && !stateDiffers {
		rc.mu.Lock()
		rc.state = ReconcileIdle
		rc.mu.Unlock()
		return true
	}

	delay := rc.settle
	if warm {
		delay = rc.warmup
	}
	rc.mu.Lock()
	rc.state = ReconcileAwaitingSettle
	rc.timer = time.AfterFunc(delay, func() { rc.applyPlayState(a) })
	rc.mu.Unlock()
	return true
}

// needSeek decides whether the local position warrants a corrective seek.
func (rc *Reconciler) needSeek(local float64, a Authoritative) bool {
	if local < restartGuardLocal && a.Position > restartGuardAuthoritative {
		// unwanted restart: trust the authoritative position, not the
		// player that just went back to the start
		return true
	}
	return math.Abs(local-a.Position) > a.Tolerance
}

// applyPlayState is the post-settle phase: play/pause only, re-checked so a
// player that converged on its own is left alone.
func (rc *Reconciler) applyPlayState(a Authoritative) {
	rc.mu.Lock()
	if rc.state != ReconcileAwaitingSettle {
		rc.mu.Unlock()
		return
	}
	rc.state = ReconcileApplyingPlayState
	player := rc.player
	rc.mu.Unlock()

	if a.HasPlayState {
		if playing, err := player.Playing(); err == nil && playing != a.Playing {
			var aerr error
			if a.Playing {
				aerr = player.Play()
			} else {
				aerr = player.Pause()
			}
			if aerr != nil {
				rc.log.Debug().Err(aerr).Msg("adapter play state change failed")
			}
		}
	}

	rc.mu.Lock()
	rc.state = ReconcileIdle
	rc.mu.Unlock()
}
