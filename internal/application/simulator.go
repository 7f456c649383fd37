package application

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
	"unicode"

	"github.com/mfields/cadence/internal/audit"
	"github.com/mfields/cadence/internal/config"
	"github.com/mfields/cadence/internal/ports"
)

const (
	typoProbabilityFallback = 0.01
	readingChunk            = 3 * time.Second
	rereadChance            = 0.2
	charsPerWord            = 5
)

// qwertyNeighbors maps each letter to its adjacent keys on a QWERTY
// layout. Characters absent from the map never receive a simulated
// typo.
var qwertyNeighbors = map[rune][]rune{
	'a': {'s', 'q', 'z'},
	'b': {'v', 'n', 'g', 'h'},
	'c': {'x', 'v', 'd', 'f'},
	'd': {'s', 'f', 'e', 'r', 'c', 'x'},
	'e': {'w', 'r', 'd', 's'},
	'f': {'d', 'g', 'r', 't', 'v', 'c'},
	'g': {'f', 'h', 't', 'y', 'b', 'v'},
	'h': {'g', 'j', 'y', 'u', 'n', 'b'},
	'i': {'u', 'o', 'k', 'j'},
	'j': {'h', 'k', 'u', 'i', 'm', 'n'},
	'k': {'j', 'l', 'i', 'o', 'm'},
	'l': {'k', 'o', 'p'},
	'm': {'n', 'j', 'k'},
	'n': {'b', 'm', 'h', 'j'},
	'o': {'i', 'p', 'k', 'l'},
	'p': {'o', 'l'},
	'q': {'w', 'a'},
	'r': {'e', 't', 'd', 'f'},
	's': {'a', 'd', 'w', 'e', 'z', 'x'},
	't': {'r', 'y', 'f', 'g'},
	'u': {'y', 'i', 'h', 'j'},
	'v': {'c', 'b', 'f', 'g'},
	'w': {'q', 'e', 'a', 's'},
	'x': {'z', 'c', 's', 'd'},
	'y': {'t', 'u', 'g', 'h'},
	'z': {'a', 'x'},
}

// BehaviorSimulator issues low-level pointer, scroll and keyboard
// primitives against a borrowed automation session with human-like
// timing. Every primitive consults the activity tracker's cooldown
// before acting and records an activity entry on completion.
type BehaviorSimulator struct {
	cfg     *config.Config
	clock   ports.Clock
	tracker *ActivityTracker
	log     *audit.Logger

	mu       sync.Mutex
	rng      *rand.Rand
	pointerX float64
	pointerY float64
}

func NewBehaviorSimulator(cfg *config.Config, clock ports.Clock, tracker *ActivityTracker, log *audit.Logger) *BehaviorSimulator {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if log == nil {
		log = audit.Nop()
	}

	return &BehaviorSimulator{
		cfg:     cfg,
		clock:   clock,
		tracker: tracker,
		log:     log.WithComponent("simulator"),
		rng:     rand.New(rand.NewSource(clock.Now().UnixNano())),
		// Half-HD viewport center until the first real movement.
		pointerX: 683,
		pointerY: 384,
	}
}

// MoveToElement moves the pointer along a curved multi-point path into
// the element's bounding box. Missing bounds are a graceful no-op.
func (b *BehaviorSimulator) MoveToElement(ctx context.Context, session ports.BrowserSession, selector string) error {
	if _, err := b.tracker.CheckAndApplyCooldown(ctx); err != nil {
		return err
	}

	box, err := session.ElementBox(ctx, selector)
	if err != nil {
		return fmt.Errorf("resolve element bounds: %w", err)
	}
	if box == nil {
		b.log.Debugf("no bounds for %q; skipping pointer movement", selector)
		return nil
	}

	b.mu.Lock()
	targetX := box.X + box.Width*(0.2+b.rng.Float64()*0.6)
	targetY := box.Y + box.Height*(0.2+b.rng.Float64()*0.6)
	path := b.pointerPath(b.pointerX, b.pointerY, targetX, targetY)
	b.mu.Unlock()

	for i, point := range path {
		if err := session.MoveMouse(ctx, point.x, point.y); err != nil {
			return fmt.Errorf("move pointer: %w", err)
		}
		if err := b.clock.Sleep(ctx, b.stepDelay(i, len(path))); err != nil {
			return err
		}
	}

	b.mu.Lock()
	b.pointerX, b.pointerY = targetX, targetY
	b.mu.Unlock()

	b.recordSimulation("mouse_move", map[string]any{"selector": selector, "steps": len(path)})

	return nil
}

// Click moves to the element, dwells briefly, clicks at the pointer
// position, then pauses again.
func (b *BehaviorSimulator) Click(ctx context.Context, session ports.BrowserSession, selector string) error {
	if err := b.MoveToElement(ctx, session, selector); err != nil {
		return err
	}

	if err := b.clock.Sleep(ctx, b.randomDelay(50*time.Millisecond, 200*time.Millisecond)); err != nil {
		return err
	}
	if err := session.Click(ctx); err != nil {
		return fmt.Errorf("click element: %w", err)
	}
	if err := b.clock.Sleep(ctx, b.randomDelay(100*time.Millisecond, 300*time.Millisecond)); err != nil {
		return err
	}

	b.recordSimulation("click", map[string]any{"selector": selector})

	return nil
}

// Scroll converts a signed distance into a sequence of wheel deltas
// with per-step delays; direction follows the sign.
func (b *BehaviorSimulator) Scroll(ctx context.Context, session ports.BrowserSession, distance float64) error {
	if _, err := b.tracker.CheckAndApplyCooldown(ctx); err != nil {
		return err
	}

	direction := 1.0
	remaining := distance
	if distance < 0 {
		direction = -1.0
		remaining = -distance
	}

	steps := 0
	for remaining > 0 {
		b.mu.Lock()
		increment := 60 + b.rng.Float64()*80
		b.mu.Unlock()
		if increment > remaining {
			increment = remaining
		}

		if err := session.Scroll(ctx, direction*increment); err != nil {
			return fmt.Errorf("scroll page: %w", err)
		}
		if err := b.clock.Sleep(ctx, b.randomDelay(30*time.Millisecond, 120*time.Millisecond)); err != nil {
			return err
		}

		remaining -= increment
		steps++
	}

	b.recordSimulation("scroll", map[string]any{"distance": distance, "steps": steps})

	return nil
}

// Type enters text one character at a time with a human keystroke
// cadence. With a small fixed probability a typo is simulated: the
// character is deleted, a QWERTY-adjacent wrong one typed, noticed,
// deleted again, and the correct character retyped.
func (b *BehaviorSimulator) Type(ctx context.Context, session ports.BrowserSession, selector, text string) error {
	if _, err := b.tracker.CheckAndApplyCooldown(ctx); err != nil {
		return err
	}

	if err := session.Focus(ctx, selector); err != nil {
		return fmt.Errorf("focus input: %w", err)
	}

	typoProbability := b.cfg.Snapshot().TypoProbability
	if typoProbability <= 0 {
		typoProbability = typoProbabilityFallback
	}

	typos := 0
	for _, r := range text {
		if err := session.TypeRune(ctx, r); err != nil {
			return fmt.Errorf("type character: %w", err)
		}
		if err := b.clock.Sleep(ctx, b.keystrokeDelay()); err != nil {
			return err
		}

		if b.shouldInjectTypo(r, typoProbability) {
			if err := b.injectTypo(ctx, session, r); err != nil {
				return err
			}
			typos++
		}
	}

	b.recordSimulation("typing", map[string]any{
		"selector": selector,
		"length":   len(text),
		"typos":    typos,
	})

	return nil
}

// SimulateReading dwells on content for as long as a human reader
// would, sleeping in short chunks so cancellation stays responsive.
func (b *BehaviorSimulator) SimulateReading(ctx context.Context, contentLength int, wpm int) error {
	if wpm <= 0 {
		wpm = b.cfg.Snapshot().ReadingWPM
	}
	if contentLength <= 0 {
		return nil
	}

	words := float64(contentLength) / charsPerWord
	total := time.Duration(words / float64(wpm) * float64(time.Minute))

	for elapsed := time.Duration(0); elapsed < total; elapsed += readingChunk {
		chunk := readingChunk
		if remaining := total - elapsed; remaining < chunk {
			chunk = remaining
		}
		if err := b.clock.Sleep(ctx, chunk); err != nil {
			return err
		}

		b.mu.Lock()
		reread := b.rng.Float64() < rereadChance
		b.mu.Unlock()
		if reread {
			if err := b.clock.Sleep(ctx, b.randomDelay(500*time.Millisecond, 1500*time.Millisecond)); err != nil {
				return err
			}
		}
	}

	b.recordSimulation("reading", map[string]any{
		"contentLength": contentLength,
		"wpm":           wpm,
		"dwellMs":       total.Milliseconds(),
	})

	return nil
}

func (b *BehaviorSimulator) shouldInjectTypo(r rune, probability float64) bool {
	if unicode.IsSpace(r) {
		return false
	}
	if _, ok := qwertyNeighbors[unicode.ToLower(r)]; !ok {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	return b.rng.Float64() < probability
}

func (b *BehaviorSimulator) injectTypo(ctx context.Context, session ports.BrowserSession, correct rune) error {
	wrong := b.adjacentKey(correct)

	steps := []func() error{
		func() error { return session.Backspace(ctx) },
		func() error { return session.TypeRune(ctx, wrong) },
		// Pause: the "noticing the mistake" beat.
		func() error { return b.clock.Sleep(ctx, b.randomDelay(200*time.Millisecond, 600*time.Millisecond)) },
		func() error { return session.Backspace(ctx) },
		func() error { return session.TypeRune(ctx, correct) },
		func() error { return b.clock.Sleep(ctx, b.keystrokeDelay()) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return fmt.Errorf("simulate typo: %w", err)
		}
	}

	return nil
}

// adjacentKey picks a QWERTY neighbor of the given key, preserving
// case.
func (b *BehaviorSimulator) adjacentKey(r rune) rune {
	lower := unicode.ToLower(r)
	neighbors, ok := qwertyNeighbors[lower]
	if !ok {
		return r
	}

	b.mu.Lock()
	picked := neighbors[b.rng.Intn(len(neighbors))]
	b.mu.Unlock()

	if unicode.IsUpper(r) {
		return unicode.ToUpper(picked)
	}

	return picked
}

func (b *BehaviorSimulator) keystrokeDelay() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay := 50 + b.rng.Intn(110)
	// Occasional longer hesitation mid-word.
	if b.rng.Float64() < 0.05 {
		delay += 200 + b.rng.Intn(400)
	}

	return time.Duration(delay) * time.Millisecond
}

func (b *BehaviorSimulator) randomDelay(min, max time.Duration) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if max <= min {
		return min
	}

	return min + time.Duration(b.rng.Int63n(int64(max-min)))
}

// stepDelay eases pointer speed in and out across the path.
func (b *BehaviorSimulator) stepDelay(step, totalSteps int) time.Duration {
	progress := float64(step) / float64(totalSteps)
	ease := math.Sin(progress * math.Pi)

	const minDelay, maxDelay = 4, 18
	delay := maxDelay - (maxDelay-minDelay)*ease

	return time.Duration(delay) * time.Millisecond
}

type pathPoint struct {
	x float64
	y float64
}

// pointerPath builds a cubic Bezier curve between the two points with
// randomized control offsets. Callers must hold b.mu.
func (b *BehaviorSimulator) pointerPath(fromX, fromY, toX, toY float64) []pathPoint {
	distance := math.Hypot(toX-fromX, toY-fromY)
	steps := int(distance/10) + 10

	offset := distance * 0.3
	ctrl1x := fromX + (toX-fromX)*0.25 + (b.rng.Float64()-0.5)*offset
	ctrl1y := fromY + (toY-fromY)*0.25 + (b.rng.Float64()-0.5)*offset
	ctrl2x := fromX + (toX-fromX)*0.75 + (b.rng.Float64()-0.5)*offset
	ctrl2y := fromY + (toY-fromY)*0.75 + (b.rng.Float64()-0.5)*offset

	points := make([]pathPoint, steps)
	for i := 0; i < steps; i++ {
		t := float64(i) / float64(steps-1)
		points[i] = pathPoint{
			x: cubicBezier(t, fromX, ctrl1x, ctrl2x, toX),
			y: cubicBezier(t, fromY, ctrl1y, ctrl2y, toY),
		}
	}

	return points
}

func cubicBezier(t, p0, p1, p2, p3 float64) float64 {
	u := 1 - t

	return u*u*u*p0 + 3*u*u*t*p1 + 3*u*t*t*p2 + t*t*t*p3
}

func (b *BehaviorSimulator) recordSimulation(kind string, metadata map[string]any) {
	b.tracker.RecordAction(kind, metadata)

	fields := audit.Fields{"kind": kind}
	for key, value := range metadata {
		fields[key] = value
	}
	b.log.Event(audit.EventBehaviorSimulation, fields)
}
