package geometry

import (
	"errors"
	"sync"
	"testing"

	"github.com/makeabledk/firebasevision/pkg/types"
)

type fakeZoomer struct {
	mu     sync.Mutex
	levels []int
	err    error
}

func (f *fakeZoomer) SetZoom(level int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.levels = append(f.levels, level)
	return nil
}

type recorder struct {
	mu       sync.Mutex
	percents []int
}

func (r *recorder) OnZoom(p int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.percents = append(r.percents, p)
}

func twoFingers(action Action, spacing float64) TouchEvent {
	return TouchEvent{Action: action, Pointers: []types.Point{{X: 0, Y: 0}, {X: spacing, Y: 0}}}
}

func newPinch(maxLevel int, supported bool) (*Pinch, *Zoom, *fakeZoomer, *recorder) {
	dev := &fakeZoomer{}
	z := NewZoom()
	z.Attach(dev, maxLevel, supported)
	rec := &recorder{}
	return NewPinch(z, rec), z, dev, rec
}

func TestPinch_SaturatesAtMax(t *testing.T) {
	p, z, dev, rec := newPinch(10, true)

	p.HandleTouch(twoFingers(ActionPointerDown, 100))
	for i := 1; i <= 12; i++ {
		p.HandleTouch(twoFingers(ActionMove, 100+float64(i)*10))
	}

	if lvl := z.State().Level; lvl != 10 {
		t.Fatalf("level = %d, want 10", lvl)
	}
	if len(rec.percents) != 10 {
		t.Fatalf("emitted %d times, want 10 (no emit once saturated)", len(rec.percents))
	}
	if last := rec.percents[len(rec.percents)-1]; last != 100 {
		t.Errorf("last percent = %d, want 100", last)
	}
	if rec.percents[0] != 10 {
		t.Errorf("first percent = %d, want 10", rec.percents[0])
	}
	if len(dev.levels) != 10 {
		t.Errorf("device calls = %d, want 10", len(dev.levels))
	}
}

func TestPinch_PinchInSaturatesAtZero(t *testing.T) {
	p, z, _, rec := newPinch(4, true)

	p.HandleTouch(twoFingers(ActionPointerDown, 100))
	p.HandleTouch(twoFingers(ActionMove, 110))
	p.HandleTouch(twoFingers(ActionMove, 100))
	p.HandleTouch(twoFingers(ActionMove, 90))
	p.HandleTouch(twoFingers(ActionMove, 80))

	if lvl := z.State().Level; lvl != 0 {
		t.Fatalf("level = %d, want 0", lvl)
	}
	want := []int{25, 0}
	if len(rec.percents) != len(want) || rec.percents[0] != want[0] || rec.percents[1] != want[1] {
		t.Errorf("percents = %v, want %v", rec.percents, want)
	}
}

func TestPinch_EqualSpacingIsNoop(t *testing.T) {
	p, z, dev, rec := newPinch(10, true)

	p.HandleTouch(twoFingers(ActionPointerDown, 50))
	p.HandleTouch(twoFingers(ActionMove, 50))
	p.HandleTouch(twoFingers(ActionMove, 50))

	if z.State().Level != 0 || len(rec.percents) != 0 || len(dev.levels) != 0 {
		t.Errorf("equal spacing changed state: level=%d emits=%v device=%v", z.State().Level, rec.percents, dev.levels)
	}
}

func TestPinch_IgnoredCases(t *testing.T) {
	tests := []struct {
		name      string
		supported bool
		events    []TouchEvent
	}{
		{
			name:      "unsupported device",
			supported: false,
			events:    []TouchEvent{twoFingers(ActionPointerDown, 10), twoFingers(ActionMove, 50)},
		},
		{
			name:      "single contact",
			supported: true,
			events: []TouchEvent{
				{Action: ActionDown, Pointers: []types.Point{{X: 1}}},
				{Action: ActionMove, Pointers: []types.Point{{X: 50}}},
			},
		},
		{
			name:      "move without baseline only records spacing",
			supported: true,
			events:    []TouchEvent{twoFingers(ActionMove, 50)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, z, dev, rec := newPinch(10, tt.supported)
			for _, ev := range tt.events {
				p.HandleTouch(ev)
			}
			if z.State().Level != 0 || len(rec.percents) != 0 || len(dev.levels) != 0 {
				t.Errorf("state changed: level=%d emits=%v device=%v", z.State().Level, rec.percents, dev.levels)
			}
		})
	}
}

func TestPinch_DeviceFailureDoesNotEmit(t *testing.T) {
	p, z, dev, rec := newPinch(10, true)
	dev.err = errors.New("busy")

	p.HandleTouch(twoFingers(ActionPointerDown, 10))
	p.HandleTouch(twoFingers(ActionMove, 20))

	if z.State().Level != 0 {
		t.Errorf("level = %d, want 0 after device failure", z.State().Level)
	}
	if len(rec.percents) != 0 {
		t.Errorf("emitted %v after device failure", rec.percents)
	}
}

func TestZoom_SetClamps(t *testing.T) {
	dev := &fakeZoomer{}
	z := NewZoom()
	z.Attach(dev, 8, true)

	tests := []struct {
		in, want int
	}{
		{5, 5},
		{99, 8},
		{-3, 0},
	}
	for _, tt := range tests {
		s, err := z.Set(tt.in)
		if err != nil {
			t.Fatalf("Set(%d): %v", tt.in, err)
		}
		if s.Level != tt.want {
			t.Errorf("Set(%d) level = %d, want %d", tt.in, s.Level, tt.want)
		}
	}
}

func TestZoom_Unsupported(t *testing.T) {
	z := NewZoom()
	if _, err := z.Set(1); !errors.Is(err, ErrZoomUnsupported) {
		t.Errorf("Set without device err = %v, want ErrZoomUnsupported", err)
	}

	z.Attach(&fakeZoomer{}, 10, true)
	z.Detach()
	if _, _, err := z.Step(1); !errors.Is(err, ErrZoomUnsupported) {
		t.Errorf("Step after detach err = %v, want ErrZoomUnsupported", err)
	}

	z.Attach(&fakeZoomer{}, 0, true)
	if z.Supported() {
		t.Error("zero max zoom reported as supported")
	}
}

func TestZoomState_Percent(t *testing.T) {
	tests := []struct {
		level, max, want int
	}{
		{0, 10, 0},
		{1, 3, 33},
		{2, 3, 67},
		{3, 3, 100},
		{0, 0, 0},
	}
	for _, tt := range tests {
		if got := (ZoomState{Level: tt.level, Max: tt.max}).Percent(); got != tt.want {
			t.Errorf("Percent(%d/%d) = %d, want %d", tt.level, tt.max, got, tt.want)
		}
	}
}

func TestZoom_ConcurrentSteps(t *testing.T) {
	dev := &fakeZoomer{}
	z := NewZoom()
	z.Attach(dev, 50, true)

	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = z.Step(1)
		}()
	}
	wg.Wait()

	if lvl := z.State().Level; lvl != 50 {
		t.Errorf("level = %d, want 50", lvl)
	}
}
