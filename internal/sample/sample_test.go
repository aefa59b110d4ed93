package sample

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/potlink/internal/testutil/testlog"
)

func TestReplyByteTruncates(t *testing.T) {
	cases := map[uint16]uint8{
		0:    0,
		15:   0,
		16:   1,
		31:   1,
		2048: 128,
		4095: 255,
		9000: 255,
	}
	for in, want := range cases {
		if got := ReplyByte(in); got != want {
			t.Fatalf("ReplyByte(%d) = %d want %d", in, got, want)
		}
	}
}

func TestResolution10Scaling(t *testing.T) {
	if got := Resolution10.ToByte(1023); got != 255 {
		t.Fatalf("unexpected full scale: %d", got)
	}
	if got := Resolution10.ToByte(3); got != 0 {
		t.Fatalf("unexpected truncation: %d", got)
	}
}

func TestLevelBands(t *testing.T) {
	cases := map[uint16]byte{
		0:    'a',
		1:    'b',
		410:  'b',
		411:  'c',
		2048: 'f',
		3687: 'k',
		4095: 'k',
	}
	for in, want := range cases {
		if got := Level(in); got != want {
			t.Fatalf("Level(%d) = %c want %c", in, got, want)
		}
	}
}

func TestLevelTrackerSuppressesRepeats(t *testing.T) {
	tr := NewLevelTracker()
	if lvl, changed := tr.Observe(100); !changed || lvl != 'b' {
		t.Fatalf("first observation must report: %c %v", lvl, changed)
	}
	if _, changed := tr.Observe(300); changed {
		t.Fatalf("movement inside one level must not report")
	}
	if lvl, changed := tr.Observe(500); !changed || lvl != 'c' {
		t.Fatalf("level change must report: %c %v", lvl, changed)
	}
}

func TestTriggerCollapsesPulses(t *testing.T) {
	trig := NewTrigger()
	if trig.Due() {
		t.Fatalf("fresh trigger must not be due")
	}
	trig.Fire()
	trig.Fire()
	if !trig.Due() {
		t.Fatalf("expected pending pulse")
	}
	if trig.Due() {
		t.Fatalf("pulses must collapse into one")
	}
}

func TestTriggerTickFires(t *testing.T) {
	testlog.Start(t)
	trig := NewTrigger()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go trig.Tick(ctx, 5*time.Millisecond)

	select {
	case <-trig.C():
	case <-time.After(2 * time.Second):
		t.Fatalf("trigger never fired")
	}
}

func TestAtomicConcurrentSnapshot(t *testing.T) {
	src := NewAtomic(7)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(v uint16) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				src.Store(v)
				_ = src.Sample()
			}
		}(uint16(i * 1000))
	}
	wg.Wait()
	got := src.Sample()
	if got != 0 && got != 1000 && got != 2000 && got != 3000 {
		t.Fatalf("snapshot holds a value nobody stored: %d", got)
	}
}

func TestWalkerStaysInRange(t *testing.T) {
	out := NewAtomic(0)
	w := NewWalker(out, Resolution12, 500)
	for i := 0; i < 1000; i++ {
		if v := w.Next(); v > Resolution12.Max {
			t.Fatalf("walker escaped range: %d", v)
		}
	}
}
