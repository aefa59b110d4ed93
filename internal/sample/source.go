// Package sample owns the sampled scalar shared by both protocol paths.
//
// The producer (an ADC reading, a simulator, a test) stores into an Atomic;
// consumers read a plain snapshot and must not assume two reads agree.
package sample

import "sync/atomic"

// Source supplies the latest scaled sample without blocking.
type Source interface {
	Sample() uint16
}

// Func adapts a plain function to Source.
type Func func() uint16

func (f Func) Sample() uint16 { return f() }

// Atomic is a lock-free single-value Source.
type Atomic struct {
	v atomic.Uint32
}

func NewAtomic(initial uint16) *Atomic {
	a := &Atomic{}
	a.Store(initial)
	return a
}

func (a *Atomic) Store(v uint16) {
	a.v.Store(uint32(v))
}

func (a *Atomic) Sample() uint16 {
	return uint16(a.v.Load())
}
