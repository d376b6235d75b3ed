package router

import (
	"context"
	"sync"
)

// Verdict is the outcome of a OneVoteVeto.
type Verdict[T comparable] struct {
	Vetoed bool
	// Values holds the deduplicated pass values, in arrival order.
	Values []T
}

// OneVoteVeto is a unanimous-consent ballot over n independent voters.
// A single veto decides the outcome for everyone; otherwise the ballot
// resolves once all n voters have passed.
type OneVoteVeto[T comparable] struct {
	mu        sync.Mutex
	remaining int
	verdict   Verdict[T]
	seen      map[T]struct{}
	done      chan struct{}
	resolved  bool
	ballots   []*Ballot[T]
}

// NewOneVoteVeto creates a ballot for n voters. With n == 0 it resolves
// immediately as passed.
func NewOneVoteVeto[T comparable](n int) *OneVoteVeto[T] {
	v := &OneVoteVeto[T]{
		remaining: n,
		seen:      make(map[T]struct{}),
		done:      make(chan struct{}),
		ballots:   make([]*Ballot[T], n),
	}
	for i := range v.ballots {
		v.ballots[i] = &Ballot[T]{veto: v}
	}
	if n <= 0 {
		v.resolveLocked()
	}
	return v
}

// Ballot returns the personal controller of voter i.
func (v *OneVoteVeto[T]) Ballot(i int) *Ballot[T] {
	return v.ballots[i]
}

// Done is closed once the outcome is known.
func (v *OneVoteVeto[T]) Done() <-chan struct{} {
	return v.done
}

// Wait blocks until the outcome is known or ctx ends.
func (v *OneVoteVeto[T]) Wait(ctx context.Context) (Verdict[T], error) {
	select {
	case <-v.done:
		v.mu.Lock()
		defer v.mu.Unlock()
		return Verdict[T]{Vetoed: v.verdict.Vetoed, Values: append([]T(nil), v.verdict.Values...)}, nil
	case <-ctx.Done():
		return Verdict[T]{}, ctx.Err()
	}
}

func (v *OneVoteVeto[T]) pass(values []T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.resolved {
		return
	}
	for _, val := range values {
		if _, dup := v.seen[val]; dup {
			continue
		}
		v.seen[val] = struct{}{}
		v.verdict.Values = append(v.verdict.Values, val)
	}
	v.remaining--
	if v.remaining <= 0 {
		v.resolveLocked()
	}
}

func (v *OneVoteVeto[T]) veto() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.resolved {
		return
	}
	v.verdict = Verdict[T]{Vetoed: true}
	v.resolveLocked()
}

func (v *OneVoteVeto[T]) resolveLocked() {
	v.resolved = true
	close(v.done)
}

// Ballot is one voter's controller. Only the first Pass or Veto counts.
type Ballot[T comparable] struct {
	once sync.Once
	veto *OneVoteVeto[T]
}

// Pass votes in favor, optionally carrying values (for the router: a
// redirect target).
func (b *Ballot[T]) Pass(values ...T) {
	b.once.Do(func() { b.veto.pass(values) })
}

// Veto votes against, deciding the ballot for every voter.
func (b *Ballot[T]) Veto() {
	b.once.Do(b.veto.veto)
}

// Vote passes or vetoes depending on vetoed.
func (b *Ballot[T]) Vote(vetoed bool, values ...T) {
	if vetoed {
		b.Veto()
		return
	}
	b.Pass(values...)
}

// Wait blocks until the whole ballot resolves.
func (b *Ballot[T]) Wait(ctx context.Context) (Verdict[T], error) {
	return b.veto.Wait(ctx)
}
