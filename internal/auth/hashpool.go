package auth

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrPoolClosed is returned when work is submitted after Close.
var ErrPoolClosed = errors.New("auth: hash pool closed")

const dummySecret = "companyauth-timing-equalizer"

// HashPool runs password hashing on a fixed set of worker goroutines so the
// slow, CPU-bound work is bounded independently of request concurrency.
type HashPool struct {
	hasher *PasswordHasher
	jobs   chan func()
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
	// dummy is hashed once at construction with the live parameters.
	dummy string
}

// NewHashPool starts workers goroutines executing hash jobs.
func NewHashPool(hasher *PasswordHasher, workers int) *HashPool {
	if workers <= 0 {
		workers = 1
	}
	dummy, _ := hasher.Hash(dummySecret)
	p := &HashPool{
		hasher: hasher,
		jobs:   make(chan func()),
		done:   make(chan struct{}),
		dummy:  dummy,
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.work()
	}
	return p
}

func (p *HashPool) work() {
	defer p.wg.Done()
	for {
		select {
		case job := <-p.jobs:
			job()
		case <-p.done:
			return
		}
	}
}

// Close stops the workers after in-flight jobs finish.
func (p *HashPool) Close() {
	p.once.Do(func() {
		close(p.done)
	})
	p.wg.Wait()
}

// submit hands fn to a worker and waits for it. If ctx ends first the job
// may still complete, but its results are discarded by the caller.
func (p *HashPool) submit(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	finished := make(chan struct{})
	job := func() {
		defer close(finished)
		fn()
	}
	select {
	case p.jobs <- job:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrPoolClosed
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Hash hashes secret on a worker.
func (p *HashPool) Hash(ctx context.Context, secret string) (string, error) {
	var (
		out string
		err error
	)
	start := time.Now()
	if serr := p.submit(ctx, func() { out, err = p.hasher.Hash(secret) }); serr != nil {
		return "", serr
	}
	hashDuration.WithLabelValues("hash").Observe(time.Since(start).Seconds())
	return out, err
}

// Verify checks secret against encoded on a worker. The error is non-nil only
// when the job could not run.
func (p *HashPool) Verify(ctx context.Context, secret, encoded string) (bool, error) {
	var ok bool
	start := time.Now()
	if err := p.submit(ctx, func() { ok = p.hasher.Verify(secret, encoded) }); err != nil {
		return false, err
	}
	hashDuration.WithLabelValues("verify").Observe(time.Since(start).Seconds())
	return ok, nil
}

// VerifyAbsent spends the same work as Verify against a throwaway hash. It is
// used when the principal does not exist and always reports a mismatch.
func (p *HashPool) VerifyAbsent(ctx context.Context, secret string) error {
	return p.submit(ctx, func() { _ = p.hasher.Verify(secret, p.dummy) })
}
