package conio

import "sync"

// DelayDrop gates teardown of state that the event-delivery thread
// may still touch. Delay returns a scoped token; Drop blocks until
// every outstanding token has been released. Reset renews the
// standing token that covers the next parked interval, releasing the
// one that covered the previous interval.
//
// The guard protects the registration record: the selector can write
// its readiness flag and waiter slot at any time after registration,
// so the record must not be torn down while a delivery is in flight.
type DelayDrop struct {
	noCopy   noCopy
	mu       sync.Mutex
	cond     *sync.Cond
	tokens   int
	standing bool
}

// DelayToken is a scoped hold on a DelayDrop. Release is idempotent.
type DelayToken struct {
	d    *DelayDrop
	once sync.Once
}

// Delay acquires a token. Teardown via Drop waits until the token is
// released.
func (d *DelayDrop) Delay() *DelayToken {
	d.mu.Lock()
	d.tokens++
	d.mu.Unlock()
	return &DelayToken{d: d}
}

// Release returns the token. Calling Release more than once is a
// no-op.
func (t *DelayToken) Release() {
	t.once.Do(func() {
		d := t.d
		d.mu.Lock()
		d.tokens--
		if d.tokens == 0 && d.cond != nil {
			d.cond.Broadcast()
		}
		d.mu.Unlock()
	})
}

// Reset arms the standing guard before a suspension. The standing
// guard counts as one token until the next Reset, Settle, or Drop, so
// the whole parked interval is covered without the owner holding an
// explicit token across the yield.
func (d *DelayDrop) Reset() {
	d.mu.Lock()
	if !d.standing {
		d.standing = true
		d.tokens++
	}
	d.mu.Unlock()
}

// Settle releases the standing guard once the owning task has been
// confirmed resumed.
func (d *DelayDrop) Settle() {
	d.mu.Lock()
	if d.standing {
		d.standing = false
		d.tokens--
		if d.tokens == 0 && d.cond != nil {
			d.cond.Broadcast()
		}
	}
	d.mu.Unlock()
}

// Drop abandons any standing guard held by the owner itself and then
// blocks until all scoped tokens have been released. It does not
// fail; it only waits.
func (d *DelayDrop) Drop() {
	d.mu.Lock()
	if d.standing {
		d.standing = false
		d.tokens--
	}
	if d.cond == nil {
		d.cond = sync.NewCond(&d.mu)
	}
	for d.tokens > 0 {
		d.cond.Wait()
	}
	d.mu.Unlock()
}
