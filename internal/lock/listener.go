package lock

// Listener lets a host environment service pending work instead of
// blocking while a thread waits for a lock or rule. Every method may be
// called from any thread, with no engine lock held. Panics are recovered
// and logged.
type Listener interface {
	// AboutToWait is called before the calling thread blocks on a lock
	// currently owned by owner (nil when unowned). Returning true grants
	// the lock immediately without waiting.
	AboutToWait(owner *Thread) bool
	// AboutToRelease is called before a lock is fully released.
	AboutToRelease()
	// CanBlock reports whether the calling thread may block indefinitely.
	// When false, waits are done in short slices.
	CanBlock() bool
}

// ListenerFuncs adapts optional functions to Listener. A nil AboutToWait
// never grants, a nil CanBlock allows blocking.
type ListenerFuncs struct {
	AboutToWaitFunc    func(owner *Thread) bool
	AboutToReleaseFunc func()
	CanBlockFunc       func() bool
}

func (f ListenerFuncs) AboutToWait(owner *Thread) bool {
	if f.AboutToWaitFunc == nil {
		return false
	}
	return f.AboutToWaitFunc(owner)
}

func (f ListenerFuncs) AboutToRelease() {
	if f.AboutToReleaseFunc != nil {
		f.AboutToReleaseFunc()
	}
}

func (f ListenerFuncs) CanBlock() bool {
	if f.CanBlockFunc == nil {
		return true
	}
	return f.CanBlockFunc()
}
