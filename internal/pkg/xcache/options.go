package xcache

type getOptions struct {
	refetch        bool
	acquireLock    bool
	fetchIfMissing bool
}

type GetOption func(*getOptions)

func applyGetOptions(opts []GetOption) getOptions {
	o := getOptions{
		acquireLock:    true,
		fetchIfMissing: true,
	}

	for _, opt := range opts {
		opt(&o)
	}

	return o
}

// WithRefetch forces a fetch from the source of truth even when a fresh
// entry exists.
func WithRefetch() GetOption {
	return func(o *getOptions) {
		o.refetch = true
	}
}

// WithoutLock skips the distributed lock. Callers already holding the
// key's lock use this to avoid self-deadlock.
func WithoutLock() GetOption {
	return func(o *getOptions) {
		o.acquireLock = false
	}
}

// WithoutFetch returns (nil, nil) on a miss instead of fetching.
func WithoutFetch() GetOption {
	return func(o *getOptions) {
		o.fetchIfMissing = false
	}
}
