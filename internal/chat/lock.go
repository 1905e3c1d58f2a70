package chat

import "context"

// Locker serializes work on a key across every instance sharing a store.
// Lock blocks until the key is held or ctx ends; the returned func releases
// it.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// Option configures a Service.
type Option func(*Service)

// WithLocker adds a shared lock around append and publish so pushes for one
// conversation leave all instances in sequence order.
func WithLocker(l Locker) Option {
	return func(s *Service) {
		s.locker = l
	}
}
