package queue

// Option applies a configuration option to the StatusQueue.
type Option func(*StatusQueue)

// WithCapacity sets how many statuses may be buffered before Publish drops.
func WithCapacity(capacity int) Option {
	return func(q *StatusQueue) {
		if capacity > 0 {
			q.capacity = capacity
		}
	}
}
