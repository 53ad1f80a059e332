package queue

// Option applies a configuration option to an InMemoryQueue.
type Option func(*settings)

type settings struct {
	capacity int
	name     string
}

// WithCapacity sets the maximum capacity of the queue.
func WithCapacity(capacity int) Option {
	return func(s *settings) {
		if capacity > 0 {
			s.capacity = capacity
		}
	}
}

// WithName labels the queue in metrics.
func WithName(name string) Option {
	return func(s *settings) {
		if name != "" {
			s.name = name
		}
	}
}
