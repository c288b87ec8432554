package snowlease

// simulateCrash stops background workers without releasing the lease (for testing).
// The slot stays occupied store-side until its TTL expires, like a real crash.
func (s *Service) simulateCrash() {
	if s.coordinator != nil && s.coordinator.cancel != nil {
		s.coordinator.cancel()
	}
}
