package host

// Watch subscribes to the session's STATE stream without being able to send
// commands. The latest state, if any, is delivered first. Slow watchers miss
// messages rather than stall the session.
func (s *Session) Watch(queue int) (<-chan []byte, func()) {
	if queue <= 0 {
		queue = 16
	}
	ch := make(chan []byte, queue)

	s.watchMu.Lock()
	if s.watchers == nil {
		s.watchers = map[int]chan []byte{}
	}
	id := s.nextWatch
	s.nextWatch++
	s.watchers[id] = ch
	if s.lastState != nil {
		ch <- s.lastState
	}
	s.watchMu.Unlock()

	return ch, func() {
		s.watchMu.Lock()
		delete(s.watchers, id)
		s.watchMu.Unlock()
	}
}

// LastState returns the most recent encoded STATE message.
func (s *Session) LastState() []byte {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	return s.lastState
}

func (s *Session) broadcast(b []byte) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	s.lastState = b
	for _, ch := range s.watchers {
		select {
		case ch <- b:
		default:
		}
	}
}
