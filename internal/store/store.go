package store

import "sync"

// Listener is called with the new state after every committed transition.
// Listeners run in commit order, one at a time, and must not call Dispatch
// or Update.
type Listener func(State)

// Store is the single mutable holder of State. All changes go through
// Dispatch; readers get deep copies.
type Store struct {
	// notifyMu is held from commit through notify so listeners observe
	// transitions in the order they were applied. Taken before mu.
	notifyMu sync.Mutex
	mu       sync.Mutex
	state    State

	listenersMu sync.Mutex
	nextID      int
	listeners   map[int]Listener
}

// New creates a Store seeded with initial.
func New(initial State) *Store {
	return &Store{
		state:     initial.clone(),
		listeners: make(map[int]Listener),
	}
}

// Dispatch applies actions in order as one transition: observers never see
// an intermediate state. It returns the committed state.
func (s *Store) Dispatch(actions ...Action) State {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.mu.Lock()
	next := s.state
	for _, a := range actions {
		next = Reduce(next, a)
	}
	s.state = next
	snapshot := next.clone()
	s.mu.Unlock()

	s.notify(snapshot)
	return snapshot
}

// Update applies the actions returned by fn, computed from the current state
// under the store lock. It lets callers make a compare-and-set decision
// without racing other dispatchers.
func (s *Store) Update(fn func(State) []Action) State {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.mu.Lock()
	actions := fn(s.state.clone())
	next := s.state
	for _, a := range actions {
		next = Reduce(next, a)
	}
	s.state = next
	snapshot := next.clone()
	s.mu.Unlock()

	if len(actions) > 0 {
		s.notify(snapshot)
	}
	return snapshot
}

// State returns a deep copy of the current state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Subscribe registers l and returns a function that removes it.
func (s *Store) Subscribe(l Listener) (unsubscribe func()) {
	s.listenersMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.listenersMu.Unlock()

	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

func (s *Store) notify(st State) {
	s.listenersMu.Lock()
	ls := make([]Listener, 0, len(s.listeners))
	for id := 0; id < s.nextID; id++ {
		if l, ok := s.listeners[id]; ok {
			ls = append(ls, l)
		}
	}
	s.listenersMu.Unlock()

	for _, l := range ls {
		l(st)
	}
}
