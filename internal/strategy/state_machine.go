package strategy

import "sync"

type StateMachine struct {
	mu    sync.Mutex
	state State
}

func NewStateMachine() *StateMachine {
	return &StateMachine{state: StateInitializing}
}

func (s *StateMachine) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *StateMachine) Apply(event Event) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = nextState(s.state, event)
	return s.state
}

func nextState(current State, event Event) State {
	if current == StateStopped {
		return current
	}
	if event == EventStop {
		return StateStopped
	}
	switch current {
	case StateInitializing:
		if event == EventConfigured {
			return StateCollectingData
		}
	case StateCollectingData:
		if event == EventDataReady {
			return StateReady
		}
	case StateReady:
		switch event {
		case EventQuoting:
			return StateActiveMM
		case EventPositionOpened:
			return StatePositionMgmt
		case EventErrorLimit:
			return StateError
		}
	case StateActiveMM:
		switch event {
		case EventPositionOpened:
			return StatePositionMgmt
		case EventErrorLimit:
			return StateError
		}
	case StatePositionMgmt:
		switch event {
		case EventPositionClosed:
			return StateActiveMM
		case EventErrorLimit:
			return StateError
		}
	case StateError:
		if event == EventRecovered {
			return StateReady
		}
	}
	return current
}
