package callsdk

// State is the orchestrator state.
type State string

const (
	StateIdle                 State = "idle"
	StateAuthenticating       State = "authenticating"
	StateSocketConnecting     State = "socketconnecting"
	StateSocketConnected      State = "socketconnected"
	StateRoomCreating         State = "roomcreating"
	StateAwaitingApproval     State = "awaitingapproval"
	StateJoining              State = "joining"
	StateFetchingCapabilities State = "fetchingcapabilities"
	StateDeviceLoading        State = "deviceloading"
	StateCreatingTransports   State = "creatingtransports"
	StateProducing            State = "producing"
	StateConsumingRemote      State = "consumingremote"
	StateActive               State = "active"
	StateFailed               State = "failed"
	StateClosed               State = "closed"
)

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	return s == StateClosed
}

// socketUp reports whether the signaling socket is expected to be open in s.
func (s State) socketUp() bool {
	switch s {
	case StateIdle, StateAuthenticating, StateSocketConnecting, StateFailed, StateClosed:
		return false
	default:
		return true
	}
}

// joined reports whether the room join has been approved in s.
func (s State) joined() bool {
	switch s {
	case StateJoining, StateFetchingCapabilities, StateDeviceLoading, StateCreatingTransports,
		StateProducing, StateConsumingRemote, StateActive:
		return true
	default:
		return false
	}
}
