package app

type BackpressureAction int

// KickSession closes the session. Any other action leaves it stalled: it
// receives nothing more and stays subscribed until it goes away.
const KickSession BackpressureAction = 1

// Policy decides what happens to a session whose outbound queue overflowed
// during fanout.
type Policy interface {
	OnBackPressure(room RoomRef, s *Session) BackpressureAction
}

// RoomRef names the room whose fanout hit the full queue.
type RoomRef struct {
	ID          int64
	Subscribers int
}

// ClosePolicy disconnects slow sessions. Dropping frames would leave a gap
// the client cannot see, while a reconnect resyncs from history.
type ClosePolicy struct{}

func (ClosePolicy) OnBackPressure(RoomRef, *Session) BackpressureAction {
	return KickSession
}
