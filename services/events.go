package services

import "github.com/camden-git/attendancebackend/realtime"

// Broadcaster publishes events to connected clients. *realtime.Hub satisfies it.
type Broadcaster interface {
	Broadcast(event realtime.Event)
}

type noopBroadcaster struct{}

func (noopBroadcaster) Broadcast(realtime.Event) {}

func orNoop(b Broadcaster) Broadcaster {
	if b == nil {
		return noopBroadcaster{}
	}
	return b
}
