package radiobridge

// Direction names a side of the bridge in logs and statistics.
type Direction string

const (
	// Outbound frames travel from the TCP stream to the channel.
	Outbound Direction = "outbound"
	// Inbound frames travel from the channel to the TCP stream.
	Inbound Direction = "inbound"
)

// Stats receives counters from the bridge. Implementations must be safe for concurrent use.
type Stats interface {
	FrameQueued(dir Direction, size int)
	FrameDelivered(dir Direction, size int)
	FrameDiscarded(dir Direction, size int, reason string)
	TransmitTimedOut(size int)
	StateChanged(state State)
}

// NopStats discards everything.
type NopStats struct{}

func (NopStats) FrameQueued(Direction, int)            {}
func (NopStats) FrameDelivered(Direction, int)         {}
func (NopStats) FrameDiscarded(Direction, int, string) {}
func (NopStats) TransmitTimedOut(int)                  {}
func (NopStats) StateChanged(State)                    {}
