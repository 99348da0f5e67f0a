package vtview

// Sink receives session output that is not part of the screen buffer.
// Methods are called on the viewer's event loop.
type Sink interface {
	OnRawOutput(data []byte)
	OnExit(code int32)
}

type eventFanout struct {
	sinks []Sink
}

func fanoutSinks(sinks []Sink) Sink {
	kept := make([]Sink, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			kept = append(kept, sink)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	default:
		return eventFanout{sinks: kept}
	}
}

func (f eventFanout) OnRawOutput(data []byte) {
	for _, sink := range f.sinks {
		sink.OnRawOutput(data)
	}
}

func (f eventFanout) OnExit(code int32) {
	for _, sink := range f.sinks {
		sink.OnExit(code)
	}
}
