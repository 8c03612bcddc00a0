package mqtt

// queuedMsg is a serialized MQTT message held for replay after reconnection.
type queuedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// backlog holds messages published while the broker is unreachable.
// Non-retained messages queue in publish order up to capacity, dropping the
// oldest. A retained message replaces any earlier retained message on the
// same topic, since the broker keeps only the last one anyway.
// Not safe for concurrent use; caller must synchronize.
type backlog struct {
	capacity int
	queue    []queuedMsg
	retained map[string]int // topic -> index in queue
	dropped  int            // messages discarded since last drain
}

func newBacklog(capacity int) *backlog {
	return &backlog{
		capacity: capacity,
		retained: make(map[string]int),
	}
}

// add queues msg. It reports whether this call was the first to drop a
// message since the last drain. Coalesced retained messages are not drops.
func (b *backlog) add(msg queuedMsg) (firstDrop bool) {
	if msg.retained {
		if i, ok := b.retained[msg.topic]; ok {
			b.queue = append(b.queue[:i], b.queue[i+1:]...)
			b.reindex()
		}
	}
	if len(b.queue) == b.capacity {
		b.queue = b.queue[1:]
		b.reindex()
		b.dropped++
		firstDrop = b.dropped == 1
	}
	b.queue = append(b.queue, msg)
	if msg.retained {
		b.retained[msg.topic] = len(b.queue) - 1
	}
	return firstDrop
}

func (b *backlog) reindex() {
	clear(b.retained)
	for i, m := range b.queue {
		if m.retained {
			b.retained[m.topic] = i
		}
	}
}

// drain returns queued messages oldest first and the number dropped since
// the previous drain, and empties the backlog.
func (b *backlog) drain() ([]queuedMsg, int) {
	msgs, dropped := b.queue, b.dropped
	b.queue = nil
	b.dropped = 0
	clear(b.retained)
	return msgs, dropped
}

func (b *backlog) len() int {
	return len(b.queue)
}
