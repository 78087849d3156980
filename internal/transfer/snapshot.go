package transfer

// QueueSnapshot is a value copy of one queue's state.
type QueueSnapshot struct {
	Name      string       `json:"name"`
	ItemCount int          `json:"item_count"`
	Status    ItemStatus   `json:"status"`
	Processed int          `json:"processed"`
	Size      RelativeSize `json:"relative_size"`
	Percent   int          `json:"percent"`
	OpenItems int          `json:"open_items"`
}

// Snapshot is a point-in-time copy of a session, safe to hand to
// other goroutines.
type Snapshot struct {
	SessionID       string          `json:"session_id"`
	State           SessionState    `json:"state"`
	Source          string          `json:"source,omitempty"`
	ProducerVersion string          `json:"producer_version,omitempty"`
	Queues          []QueueSnapshot `json:"queues"`
	Report          Report          `json:"report"`
}

// Queue returns the snapshot of a named queue.
func (s Snapshot) Queue(name string) (QueueSnapshot, bool) {
	for _, q := range s.Queues {
		if q.Name == name {
			return q, true
		}
	}
	return QueueSnapshot{}, false
}

// Snapshot copies the processor state. Queues are sorted by name.
func (p *Processor) Snapshot() Snapshot {
	s := Snapshot{
		SessionID:       p.sessionID,
		State:           p.state,
		Source:          p.source,
		ProducerVersion: p.version,
		Queues:          make([]QueueSnapshot, 0, len(p.queues)),
		Report:          p.Report(),
	}
	for _, name := range sortedQueueNames(p.queues) {
		q := p.queues[name]
		s.Queues = append(s.Queues, QueueSnapshot{
			Name:      q.Name,
			ItemCount: q.ItemCount,
			Status:    q.Status,
			Processed: q.Processed,
			Size:      q.Size,
			Percent:   q.Percent(),
			OpenItems: q.OpenItems(),
		})
	}
	return s
}
