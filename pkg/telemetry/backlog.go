package telemetry

// BacklogCapacity is the number of console lines kept for replay
const BacklogCapacity = 500

// Backlog is a fixed-capacity FIFO of lines. Not safe for concurrent use;
// Console guards it.
type Backlog struct {
	lines []string
	start int
	count int
}

func NewBacklog(capacity int) *Backlog {
	if capacity <= 0 {
		capacity = BacklogCapacity
	}
	return &Backlog{
		lines: make([]string, capacity),
	}
}

// Push appends line, evicting the oldest one when full
func (b *Backlog) Push(line string) {
	capacity := len(b.lines)
	if b.count < capacity {
		b.lines[(b.start+b.count)%capacity] = line
		b.count++
		return
	}
	b.lines[b.start] = line
	b.start = (b.start + 1) % capacity
}

// Lines returns a copy, oldest first
func (b *Backlog) Lines() []string {
	out := make([]string, 0, b.count)
	for i := 0; i < b.count; i++ {
		out = append(out, b.lines[(b.start+i)%len(b.lines)])
	}
	return out
}

func (b *Backlog) Len() int {
	return b.count
}
