package telemetry

import (
	"sync"
)

const ConsoleQueueSize = 256

// Console combines the replay backlog with the live line broadcast.
// Appending and subscribing share one lock, so a subscriber sees every
// line exactly once: either in its replay or on its channel.
type Console struct {
	mutex       sync.Mutex
	backlog     *Backlog
	broadcaster *Broadcaster[string]
}

func NewConsole() *Console {
	return &Console{
		backlog:     NewBacklog(BacklogCapacity),
		broadcaster: NewBroadcaster[string](ConsoleQueueSize),
	}
}

// Append records a line and broadcasts it
func (c *Console) Append(line string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.backlog.Push(line)
	c.broadcaster.Publish(line)
}

// Subscribe returns the current backlog, oldest first, and a subscription
// receiving every line appended afterwards.
func (c *Console) Subscribe() ([]string, *Subscription[string]) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.backlog.Lines(), c.broadcaster.Subscribe()
}

// Backlog returns a snapshot of the retained lines
func (c *Console) Backlog() []string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.backlog.Lines()
}

// Close ends every live subscription
func (c *Console) Close() {
	c.broadcaster.Close()
}
