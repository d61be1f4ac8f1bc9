package network

import (
	"sync"

	"github.com/ZentaChain/talkrelay/pkg/protocol"
)

type pairKey struct {
	sender    string
	recipient string
}

// PendingQueue holds binary-direct-receipt envelopes that wait for the
// recipient's confirmation. Entries are FIFO per (sender, recipient) pair.
type PendingQueue struct {
	mu      sync.Mutex
	entries map[pairKey][]protocol.Envelope
	total   int
}

func NewPendingQueue() *PendingQueue {
	return &PendingQueue{
		entries: make(map[pairKey][]protocol.Envelope),
	}
}

// Enqueue stores env under (env.Sender, env.Recipient)
func (q *PendingQueue) Enqueue(env protocol.Envelope) {
	key := pairKey{sender: env.Sender(), recipient: env.Recipient()}

	q.mu.Lock()
	q.entries[key] = append(q.entries[key], env)
	q.total++
	q.mu.Unlock()
}

// Take pops the oldest entry for the pair
func (q *PendingQueue) Take(sender, recipient string) (protocol.Envelope, bool) {
	key := pairKey{sender: sender, recipient: recipient}

	q.mu.Lock()
	defer q.mu.Unlock()

	list := q.entries[key]
	if len(list) == 0 {
		return protocol.Envelope{}, false
	}

	env := list[0]
	if len(list) == 1 {
		delete(q.entries, key)
	} else {
		list[0] = protocol.Envelope{}
		q.entries[key] = list[1:]
	}
	q.total--
	return env, true
}

// Discard drops the oldest entry for the pair
func (q *PendingQueue) Discard(sender, recipient string) bool {
	_, ok := q.Take(sender, recipient)
	return ok
}

func (q *PendingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.total
}

// Drain drops everything and returns how many entries were dropped
func (q *PendingQueue) Drain() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.total
	q.entries = make(map[pairKey][]protocol.Envelope)
	q.total = 0
	return n
}
