// Package worker provides the pool that owns clients after the accept
// loop hands them off. Each worker drives its clients cooperatively: a
// client's step runs to a natural pause and reports when to wake it next.
package worker

import (
	"sync"
	"time"

	"streamgate/internal/client"
)

// Outcome is what a client step reports back to its worker.
type Outcome int

const (
	// OutcomeAgain reschedules the client at its ScheduleMS.
	OutcomeAgain Outcome = iota
	// OutcomeHandoff releases the client to a terminal collaborator.
	OutcomeHandoff
	// OutcomeDestroy tears the client down.
	OutcomeDestroy
)

// StepFunc runs one cooperative step for a client.
type StepFunc func(*client.Client) Outcome

// tick bounds how long an idle worker sleeps between schedule scans.
const tick = 5 * time.Millisecond

// Pool distributes clients round-robin over worker goroutines. A client
// stays on one worker for its whole life, so its steps never run
// concurrently.
type Pool struct {
	procs []*proc
	next  int
	mu    sync.Mutex
}

type proc struct {
	incoming chan *client.Client
	step     StepFunc
	registry *client.Registry
	quit     chan struct{}
	done     chan struct{}
}

// NewPool creates a pool of count workers.
func NewPool(count int, registry *client.Registry) *Pool {
	if count < 1 {
		count = 1
	}
	p := &Pool{procs: make([]*proc, count)}
	for i := range p.procs {
		p.procs[i] = &proc{
			incoming: make(chan *client.Client, 64),
			registry: registry,
			quit:     make(chan struct{}),
			done:     make(chan struct{}),
		}
	}
	return p
}

// Start launches the workers with the given step function.
func (p *Pool) Start(step StepFunc) {
	for _, w := range p.procs {
		w.step = step
		go w.run()
	}
}

// Stop shuts the workers down, destroying any clients they still own.
func (p *Pool) Stop() {
	for _, w := range p.procs {
		close(w.quit)
	}
	for _, w := range p.procs {
		<-w.done
	}
}

// CurrentTime is the pool's time reference in unix seconds.
func (p *Pool) CurrentTime() int64 { return time.Now().Unix() }

// TimeMS is the pool's time reference in milliseconds.
func (p *Pool) TimeMS() int64 { return time.Now().UnixMilli() }

// Enqueue hands a client to the next worker. Ownership transfers.
func (p *Pool) Enqueue(c *client.Client) {
	p.mu.Lock()
	w := p.procs[p.next%len(p.procs)]
	p.next++
	p.mu.Unlock()
	w.incoming <- c
}

func (w *proc) run() {
	defer close(w.done)
	var clients []*client.Client
	for {
		select {
		case c := <-w.incoming:
			clients = append(clients, c)
		case <-w.quit:
			for {
				select {
				case c := <-w.incoming:
					clients = append(clients, c)
				default:
					for _, c := range clients {
						c.Destroy(w.registry)
					}
					return
				}
			}
		case <-time.After(tick):
		}

		now := time.Now().UnixMilli()
		kept := clients[:0]
		for _, c := range clients {
			if c.ScheduleMS > now {
				kept = append(kept, c)
				continue
			}
			switch w.step(c) {
			case OutcomeAgain:
				kept = append(kept, c)
			case OutcomeHandoff:
				// a terminal collaborator owns it now
			case OutcomeDestroy:
				c.Destroy(w.registry)
			}
		}
		clients = kept
	}
}
