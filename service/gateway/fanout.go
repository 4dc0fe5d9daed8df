package gateway

import "RTChat/tools/safe"

type fanoutJob struct {
	conns   []*Conn
	payload []byte
}

// Fanout pushes one payload to many local connections off the caller's
// goroutine. Slow clients are skipped by Conn.Push, never waited on.
type Fanout struct {
	jobs chan fanoutJob
}

func NewFanout(workers, queue int) *Fanout {
	f := &Fanout{jobs: make(chan fanoutJob, queue)}
	for i := 0; i < workers; i++ {
		safe.SafeGo(func() {
			for job := range f.jobs {
				for _, c := range job.conns {
					c.Push(job.payload)
				}
			}
		})
	}
	return f
}

func (f *Fanout) Broadcast(conns []*Conn, payload []byte) {
	if len(conns) == 0 || len(payload) == 0 {
		return
	}
	f.jobs <- fanoutJob{conns: conns, payload: payload}
}
