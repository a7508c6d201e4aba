package pipeline

import "sync"

// laneSet serializes jobs that share a key while letting different keys run
// concurrently. A lane's worker drains its queue and exits when empty, so
// idle sessions cost nothing.
type laneSet struct {
	mu    sync.Mutex
	lanes map[string]*lane
}

type lane struct {
	jobs []func()
}

func newLaneSet() *laneSet {
	return &laneSet{lanes: make(map[string]*lane)}
}

// Run executes job serialized on key, blocking until it completes. Jobs with
// the same key run in submission order.
func (ls *laneSet) Run(key string, job func()) {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		job()
	}

	ls.mu.Lock()
	l, ok := ls.lanes[key]
	if ok {
		l.jobs = append(l.jobs, wrapped)
		ls.mu.Unlock()
		<-done
		return
	}
	l = &lane{}
	ls.lanes[key] = l
	ls.mu.Unlock()

	go ls.drain(key, l, wrapped)
	<-done
}

func (ls *laneSet) drain(key string, l *lane, first func()) {
	job := first
	for {
		job()

		ls.mu.Lock()
		if len(l.jobs) == 0 {
			delete(ls.lanes, key)
			ls.mu.Unlock()
			return
		}
		job = l.jobs[0]
		l.jobs = l.jobs[1:]
		ls.mu.Unlock()
	}
}
