package jobs

// jobRing keeps the newest capacity jobs; pushing past capacity evicts the oldest.
type jobRing struct {
	items    []*Job
	start    int
	size     int
	capacity int
}

func newJobRing(capacity int) *jobRing {
	if capacity <= 0 {
		capacity = 1
	}
	return &jobRing{
		items:    make([]*Job, capacity),
		capacity: capacity,
	}
}

// push appends job and returns the evicted entry, if any.
func (r *jobRing) push(job *Job) *Job {
	if r.size < r.capacity {
		r.items[(r.start+r.size)%r.capacity] = job
		r.size++
		return nil
	}
	evicted := r.items[r.start]
	r.items[r.start] = job
	r.start = (r.start + 1) % r.capacity
	return evicted
}

// newestFirst returns the retained jobs, most recent first.
func (r *jobRing) newestFirst() []*Job {
	out := make([]*Job, 0, r.size)
	for idx := r.size - 1; idx >= 0; idx-- {
		out = append(out, r.items[(r.start+idx)%r.capacity])
	}
	return out
}

func (r *jobRing) find(jobID string) *Job {
	for idx := 0; idx < r.size; idx++ {
		if job := r.items[(r.start+idx)%r.capacity]; job != nil && job.ID == jobID {
			return job
		}
	}
	return nil
}

func (r *jobRing) len() int {
	return r.size
}
