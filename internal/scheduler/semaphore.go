package scheduler

// Semaphore caps concurrent runs for one job category. Slots in use are
// exported as joi_scheduler_jobs_running.
type Semaphore struct {
	category JobCategory
	slots    chan struct{}
}

// NewSemaphore creates a semaphore with size slots (at least one).
func NewSemaphore(category JobCategory, size int) *Semaphore {
	if size <= 0 {
		size = 1
	}
	return &Semaphore{category: category, slots: make(chan struct{}, size)}
}

// TryAcquire takes a slot if one is free.
func (s *Semaphore) TryAcquire() bool {
	select {
	case s.slots <- struct{}{}:
		jobsRunning.WithLabelValues(string(s.category)).Inc()
		return true
	default:
		return false
	}
}

// Release returns a slot taken by TryAcquire.
func (s *Semaphore) Release() {
	<-s.slots
	jobsRunning.WithLabelValues(string(s.category)).Dec()
}

// InUse reports how many slots are taken.
func (s *Semaphore) InUse() int {
	return len(s.slots)
}

// Size reports the slot count.
func (s *Semaphore) Size() int {
	return cap(s.slots)
}
