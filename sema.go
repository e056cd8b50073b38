package conio

import "github.com/gammazero/deque"

// sema is the parking lot backing the task synchronization
// primitives. It holds the queue of parked tasks and resumes them one
// at a time, in FIFO order, always on the scheduler goroutine.
type sema struct {
	noCopy noCopy
	w      deque.Deque[*Task]
}

// park suspends the task and queues it for a later unpark.
func (s *sema) park(t *Task) {
	s.w.PushBack(t)
	t.suspend()
}

// unparkOne resumes the longest-parked task, if any, and reports
// whether one was resumed.
func (s *sema) unparkOne() bool {
	if s.w.Len() == 0 {
		return false
	}

	task := s.w.PopFront()
	task.sched.runTask(task)
	return true
}

// waiters returns the number of parked tasks.
func (s *sema) waiters() int {
	return s.w.Len()
}
