package conio

// Mutex provides mutual exclusion between tasks. Only one task holds
// the lock at a time; contenders suspend until the holder releases
// it.
type Mutex struct {
	noCopy noCopy
	r      *Task // current holder
	sema   sema
}

// Lock acquires the mutex for the task, suspending it while another
// task holds the lock.
func (m *Mutex) Lock(task *Task) {
	if m.r == nil {
		m.r = task
		return
	}

	m.sema.park(task)
	m.r = task
}

// Unlock releases the mutex and resumes the next waiting task, if
// any.
func (m *Mutex) Unlock() {
	m.r = nil
	m.sema.unparkOne()
}

// WaitCount returns the number of tasks waiting to acquire the mutex.
func (m *Mutex) WaitCount() int {
	return m.sema.waiters()
}
