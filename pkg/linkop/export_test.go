package linkop

// DropTimer forgets the running operation timer without stopping it.
func (q *Queue) DropTimer() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.timer = nil
}

// ForgetRunning drops the running operation but keeps its timer armed.
func (q *Queue) ForgetRunning() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.running = nil
}
