package session

// Watch returns a channel of view snapshots. It immediately holds the current
// snapshot; a slow reader only ever misses intermediate snapshots, never the
// latest one. The channel is closed after the final, Closed snapshot.
func (c *Controller) Watch() <-chan Update {
	ch := make(chan Update, 1)

	c.watchMu.Lock()
	defer c.watchMu.Unlock()
	c.mu.RLock()
	ch <- c.view
	c.mu.RUnlock()
	if c.closed {
		close(ch)
		return ch
	}
	c.watchers = append(c.watchers, ch)
	return ch
}

func (c *Controller) broadcast(u Update) {
	c.watchMu.Lock()
	defer c.watchMu.Unlock()
	for _, w := range c.watchers {
		offer(w, u)
	}
}

func (c *Controller) closeWatchers(final Update) {
	c.watchMu.Lock()
	defer c.watchMu.Unlock()
	for _, w := range c.watchers {
		offer(w, final)
		close(w)
	}
	c.watchers = nil
	c.closed = true
}

// offer replaces whatever snapshot w still holds with u.
func offer(w chan Update, u Update) {
	select {
	case w <- u:
		return
	default:
	}
	select {
	case <-w:
	default:
	}
	select {
	case w <- u:
	default:
	}
}
