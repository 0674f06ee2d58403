package callsdk

import "sync"

type baseNotifier struct {
	mu       sync.RWMutex
	handlers []func()
}

// OnClose registers handler to run once the owner is released.
func (n *baseNotifier) OnClose(handler func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.handlers = append(n.handlers, handler)
}

func (n *baseNotifier) notifyClosed() {
	n.mu.Lock()
	handlers := n.handlers
	n.handlers = nil
	n.mu.Unlock()

	for _, handler := range handlers {
		handler()
	}
}
