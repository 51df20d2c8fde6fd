package client

import (
	"errors"
	"sync"

	"github.com/hydrogen-io/hydrogen/wire"
)

var (
	ErrDuplicateTransaction = errors.New("a transaction with that message id is already pending")
	ErrTransactionsClosed   = errors.New("transactions are closed")
)

// transactions correlates in-flight requests with their responses by
// message id.  Each registered id owns a buffered channel of capacity one,
// so completion never blocks the read loop.
type transactions struct {
	lock    sync.Mutex
	closed  bool
	pending map[string]chan *wire.Message
}

func newTransactions() *transactions {
	return &transactions{
		pending: make(map[string]chan *wire.Message),
	}
}

// register creates the waiter for a message id.
func (t *transactions) register(messageID string) (<-chan *wire.Message, error) {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.closed {
		return nil, ErrTransactionsClosed
	}

	if _, ok := t.pending[messageID]; ok {
		return nil, ErrDuplicateTransaction
	}

	waiter := make(chan *wire.Message, 1)
	t.pending[messageID] = waiter
	return waiter, nil
}

// complete delivers a response to the waiter correlated with it.  Responses
// with no waiter report false and are discarded by the caller.
func (t *transactions) complete(messageID string, response *wire.Message) bool {
	t.lock.Lock()
	waiter, ok := t.pending[messageID]
	delete(t.pending, messageID)
	t.lock.Unlock()

	if ok {
		waiter <- response
	}

	return ok
}

// cancel abandons a waiter, closing its channel.
func (t *transactions) cancel(messageID string) {
	t.lock.Lock()
	waiter, ok := t.pending[messageID]
	delete(t.pending, messageID)
	t.lock.Unlock()

	if ok {
		close(waiter)
	}
}

// drain abandons every waiter.  Used when the connection drops.
func (t *transactions) drain() {
	t.lock.Lock()
	pending := t.pending
	t.pending = make(map[string]chan *wire.Message)
	t.lock.Unlock()

	for _, waiter := range pending {
		close(waiter)
	}
}

// count returns the number of in-flight transactions.
func (t *transactions) count() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return len(t.pending)
}
