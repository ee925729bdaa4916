// Copyright 2024-2026 Aiku AI

package matrix

import (
	"sync"

	"maunium.net/go/mautrix/id"
)

// roomQueue runs the events of each room in order, one room per goroutine,
// so that a slow event only delays later events of the same room. A room's
// goroutine exits once its queue is empty.
type roomQueue struct {
	lock    sync.Mutex
	pending map[id.RoomID][]func()
	wg      sync.WaitGroup
}

func newRoomQueue() *roomQueue {
	return &roomQueue{pending: make(map[id.RoomID][]func())}
}

func (rq *roomQueue) push(roomID id.RoomID, fn func()) {
	rq.lock.Lock()
	defer rq.lock.Unlock()
	queue, running := rq.pending[roomID]
	rq.pending[roomID] = append(queue, fn)
	if !running {
		rq.wg.Add(1)
		go rq.run(roomID)
	}
}

func (rq *roomQueue) run(roomID id.RoomID) {
	defer rq.wg.Done()
	for {
		rq.lock.Lock()
		queue := rq.pending[roomID]
		if len(queue) == 0 {
			delete(rq.pending, roomID)
			rq.lock.Unlock()
			return
		}
		fn := queue[0]
		rq.pending[roomID] = queue[1:]
		rq.lock.Unlock()
		fn()
	}
}

// wait blocks until every queued event has been handled.
func (rq *roomQueue) wait() {
	rq.wg.Wait()
}
