package repository

import (
	"sync"

	"github.com/rocketscienceinc/tictactoe-online/internal/entity"
)

// feed - unbounded in-order queue between a backend listener and one subscriber.
// Snapshots are never dropped, a slow subscriber only grows the queue.
type feed struct {
	out  chan *entity.Room
	wake chan struct{}
	done chan struct{}

	mu    sync.Mutex
	queue []*entity.Room

	once sync.Once
	stop func()
}

func newFeed(stop func()) *feed {
	f := &feed{
		out:  make(chan *entity.Room),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		stop: stop,
	}

	go f.pump()

	return f
}

func (that *feed) Updates() <-chan *entity.Room {
	return that.out
}

func (that *feed) Cancel() {
	that.once.Do(func() {
		close(that.done)

		if that.stop != nil {
			that.stop()
		}
	})
}

func (that *feed) push(room *entity.Room) {
	select {
	case <-that.done:
		return
	default:
	}

	that.mu.Lock()
	that.queue = append(that.queue, room)
	that.mu.Unlock()

	select {
	case that.wake <- struct{}{}:
	default:
	}
}

func (that *feed) pump() {
	defer close(that.out)

	for {
		room, ok := that.next()
		if !ok {
			select {
			case <-that.wake:
				continue
			case <-that.done:
				return
			}
		}

		select {
		case that.out <- room:
		case <-that.done:
			return
		}
	}
}

func (that *feed) next() (*entity.Room, bool) {
	that.mu.Lock()
	defer that.mu.Unlock()

	if len(that.queue) == 0 {
		return nil, false
	}

	room := that.queue[0]
	that.queue[0] = nil
	that.queue = that.queue[1:]

	return room, true
}
