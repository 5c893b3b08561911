package chat

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Handler processes a single update.
type Handler interface {
	HandleUpdate(ctx context.Context, u Update)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, u Update)

// HandleUpdate calls f.
func (f HandlerFunc) HandleUpdate(ctx context.Context, u Update) {
	f(ctx, u)
}

// Dispatcher fans updates out to per-chat lanes.
//
// Updates of the same chat are handled one at a time in arrival order; updates of
// different chats are handled concurrently. A lane goroutine exits once its queue
// drains and is recreated on the next update for that chat.
type Dispatcher struct {
	handler Handler
	logger  *zap.Logger

	mu    sync.Mutex
	lanes map[int64]*lane
	wg    sync.WaitGroup
}

type lane struct {
	queue []Update
}

// NewDispatcher creates a dispatcher for h.
func NewDispatcher(h Handler, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		handler: h,
		logger:  logger,
		lanes:   make(map[int64]*lane),
	}
}

// Dispatch enqueues u on its chat lane. It never blocks on handler work.
func (d *Dispatcher) Dispatch(ctx context.Context, u Update) {
	chatID := u.ChatID()

	d.mu.Lock()
	l, running := d.lanes[chatID]
	if !running {
		l = &lane{}
		d.lanes[chatID] = l
	}
	l.queue = append(l.queue, u)
	d.mu.Unlock()

	if !running {
		d.wg.Add(1)
		go d.drain(ctx, chatID, l)
	}
}

// Run dispatches updates from in until it is closed or ctx is cancelled, then
// waits for in-flight handlers to finish.
func (d *Dispatcher) Run(ctx context.Context, in <-chan Update) {
	defer d.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-in:
			if !ok {
				return
			}
			d.Dispatch(ctx, u)
		}
	}
}

// Wait blocks until every lane has drained.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) drain(ctx context.Context, chatID int64, l *lane) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		if len(l.queue) == 0 {
			delete(d.lanes, chatID)
			d.mu.Unlock()
			return
		}
		u := l.queue[0]
		l.queue[0] = Update{}
		l.queue = l.queue[1:]
		d.mu.Unlock()

		d.handle(ctx, chatID, u)
	}
}

func (d *Dispatcher) handle(ctx context.Context, chatID int64, u Update) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Update handler panicked",
				zap.Int64("chat_id", chatID),
				zap.Any("panic", r))
		}
	}()
	d.handler.HandleUpdate(ctx, u)
}
