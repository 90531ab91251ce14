package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/nzlov/carewire/internal/event"
)

type Options struct {
	// Name labels log lines and buses, e.g. "signaling" or "pubsub".
	Name   string
	URL    string
	Config Config
	Dialer Dialer
	Clock  clock.Clock
	Logger *zap.SugaredLogger
	// Greeting builds the first frame written on every (re)opened socket,
	// ahead of the queued frames.
	Greeting func(Identity) ([]byte, error)
}

// Connection is a single logical connection to the relay. At most one
// socket is live at a time.
type Connection struct {
	name     string
	url      string
	cfg      Config
	dialer   Dialer
	clock    clock.Clock
	log      *zap.SugaredLogger
	greeting func(Identity) ([]byte, error)

	ctx    context.Context
	cancel context.CancelFunc

	statusBus  *event.Bus[Status]
	messageBus *event.Bus[[]byte]
	errorBus   *event.Bus[error]
	emitted    atomic.Int32

	// emitMu guards emitting and emitPending. One goroutine at a time
	// publishes status; the others leave a note for it.
	emitMu      sync.Mutex
	emitting    bool
	emitPending bool

	mu        sync.Mutex
	state     Status
	id        Identity
	sock      Socket
	gen       uint64
	attempts  int
	queue     [][]byte
	reconnect *clock.Timer
	heartbeat *clock.Ticker
	hbStop    chan struct{}
}

func New(opts Options) *Connection {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.S()
	}
	if opts.Name == "" {
		opts.Name = "transport"
	}
	if opts.Dialer == nil {
		opts.Dialer = &WebsocketDialer{}
	}
	log := opts.Logger.With("component", opts.Name)
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		name:       opts.Name,
		url:        opts.URL,
		cfg:        opts.Config,
		dialer:     opts.Dialer,
		clock:      opts.Clock,
		log:        log,
		greeting:   opts.Greeting,
		ctx:        ctx,
		cancel:     cancel,
		statusBus:  event.NewBus[Status](opts.Name+".status", log),
		messageBus: event.NewBus[[]byte](opts.Name+".message", log),
		errorBus:   event.NewBus[error](opts.Name+".error", log),
	}
}

// Connect opens the socket for id. It is a no-op while a socket is open or
// being opened. A failed dial is returned and a reconnect is scheduled.
func (c *Connection) Connect(ctx context.Context, id Identity) error {
	if strings.TrimSpace(id.UserID) == "" {
		return ErrEmptyUserID
	}

	c.mu.Lock()
	switch c.state {
	case StatusClosed:
		c.mu.Unlock()
		return ErrClosed
	case StatusConnecting, StatusOpen, StatusReconnecting:
		c.mu.Unlock()
		return nil
	}
	c.id = id
	c.attempts = 0
	c.state = StatusConnecting
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	c.emitStatus()
	return c.dial(ctx, gen)
}

// Disconnect stops every timer, closes the socket with a normal close and
// drops the queue. The connection cannot be reused afterwards.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	if c.state == StatusClosed {
		c.mu.Unlock()
		return
	}
	c.state = StatusClosed
	c.gen++
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	c.stopHeartbeatLocked()
	sock := c.sock
	c.sock = nil
	dropped := len(c.queue)
	c.queue = nil
	c.mu.Unlock()

	c.cancel()
	if sock != nil {
		if err := sock.Close(CloseNormal, "client disconnect"); err != nil {
			c.log.Debugw("close socket", "error", err)
		}
	}
	if dropped > 0 {
		c.log.Infow("dropped queued frames on disconnect", "count", dropped)
	}
	c.emitStatus()
}

// Send writes frame when open and reports true. Otherwise the frame is
// queued, a reconnect is triggered if none is in flight, and false is
// returned.
func (c *Connection) Send(frame []byte) bool {
	c.mu.Lock()
	switch c.state {
	case StatusClosed:
		c.mu.Unlock()
		c.log.Warnw("send on closed connection", "size", len(frame))
		return false
	case StatusOpen:
		err := c.sock.Write(frame)
		if err == nil {
			c.mu.Unlock()
			return true
		}
		c.queue = append(c.queue, frame)
		gen := c.gen
		c.mu.Unlock()
		c.log.Warnw("write failed, frame queued", "error", err)
		c.lost(gen, err)
		return false
	}

	c.queue = append(c.queue, frame)
	var gen uint64
	redial := c.state == StatusDisconnected
	if redial {
		c.state = StatusReconnecting
		c.gen++
		gen = c.gen
	}
	c.mu.Unlock()

	if redial {
		c.emitStatus()
		go func() { _ = c.dial(c.ctx, gen) }()
	}
	return false
}

// TrySend writes frame only while open and never queues it. A failed write
// drops the frame and starts the reconnect.
func (c *Connection) TrySend(frame []byte) bool {
	c.mu.Lock()
	if c.state != StatusOpen {
		c.mu.Unlock()
		return false
	}
	err := c.sock.Write(frame)
	gen := c.gen
	c.mu.Unlock()
	if err != nil {
		c.log.Warnw("write failed, frame dropped", "error", err)
		c.lost(gen, err)
		return false
	}
	return true
}

// SendJSON marshals v and sends it.
func (c *Connection) SendJSON(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		c.log.Errorw("marshal frame", "error", err)
		return false
	}
	return c.Send(data)
}

// OnStatus calls fn with the current status right away, then on every change.
func (c *Connection) OnStatus(fn func(Status)) *event.Subscription {
	return c.statusBus.SubscribeReplay(fn, c.Status)
}

// OnMessage receives every inbound frame.
func (c *Connection) OnMessage(fn func([]byte)) *event.Subscription {
	return c.messageBus.Subscribe(fn)
}

// OnError receives transport errors. The terminal one is a *FatalError.
func (c *Connection) OnError(fn func(error)) *event.Subscription {
	return c.errorBus.Subscribe(fn)
}

func (c *Connection) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) Identity() Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Attempts is the number of reconnects made since the last successful open.
func (c *Connection) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

func (c *Connection) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

func (c *Connection) dial(ctx context.Context, gen uint64) error {
	c.mu.Lock()
	id := c.id
	c.mu.Unlock()

	sock, err := c.dialer.Dial(ctx, c.url, id)

	c.mu.Lock()
	if gen != c.gen || c.state == StatusClosed {
		c.mu.Unlock()
		if sock != nil {
			_ = sock.Close(CloseNormal, "superseded")
		}
		return ErrClosed
	}
	if err != nil {
		fatal := c.scheduleReconnectLocked(err)
		c.mu.Unlock()
		c.emitStatus()
		c.log.Warnw("dial failed", "url", c.url, "error", err)
		c.errorBus.Publish(fmt.Errorf("dial %s: %w", c.url, err))
		if fatal != nil {
			c.fatal(fatal)
		}
		return fmt.Errorf("transport: dial %s: %w", c.url, err)
	}

	c.sock = sock
	c.state = StatusOpen
	c.attempts = 0
	werr := c.openLocked(id)
	if werr == nil {
		c.startHeartbeatLocked(gen)
	}
	c.mu.Unlock()

	go c.readLoop(sock, gen)
	c.emitStatus()
	if werr != nil {
		c.lost(gen, werr)
		return nil
	}
	c.log.Infow("connected", "url", c.url, "user", id.UserID, "role", id.Role)
	return nil
}

// openLocked writes the greeting then flushes the queue in order. A frame
// leaves the queue only once the socket accepted it.
func (c *Connection) openLocked(id Identity) error {
	if c.greeting != nil {
		frame, err := c.greeting(id)
		if err != nil {
			c.log.Errorw("build greeting", "error", err)
		} else if err := c.sock.Write(frame); err != nil {
			return err
		}
	}
	for len(c.queue) > 0 {
		if err := c.sock.Write(c.queue[0]); err != nil {
			return err
		}
		c.queue[0] = nil
		c.queue = c.queue[1:]
	}
	c.queue = nil
	return nil
}

func (c *Connection) readLoop(sock Socket, gen uint64) {
	for {
		frame, err := sock.Read()
		if err != nil {
			c.lost(gen, err)
			return
		}
		c.messageBus.Publish(frame)
	}
}

// lost handles the end of the socket opened under gen.
func (c *Connection) lost(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen || c.state != StatusOpen {
		c.mu.Unlock()
		return
	}
	c.stopHeartbeatLocked()
	sock := c.sock
	c.sock = nil

	normal := IsNormalClose(err)
	var fatal *FatalError
	if normal {
		c.state = StatusDisconnected
	} else {
		fatal = c.scheduleReconnectLocked(err)
	}
	c.mu.Unlock()

	if sock != nil {
		_ = sock.Close(CloseAbnormal, "")
	}
	c.emitStatus()
	if normal {
		c.log.Infow("closed by remote")
		return
	}
	c.log.Warnw("connection lost", "error", err)
	c.errorBus.Publish(err)
	if fatal != nil {
		c.fatal(fatal)
	}
}

// scheduleReconnectLocked arms the reconnect timer, or gives up once the
// attempt ceiling is reached.
func (c *Connection) scheduleReconnectLocked(cause error) *FatalError {
	if c.attempts >= c.cfg.MaxReconnectAttempts {
		fatal := &FatalError{Attempts: c.attempts, Dropped: len(c.queue), Err: cause}
		c.state = StatusFailed
		c.queue = nil
		return fatal
	}
	c.attempts++
	c.state = StatusReconnecting
	gen := c.gen
	c.reconnect = c.clock.AfterFunc(c.cfg.ReconnectInterval, func() { c.retry(gen) })
	return nil
}

func (c *Connection) retry(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != StatusReconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnect = nil
	c.gen++
	gen = c.gen
	attempt := c.attempts
	c.mu.Unlock()

	c.log.Infow("reconnecting", "attempt", attempt, "max", c.cfg.MaxReconnectAttempts)
	_ = c.dial(c.ctx, gen)
}

func (c *Connection) fatal(err *FatalError) {
	c.log.Errorw("reconnect attempts exhausted", "attempts", err.Attempts, "dropped", err.Dropped, "error", err.Err)
	c.errorBus.Publish(err)
}

func (c *Connection) startHeartbeatLocked(gen uint64) {
	if c.cfg.HeartbeatInterval <= 0 {
		return
	}
	ticker := c.clock.Ticker(c.cfg.HeartbeatInterval)
	stop := make(chan struct{})
	c.heartbeat = ticker
	c.hbStop = stop
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.ping(gen)
			}
		}
	}()
}

func (c *Connection) stopHeartbeatLocked() {
	if c.heartbeat != nil {
		c.heartbeat.Stop()
		c.heartbeat = nil
	}
	if c.hbStop != nil {
		close(c.hbStop)
		c.hbStop = nil
	}
}

func (c *Connection) ping(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != StatusOpen {
		c.mu.Unlock()
		return
	}
	err := c.sock.Write(pingFrame)
	c.mu.Unlock()
	if err != nil {
		c.log.Warnw("heartbeat failed", "error", err)
		c.lost(gen, err)
	}
}

// emitStatus publishes the current status unless it was the last one
// published. Whoever is already publishing re-reads the state after a
// concurrent or nested call, so the last value observers see is the live one.
func (c *Connection) emitStatus() {
	c.emitMu.Lock()
	if c.emitting {
		c.emitPending = true
		c.emitMu.Unlock()
		return
	}
	c.emitting = true
	for {
		c.emitPending = false
		c.emitMu.Unlock()

		s := c.Status()
		if Status(c.emitted.Swap(int32(s))) != s {
			c.statusBus.Publish(s)
		}

		c.emitMu.Lock()
		if !c.emitPending {
			c.emitting = false
			c.emitMu.Unlock()
			return
		}
	}
}
