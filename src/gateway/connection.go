package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"personal/discord_client/src/cache"
	"personal/discord_client/src/opcodes"
	"personal/discord_client/src/tasks"
)

const (
	APIVersion = 10

	defaultHelloTimeout = 20 * time.Second
	writeTimeout        = 10 * time.Second

	// The gateway allows 120 commands a minute; the rest of the burst is
	// left for heartbeats.
	commandBurst = 110

	// closeResumable is sent when we drop a socket we intend to resume;
	// 1000 and 1001 would end the session.
	closeResumable = 4000
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingHello
	StateIdentifying
	StateResuming
	StateReady
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingHello:
		return "awaiting_hello"
	case StateIdentifying:
		return "identifying"
	case StateResuming:
		return "resuming"
	case StateReady:
		return "ready"
	case StateReconnecting:
		return "reconnecting"
	}
	return "unknown"
}

type Config struct {
	Token string
	// URL is the gateway URL from GET /gateway/bot.
	URL            string
	Intents        opcodes.Intent
	Shard          *[2]int
	LargeThreshold int
	Compress       bool
	Presence       *PresenceUpdate
	Properties     IdentifyProperties

	// Queue runs outbound gateway commands. Required.
	Queue *tasks.Queue
	// Cache defaults to an empty guild cache.
	Cache *cache.Guilds
	// Limiter gates IDENTIFY; nil means no session start quota is tracked.
	Limiter    *IdentifyLimiter
	CloseCodes *CloseCodes
	Handlers   Handlers
	Logger     *slog.Logger
	Dialer     *websocket.Dialer

	HelloTimeout           time.Duration
	MinBackoff             time.Duration
	MaxBackoff             time.Duration
	InvalidSessionMinDelay time.Duration
	InvalidSessionMaxDelay time.Duration
}

// Connection owns one gateway session across any number of sockets. Run
// drives it; everything received is handled on a single read loop so
// sequence numbers and cache writes follow arrival order.
type Connection struct {
	cfg        Config
	logger     *slog.Logger
	session    *Session
	cache      *cache.Guilds
	closeCodes *CloseCodes
	dialer     *websocket.Dialer
	commands   *rate.Limiter
	heartbeat  *heartbeater

	state        atomic.Int32
	conn         atomic.Pointer[websocket.Conn]
	writeMu      sync.Mutex
	reachedReady atomic.Bool

	// Touched only by the read loop.
	awaitingCacheReady bool

	runMu sync.Mutex
	stop  context.CancelFunc
	done  chan struct{}
}

func NewConnection(cfg Config) (*Connection, error) {
	if cfg.Token == "" {
		return nil, errors.New("gateway: token is required")
	}
	if cfg.URL == "" {
		return nil, errors.New("gateway: gateway URL not set")
	}
	if cfg.Queue == nil {
		return nil, errors.New("gateway: task queue is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Cache == nil {
		cfg.Cache = cache.NewGuilds(cache.Options{Logger: cfg.Logger})
	}
	if cfg.CloseCodes == nil {
		cfg.CloseCodes = DefaultCloseCodes()
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.HelloTimeout <= 0 {
		cfg.HelloTimeout = defaultHelloTimeout
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = max(2*time.Minute, cfg.MinBackoff)
	}
	if cfg.InvalidSessionMinDelay <= 0 {
		cfg.InvalidSessionMinDelay = time.Second
	}
	if cfg.InvalidSessionMaxDelay < cfg.InvalidSessionMinDelay {
		cfg.InvalidSessionMaxDelay = max(5*time.Second, cfg.InvalidSessionMinDelay)
	}
	if cfg.LargeThreshold != 0 {
		cfg.LargeThreshold = min(max(cfg.LargeThreshold, 50), 250)
	}
	if cfg.Properties == (IdentifyProperties{}) {
		cfg.Properties = IdentifyProperties{OS: "linux", Browser: "discord_client", Device: "discord_client"}
	}

	logger := cfg.Logger.With("component", "gateway")
	if cfg.Shard != nil {
		logger = logger.With("shard", cfg.Shard[0])
	}

	c := &Connection{
		cfg:        cfg,
		logger:     logger,
		session:    NewSession(),
		cache:      cfg.Cache,
		closeCodes: cfg.CloseCodes,
		dialer:     cfg.Dialer,
		commands:   rate.NewLimiter(rate.Every(time.Minute/120), commandBurst),
	}
	c.heartbeat = newHeartbeater(c.session, c.sendHeartbeat, logger)
	return c, nil
}

func (c *Connection) State() State { return State(c.state.Load()) }

func (c *Connection) Session() *Session { return c.session }

func (c *Connection) Cache() *cache.Guilds { return c.cache }

// Latency is the round trip of the last acknowledged heartbeat.
func (c *Connection) Latency() time.Duration { return c.session.Latency() }

func (c *Connection) setState(s State) {
	old := State(c.state.Swap(int32(s)))
	if old != s {
		c.logger.Debug("state change", "from", old, "to", s)
	}
}

// Run connects and keeps the session alive until ctx ends or Close is
// called, both of which return nil. It returns a *FatalError when the
// gateway closes with a code that retrying cannot fix.
func (c *Connection) Run(ctx context.Context) error {
	c.runMu.Lock()
	if c.stop != nil {
		c.runMu.Unlock()
		return errors.New("gateway: connection already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.stop, c.done = cancel, done
	c.runMu.Unlock()

	defer func() {
		cancel()
		c.setState(StateDisconnected)
		c.runMu.Lock()
		c.stop, c.done = nil, nil
		c.runMu.Unlock()
		close(done)
	}()

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = c.cfg.MinBackoff
	retry.MaxInterval = c.cfg.MaxBackoff
	retry.Reset()

	for {
		c.reachedReady.Store(false)
		err := c.connect(ctx)
		if ctx.Err() != nil {
			c.logger.Info("gateway stopped")
			return nil
		}

		var fatal *FatalError
		if errors.As(err, &fatal) {
			c.logger.Error("gateway closed, not retrying", "code", fatal.Code, "name", fatal.Name, "reason", fatal.Reason)
			return err
		}

		if c.reachedReady.Load() {
			retry.Reset()
		}
		delay := retry.NextBackOff()
		if delay <= 0 {
			delay = c.cfg.MaxBackoff
		}
		var reconnect *reconnectError
		if errors.As(err, &reconnect) && reconnect.delay > 0 {
			delay = reconnect.delay
		}

		c.setState(StateReconnecting)
		c.logger.Warn("gateway connection lost, reconnecting",
			"error", err,
			"resume", c.session.CanResume(),
			"delay", delay,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.logger.Info("gateway stopped")
			return nil
		case <-timer.C:
		}
	}
}

// Close ends the session with a normal closure and waits for Run to return.
func (c *Connection) Close() error {
	c.runMu.Lock()
	stop, done := c.stop, c.done
	c.runMu.Unlock()
	if stop == nil {
		return nil
	}

	c.logger.Info("closing gateway connection")
	stop()
	<-done
	return nil
}

// connect runs one socket from dial to disconnect.
func (c *Connection) connect(ctx context.Context) error {
	resume := c.session.CanResume()
	target := c.cfg.URL

	// A session start taken below goes back to the quota unless IDENTIFY is
	// actually sent on this socket.
	release := func() {}
	defer func() { release() }()

	if resume {
		if resumeURL := c.session.ResumeURL(); resumeURL != "" {
			target = resumeURL
		}
	} else {
		c.session.Reset()
		if c.cfg.Limiter != nil {
			c.setState(StateConnecting)
			var err error
			release, err = c.cfg.Limiter.Wait(ctx, c.shardID())
			if err != nil {
				return err
			}
		}
	}

	endpoint, err := gatewayURL(target)
	if err != nil {
		return err
	}

	c.setState(StateConnecting)
	conn, _, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return &reconnectError{cause: fmt.Errorf("could not connect to WebSocket: %w", err)}
	}
	c.conn.Store(conn)
	defer func() {
		c.conn.CompareAndSwap(conn, nil)
		conn.Close()
	}()

	c.setState(StateAwaitingHello)
	interval, err := c.awaitHello(ctx, conn)
	if err != nil {
		return err
	}
	c.session.SetHeartbeatInterval(interval)
	c.session.clearAck()
	c.logger.Info("handshake complete", "heartbeat_interval", interval, "resume", resume)

	if resume {
		c.setState(StateResuming)
		err = c.sendResume()
	} else {
		c.setState(StateIdentifying)
		if err = c.sendIdentify(); err == nil {
			release = func() {}
		}
	}
	if err != nil {
		return &reconnectError{cause: err}
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return c.heartbeat.run(groupCtx, interval)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		c.closeSocket(conn, ctx.Err() != nil)
		return nil
	})
	group.Go(func() error {
		return c.readLoop(groupCtx, conn)
	})
	return group.Wait()
}

func gatewayURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid gateway URL %q: %w", base, err)
	}
	query := u.Query()
	query.Set("v", strconv.Itoa(APIVersion))
	query.Set("encoding", "json")
	u.RawQuery = query.Encode()
	return u.String(), nil
}

func (c *Connection) shardID() int {
	if c.cfg.Shard == nil {
		return 0
	}
	return c.cfg.Shard[0]
}

// awaitHello reads the first frame, which must be HELLO.
func (c *Connection) awaitHello(ctx context.Context, conn *websocket.Conn) (time.Duration, error) {
	conn.SetReadDeadline(time.Now().Add(c.cfg.HelloTimeout))
	defer conn.SetReadDeadline(time.Time{})

	data, err := readMessage(conn)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return 0, &reconnectError{cause: fmt.Errorf("%w: no HELLO within %v", ErrProtocol, c.cfg.HelloTimeout)}
		}
		return 0, c.readError(ctx, err)
	}

	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return 0, &reconnectError{cause: fmt.Errorf("%w: could not unmarshal hello message: %v", ErrProtocol, err)}
	}
	if frame.Op != opcodes.Hello {
		return 0, &reconnectError{cause: fmt.Errorf("%w: expected Hello (opcode %d), got %d", ErrProtocol, opcodes.Hello, frame.Op)}
	}

	var hello HelloData
	if err := json.Unmarshal(frame.D, &hello); err != nil || hello.HeartbeatInterval <= 0 {
		return 0, &reconnectError{cause: fmt.Errorf("%w: invalid hello payload %s", ErrProtocol, frame.D)}
	}
	return time.Duration(hello.HeartbeatInterval) * time.Millisecond, nil
}

var errMalformed = errors.New("malformed message")

// readMessage returns the next message as JSON text. Transport failures come
// back as is; a payload that cannot be inflated wraps errMalformed.
func readMessage(conn *websocket.Conn) ([]byte, error) {
	messageType, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if messageType == websocket.BinaryMessage {
		data, err = inflate(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errMalformed, err)
		}
	}
	return data, nil
}

func (c *Connection) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		data, err := readMessage(conn)
		if errors.Is(err, errMalformed) {
			c.logger.Warn("dropping undecodable message", "error", err)
			continue
		}
		if err != nil {
			return c.readError(ctx, err)
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Warn("dropping malformed frame", "error", err, "body", truncate(data, 256))
			continue
		}

		if err := c.handleFrame(frame); err != nil {
			return err
		}
	}
}

// readError turns a failed read into what Run should do next, classifying
// close codes through the close code table.
func (c *Connection) readError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		return &reconnectError{cause: fmt.Errorf("could not receive message from WebSocket: %w", err)}
	}

	entry := c.closeCodes.Classify(closeErr.Code)
	switch entry.Action {
	case CloseFatal:
		return &FatalError{Code: closeErr.Code, Name: entry.Name, Reason: closeErr.Text}
	case CloseReidentify:
		c.session.Reset()
		return &reconnectError{cause: fmt.Errorf("gateway closed with %d (%s): %w", closeErr.Code, entry.Name, err)}
	default:
		return &reconnectError{cause: fmt.Errorf("gateway closed with %d (%s): %w", closeErr.Code, entry.Name, err)}
	}
}

func (c *Connection) handleFrame(frame Frame) error {
	switch frame.Op {
	case opcodes.Dispatch:
		c.handleDispatch(frame)

	case opcodes.Heartbeat:
		if err := c.heartbeat.beat(); err != nil {
			return &reconnectError{cause: fmt.Errorf("failed to send requested heartbeat: %w", err)}
		}

	case opcodes.HeartbeatACK:
		c.session.Acknowledge(time.Now())

	case opcodes.Reconnect:
		c.logger.Info("server requested reconnect")
		return &reconnectError{cause: errors.New("server requested reconnect")}

	case opcodes.InvalidSession:
		return c.handleInvalidSession(frame.D)

	default:
		c.logger.Debug("ignoring frame", "op", frame.Op)
	}
	return nil
}

func (c *Connection) handleInvalidSession(data json.RawMessage) error {
	var resumable bool
	if err := json.Unmarshal(data, &resumable); err != nil {
		c.logger.Warn("could not unmarshal invalid session data, treating as not resumable", "error", err)
	}
	if !resumable {
		c.session.Reset()
	}

	delay := c.invalidSessionDelay()
	c.logger.Warn("session invalidated", "resumable", resumable, "delay", delay)
	return &reconnectError{delay: delay, cause: errors.New("invalid session")}
}

// invalidSessionDelay spreads clients out after INVALID_SESSION.
func (c *Connection) invalidSessionDelay() time.Duration {
	spread := c.cfg.InvalidSessionMaxDelay - c.cfg.InvalidSessionMinDelay
	if spread <= 0 {
		return c.cfg.InvalidSessionMinDelay
	}
	return c.cfg.InvalidSessionMinDelay + rand.N(spread)
}

func (c *Connection) handleDispatch(frame Frame) {
	if frame.S != nil {
		if last, ok := c.session.Sequence(); ok && *frame.S <= last {
			c.logger.Debug("dropping replayed dispatch", "event", frame.T, "sequence", *frame.S, "last", last)
			return
		}
		c.session.SetSequence(*frame.S)
	}

	switch frame.T {
	case "READY":
		c.onReady(frame.D)
	case "RESUMED":
		c.setState(StateReady)
		c.reachedReady.Store(true)
		c.logger.Info("session resumed", "session_id", c.session.ID())
		if h := c.cfg.Handlers.Resumed; h != nil {
			h()
		}
	case "GUILD_CREATE":
		c.onGuildCreate(frame.D)
	case "GUILD_UPDATE":
		c.onGuildUpdate(frame.D)
	case "GUILD_DELETE":
		c.onGuildDelete(frame.D)
	}

	if h := c.cfg.Handlers.Dispatch; h != nil {
		h(frame.T, frame.D)
	}
}

func (c *Connection) sendHeartbeat(seq *int64) error {
	return c.send(opcodes.Heartbeat, seq)
}

func (c *Connection) sendIdentify() error {
	c.logger.Info("sending identify", "intents", int(c.cfg.Intents))
	return c.send(opcodes.Identify, IdentifyData{
		Token:          c.cfg.Token,
		Properties:     c.cfg.Properties,
		Compress:       c.cfg.Compress,
		LargeThreshold: c.cfg.LargeThreshold,
		Shard:          c.cfg.Shard,
		Presence:       c.cfg.Presence,
		Intents:        c.cfg.Intents,
	})
}

func (c *Connection) sendResume() error {
	seq, _ := c.session.Sequence()
	c.logger.Info("sending resume", "session_id", c.session.ID(), "sequence", seq)
	return c.send(opcodes.Resume, ResumeData{
		Token:     c.cfg.Token,
		SessionID: c.session.ID(),
		Sequence:  seq,
	})
}

func (c *Connection) send(op opcodes.Opcode, data any) error {
	conn := c.conn.Load()
	if conn == nil {
		return ErrClosed
	}

	payload, err := json.Marshal(outgoingFrame{Op: op, D: data})
	if err != nil {
		return fmt.Errorf("could not marshal %s message: %w", op, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("could not send %s message: %w", op, err)
	}
	return nil
}

// closeSocket tears the socket down. A normal closure ends the session for
// good, anything else leaves it resumable.
func (c *Connection) closeSocket(conn *websocket.Conn, endSession bool) {
	code := closeResumable
	if endSession {
		code = websocket.CloseNormalClosure
		c.session.Reset()
	}
	err := conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, ""),
		time.Now().Add(time.Second),
	)
	if err != nil {
		c.logger.Debug("failed to send close message", "error", err)
	}
	conn.Close()
}

func truncate(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}
	return string(data[:n]) + "..."
}
