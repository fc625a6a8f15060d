package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/proxvoice/internal/app/orch"
	"github.com/dkeye/proxvoice/internal/core"
	"github.com/dkeye/proxvoice/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	SendBuffer int
	// SignalLimit signals per SignalWindow are allowed for each session.
	SignalLimit  int
	SignalWindow time.Duration
}

// Profile is what the cookie session remembers about a client: the
// display name applied on connect and the world joined when a join frame
// names none.
type Profile struct {
	Name  string
	World domain.WorldName
}

type SignalWSController struct {
	Orch    *orch.Orchestrator
	Limiter *SignalRateLimiter
	opts    Options
}

func NewSignalWSController(o *orch.Orchestrator, opts Options) *SignalWSController {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 54 * time.Second
	}
	ctl := &SignalWSController{Orch: o, opts: opts}
	if opts.SignalLimit > 0 && opts.SignalWindow > 0 {
		ctl.Limiter = NewSignalRateLimiter(opts.SignalLimit, opts.SignalWindow)
	}
	return ctl
}

type WsSignalConn struct {
	conn  *websocket.Conn
	send  chan core.Frame
	world domain.WorldName

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context, profile Profile) {
	sid := core.SessionID(c.GetString("client_token"))
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}
	if ctl.opts.ReadLimit > 0 {
		ws.SetReadLimit(ctl.opts.ReadLimit)
	}

	conn := &WsSignalConn{
		conn:  ws,
		send:  make(chan core.Frame, ctl.opts.SendBuffer),
		world: profile.World.Clamp(),
	}

	user := ctl.Orch.Registry.GetOrCreateUser(sid)
	if profile.Name != "" {
		if err := user.SetUsername(profile.Name); err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("ignoring stored name")
		}
	}
	meta := domain.NewMember(user)
	sess := core.NewMemberSession(meta, conn)
	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.Registry.BindSignal(sid, sess, cancel)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, sid, sess, conn)
}
