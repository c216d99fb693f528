package signal

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/dkeye/dumpvoice/internal/adapters/rtc"
	"github.com/dkeye/dumpvoice/internal/app/orch"
	"github.com/dkeye/dumpvoice/internal/core"
	"github.com/dkeye/dumpvoice/internal/domain"
	"github.com/dkeye/dumpvoice/internal/identity"
	"github.com/dkeye/dumpvoice/internal/metrics"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure     = errors.New("backpressure")
	ErrConnectionClosed = errors.New("connection closed")
)

// CloseRejected is the close code of a refused handshake.
const CloseRejected = 4000

const ReasonRateLimited = "Too many connection attempts"

// SessionTokenKey is where the cookie session keeps the bearer token.
const SessionTokenKey = "token"

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	SendBuffer int
	WriteWait  time.Duration
	StunURLs   []string
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 5 * time.Second
	}
	return o
}

type SignalWSController struct {
	Orch    *orch.Orchestrator
	Gate    *identity.Gate
	Limiter *HandshakeLimiter
	Metrics *metrics.Metrics
	Opts    Options
	// NewMedia builds the WebRTC leg of a session.
	NewMedia func(sid core.SessionID) (core.MediaConnection, error)
}

func NewSignalWSController(o *orch.Orchestrator, gate *identity.Gate, limiter *HandshakeLimiter, m *metrics.Metrics, opts Options) *SignalWSController {
	opts = opts.withDefaults()
	ctl := &SignalWSController{
		Orch:    o,
		Gate:    gate,
		Limiter: limiter,
		Metrics: m,
		Opts:    opts,
	}
	ctl.NewMedia = func(sid core.SessionID) (core.MediaConnection, error) {
		return rtc.NewPeer(rtc.DefaultWebRTCConfig(opts.StunURLs...), sid)
	}
	return ctl
}

// WsSignalConn queues outbound frames for the write pump. Close only stops
// the queue; the write pump owns the socket.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Message

	mu     sync.RWMutex
	closed bool
}

var _ core.SignalConnection = (*WsSignalConn)(nil)

func NewWsSignalConn(ws *websocket.Conn, buffer int) *WsSignalConn {
	return &WsSignalConn{
		conn: ws,
		send: make(chan core.Message, buffer),
	}
}

func (c *WsSignalConn) TrySend(m core.Message) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnectionClosed
	}
	select {
	case c.send <- m:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleVoice upgrades GET /ws/voice/:channel_id. The bearer token comes from
// the token query parameter or the cookie session.
func (ctl *SignalWSController) HandleVoice(ctx context.Context, c *gin.Context) {
	chID, err := strconv.ParseInt(c.Param("channel_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channel id"})
		return
	}
	token := bearerToken(c)

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	log.Info().Str("module", "signal").Int64("channel", chID).Msg("voice connection attempt")

	id, err := ctl.Gate.Authorize(c.Request.Context(), domain.ChannelID(chID), token)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Int64("channel", chID).Msg("handshake rejected")
		ctl.reject(ws, identity.Reason(err))
		return
	}
	if ctl.Limiter != nil && !ctl.Limiter.Allow(id.User.ID) {
		log.Warn().Str("module", "signal").Int64("user", int64(id.User.ID)).Msg("handshake rate limited")
		ctl.reject(ws, ReasonRateLimited)
		return
	}
	if ctl.Opts.ReadLimit > 0 {
		ws.SetReadLimit(ctl.Opts.ReadLimit)
	}

	sid := core.SessionID(uuid.NewString())
	conn := NewWsSignalConn(ws, ctl.Opts.SendBuffer)
	s := newSession(ctl, sid, id, conn)
	s.start(ctx)
}

func (ctl *SignalWSController) reject(ws *websocket.Conn, reason string) {
	ctl.Metrics.Rejected(reason)
	msg := websocket.FormatCloseMessage(CloseRejected, reason)
	if err := ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(ctl.Opts.WriteWait)); err != nil {
		log.Debug().Err(err).Str("module", "signal").Msg("write close")
	}
	_ = ws.Close()
}

func bearerToken(c *gin.Context) string {
	if t := c.Query("token"); t != "" {
		return t
	}
	if _, ok := c.Get(sessions.DefaultKey); !ok {
		return ""
	}
	if t, ok := sessions.Default(c).Get(SessionTokenKey).(string); ok {
		return t
	}
	return ""
}
