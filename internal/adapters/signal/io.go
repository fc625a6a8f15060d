package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dkeye/proxvoice/internal/core"
	"github.com/dkeye/proxvoice/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ping := time.NewTicker(ctl.opts.PingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			c.Close()
			return
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Info().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(
	ctx context.Context,
	cancel context.CancelFunc,
	sid core.SessionID,
	sess core.MemberSession,
	c *WsSignalConn,
) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		ctl.Orch.OnDisconnect(sid, sess)
		if ctl.Limiter != nil {
			ctl.Limiter.Forget(sid)
		}
		cancel()
		c.Close()
	}()

	pongWait := ctl.opts.PingPeriod * 10 / 9
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
				}
				return
			}
			_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
			ctl.handleFrame(sid, c, data)
		}
	}
}

func (ctl *SignalWSController) handleFrame(sid core.SessionID, c *WsSignalConn, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendError(c, domain.ErrCodeBadPayload)
		return
	}

	switch env.Type {
	case domain.MsgJoin:
		ctl.handleJoin(sid, c, data)
	case domain.MsgLeave:
		ctl.handleLeave(sid, c)
	case domain.MsgPing:
		ctl.handlePing(c)
	case domain.MsgRename:
		ctl.handleRename(sid, c, data)
	case domain.MsgWhoAmI:
		ctl.handleWhoAmI(sid, c)
	case domain.MsgPosition:
		ctl.handlePosition(sid, c, data)
	case domain.MsgSignal:
		ctl.handleRelay(sid, c, data)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
	}
}

func (ctl *SignalWSController) sendJSON(c core.SignalConnection, v any) {
	ctl.Orch.Send(c, v)
}
