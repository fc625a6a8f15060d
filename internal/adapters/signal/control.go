package signal

import "github.com/dkeye/proxvoice/internal/domain"

func (ctl *SignalWSController) handlePing(
	conn *WsSignalConn,
) {
	ctl.sendJSON(conn, domain.Envelope{Type: domain.MsgPong})
}

func (ctl *SignalWSController) sendError(conn *WsSignalConn, code string) {
	ctl.sendJSON(conn, domain.ErrorMsg{Type: domain.MsgError, Error: code})
}
