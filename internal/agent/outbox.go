package agent

import (
	"context"
	"encoding/json"
	"log"

	plog "courier.ai/internal/persistence/log"
	"courier.ai/internal/protocol"
)

type level int

const (
	levelDebug level = iota
	levelInfo
	levelWarn
)

func parseLevel(s string) level {
	switch s {
	case "debug":
		return levelDebug
	case "info":
		return levelInfo
	}
	return levelWarn
}

type leveled struct {
	l   *log.Logger
	min level
}

func (lg leveled) debugf(format string, v ...any) { lg.logf(levelDebug, format, v...) }
func (lg leveled) infof(format string, v ...any)  { lg.logf(levelInfo, format, v...) }
func (lg leveled) warnf(format string, v ...any)  { lg.logf(levelWarn, format, v...) }

func (lg leveled) logf(lv level, format string, v ...any) {
	if lv < lg.min || lg.l == nil {
		return
	}
	lg.l.Printf(format, v...)
}

type outMsg struct {
	to  string
	typ string
	raw []byte
}

// outbox is the coordinator's side of the bus. Send never blocks the loop;
// a full queue drops the message, which the protocol tolerates.
type outbox struct {
	ch  chan outMsg
	log leveled
}

func (o *outbox) Send(to string, m protocol.TeamMessage) {
	raw, err := protocol.EncodeTeam(m)
	if err != nil {
		o.log.warnf("encode %s: %v", m.Type, err)
		return
	}
	select {
	case o.ch <- outMsg{to: to, typ: m.Type, raw: raw}:
	default:
		o.log.warnf("outbox full, dropping %s", m.Type)
	}
}

func (a *Agent) sendLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-a.out.ch:
			sctx, cancel := context.WithTimeout(ctx, sendTimeout)
			var err error
			if m.to == "" {
				err = a.bus.Broadcast(sctx, m.raw)
			} else {
				err = a.bus.Unicast(sctx, m.to, m.raw)
			}
			cancel()
			if err != nil {
				a.log.warnf("send %s to %q: %v", m.typ, m.to, err)
				continue
			}
			a.logMessage("out", m.to, m.typ, m.raw)
		}
	}
}

// logMessage is called from the loop and the sender; the writer locks.
func (a *Agent) logMessage(dir, peer, typ string, raw []byte) {
	if a.messages == nil {
		return
	}
	if typ == "" {
		typ = "invalid"
	}
	e := plog.MessageEntry{RunID: a.runID, Time: a.now(), Direction: dir, Peer: peer, Type: typ}
	if json.Valid(raw) {
		e.Raw = json.RawMessage(raw)
	}
	if err := a.messages.WriteMessage(e); err != nil {
		a.log.warnf("message log: %v", err)
	}
}
