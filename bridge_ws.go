package projection

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/golang/glog"

	"projection.dev/projection/protocol"
)

const wsBridgeSendBufferSize = 32

type WsBridgeSettings struct {
	WsHandshakeTimeout  time.Duration
	MinReconnectTimeout time.Duration
	MaxReconnectTimeout time.Duration
	PingTimeout         time.Duration
	WriteTimeout        time.Duration
	ReadTimeout         time.Duration
}

func DefaultWsBridgeSettings() *WsBridgeSettings {
	return &WsBridgeSettings{
		WsHandshakeTimeout:  2 * time.Second,
		MinReconnectTimeout: 250 * time.Millisecond,
		MaxReconnectTimeout: 15 * time.Second,
		PingTimeout:         1 * time.Second,
		WriteTimeout:        5 * time.Second,
		ReadTimeout:         15 * time.Second,
	}
}

// WsBridge connects the session to a renderer behind a websocket
// endpoint. Each websocket message is one json envelope; the websocket
// itself delimits frames. Reconnect uses bounded backoff and relies on
// the renderer's fresh ready to resync.
type WsBridge struct {
	ctx    context.Context
	cancel context.CancelFunc

	bridgeId Id
	session  *Session

	rendererUrl string
	auth        *RendererAuth

	settings *WsBridgeSettings

	sendEnvelopes chan protocol.Envelope
}

func NewWsBridgeWithDefaults(
	ctx context.Context,
	session *Session,
	rendererUrl string,
	auth *RendererAuth,
) *WsBridge {
	return NewWsBridge(ctx, session, rendererUrl, auth, DefaultWsBridgeSettings())
}

func NewWsBridge(
	ctx context.Context,
	session *Session,
	rendererUrl string,
	auth *RendererAuth,
	settings *WsBridgeSettings,
) *WsBridge {
	cancelCtx, cancel := context.WithCancel(ctx)
	bridge := &WsBridge{
		ctx:           cancelCtx,
		cancel:        cancel,
		bridgeId:      NewId(),
		session:       session,
		rendererUrl:   rendererUrl,
		auth:          auth,
		settings:      settings,
		sendEnvelopes: make(chan protocol.Envelope, wsBridgeSendBufferSize),
	}
	detach := attachBridge(session, bridge)
	go func() {
		defer detach()
		bridge.run()
	}()
	return bridge
}

func (self *WsBridge) Send(envelope protocol.Envelope) {
	select {
	case self.sendEnvelopes <- envelope:
	case <-self.ctx.Done():
	default:
		glog.Infof("[b]%s send buffer full, dropping %s\n", self.bridgeId, envelope.EnvelopeType())
	}
}

func (self *WsBridge) Close() {
	self.cancel()
}

func (self *WsBridge) run() {
	defer self.cancel()

	if self.auth != nil {
		if claims, err := ParseRendererJwtUnverified(self.auth.ByJwt); err == nil {
			glog.Infof("[b]%s renderer = %s (%s)\n", self.bridgeId, claims.RendererId, claims.DisplayName)
		}
	}

	reconnect := NewReconnect(self.settings.MinReconnectTimeout, self.settings.MaxReconnectTimeout)
	for {
		select {
		case <-self.ctx.Done():
			return
		default:
		}

		ws, err := self.connect()
		if err != nil {
			glog.Infof("[b]%s connect = %s\n", self.bridgeId, err)
			if !reconnect.WaitForReconnect(self.ctx) {
				return
			}
			continue
		}
		reconnect.Reset()

		self.runConn(ws)
		if !reconnect.WaitForReconnect(self.ctx) {
			return
		}
	}
}

func (self *WsBridge) connect() (*websocket.Conn, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: self.settings.WsHandshakeTimeout,
	}
	header := http.Header{}
	if self.auth != nil {
		header.Set("Authorization", "Bearer "+self.auth.ByJwt)
		header.Set("X-Renderer-Instance", self.auth.InstanceId.String())
		if self.auth.AppVersion != "" {
			header.Set("X-App-Version", self.auth.AppVersion)
		}
	}
	ws, _, err := dialer.DialContext(self.ctx, self.rendererUrl, header)
	return ws, err
}

func (self *WsBridge) runConn(ws *websocket.Conn) {
	connCtx, connCancel := context.WithCancel(self.ctx)
	defer connCancel()
	defer ws.Close()

	go self.writeLoop(connCtx, connCancel, ws)
	self.readLoop(connCancel, ws)
}

func (self *WsBridge) writeLoop(connCtx context.Context, connCancel context.CancelFunc, ws *websocket.Conn) {
	defer connCancel()

	for {
		select {
		case <-connCtx.Done():
			return
		case envelope := <-self.sendEnvelopes:
			b, err := protocol.EncodeOutbound(envelope)
			if err != nil {
				glog.Warningf("[b]%s encode %s = %s\n", self.bridgeId, envelope.EnvelopeType(), err)
				continue
			}
			ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
			if err := ws.WriteMessage(websocket.BinaryMessage, b); err != nil {
				glog.Infof("[b]%s-> error = %s\n", self.bridgeId, err)
				return
			}
			glog.V(2).Infof("[b]%s->%s\n", self.bridgeId, envelope.EnvelopeType())
		case <-time.After(self.settings.PingTimeout):
			ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				glog.Infof("[b]%s-> ping error = %s\n", self.bridgeId, err)
				return
			}
		}
	}
}

func (self *WsBridge) readLoop(connCancel context.CancelFunc, ws *websocket.Conn) {
	defer connCancel()

	lastSid := ""
	for {
		ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		messageType, payload, err := ws.ReadMessage()
		if err != nil {
			glog.Infof("[b]%s<- error = %s\n", self.bridgeId, err)
			return
		}
		switch messageType {
		case websocket.TextMessage, websocket.BinaryMessage:
		default:
			continue
		}
		envelope, err := protocol.DecodeInbound(payload)
		if err != nil {
			glog.Warningf("[b]%s decode = %s\n", self.bridgeId, err)
			errorEnvelope, readyEnvelope := decodeFailureEnvelopes(lastSid, err)
			self.Send(errorEnvelope)
			self.session.Deliver(readyEnvelope)
			continue
		}
		if ready, ok := envelope.(*protocol.Ready); ok {
			lastSid = ready.Sid
		}
		if err := self.session.Deliver(envelope); err != nil {
			return
		}
	}
}
