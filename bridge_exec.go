package projection

import (
	"context"
	"io"
	"os/exec"
	"time"

	"github.com/golang/glog"

	"projection.dev/projection/protocol"
)

const execBridgeSendBufferSize = 32

type ExecBridgeSettings struct {
	MinReconnectTimeout time.Duration
	MaxReconnectTimeout time.Duration
}

func DefaultExecBridgeSettings() *ExecBridgeSettings {
	return &ExecBridgeSettings{
		MinReconnectTimeout: 250 * time.Millisecond,
		MaxReconnectTimeout: 8 * time.Second,
	}
}

// ExecBridge runs the renderer as a child process and moves
// length-framed json envelopes over its stdio. When the child exits the
// bridge respawns it with bounded backoff; the renderer then emits a
// fresh ready and the normal render path resynchronizes the ui.
type ExecBridge struct {
	ctx    context.Context
	cancel context.CancelFunc

	bridgeId Id
	session  *Session
	command  []string
	settings *ExecBridgeSettings

	sendEnvelopes chan protocol.Envelope
}

func NewExecBridgeWithDefaults(ctx context.Context, session *Session, command []string) *ExecBridge {
	return NewExecBridge(ctx, session, command, DefaultExecBridgeSettings())
}

func NewExecBridge(ctx context.Context, session *Session, command []string, settings *ExecBridgeSettings) *ExecBridge {
	cancelCtx, cancel := context.WithCancel(ctx)
	bridge := &ExecBridge{
		ctx:           cancelCtx,
		cancel:        cancel,
		bridgeId:      NewId(),
		session:       session,
		command:       command,
		settings:      settings,
		sendEnvelopes: make(chan protocol.Envelope, execBridgeSendBufferSize),
	}
	detach := attachBridge(session, bridge)
	go func() {
		defer detach()
		bridge.run()
	}()
	return bridge
}

// Send enqueues one outbound envelope. Fire-and-forget: while the child is
// being respawned envelopes wait in the buffer for the next child; when
// the buffer is full the envelope is dropped with a log, and once the
// bridge is closed it is dropped silently. The renderer's next ready
// carries the full state again.
func (self *ExecBridge) Send(envelope protocol.Envelope) {
	select {
	case self.sendEnvelopes <- envelope:
	case <-self.ctx.Done():
	default:
		glog.Infof("[b]%s send buffer full, dropping %s\n", self.bridgeId, envelope.EnvelopeType())
	}
}

func (self *ExecBridge) Close() {
	self.cancel()
}

func (self *ExecBridge) run() {
	defer self.cancel()

	reconnect := NewReconnect(self.settings.MinReconnectTimeout, self.settings.MaxReconnectTimeout)
	for {
		select {
		case <-self.ctx.Done():
			return
		default:
		}

		err := self.runChild()
		if err != nil {
			glog.Infof("[b]%s child exit = %s\n", self.bridgeId, err)
		}
		if !reconnect.WaitForReconnect(self.ctx) {
			return
		}
	}
}

func (self *ExecBridge) runChild() error {
	childCtx, childCancel := context.WithCancel(self.ctx)
	defer childCancel()

	cmd := exec.CommandContext(childCtx, self.command[0], self.command[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	glog.V(1).Infof("[b]%s child started pid = %d\n", self.bridgeId, cmd.Process.Pid)

	go self.writeLoop(childCtx, childCancel, stdin)
	self.readLoop(childCancel, stdout)

	return cmd.Wait()
}

func (self *ExecBridge) writeLoop(childCtx context.Context, childCancel context.CancelFunc, stdin io.WriteCloser) {
	defer childCancel()
	defer stdin.Close()

	for {
		select {
		case <-childCtx.Done():
			return
		case envelope := <-self.sendEnvelopes:
			b, err := protocol.EncodeOutbound(envelope)
			if err != nil {
				// log and drop. the renderer's shadow vm is behind until
				// the next resync carries the full state
				glog.Warningf("[b]%s encode %s = %s\n", self.bridgeId, envelope.EnvelopeType(), err)
				continue
			}
			if err := protocol.WriteFramedMessage(stdin, b, protocol.OutboundByteCap); err != nil {
				glog.Infof("[b]%s write = %s\n", self.bridgeId, err)
				return
			}
		}
	}
}

func (self *ExecBridge) readLoop(childCancel context.CancelFunc, stdout io.Reader) {
	defer childCancel()

	lastSid := ""
	for {
		payload, err := protocol.ReadFramedMessage(stdout, protocol.InboundByteCap)
		if err != nil {
			if err != io.EOF {
				glog.Infof("[b]%s read = %s\n", self.bridgeId, err)
			}
			return
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
