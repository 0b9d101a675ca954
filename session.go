package projection

import (
	"context"
	"errors"
	"time"

	"github.com/golang/glog"

	"projection.dev/projection/protocol"
)

// route-level intents handled by the core in router mode. all other
// intent names are forwarded to the active screen.
const (
	IntentRouteNavigate = "ui.route.navigate"
	IntentRoutePatch    = "ui.route.patch"
	IntentBack          = "ui.back"
)

const errorScreenName = "error"
const errorScreenAction = "render_error"
const errorScreenTitle = "Rendering Error"

// SendFunction receives each outbound envelope. Treated as non-blocking
// fire-and-forget; failures are the receiver's to log.
type SendFunction func(envelope protocol.Envelope)

type SessionSettings struct {
	AppTitle string
	// 0 flushes each patch cycle immediately
	BatchWindow time.Duration
	// pending op count that forces an immediate flush
	MaxPendingOps int
	// 0 disables the tick timer
	TickPeriod  time.Duration
	MailboxSize int
}

func DefaultSessionSettings() *SessionSettings {
	return &SessionSettings{
		AppTitle:      "Projection",
		BatchWindow:   0,
		MaxPendingOps: 64,
		TickPeriod:    0,
		MailboxSize:   32,
	}
}

// SessionSnapshot is a point-in-time view of session state for hosts and
// tests. Reads run on the session goroutine, so the snapshot is
// consistent.
type SessionSnapshot struct {
	Sid           string
	Rev           uint64
	Vm            Vm
	ScreenModule  string
	CurrentRoute  string
	NavDepth      int
	Subscriptions []string
	Capabilities  map[string]any
}

type sessionMessage any

type deliverMessage struct {
	envelope protocol.Envelope
}

type flushMessage struct {
	generation int
}

type tickMessage struct {
	generation int
}

type snapshotMessage struct {
	result chan SessionSnapshot
}

// Session is the per-connection state machine. It runs as a
// single-goroutine actor: inbound envelopes, timer fires, and queries are
// processed one at a time to completion, so no two hooks of the same
// session ever run concurrently.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc

	instanceId Id
	settings   *SessionSettings

	// exactly one of router or bare screen mode
	router  *Router
	screens ScreenRegistry
	nav     *Nav

	screenModule  string
	screen        Screen
	screenParams  map[string]any
	screenSession string
	screenState   *ScreenState

	sid          string
	rev          uint64
	vm           Vm
	capabilities map[string]any
	// the previous cycle produced the error vm. diffs into and out of the
	// error vm are unscoped because the trees differ broadly.
	renderFaulted bool
	// a re-mount replaced the screen state wholesale, so the mount
	// change-set cannot describe fields that reverted to defaults. the
	// next diff covers the whole screen vm subtree.
	remounted bool

	batcher *patchBatcher
	subs    *subscriptionSyncer

	sendCallbacks      callbackList[SendFunction]
	telemetryCallbacks callbackList[TelemetryFunction]

	messages chan sessionMessage

	flushTimer      *time.Timer
	flushGeneration int
	tickTimer       *time.Timer
	tickGeneration  int
}

func NewRouterSessionWithDefaults(
	ctx context.Context,
	router *Router,
	screens ScreenRegistry,
	subscriptionHook SubscriptionFunction,
) (*Session, error) {
	return NewRouterSession(ctx, router, screens, subscriptionHook, DefaultSessionSettings())
}

// NewRouterSession mounts the default route's screen and starts the
// session actor. A mount fault aborts session start.
func NewRouterSession(
	ctx context.Context,
	router *Router,
	screens ScreenRegistry,
	subscriptionHook SubscriptionFunction,
	settings *SessionSettings,
) (*Session, error) {
	if router == nil {
		return nil, errors.New("router session needs a router")
	}
	session := newSession(ctx, settings, subscriptionHook)
	session.router = router
	session.screens = screens

	nav, err := router.InitialNav(router.DefaultRouteName(), map[string]any{})
	if err != nil {
		session.cancel()
		return nil, err
	}
	session.nav = nav
	if err := session.activateRoute(router.CurrentRoute(nav), nav.Current().Params); err != nil {
		session.cancel()
		return nil, err
	}

	session.start()
	return session, nil
}

// NewScreenSession runs a single screen without a router. The screen's
// render output is published at the vm root.
func NewScreenSession(
	ctx context.Context,
	screenModule string,
	screen Screen,
	screenParams map[string]any,
	subscriptionHook SubscriptionFunction,
	settings *SessionSettings,
) (*Session, error) {
	if screen == nil {
		return nil, errors.New("screen session needs a screen")
	}
	if screenParams == nil {
		screenParams = map[string]any{}
	}
	session := newSession(ctx, settings, subscriptionHook)
	session.screenModule = screenModule
	session.screen = screen
	session.screenParams = screenParams

	state, err := mountScreen(screen, screenModule, screenParams, session.screenSession)
	if err != nil {
		session.cancel()
		return nil, err
	}
	session.screenState = state
	session.subs.Sync(screenSubscriptions(screen, screenModule, screenParams, session.screenSession))

	session.start()
	return session, nil
}

func newSession(ctx context.Context, settings *SessionSettings, subscriptionHook SubscriptionFunction) *Session {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &Session{
		ctx:        cancelCtx,
		cancel:     cancel,
		instanceId: NewId(),
		settings:   settings,
		batcher:    newPatchBatcher(settings.BatchWindow, settings.MaxPendingOps),
		subs:       newSubscriptionSyncer(subscriptionHook),
		messages:   make(chan sessionMessage, settings.MailboxSize),
	}
}

func (self *Session) start() {
	// seed the vm so the first ready can answer with a full render.
	// mount-time assigns are part of the seed snapshot, not changes.
	vm, err := self.renderVm()
	self.vm = vm
	self.renderFaulted = err != nil
	self.remounted = false
	self.screenState.ClearChanged()
	go self.run()
}

// Deliver hands the session one inbound decoded envelope. Called by the
// transport bridge. Envelopes are processed in arrival order.
func (self *Session) Deliver(envelope protocol.Envelope) error {
	return self.post(deliverMessage{envelope: envelope})
}

func (self *Session) AddSendCallback(sendCallback SendFunction) func() {
	return self.sendCallbacks.add(sendCallback)
}

func (self *Session) AddTelemetryCallback(telemetryCallback TelemetryFunction) func() {
	return self.telemetryCallbacks.add(telemetryCallback)
}

// Snapshot blocks until the actor answers, so it observes a message
// boundary, never a mid-update state.
func (self *Session) Snapshot() (SessionSnapshot, error) {
	result := make(chan SessionSnapshot, 1)
	if err := self.post(snapshotMessage{result: result}); err != nil {
		return SessionSnapshot{}, err
	}
	select {
	case snapshot := <-result:
		return snapshot, nil
	case <-self.ctx.Done():
		return SessionSnapshot{}, errors.New("session closed")
	}
}

func (self *Session) Close() {
	self.cancel()
}

func (self *Session) post(message sessionMessage) error {
	select {
	case self.messages <- message:
		return nil
	case <-self.ctx.Done():
		return errors.New("session closed")
	}
}

func (self *Session) run() {
	defer self.shutdown()

	for {
		select {
		case <-self.ctx.Done():
			return
		case message := <-self.messages:
			switch v := message.(type) {
			case deliverMessage:
				self.handleEnvelope(v.envelope)
			case flushMessage:
				if v.generation == self.flushGeneration {
					self.flush()
				}
			case tickMessage:
				if v.generation == self.tickGeneration {
					self.handleTick()
				}
			case snapshotMessage:
				v.result <- self.snapshot()
			}
		}
	}
}

func (self *Session) shutdown() {
	self.cancelFlushTimer()
	self.cancelTickTimer()
	self.batcher.Clear()
	self.subs.Close()
	glog.V(1).Infof("[s]%s closed\n", self.instanceId)
}

func (self *Session) handleEnvelope(envelope protocol.Envelope) {
	switch v := envelope.(type) {
	case *protocol.Ready:
		self.handleReady(v)
	case *protocol.Intent:
		self.handleIntent(v)
	default:
		glog.Warningf("[s]%s ignoring inbound %s envelope\n", self.instanceId, envelope.EnvelopeType())
	}
}

// ready clears any pending batch, adopts the sid if this is the first
// ready, and answers with a full render at the next rev.
func (self *Session) handleReady(ready *protocol.Ready) {
	self.batcher.Clear()
	self.cancelFlushTimer()

	if self.sid == "" {
		if ready.Sid == "" {
			glog.Warningf("[s]%s ready without sid ignored\n", self.instanceId)
			return
		}
		self.sid = ready.Sid
	} else if ready.Sid != self.sid {
		// the sid, once set, is stable for the session lifetime
		glog.Infof("[s]%s ready with sid %q ignored, keeping %q\n", self.instanceId, ready.Sid, self.sid)
	}
	if ready.Capabilities != nil {
		self.capabilities = ready.Capabilities
	}

	self.rev += 1
	self.send(&protocol.Render{
		Sid: self.sid,
		Rev: self.rev,
		Vm:  self.vm,
	})

	if 0 < self.settings.TickPeriod && self.tickTimer == nil {
		self.armTickTimer()
	}
}

func (self *Session) handleIntent(intent *protocol.Intent) {
	self.emitTelemetry(TelemetryEvent{
		Name: TelemetryIntentReceived,
		Metadata: map[string]any{
			"sid":    self.sid,
			"rev":    self.rev,
			"screen": self.screenLabel(),
			"intent": intent.Name,
			"ack":    intent.Id,
		},
	})

	if self.router != nil {
		switch intent.Name {
		case IntentRouteNavigate:
			self.handleRouteNavigate(intent)
			return
		case IntentRoutePatch:
			self.handleRoutePatch(intent)
			return
		case IntentBack:
			self.handleBack(intent)
			return
		}
	}

	self.screenState = dispatchEvent(self.screen, self.screenModule, intent.Name, intent.Payload, self.screenState)
	self.updatePipeline(intent.Id)
}

func (self *Session) handleRouteNavigate(intent *protocol.Intent) {
	toName, ok := intent.Payload["to"].(string)
	if !ok {
		toName, ok = intent.Payload["arg"].(string)
	}
	if !ok || toName == "" {
		// payload shape mismatch, silent no-op
		glog.V(1).Infof("[s]%s navigate without target\n", self.instanceId)
		return
	}
	if _, found := self.router.Resolve(toName); !found {
		glog.Warningf("[s]%s navigate to unknown route %q\n", self.instanceId, toName)
		return
	}
	if self.router.IsScreenSessionTransition(self.nav, toName) {
		glog.Warningf("[s]%s navigate to %q blocked, crosses screen-session boundary\n", self.instanceId, toName)
		return
	}
	params, ok := intent.Payload["params"].(map[string]any)
	if !ok {
		params = map[string]any{}
	}

	nav, err := self.router.Navigate(self.nav, toName, params)
	if err != nil {
		glog.Warningf("[s]%s navigate = %s\n", self.instanceId, err)
		return
	}
	routeDef := self.router.CurrentRoute(nav)
	if err := self.activateRoute(routeDef, params); err != nil {
		glog.Warningf("[s]%s mount %q on navigate = %s\n", self.instanceId, routeDef.ScreenModule, err)
		return
	}
	self.nav = nav
	self.updatePipeline(intent.Id)
}

func (self *Session) handleRoutePatch(intent *protocol.Intent) {
	paramsPatch, ok := intent.Payload["params"].(map[string]any)
	if !ok {
		// payload shape mismatch, silent no-op
		return
	}
	nav := self.router.PatchParams(self.nav, paramsPatch)
	params := nav.Current().Params

	self.nav = nav
	self.screenParams = params
	state, remounted := dispatchParams(self.screen, self.screenModule, params, self.screenSession, self.screenState)
	self.screenState = state
	if remounted {
		self.remounted = true
	}
	self.subs.Sync(screenSubscriptions(self.screen, self.screenModule, params, self.screenSession))
	self.updatePipeline(intent.Id)
}

func (self *Session) handleBack(intent *protocol.Intent) {
	nav, err := self.router.Back(self.nav)
	if err != nil {
		// already at the stack bottom
		glog.V(1).Infof("[s]%s back = %s\n", self.instanceId, err)
		return
	}
	routeDef := self.router.CurrentRoute(nav)
	params := nav.Current().Params
	if err := self.activateRoute(routeDef, params); err != nil {
		glog.Warningf("[s]%s mount %q on back = %s\n", self.instanceId, routeDef.ScreenModule, err)
		return
	}
	self.nav = nav
	self.updatePipeline(intent.Id)
}

// activateRoute re-mounts the route's screen with the given params and
// syncs its subscriptions. The session's active-screen fields only change
// when the mount succeeds.
func (self *Session) activateRoute(routeDef RouteDef, params map[string]any) error {
	screen, err := self.screens.Resolve(routeDef.ScreenModule)
	if err != nil {
		return err
	}
	if params == nil {
		params = map[string]any{}
	}
	state, err := mountScreen(screen, routeDef.ScreenModule, params, routeDef.ScreenSession)
	if err != nil {
		return err
	}
	self.screen = screen
	self.screenModule = routeDef.ScreenModule
	self.screenParams = params
	self.screenSession = routeDef.ScreenSession
	self.screenState = state
	self.remounted = true
	self.subs.Sync(screenSubscriptions(screen, routeDef.ScreenModule, params, routeDef.ScreenSession))
	return nil
}

func (self *Session) handleTick() {
	self.tickTimer = nil
	self.screenState = dispatchInfo(self.screen, self.screenModule, "tick", self.screenState)
	self.updatePipeline(nil)
	self.armTickTimer()
}

// the screen update pipeline: snapshot and clear the changed set, render,
// diff (scoped on success, unscoped on a render fault), commit, batch.
func (self *Session) updatePipeline(ack *int64) {
	changedFields := self.screenState.ChangedFields()
	self.screenState.ClearChanged()

	prevVm := self.vm
	nextVm, renderErr := self.renderVm()

	var ops []protocol.PatchOp
	if renderErr != nil || self.renderFaulted {
		// the error vm may differ in structure anywhere
		ops = Diff(prevVm, nextVm)
	} else {
		ops = DiffAtPaths(prevVm, nextVm, self.scopedDiffPaths(prevVm, nextVm, changedFields))
	}
	self.vm = nextVm
	self.renderFaulted = renderErr != nil
	self.remounted = false

	if len(ops) == 0 {
		return
	}
	if self.sid == "" {
		// renderer not connected. drop; the next ready's render catches up
		glog.V(1).Infof("[s]%s dropping %d ops before first ready\n", self.instanceId, len(ops))
		return
	}

	switch self.batcher.Enqueue(ops, ack) {
	case flushNow:
		self.flush()
	case flushSchedule:
		self.armFlushTimer()
	case flushCancel:
		self.cancelFlushTimer()
	}
}

// renderVm produces the next full vm snapshot. In router mode the screen
// render output is wrapped in the app/nav/screen framing; in bare screen
// mode it is the vm root. A render fault switches the snapshot to the
// error vm and is reported to the caller for diff scoping.
func (self *Session) renderVm() (Vm, error) {
	start := time.Now()
	screenVm, err := renderScreen(self.screen, self.screenModule, self.screenState.Assigns())
	durationMillis := float64(time.Since(start)) / float64(time.Millisecond)

	status := "ok"
	if err != nil {
		status = "error"
	}
	self.emitTelemetry(TelemetryEvent{
		Name: TelemetryRenderComplete,
		Measurements: map[string]any{
			"duration_ms": durationMillis,
		},
		Metadata: map[string]any{
			"status": status,
		},
	})

	if err != nil {
		self.emitTelemetry(TelemetryEvent{
			Name: TelemetryError,
			Metadata: map[string]any{
				"kind":    "render_exception",
				"message": err.Error(),
				"screen":  self.screenLabel(),
			},
		})
		return self.errorVm(err), err
	}

	if self.router == nil {
		return screenVm, nil
	}
	return self.frameVm(self.routeScreenName(), self.routeScreenAction(), screenVm), nil
}

func (self *Session) frameVm(screenName string, screenAction string, screenVm map[string]any) Vm {
	screen := map[string]any{
		"name": screenName,
		"vm":   screenVm,
	}
	if screenAction != "" {
		screen["action"] = screenAction
	}
	return Vm{
		"app": map[string]any{
			"title": self.settings.AppTitle,
		},
		"nav":    self.navVm(),
		"screen": screen,
	}
}

func (self *Session) errorVm(renderErr error) Vm {
	errorScreenVm := map[string]any{
		"title":         errorScreenTitle,
		"message":       renderErr.Error(),
		"screen_module": self.screenModule,
	}
	if self.router == nil {
		return errorScreenVm
	}
	return self.frameVm(errorScreenName, errorScreenAction, errorScreenVm)
}

func (self *Session) navVm() map[string]any {
	if self.router == nil || self.nav == nil {
		return map[string]any{
			"stack": []any{},
		}
	}
	return self.router.NavVm(self.nav)
}

func (self *Session) routeScreenName() string {
	if self.nav == nil {
		return self.screenModule
	}
	return self.nav.Current().Name
}

func (self *Session) routeScreenAction() string {
	if self.nav == nil {
		return ""
	}
	return self.nav.Current().Action
}

// scoped diff path set: the framing paths plus one path per changed
// screen field. a screen identity flip makes the old and new field sets
// incomparable, so the entire screen vm subtree is diffed instead.
func (self *Session) scopedDiffPaths(prevVm Vm, nextVm Vm, changedFields []string) [][]string {
	if self.router == nil {
		paths := [][]string{}
		for _, field := range changedFields {
			paths = append(paths, []string{field})
		}
		return paths
	}

	paths := [][]string{
		{"app"},
		{"nav"},
		{"screen", "name"},
		{"screen", "action"},
	}
	prevName, _ := vmResolve(prevVm, []string{"screen", "name"})
	nextName, _ := vmResolve(nextVm, []string{"screen", "name"})
	prevAction, _ := vmResolve(prevVm, []string{"screen", "action"})
	nextAction, _ := vmResolve(nextVm, []string{"screen", "action"})
	if self.remounted || !vmEqual(prevName, nextName) || !vmEqual(prevAction, nextAction) {
		return append(paths, []string{"screen", "vm"})
	}
	for _, field := range changedFields {
		paths = append(paths, []string{"screen", "vm", field})
	}
	return paths
}

// flush drains the batch into a single patch envelope at the next rev.
func (self *Session) flush() {
	self.cancelFlushTimer()
	if self.sid == "" || !self.batcher.HasPending() {
		self.batcher.Clear()
		return
	}
	ops, ack := self.batcher.TakePending()

	self.rev += 1
	self.send(&protocol.Patch{
		Sid: self.sid,
		Rev: self.rev,
		Ops: ops,
		Ack: ack,
	})
	self.emitTelemetry(TelemetryEvent{
		Name: TelemetryPatchSent,
		Measurements: map[string]any{
			"op_count": len(ops),
		},
		Metadata: map[string]any{
			"ack": ack,
		},
	})
}

func (self *Session) armFlushTimer() {
	self.flushGeneration += 1
	generation := self.flushGeneration
	self.flushTimer = time.AfterFunc(self.settings.BatchWindow, func() {
		self.post(flushMessage{generation: generation})
	})
}

func (self *Session) cancelFlushTimer() {
	self.flushGeneration += 1
	if self.flushTimer != nil {
		self.flushTimer.Stop()
		self.flushTimer = nil
	}
}

func (self *Session) armTickTimer() {
	self.tickGeneration += 1
	generation := self.tickGeneration
	self.tickTimer = time.AfterFunc(self.settings.TickPeriod, func() {
		self.post(tickMessage{generation: generation})
	})
}

func (self *Session) cancelTickTimer() {
	self.tickGeneration += 1
	if self.tickTimer != nil {
		self.tickTimer.Stop()
		self.tickTimer = nil
	}
}

func (self *Session) send(envelope protocol.Envelope) {
	for _, entry := range self.sendCallbacks.get() {
		sendCallback := entry.callback
		HandleError(func() {
			sendCallback(envelope)
		})
	}
}

func (self *Session) emitTelemetry(event TelemetryEvent) {
	for _, entry := range self.telemetryCallbacks.get() {
		telemetryCallback := entry.callback
		HandleError(func() {
			telemetryCallback(event)
		})
	}
}

func (self *Session) screenLabel() string {
	if self.router != nil && self.nav != nil {
		return self.nav.Current().Name
	}
	return self.screenModule
}

func (self *Session) snapshot() SessionSnapshot {
	snapshot := SessionSnapshot{
		Sid:           self.sid,
		Rev:           self.rev,
		Vm:            self.vm,
		ScreenModule:  self.screenModule,
		Subscriptions: self.subs.Current(),
		Capabilities:  self.capabilities,
	}
	if self.router != nil && self.nav != nil {
		snapshot.CurrentRoute = self.nav.Current().Name
		snapshot.NavDepth = self.nav.Depth()
	}
	return snapshot
}
