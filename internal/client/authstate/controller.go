package authstate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/iliyamo/waitlist-admin/internal/client/api"
	"github.com/iliyamo/waitlist-admin/internal/model"
)

// API is the server surface the controller drives.  *api.Client
// implements it.
type API interface {
	WhoAmI(ctx context.Context) (model.AccountSummary, error)
	Login(ctx context.Context, identifier, secret string) (model.AccountSummary, error)
	Logout(ctx context.Context) error
}

// Navigator moves the view layer to another screen.
type Navigator interface {
	Navigate(v View)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(View)

func (f NavigatorFunc) Navigate(v View) { f(v) }

// Result is the outcome of Login.
type Result struct {
	Account model.AccountSummary
	Err     error
}

type owner int

const (
	ownerNone owner = iota
	ownerLogin
	ownerLogout
)

// events handled by the loop
type (
	mountEvent   struct{}
	recheckEvent struct{}
	routeEvent   struct{ view View }
	loginEvent   struct {
		ctx              context.Context
		identifier, pass string
		reply            chan Result
	}
	logoutEvent struct {
		ctx   context.Context
		reply chan error
	}
	checkDone struct {
		epoch uint64
		acct  model.AccountSummary
		err   error
	}
	loginDone struct {
		acct  model.AccountSummary
		err   error
		reply chan Result
	}
	logoutDone struct{ reply chan error }
)

// Controller is the client auth state machine.
type Controller struct {
	api      API
	nav      Navigator
	listener func(State)

	events    chan any
	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
	closeOnce sync.Once

	mu    sync.RWMutex
	state State

	// owned by the loop goroutine
	view       View
	epoch      uint64
	owner      owner
	checking   bool
	checkEpoch uint64
}

// Option configures a Controller.
type Option func(*Controller)

// WithListener registers fn to receive every state the controller enters,
// in order.  fn runs on the controller goroutine and must not call back
// into the controller synchronously.
func WithListener(fn func(State)) Option { return func(c *Controller) { c.listener = fn } }

// WithView sets the screen the client starts on (default ViewDashboard).
func WithView(v View) Option { return func(c *Controller) { c.view = v } }

func New(a API, nav Navigator, opts ...Option) *Controller {
	if nav == nil {
		nav = NavigatorFunc(func(View) {})
	}
	c := &Controller{
		api:    a,
		nav:    nav,
		events: make(chan any, 32),
		done:   make(chan struct{}),
		state:  loading(),
		view:   ViewDashboard,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start mounts the controller: it enters loading and asks the server
// whether a session exists.  Other methods must not be called before Start.
func (c *Controller) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		c.ctx, c.cancel = context.WithCancel(ctx)
		go c.loop()
		c.post(mountEvent{})
	})
}

// Close unmounts the controller.  Results of calls still in flight are
// dropped.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		close(c.done)
	})
}

// State returns the current snapshot.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Recheck asks the server again in the background.  It is a no-op while a
// login or logout is in flight or another check is pending.
func (c *Controller) Recheck() { c.post(recheckEvent{}) }

// RouteChanged records the new screen, applies the redirect policy and
// re-checks the session.
func (c *Controller) RouteChanged(v View) { c.post(routeEvent{view: v}) }

// Login authenticates and blocks until the attempt has settled.
func (c *Controller) Login(ctx context.Context, identifier, secret string) Result {
	reply := make(chan Result, 1)
	if !c.post(loginEvent{ctx: ctx, identifier: identifier, pass: secret, reply: reply}) {
		return Result{Err: ErrClosed}
	}
	select {
	case r := <-reply:
		return r
	case <-c.done:
		return Result{Err: ErrClosed}
	}
}

// Logout ends the session locally whatever the server answers, and blocks
// until the controller is unauthenticated.
func (c *Controller) Logout(ctx context.Context) error {
	reply := make(chan error, 1)
	if !c.post(logoutEvent{ctx: ctx, reply: reply}) {
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-c.done:
		return ErrClosed
	}
}

func (c *Controller) post(ev any) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

func (c *Controller) loop() {
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.events:
			c.handle(ev)
		}
	}
}

func (c *Controller) handle(ev any) {
	switch ev := ev.(type) {
	case mountEvent:
		c.epoch++
		c.set(loading())
		c.startCheck()

	case recheckEvent:
		if c.canCheck() {
			c.startCheck()
		}

	case routeEvent:
		c.view = ev.view
		c.redirect()
		if c.canCheck() {
			c.startCheck()
		}

	case checkDone:
		if ev.epoch == c.checkEpoch {
			c.checking = false
		}
		if ev.epoch != c.epoch || c.owner != ownerNone {
			return
		}
		switch {
		case ev.err == nil:
			c.set(authenticated(ev.acct))
		case errors.Is(ev.err, api.ErrUnauthenticated):
			c.set(unauthenticated(nil))
		default:
			c.set(failed(ev.err))
		}
		c.redirect()

	case loginEvent:
		if c.owner != ownerNone {
			ev.reply <- Result{Err: ErrBusy}
			return
		}
		c.owner = ownerLogin
		c.epoch++
		c.set(loading())
		go c.runLogin(ev)

	case loginDone:
		c.owner = ownerNone
		c.epoch++
		if ev.err != nil {
			c.set(unauthenticated(ev.err))
		} else {
			c.set(authenticated(ev.acct))
		}
		c.redirect()
		ev.reply <- Result{Account: ev.acct, Err: ev.err}

	case logoutEvent:
		if c.owner != ownerNone {
			ev.reply <- ErrBusy
			return
		}
		c.owner = ownerLogout
		c.epoch++
		c.set(loading())
		go c.runLogout(ev)

	case logoutDone:
		c.owner = ownerNone
		c.epoch++
		c.set(unauthenticated(nil))
		if c.view != ViewLogin {
			c.navigate(ViewLogin)
		}
		ev.reply <- nil
	}
}

func (c *Controller) set(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	if c.listener != nil {
		c.listener(s)
	}
}

func (c *Controller) redirect() {
	if target, ok := Redirect(c.State().Status, c.view); ok {
		c.navigate(target)
	}
}

func (c *Controller) navigate(v View) {
	c.view = v
	c.nav.Navigate(v)
}

// canCheck is false while a login or logout owns the state, or while a
// check for the current epoch is already pending.
func (c *Controller) canCheck() bool {
	return c.owner == ownerNone && !(c.checking && c.checkEpoch == c.epoch)
}

func (c *Controller) startCheck() {
	epoch := c.epoch
	c.checking, c.checkEpoch = true, epoch
	go func() {
		var (
			acct model.AccountSummary
			err  error
		)
		func() {
			defer recoverInto(&err)
			acct, err = c.api.WhoAmI(c.ctx)
		}()
		c.post(checkDone{epoch: epoch, acct: acct, err: err})
	}()
}

func (c *Controller) runLogin(ev loginEvent) {
	var (
		acct model.AccountSummary
		err  error
	)
	func() {
		defer recoverInto(&err)
		acct, err = c.api.Login(ev.ctx, ev.identifier, ev.pass)
	}()
	c.post(loginDone{acct: acct, err: err, reply: ev.reply})
}

// runLogout ignores the server's answer: a failed logout call must not
// keep the user signed in locally.
func (c *Controller) runLogout(ev logoutEvent) {
	func() {
		var err error
		defer recoverInto(&err)
		_ = c.api.Logout(ev.ctx)
	}()
	c.post(logoutDone{reply: ev.reply})
}

func recoverInto(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("authstate: %v", r)
	}
}
