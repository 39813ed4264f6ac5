// SPDX-License-Identifier: MIT

// Package at provides a low level driver for AT modems.
//
// The driver owns the line to the modem and serialises access to it: at most
// one command is in flight at any time, and unsolicited notifications are
// classified out of the line stream before it reaches the command in
// progress, so interleaved notifications never pollute a command's response.
package at

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// AT represents a modem that can be managed using AT commands.
//
// Commands are issued using Command and SMSCommand. Both block until the
// modem returns a completion status (OK, ERROR or FAILED, plus the verbose
// +CME/+CMS forms) or the context expires.
//
// The AT closes the closed channel when the connection to the underlying
// modem is broken (Read returns EOF). When closed, all outstanding commands
// return ErrClosed and the state of the underlying modem becomes unknown.
// Once closed the AT cannot be re-opened - it must be recreated.
type AT struct {
	// channel for commands issued to the modem
	cmdCh chan func()

	// channel for changes to the notification registry
	notifyCh chan func()

	// closed when the modem read stream terminates
	closed chan struct{}

	// all lines read from the modem
	rawLines chan string

	// lines remaining after notifications have been removed
	cmdLines chan string

	// the underlying modem
	modem io.ReadWriter

	// diagnostic log of executed commands and their raw responses
	log Logger

	// the minimum time between an escape and the subsequent command
	escTime time.Duration

	// notifications mapped by prefix, only touched in notifyLoop
	notifications map[string]notification

	// commands issued by Init
	initCmds []string

	// covers escGuard
	escGuardMu sync.Mutex

	// if non-nil, the time the subsequent command must wait until
	escGuard <-chan time.Time
}

// Logger is the interface used to log executed commands.
type Logger interface {
	Printf(format string, v ...interface{})
}

// Option is a construction option for an AT.
type Option func(*AT)

// New creates a new AT modem driver over the modem io stream.
func New(modem io.ReadWriter, options ...Option) *AT {
	a := &AT{
		modem:         modem,
		cmdCh:         make(chan func()),
		notifyCh:      make(chan func()),
		rawLines:      make(chan string),
		cmdLines:      make(chan string),
		closed:        make(chan struct{}),
		escTime:       20 * time.Millisecond,
		notifications: make(map[string]notification),
	}
	for _, option := range options {
		option(a)
	}
	if a.initCmds == nil {
		a.initCmds = []string{
			"Z",  // reset to factory defaults (also clears the rx buffer)
			"E0", // no command echo
		}
	}
	go lineReader(a.modem, a.rawLines)
	go a.notifyLoop(a.notifyCh, a.rawLines, a.cmdLines)
	go cmdLoop(a.cmdCh, a.cmdLines, a.closed)
	return a
}

const (
	sub = 0x1a // terminates an SMS body
	esc = 0x1b // aborts an SMS body
)

// WithEscTime sets the guard time applied after an escape is written.
//
// The default guard time is 20msec.
func WithEscTime(d time.Duration) Option {
	return func(a *AT) {
		a.escTime = d
	}
}

// WithLogger sets a logger which receives one entry per executed command,
// containing the command and its raw response.
//
// By default commands are not logged.
func WithLogger(l Logger) Option {
	return func(a *AT) {
		a.log = l
	}
}

// WithInitCmds specifies the commands issued by Init.
//
// The default commands are ATZ and ATE0.
func WithInitCmds(cmds ...string) Option {
	return func(a *AT) {
		a.initCmds = cmds
	}
}

// NotificationHandler receives the lines of a matched notification.
type NotificationHandler func([]string)

// WithNotification registers a notification handler during construction.
func WithNotification(prefix string, handler NotificationHandler, options ...NotificationOption) Option {
	n := newNotification(prefix, handler, options...)
	return func(a *AT) {
		a.notifications[prefix] = n
	}
}

// Closed returns a channel which is closed when the modem connection is lost.
//
// Loss of the connection is fatal to the gateway; the supervising layer is
// expected to tear the process down and reconnect from scratch.
func (a *AT) Closed() <-chan struct{} {
	return a.closed
}

// Command issues the command to the modem and returns the result.
//
// The command should NOT include the AT prefix, nor the <CR><LF> suffix,
// which are added automatically.
//
// The return value includes the info (the lines returned by the modem
// between the command and the status line), or an error if the command did
// not complete successfully within the context deadline.
func (a *AT) Command(ctx context.Context, cmd string) ([]string, error) {
	done := make(chan response)
	cmdf := func() {
		info, err := a.processReq(ctx, cmd)
		done <- response{info: info, err: err}
	}
	select {
	case <-a.closed:
		return nil, ErrClosed
	case a.cmdCh <- cmdf:
		rsp := <-done
		return rsp.info, rsp.err
	}
}

// SMSCommand issues an SMS command to the modem and returns the result.
//
// An SMS command is issued in two steps; first the command line:
//
//	AT<command><CR>
//
// which the modem responds to with a ">" prompt, after which the message
// body is sent:
//
//	<sms><Ctrl-Z>
//
// The modem then completes the command as per Command.
func (a *AT) SMSCommand(ctx context.Context, cmd string, sms string) ([]string, error) {
	done := make(chan response)
	cmdf := func() {
		info, err := a.processSMSReq(ctx, cmd, sms)
		done <- response{info: info, err: err}
	}
	select {
	case <-a.closed:
		return nil, ErrClosed
	case a.cmdCh <- cmdf:
		rsp := <-done
		return rsp.info, rsp.err
	}
}

// AddNotification adds a handler for unsolicited lines beginning with the
// prefix, and any trailing lines belonging to them.
func (a *AT) AddNotification(prefix string, handler NotificationHandler, options ...NotificationOption) (err error) {
	n := newNotification(prefix, handler, options...)
	errs := make(chan error)
	nf := func() {
		if _, ok := a.notifications[prefix]; ok {
			errs <- ErrNotificationExists
			return
		}
		a.notifications[prefix] = n
		close(errs)
	}
	select {
	case <-a.closed:
		err = ErrClosed
	case a.notifyCh <- nf:
		err = <-errs
	}
	return
}

// CancelNotification removes any notification handler for the prefix.
func (a *AT) CancelNotification(prefix string) {
	done := make(chan struct{})
	nf := func() {
		delete(a.notifications, prefix)
		close(done)
	}
	select {
	case <-a.closed:
	case a.notifyCh <- nf:
		<-done
	}
}

// Init initialises the modem into a known state.
//
// Any outstanding SMS body is escaped and the init commands are issued.
// Init is intended to be called once after creation, before any other
// commands.
func (a *AT) Init(ctx context.Context, cmds ...string) error {
	// escape any outstanding SMS operations then CR to flush the command
	// buffer
	a.escape([]byte("\r\n")...)

	if cmds == nil {
		cmds = a.initCmds
	}
	for _, cmd := range cmds {
		_, err := a.Command(ctx, cmd)
		switch err {
		case nil:
		case context.DeadlineExceeded, context.Canceled:
			return err
		default:
			return fmt.Errorf("AT%s returned error: %w", cmd, err)
		}
	}
	return nil
}

// cmdLoop executes queued commands, one at a time.
//
// This is the serialisation point for the half-duplex line: a second caller
// blocks in Command until the loop is free to accept its closure, so a
// command never begins transmission while another awaits its response.
// If no command is pending, received lines are orphans (e.g. late replies
// to a command that timed out) and are discarded.
func cmdLoop(cmds chan func(), in <-chan string, out chan struct{}) {
	for {
		select {
		case cmd := <-cmds:
			cmd()
		case _, ok := <-in:
			if !ok {
				close(out)
				return
			}
		}
	}
}

// lineReader frames the raw modem stream into lines.
//
// lineReader exits when the modem stream closes, and closes its output to
// tear down the rest of the pipeline.
func lineReader(m io.Reader, out chan string) {
	scanner := bufio.NewScanner(m)
	scanner.Split(scanLines)
	for scanner.Scan() {
		out <- scanner.Text()
	}
	close(out)
}

// notifyLoop pulls notification lines from the stream of lines read from the
// modem and forwards them to their handlers. All other lines pass through to
// the command loop.
//
// Classification is by prefix grammar, not by whether a command happens to
// be in flight, so a notification interleaved into a command response is
// still routed to its handler. Trailing lines of a notification are assumed
// to arrive in a contiguous block immediately after it.
func (a *AT) notifyLoop(cmds chan func(), in <-chan string, out chan string) {
	defer close(out)
	for {
		select {
		case cmd := <-cmds:
			cmd()
		case line, ok := <-in:
			if !ok {
				return
			}
			if n, ok := a.match(line); ok {
				lines := make([]string, n.lines)
				lines[0] = line
				for i := 1; i < n.lines; i++ {
					t, ok := <-in
					if !ok {
						return
					}
					lines[i] = t
				}
				n.handler(lines)
				continue
			}
			out <- line
		}
	}
}

func (a *AT) match(line string) (notification, bool) {
	for prefix, n := range a.notifications {
		if strings.HasPrefix(line, prefix) {
			return n, true
		}
	}
	return notification{}, false
}

func (a *AT) processReq(ctx context.Context, cmd string) (info []string, err error) {
	defer func() { a.logf("AT%s: %q %v", cmd, info, err) }()
	a.waitEscGuard()
	err = a.writeCommand(cmd)
	if err != nil {
		return
	}
	cmdID := parseCmdID(cmd)
	for {
		select {
		case <-ctx.Done():
			err = ctx.Err()
			return
		case line, ok := <-a.cmdLines:
			if !ok {
				return nil, ErrClosed
			}
			if line == "" {
				continue
			}
			i, done, perr := a.processRxLine(classifyRxLine(line, cmdID), line)
			if i != nil {
				info = append(info, *i)
			}
			if perr != nil {
				err = perr
				return
			}
			if done {
				return
			}
		}
	}
}

func (a *AT) processSMSReq(ctx context.Context, cmd string, sms string) (info []string, err error) {
	defer func() { a.logf("AT%s <sms>: %q %v", cmd, info, err) }()
	a.waitEscGuard()
	err = a.writeSMSCommand(cmd)
	if err != nil {
		return
	}
	cmdID := parseCmdID(cmd)
	for {
		select {
		case <-ctx.Done():
			// abandon the outstanding SMS body
			a.escape()
			err = ctx.Err()
			return
		case line, ok := <-a.cmdLines:
			if !ok {
				err = ErrClosed
				return
			}
			if line == "" {
				continue
			}
			i, done, perr := a.processSMSRxLine(classifyRxLine(line, cmdID), line, sms)
			if i != nil {
				info = append(info, *i)
			}
			if perr != nil {
				err = perr
				return
			}
			if done {
				return
			}
		}
	}
}

// processRxLine determines how a received line adds to the response for the
// current command.
//
// The return values are a line of info to add to the response (optional), a
// flag indicating the command is complete, and any error reported by the
// modem.
func (a *AT) processRxLine(c rxLine, line string) (info *string, done bool, err error) {
	switch c {
	case rxLineStatusOK:
		done = true
	case rxLineStatusError:
		err = newStatusError(line)
	case rxLineUnknown, rxLineInfo:
		info = &line
	}
	return
}

// processSMSRxLine determines how a received line adds to the response for
// the current SMS command.
func (a *AT) processSMSRxLine(c rxLine, line string, sms string) (info *string, done bool, err error) {
	switch c {
	case rxLineUnknown:
		if line[len(line)-1] == sub && strings.HasPrefix(line, sms) {
			// swallow the echoed SMS body
			return
		}
		info = &line
	case rxLineSMSPrompt:
		if err = a.writeSMS(sms); err != nil {
			a.escape()
		}
	default:
		return a.processRxLine(c, line)
	}
	return
}

// escape issues an escape, aborting any outstanding SMS body.
func (a *AT) escape(b ...byte) {
	cmd := append([]byte(string(rune(esc))+"\r\n"), b...)
	a.modem.Write(cmd)
	a.startEscGuard()
}

// startEscGuard blocks writes to the modem for the guard period.
func (a *AT) startEscGuard() {
	a.escGuardMu.Lock()
	a.escGuard = time.After(a.escTime)
	a.escGuardMu.Unlock()
}

// waitEscGuard waits out any active write guard.
func (a *AT) waitEscGuard() {
	a.escGuardMu.Lock()
	defer a.escGuardMu.Unlock()
	if a.escGuard == nil {
		return
	}
	for {
		select {
		case _, ok := <-a.cmdLines:
			if !ok {
				return
			}
		case <-a.escGuard:
			a.escGuard = nil
			return
		}
	}
}

// writeCommand writes a one line command to the modem.
func (a *AT) writeCommand(cmd string) error {
	cmdLine := "AT" + cmd + "\r\n"
	_, err := a.modem.Write([]byte(cmdLine))
	return err
}

// writeSMSCommand writes the first line of a two line SMS command to the
// modem.
func (a *AT) writeSMSCommand(cmd string) error {
	cmdLine := "AT" + cmd + "\r"
	_, err := a.modem.Write([]byte(cmdLine))
	return err
}

// writeSMS writes the second line of a two line SMS command to the modem.
func (a *AT) writeSMS(sms string) error {
	_, err := a.modem.Write([]byte(sms + string(rune(sub))))
	return err
}

func (a *AT) logf(format string, v ...interface{}) {
	if a.log != nil {
		a.log.Printf(format, v...)
	}
}

// CMEError indicates a CME Error was returned by the modem.
//
// The value is the error value, in string form, which may be numeric or
// textual depending on the modem configuration.
type CMEError string

// CMSError indicates a CMS Error was returned by the modem.
//
// The value is the error value, in string form, which may be numeric or
// textual depending on the modem configuration.
type CMSError string

func (e CMEError) Error() string {
	return string("CME Error: " + e)
}

func (e CMSError) Error() string {
	return string("CMS Error: " + e)
}

var (
	// ErrClosed indicates an operation cannot be performed as the modem has
	// been closed.
	ErrClosed = errors.New("closed")

	// ErrError indicates the modem returned a generic AT ERROR in response
	// to an operation.
	ErrError = errors.New("ERROR")

	// ErrFailed indicates the modem returned FAILED in response to an
	// operation.
	ErrFailed = errors.New("FAILED")

	// ErrNotificationExists indicates there is already a notification
	// registered for a prefix.
	ErrNotificationExists = errors.New("notification exists")
)

// newStatusError creates the error corresponding to a status line.
func newStatusError(line string) error {
	var err error
	switch {
	case strings.HasPrefix(line, "ERROR"):
		err = ErrError
	case line == "FAILED":
		err = ErrFailed
	case strings.HasPrefix(line, "+CMS ERROR:"):
		err = CMSError(strings.TrimSpace(line[11:]))
	case strings.HasPrefix(line, "+CME ERROR:"):
		err = CMEError(strings.TrimSpace(line[11:]))
	}
	return err
}

// response is the result of a request operation performed on the modem.
type response struct {
	info []string
	err  error
}

// rxLine classifies the lines received from the modem.
type rxLine int

const (
	rxLineUnknown rxLine = iota
	rxLineEchoCmdLine
	rxLineInfo
	rxLineStatusOK
	rxLineStatusError
	rxLineSMSPrompt
)

// notification is an unsolicited result code (URC) from the modem, such as
// the arrival of a new SMS message.
//
// Notifications are lines prefixed with a particular pattern, and may
// include a number of trailing lines. The matching lines are bundled into a
// slice and passed to the handler.
type notification struct {
	prefix  string
	lines   int
	handler NotificationHandler
}

// NotificationOption alters the behavior of a notification.
type NotificationOption func(*notification)

func newNotification(prefix string, handler NotificationHandler, options ...NotificationOption) notification {
	n := notification{
		prefix:  prefix,
		handler: handler,
		lines:   1,
	}
	for _, option := range options {
		option(&n)
	}
	return n
}

// WithTrailingLines indicates the notification includes a number of lines
// after the line containing the prefix.
func WithTrailingLines(l int) NotificationOption {
	return func(n *notification) {
		n.lines = l + 1
	}
}

// WithTrailingLine indicates the notification includes one line after the
// line containing the prefix.
var WithTrailingLine = WithTrailingLines(1)

// parseCmdID returns the identifier component of the command.
//
// This is the section prior to any '=' or '?' and is generally, though not
// always, used to prefix info lines corresponding to the command.
func parseCmdID(cmdLine string) string {
	if idx := strings.IndexAny(cmdLine, "=?"); idx != -1 {
		return cmdLine[0:idx]
	}
	return cmdLine
}

// classifyRxLine identifies the type of a received line.
func classifyRxLine(line string, cmdID string) rxLine {
	switch {
	case line == "OK":
		return rxLineStatusOK
	case line == "FAILED",
		strings.HasPrefix(line, "ERROR"),
		strings.HasPrefix(line, "+CME ERROR:"),
		strings.HasPrefix(line, "+CMS ERROR:"):
		return rxLineStatusError
	case strings.HasPrefix(line, cmdID+":"):
		return rxLineInfo
	case line == ">":
		return rxLineSMSPrompt
	case strings.HasPrefix(line, "AT"+cmdID):
		return rxLineEchoCmdLine
	default:
		// includes message body lines, which cannot be identified at this
		// level
		return rxLineUnknown
	}
}

// scanLines is a custom line scanner for lineReader that recognises the
// prompt returned by the modem in response to SMS commands such as +CMGS.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	// handle SMS prompt special case - no CR at prompt
	if len(data) >= 1 && data[0] == '>' {
		i := 1
		// there may be trailing space, so swallow that...
		for ; i < len(data) && data[i] == ' '; i++ {
		}
		return i, data[0:1], nil
	}
	return bufio.ScanLines(data, atEOF)
}
