// Package gateway ties the modem to the store: it drains new-message
// notifications, authorizes senders, runs their commands and sends the
// tracked replies.
package gateway

import (
	"context"
	"log"
	"time"

	cache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/saharasprout/smsgateway/gsm"
	"github.com/saharasprout/smsgateway/internal/auth"
	"github.com/saharasprout/smsgateway/internal/command"
	"github.com/saharasprout/smsgateway/internal/model"
	"github.com/saharasprout/smsgateway/internal/store"
)

// ErrModemClosed indicates the modem connection dropped while the gateway
// was running.
var ErrModemClosed = errors.New("modem closed")

const unauthorizedReply = "Unauthorized access: Your number is not registered with any device."
const errorReply = "Error processing command. Please try again."

// Modem is the subset of modem operations the gateway requires.
type Modem interface {
	ReadMessage(ctx context.Context, index int) (gsm.Message, error)
	DeleteMessage(ctx context.Context, index int) error
	SendSMS(ctx context.Context, number string, message string) (string, error)
	StartMessageNotifications(ctx context.Context, handler func(index int)) error
	StopMessageNotifications()
	Closed() <-chan struct{}
}

// Authorizer resolves a sender number to the device it controls.
type Authorizer interface {
	Resolve(ctx context.Context, number string) (string, error)
}

// Interpreter runs a command against a device.
type Interpreter interface {
	Process(ctx context.Context, deviceID string, text string) command.Result
}

// Timeouts are the per-operation modem deadlines.
type Timeouts struct {
	Command time.Duration
	Read    time.Duration
	Send    time.Duration
}

// Gateway processes inbound messages in arrival order.
//
// Notification handlers must not issue modem commands, so arrivals are
// queued on a channel and drained by Run on its own goroutine. A single
// worker keeps processing strictly ordered.
type Gateway struct {
	modem    Modem
	store    store.Store
	auth     Authorizer
	interp   Interpreter
	timeouts Timeouts
	log      *log.Logger

	jobs chan int

	replyRate  rate.Limit
	replyBurst int
	limiterTTL time.Duration
	limiters   *cache.Cache
}

// Option modifies a Gateway constructed by New.
type Option func(*Gateway)

// WithQueueSize sets the arrival queue depth.
func WithQueueSize(n int) Option {
	return func(g *Gateway) {
		g.jobs = make(chan int, n)
	}
}

// WithLogger sets the logger used for processing diagnostics.
func WithLogger(l *log.Logger) Option {
	return func(g *Gateway) {
		g.log = l
	}
}

// WithReplyRate limits replies per sender to r with the given burst.
func WithReplyRate(r rate.Limit, burst int) Option {
	return func(g *Gateway) {
		g.replyRate = r
		g.replyBurst = burst
	}
}

// WithLimiterTTL sets how long an idle sender's rate limiter is retained.
func WithLimiterTTL(d time.Duration) Option {
	return func(g *Gateway) {
		g.limiterTTL = d
	}
}

// New creates a Gateway over the modem and store.
func New(modem Modem, s store.Store, a Authorizer, i Interpreter, t Timeouts, options ...Option) *Gateway {
	g := &Gateway{
		modem:      modem,
		store:      s,
		auth:       a,
		interp:     i,
		timeouts:   t,
		log:        log.Default(),
		jobs:       make(chan int, 16),
		replyRate:  rate.Every(10 * time.Second),
		replyBurst: 3,
		limiterTTL: time.Hour,
	}
	for _, option := range options {
		option(g)
	}
	g.limiters = cache.New(g.limiterTTL, 2*g.limiterTTL)
	return g
}

// Run processes messages until the context is cancelled or the modem
// closes. It returns ErrModemClosed if the modem connection drops.
//
// Any messages already sitting in the modem's store from before startup
// are not drained here; they surface when the next notification prompts a
// scan, or can be cleared with the diagnostic tools.
func (g *Gateway) Run(ctx context.Context) error {
	err := g.modem.StartMessageNotifications(ctx, func(index int) {
		select {
		case g.jobs <- index:
		default:
			g.log.Printf("arrival queue full, dropping notification for index %d", index)
		}
	})
	if err != nil {
		return errors.Wrap(err, "enable notifications")
	}
	defer g.modem.StopMessageNotifications()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-g.modem.Closed():
			return ErrModemClosed
		case index := <-g.jobs:
			g.processMessage(ctx, index)
		}
	}
}

// processMessage runs the full pipeline for one stored message: read,
// record, delete the slot, authorize, execute and reply.
//
// The slot is only deleted once the inbound record is durable, so a
// database outage cannot lose messages - at worst a message is processed
// twice after a restart.
func (g *Gateway) processMessage(ctx context.Context, index int) {
	rctx, cancel := context.WithTimeout(ctx, g.timeouts.Read)
	msg, err := g.modem.ReadMessage(rctx, index)
	cancel()
	if errors.Cause(err) == gsm.ErrMalformedMessage {
		g.log.Printf("dropping malformed message at index %d: %v", index, err)
		g.deleteSlot(ctx, index)
		return
	}
	if err != nil {
		g.log.Printf("read message %d: %v", index, err)
		return
	}

	inboundID, err := g.store.SaveInbound(ctx, msg.Sender, msg.Body)
	if err != nil {
		// Leave the slot intact; the message survives on the modem.
		g.log.Printf("save inbound from %s: %v", msg.Sender, err)
		return
	}
	g.deleteSlot(ctx, index)

	deviceID, err := g.auth.Resolve(ctx, msg.Sender)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			g.log.Printf("unauthorized sender %s", msg.Sender)
			g.sendTracked(ctx, msg.Sender, unauthorizedReply)
			return
		}
		g.log.Printf("authorize %s: %v", msg.Sender, err)
		return
	}

	cmdID, err := g.store.SaveCommand(ctx, deviceID, msg.Sender, msg.Body)
	if err != nil {
		g.log.Printf("save command for %s: %v", deviceID, err)
		g.sendTracked(ctx, msg.Sender, errorReply)
		return
	}
	if err = g.store.MarkInboundProcessed(ctx, inboundID); err != nil {
		g.log.Printf("mark inbound %d processed: %v", inboundID, err)
	}

	res := g.interp.Process(ctx, deviceID, msg.Body)
	if err = g.store.CompleteCommand(ctx, cmdID, res.Status); err != nil {
		g.log.Printf("complete command %d: %v", cmdID, err)
	}

	respID, err := g.store.SaveResponse(ctx, &cmdID, msg.Sender, res.Message)
	if err != nil {
		g.log.Printf("save response for command %d: %v", cmdID, err)
	}
	sendErr := g.sendTracked(ctx, msg.Sender, res.Message)
	if respID != 0 {
		status := model.StatusSent
		if sendErr != nil {
			status = model.StatusFailed
		}
		if err = g.store.UpdateResponseStatus(ctx, respID, status); err != nil {
			g.log.Printf("update response %d: %v", respID, err)
		}
	}
}

// sendTracked records the outbound message, waits out the per-sender rate
// limit, sends it and records the outcome.
func (g *Gateway) sendTracked(ctx context.Context, recipient, body string) error {
	outID, err := g.store.RecordOutbound(ctx, recipient, body)
	if err != nil {
		g.log.Printf("record outbound to %s: %v", recipient, err)
	}
	if err = g.limiter(recipient).Wait(ctx); err != nil {
		g.recordOutcome(ctx, outID, model.StatusFailed, "", err)
		return err
	}
	sctx, cancel := context.WithTimeout(ctx, g.timeouts.Send)
	mr, err := g.modem.SendSMS(sctx, recipient, body)
	cancel()
	if err != nil {
		g.log.Printf("send to %s: %v", recipient, err)
		g.recordOutcome(ctx, outID, model.StatusFailed, "", err)
		return err
	}
	g.recordOutcome(ctx, outID, model.StatusSent, mr, nil)
	return nil
}

func (g *Gateway) recordOutcome(ctx context.Context, outID uint, status, mr string, cause error) {
	if outID == 0 {
		return
	}
	errText := ""
	if cause != nil {
		errText = cause.Error()
	}
	if err := g.store.UpdateOutboundStatus(ctx, outID, status, mr, errText); err != nil {
		g.log.Printf("update outbound %d: %v", outID, err)
	}
}

func (g *Gateway) deleteSlot(ctx context.Context, index int) {
	dctx, cancel := context.WithTimeout(ctx, g.timeouts.Command)
	defer cancel()
	if err := g.modem.DeleteMessage(dctx, index); err != nil {
		// Non-fatal; a stuck slot is reported and left to diagnostics.
		g.log.Printf("delete message %d: %v", index, err)
	}
}

// limiter returns the rate limiter for the recipient, creating one on
// first use. Limiters for senders idle longer than the TTL are evicted so
// the set does not grow with every number that ever texted the gateway; a
// sender returning after eviction starts with a fresh burst.
func (g *Gateway) limiter(recipient string) *rate.Limiter {
	if l, ok := g.limiters.Get(recipient); ok {
		g.limiters.SetDefault(recipient, l)
		return l.(*rate.Limiter)
	}
	l := rate.NewLimiter(g.replyRate, g.replyBurst)
	g.limiters.SetDefault(recipient, l)
	return l
}
