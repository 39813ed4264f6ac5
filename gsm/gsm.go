// Package gsm provides text-mode SMS operations over an AT modem, as used
// by the irrigation command gateway: reading and deleting messages stored on
// the modem, sending replies, and surfacing new-message notifications.
package gsm

import (
	"context"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/saharasprout/smsgateway/at"
	"github.com/saharasprout/smsgateway/info"
)

// GSM decorates the AT driver with SMS specific functionality.
//
// The modem is operated in text mode throughout; PDU mode is not supported.
type GSM struct {
	*at.AT
}

// New creates a new GSM modem over the io stream to the physical modem.
func New(modem io.ReadWriter, options ...at.Option) *GSM {
	return &GSM{at.New(modem, options...)}
}

// Init initialises the modem for text-mode SMS operation.
func (g *GSM) Init(ctx context.Context) error {
	if err := g.AT.Init(ctx); err != nil {
		return err
	}
	cmds := []string{
		"+CMEE=2", // textual errors
		"+CMGF=1", // SMS text mode
	}
	for _, cmd := range cmds {
		if _, err := g.Command(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}

// Message is an SMS retrieved from the modem's message store.
type Message struct {
	// Index of the message in the modem's store.
	Index int

	// Status as reported by the modem, e.g. "REC UNREAD".
	Status string

	// Sender phone number, as presented on the wire.
	Sender string

	// Body is the message text. A multi-line body is joined with newlines.
	Body string
}

var (
	// ErrMalformedMessage indicates a stored message could not be parsed
	// from the modem's +CMGR response.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrMalformedNotification indicates a new-message notification did not
	// match the +CMTI grammar.
	ErrMalformedNotification = errors.New("malformed notification")

	// ErrMalformedResponse indicates the modem returned a response missing
	// the expected confirmation.
	ErrMalformedResponse = errors.New("malformed response")
)

// ReadMessage retrieves the stored message at the given index.
//
// The +CMGR reply is expected in two parts: a header line carrying the
// message status and sender, then the body text. A reply that cannot be
// parsed returns ErrMalformedMessage; the caller should still delete the
// slot so the store does not fill with junk.
func (g *GSM) ReadMessage(ctx context.Context, index int) (Message, error) {
	i, err := g.Command(ctx, fmt.Sprintf("+CMGR=%d", index))
	if err != nil {
		return Message{}, err
	}
	if len(i) < 2 || !info.HasPrefix(i[0], "+CMGR") {
		return Message{}, errors.Wrapf(ErrMalformedMessage, "index %d", index)
	}
	fields := info.Fields(info.TrimPrefix(i[0], "+CMGR"))
	if len(fields) < 2 || fields[1] == "" {
		return Message{}, errors.Wrapf(ErrMalformedMessage, "index %d", index)
	}
	return Message{
		Index:  index,
		Status: fields[0],
		Sender: fields[1],
		Body:   strings.Join(i[1:], "\n"),
	}, nil
}

// DeleteMessage removes the stored message at the given index, freeing the
// slot for new arrivals.
//
// Deleting an already vacant slot returns the modem's error; callers treat
// that as non-fatal.
func (g *GSM) DeleteMessage(ctx context.Context, index int) error {
	_, err := g.Command(ctx, fmt.Sprintf("+CMGD=%d", index))
	return err
}

// SendSMS sends a text-mode SMS to the number and returns the message
// reference on success.
//
// The modem is switched to text mode before every send, as the SIM800 class
// modules have been seen to drop out of it. Success is determined by the
// +CMGS confirmation in the response; a response without it returns
// ErrMalformedResponse.
func (g *GSM) SendSMS(ctx context.Context, number string, message string) (string, error) {
	if _, err := g.Command(ctx, "+CMGF=1"); err != nil {
		return "", err
	}
	i, err := g.SMSCommand(ctx, "+CMGS=\""+number+"\"", message)
	if err != nil {
		return "", err
	}
	for _, l := range i {
		if info.HasPrefix(l, "+CMGS") {
			return info.TrimPrefix(l, "+CMGS"), nil
		}
	}
	return "", ErrMalformedResponse
}

// StartMessageNotifications enables new-message notifications from the
// modem and calls handler with the store index of each arrival.
//
// The handler is called on the modem's notification goroutine, so it must
// not block and must not issue modem commands directly - hand the index off
// to another goroutine. Malformed notifications are logged and dropped.
func (g *GSM) StartMessageNotifications(ctx context.Context, handler func(index int)) error {
	err := g.AddNotification("+CMTI:", func(lines []string) {
		index, perr := parseCMTI(lines[0])
		if perr != nil {
			log.Printf("dropping notification: %v", perr)
			return
		}
		handler(index)
	})
	if err != nil {
		return err
	}
	_, err = g.Command(ctx, "+CNMI=2,1,0,0,0")
	return err
}

// StopMessageNotifications cancels new-message notification handling.
func (g *GSM) StopMessageNotifications() {
	g.CancelNotification("+CMTI:")
}

// parseCMTI extracts the store index from a +CMTI notification line.
//
// The expected grammar is +CMTI: "<mem>",<index>. Only the index is
// consumed.
func parseCMTI(line string) (int, error) {
	fields := info.Fields(info.TrimPrefix(line, "+CMTI"))
	if len(fields) < 2 {
		return 0, errors.Wrapf(ErrMalformedNotification, "%q", line)
	}
	index, err := strconv.Atoi(fields[len(fields)-1])
	if err != nil {
		return 0, errors.Wrapf(ErrMalformedNotification, "%q", line)
	}
	return index, nil
}
