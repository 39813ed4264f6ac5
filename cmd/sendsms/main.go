// sendsms sends a single text-mode SMS through the attached modem.
//
// It is a field diagnostic: it exercises the same serial, AT and SMS
// layers the gateway daemon uses, without touching the database.
package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"time"

	"github.com/saharasprout/smsgateway/gsm"
	"github.com/saharasprout/smsgateway/serial"
	"github.com/saharasprout/smsgateway/trace"
)

func main() {
	port := flag.String("port", "", "serial port the modem is attached to")
	baud := flag.Int("baud", 9600, "serial baud rate")
	timeout := flag.Duration("timeout", 30*time.Second, "time allowed for the send")
	verbose := flag.Bool("v", false, "log modem traffic")
	flag.Parse()
	if flag.NArg() != 2 {
		log.Fatalf("usage: %s [flags] <number> <message>", os.Args[0])
	}
	number, message := flag.Arg(0), flag.Arg(1)

	sopts := []serial.Option{serial.WithBaud(*baud)}
	if *port != "" {
		sopts = append(sopts, serial.WithPort(*port))
	}
	m, err := serial.New(sopts...)
	if err != nil {
		log.Fatalf("open serial port: %v", err)
	}
	defer m.Close()
	var mio io.ReadWriter = m
	if *verbose {
		mio = trace.New(m, log.New(os.Stderr, "modem ", log.LstdFlags))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	g := gsm.New(mio)
	if err = g.Init(ctx); err != nil {
		log.Fatalf("initialise modem: %v", err)
	}
	mr, err := g.SendSMS(ctx, number, message)
	if err != nil {
		log.Fatalf("send: %v", err)
	}
	log.Printf("sent, message reference %s", mr)
}
