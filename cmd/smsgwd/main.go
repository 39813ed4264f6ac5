// smsgwd is the SMS command gateway daemon.
//
// It attaches to a GSM modem on a serial port, waits for incoming command
// messages, runs them against the irrigation device state and replies to
// the sender.
package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/saharasprout/smsgateway/at"
	"github.com/saharasprout/smsgateway/config"
	"github.com/saharasprout/smsgateway/gsm"
	"github.com/saharasprout/smsgateway/internal/auth"
	"github.com/saharasprout/smsgateway/internal/command"
	"github.com/saharasprout/smsgateway/internal/db"
	"github.com/saharasprout/smsgateway/internal/gateway"
	"github.com/saharasprout/smsgateway/internal/store"
	"github.com/saharasprout/smsgateway/serial"
	"github.com/saharasprout/smsgateway/trace"
	"golang.org/x/time/rate"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to the configuration file")
	port := flag.String("port", "", "serial port the modem is attached to (overrides config)")
	baud := flag.Int("baud", 0, "serial baud rate (overrides config)")
	verbose := flag.Bool("v", false, "log modem traffic")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
	}
	if *port != "" {
		cfg.Serial.Port = *port
	}
	if *baud != 0 {
		cfg.Serial.Baud = *baud
	}

	sopts := []serial.Option{serial.WithBaud(cfg.Serial.Baud)}
	if cfg.Serial.Port != "" {
		sopts = append(sopts, serial.WithPort(cfg.Serial.Port))
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g := gsm.New(mio, at.WithLogger(log.Default()))
	ictx, cancel := context.WithTimeout(ctx, cfg.Modem.SendTimeout)
	err = g.Init(ictx)
	cancel()
	if err != nil {
		log.Fatalf("initialise modem: %v", err)
	}

	gdb, err := db.Open(cfg.Database.DSN)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	s := store.New(gdb)

	gw := gateway.New(g, s,
		auth.NewResolver(s, cfg.Gateway.AuthCacheTTL),
		command.NewInterpreter(s),
		gateway.Timeouts{
			Command: cfg.Modem.CommandTimeout,
			Read:    cfg.Modem.ReadTimeout,
			Send:    cfg.Modem.SendTimeout,
		},
		gateway.WithQueueSize(cfg.Gateway.QueueSize),
		gateway.WithReplyRate(rate.Limit(cfg.Gateway.ReplyRatePerMinute/60), cfg.Gateway.ReplyBurst),
		gateway.WithLimiterTTL(cfg.Gateway.AuthCacheTTL),
	)

	log.Printf("gateway running on %s", cfg.Serial.Port)
	err = gw.Run(ctx)
	switch err {
	case context.Canceled:
		log.Print("gateway stopped")
	default:
		log.Fatalf("gateway: %v", err)
	}
}
