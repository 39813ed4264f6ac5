// SPDX-License-Identifier: MIT

// Package serial opens the serial connection to the cellular module.
//
// The gateway owns exactly one of these per process. Reconnection after a
// link failure is the supervisor's responsibility, not this package's.
package serial

import (
	"github.com/tarm/serial"
)

// Config describes the serial link to the modem.
//
// Unset fields are filled in from per-OS defaults, which suit a SIM800L
// style module wired to the board UART.
type Config struct {
	port string
	baud int
}

// Option adjusts the serial Config.
type Option func(*Config)

// WithPort sets the device path of the serial port.
func WithPort(port string) Option {
	return func(c *Config) {
		c.port = port
	}
}

// WithBaud sets the line baud rate.
func WithBaud(baud int) Option {
	return func(c *Config) {
		c.baud = baud
	}
}

// New opens the serial port to the modem.
//
// The returned port is an io.ReadWriteCloser carrying raw modem traffic;
// framing and AT semantics live in the at package.
func New(options ...Option) (*serial.Port, error) {
	cfg := defaultConfig
	for _, option := range options {
		option(&cfg)
	}
	p, err := serial.OpenPort(&serial.Config{Name: cfg.port, Baud: cfg.baud})
	if err != nil {
		return nil, err
	}
	return p, nil
}
