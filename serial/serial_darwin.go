// SPDX-License-Identifier: MIT

//go:build darwin

package serial

var defaultConfig = Config{
	port: "/dev/tty.usbserial",
	baud: 9600,
}
