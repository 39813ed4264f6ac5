// SPDX-License-Identifier: MIT

//go:build windows

package serial

var defaultConfig = Config{
	port: "COM3",
	baud: 9600,
}
