// Package command interprets SMS command text and applies it to devices.
package command

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/saharasprout/smsgateway/internal/model"
	"github.com/saharasprout/smsgateway/internal/store"
)

// Result is the outcome of interpreting one command.
type Result struct {
	// Status is the command lifecycle outcome, completed or failed.
	Status string

	// Message is the reply text to send back to the sender.
	Message string
}

const helpText = "Available commands:\n" +
	"STATUS - System status\n" +
	"ON - Start irrigation\n" +
	"OFF - Stop irrigation\n" +
	"AUTO - Enable auto mode\n" +
	"MANUAL - Enable manual mode\n" +
	"SET [1-100] - Set moisture threshold\n" +
	"WATER [1-60] - Run for minutes\n" +
	"SENSORS - Sensor readings\n" +
	"FLOW - Water usage data\n" +
	"HELP - Show commands"

// Interpreter parses command text and executes it against device state.
type Interpreter struct {
	store store.Store
}

// NewInterpreter creates an Interpreter over the store.
func NewInterpreter(s store.Store) *Interpreter {
	return &Interpreter{store: s}
}

// Process interprets the message text as a command for the device and
// returns the reply to send.
//
// Commands are case-insensitive. The reply strings are fixed; they are
// what field users have been trained on.
func (i *Interpreter) Process(ctx context.Context, deviceID string, text string) Result {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return failed("Unknown command. Send HELP for available commands.")
	}
	keyword := strings.ToUpper(fields[0])
	args := fields[1:]

	switch keyword {
	case "STATUS":
		return i.status(ctx, deviceID)
	case "ON":
		return i.pumpOn(ctx, deviceID)
	case "OFF":
		return i.pumpOff(ctx, deviceID)
	case "AUTO":
		return i.setMode(ctx, deviceID, model.ModeAuto, "Automatic mode enabled")
	case "MANUAL":
		return i.setMode(ctx, deviceID, model.ModeManual, "Manual mode enabled")
	case "SET":
		return i.setThreshold(ctx, deviceID, args)
	case "WATER":
		return i.water(ctx, deviceID, args)
	case "SENSORS":
		return i.sensors(ctx, deviceID)
	case "FLOW":
		return i.flow(ctx, deviceID)
	case "HELP":
		return completed(helpText)
	default:
		return failed("Unknown command. Send HELP for available commands.")
	}
}

func (i *Interpreter) status(ctx context.Context, deviceID string) Result {
	d, err := i.store.Device(ctx, deviceID)
	if err != nil {
		return storeFailure(err)
	}
	msg := fmt.Sprintf("Device: %s\nMode: %s\nMoisture: %d%%\nPump: %s\nFlow: %gL/min\nTotal: %gL",
		d.Name, d.Mode, d.Moisture, d.PumpStatus, d.FlowRate, d.TotalVolume)
	return completed(msg)
}

func (i *Interpreter) pumpOn(ctx context.Context, deviceID string) Result {
	err := i.store.UpdateDevice(ctx, deviceID, map[string]interface{}{
		"pump_status": model.PumpActive,
		"irrigating":  true,
	})
	if err != nil {
		return storeFailure(err)
	}
	return completed("Irrigation turned ON")
}

func (i *Interpreter) pumpOff(ctx context.Context, deviceID string) Result {
	err := i.store.UpdateDevice(ctx, deviceID, map[string]interface{}{
		"pump_status": model.PumpInactive,
		"irrigating":  false,
	})
	if err != nil {
		return storeFailure(err)
	}
	return completed("Irrigation turned OFF")
}

func (i *Interpreter) setMode(ctx context.Context, deviceID, mode, reply string) Result {
	err := i.store.UpdateDevice(ctx, deviceID, map[string]interface{}{"mode": mode})
	if err != nil {
		return storeFailure(err)
	}
	return completed(reply)
}

func (i *Interpreter) setThreshold(ctx context.Context, deviceID string, args []string) Result {
	if len(args) != 1 {
		return failed("Invalid threshold value. Usage: SET [1-100]")
	}
	threshold, err := strconv.Atoi(args[0])
	if err != nil {
		return failed("Invalid threshold value. Usage: SET [1-100]")
	}
	if threshold < 1 || threshold > 100 {
		return failed("Threshold must be between 1 and 100")
	}
	err = i.store.UpdateDevice(ctx, deviceID, map[string]interface{}{
		"moisture_threshold": threshold,
	})
	if err != nil {
		return storeFailure(err)
	}
	return completed(fmt.Sprintf("Moisture threshold set to %d%%", threshold))
}

func (i *Interpreter) water(ctx context.Context, deviceID string, args []string) Result {
	if len(args) != 1 {
		return failed("Invalid duration. Usage: WATER [minutes]")
	}
	minutes, err := strconv.Atoi(args[0])
	if err != nil {
		return failed("Invalid duration. Usage: WATER [minutes]")
	}
	if minutes < 1 || minutes > 60 {
		return failed("Duration must be between 1 and 60 minutes")
	}
	// TODO: add a scheduler that turns the pump off when the end time
	// passes; currently the controller polls irrigation_end_time itself.
	end := time.Now().Add(time.Duration(minutes) * time.Minute)
	err = i.store.UpdateDevice(ctx, deviceID, map[string]interface{}{
		"pump_status":         model.PumpActive,
		"irrigating":          true,
		"irrigation_end_time": &end,
	})
	if err != nil {
		return storeFailure(err)
	}
	return completed(fmt.Sprintf("Irrigation started for %d minutes", minutes))
}

func (i *Interpreter) sensors(ctx context.Context, deviceID string) Result {
	d, err := i.store.Device(ctx, deviceID)
	if err != nil {
		return storeFailure(err)
	}
	msg := fmt.Sprintf("Sensors:\nMoisture: %d%%\nWater Flow: %gL/min", d.Moisture, d.FlowRate)
	return completed(msg)
}

func (i *Interpreter) flow(ctx context.Context, deviceID string) Result {
	d, err := i.store.Device(ctx, deviceID)
	if err != nil {
		return storeFailure(err)
	}
	msg := fmt.Sprintf("Water Usage:\nCurrent Flow: %gL/min\nTotal Volume: %gL", d.FlowRate, d.TotalVolume)
	return completed(msg)
}

func completed(msg string) Result {
	return Result{Status: model.StatusCompleted, Message: msg}
}

func failed(msg string) Result {
	return Result{Status: model.StatusFailed, Message: msg}
}

func storeFailure(err error) Result {
	if err == store.ErrNotFound {
		return failed("Device not found")
	}
	log.Printf("command store error: %v", err)
	return failed("Error processing command. Please try again.")
}
