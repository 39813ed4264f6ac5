// Package model defines the persistent records kept by the gateway.
package model

import (
	"time"
)

// Device operating modes.
const (
	ModeAuto   = "auto"
	ModeManual = "manual"
)

// Pump states.
const (
	PumpActive   = "active"
	PumpInactive = "inactive"
)

// Lifecycle states for commands, responses and outbound messages.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusSent      = "sent"
)

// Device is an irrigation controller addressable over SMS.
type Device struct {
	ID   string `gorm:"primaryKey"`
	Name string

	// Irrigation state, updated by commands and by the controller itself.
	Mode              string `gorm:"default:auto"`
	MoistureThreshold int
	Moisture          int
	PumpStatus        string `gorm:"default:inactive"`
	Irrigating        bool
	FlowRate          float64
	TotalVolume       float64
	IrrigationEndTime *time.Time

	AuthorizedNumbers []AuthorizedNumber `gorm:"foreignKey:DeviceID"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AuthorizedNumber maps a phone number to the device it may control.
//
// A number controls at most one device, so it is the primary key.
type AuthorizedNumber struct {
	Number   string `gorm:"primaryKey"`
	DeviceID string `gorm:"index"`

	CreatedAt time.Time
}

// InboundMessage records every SMS pulled off the modem, authorized or not.
type InboundMessage struct {
	ID        uint `gorm:"primaryKey"`
	Sender    string
	Body      string
	Processed bool

	ReceivedAt time.Time `gorm:"autoCreateTime"`
}

// DeviceCommand records a recognised command issued against a device.
type DeviceCommand struct {
	ID       uint `gorm:"primaryKey"`
	DeviceID string
	Sender   string
	Command  string
	Status   string `gorm:"default:pending"`

	CreatedAt   time.Time
	CompletedAt *time.Time
}

// SMSResponse records the reply composed for an inbound message.
type SMSResponse struct {
	ID        uint `gorm:"primaryKey"`
	CommandID *uint
	Recipient string
	Body      string
	Status    string `gorm:"default:pending"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// OutboundMessage records each SMS handed to the modem for transmission,
// with the delivery outcome.
type OutboundMessage struct {
	ID        uint `gorm:"primaryKey"`
	Recipient string
	Body      string
	Status    string `gorm:"default:pending"`

	// MessageRef is the modem's message reference, set on success.
	MessageRef string
	// Error holds the failure reason when Status is failed.
	Error string

	CreatedAt time.Time
	UpdatedAt time.Time
}
