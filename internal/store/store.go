// Package store provides the persistence operations used by the gateway.
package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/saharasprout/smsgateway/internal/model"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("not found")

// Store is the persistence port used by the gateway and its collaborators.
type Store interface {
	// Inbound message audit trail.
	SaveInbound(ctx context.Context, sender, body string) (uint, error)
	MarkInboundProcessed(ctx context.Context, id uint) error

	// Command lifecycle.
	SaveCommand(ctx context.Context, deviceID, sender, command string) (uint, error)
	CompleteCommand(ctx context.Context, id uint, status string) error

	// Response lifecycle.
	SaveResponse(ctx context.Context, commandID *uint, recipient, body string) (uint, error)
	UpdateResponseStatus(ctx context.Context, id uint, status string) error

	// Outbound delivery tracking.
	RecordOutbound(ctx context.Context, recipient, body string) (uint, error)
	UpdateOutboundStatus(ctx context.Context, id uint, status, messageRef, errText string) error

	// Authorization and device state.
	DeviceIDByNumber(ctx context.Context, number string) (string, error)
	Device(ctx context.Context, id string) (model.Device, error)
	UpdateDevice(ctx context.Context, id string, fields map[string]interface{}) error
}

// New returns a Store backed by the given database.
func New(gdb *gorm.DB) Store {
	return &gormStore{db: gdb}
}

type gormStore struct {
	db *gorm.DB
}

func (s *gormStore) SaveInbound(ctx context.Context, sender, body string) (uint, error) {
	m := model.InboundMessage{Sender: sender, Body: body}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return 0, errors.Wrap(err, "save inbound")
	}
	return m.ID, nil
}

func (s *gormStore) MarkInboundProcessed(ctx context.Context, id uint) error {
	err := s.db.WithContext(ctx).
		Model(&model.InboundMessage{}).
		Where("id = ?", id).
		Update("processed", true).Error
	return errors.Wrap(err, "mark inbound processed")
}

func (s *gormStore) SaveCommand(ctx context.Context, deviceID, sender, command string) (uint, error) {
	m := model.DeviceCommand{
		DeviceID: deviceID,
		Sender:   sender,
		Command:  command,
		Status:   model.StatusPending,
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return 0, errors.Wrap(err, "save command")
	}
	return m.ID, nil
}

func (s *gormStore) CompleteCommand(ctx context.Context, id uint, status string) error {
	now := time.Now()
	err := s.db.WithContext(ctx).
		Model(&model.DeviceCommand{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       status,
			"completed_at": &now,
		}).Error
	return errors.Wrap(err, "complete command")
}

func (s *gormStore) SaveResponse(ctx context.Context, commandID *uint, recipient, body string) (uint, error) {
	m := model.SMSResponse{
		CommandID: commandID,
		Recipient: recipient,
		Body:      body,
		Status:    model.StatusPending,
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return 0, errors.Wrap(err, "save response")
	}
	return m.ID, nil
}

func (s *gormStore) UpdateResponseStatus(ctx context.Context, id uint, status string) error {
	err := s.db.WithContext(ctx).
		Model(&model.SMSResponse{}).
		Where("id = ?", id).
		Update("status", status).Error
	return errors.Wrap(err, "update response status")
}

func (s *gormStore) RecordOutbound(ctx context.Context, recipient, body string) (uint, error) {
	m := model.OutboundMessage{
		Recipient: recipient,
		Body:      body,
		Status:    model.StatusPending,
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return 0, errors.Wrap(err, "record outbound")
	}
	return m.ID, nil
}

func (s *gormStore) UpdateOutboundStatus(ctx context.Context, id uint, status, messageRef, errText string) error {
	err := s.db.WithContext(ctx).
		Model(&model.OutboundMessage{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      status,
			"message_ref": messageRef,
			"error":       errText,
		}).Error
	return errors.Wrap(err, "update outbound status")
}

func (s *gormStore) DeviceIDByNumber(ctx context.Context, number string) (string, error) {
	var m model.AuthorizedNumber
	err := s.db.WithContext(ctx).First(&m, "number = ?", number).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", errors.Wrap(err, "device id by number")
	}
	return m.DeviceID, nil
}

func (s *gormStore) Device(ctx context.Context, id string) (model.Device, error) {
	var m model.Device
	err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Device{}, ErrNotFound
	}
	if err != nil {
		return model.Device{}, errors.Wrap(err, "device")
	}
	return m, nil
}

func (s *gormStore) UpdateDevice(ctx context.Context, id string, fields map[string]interface{}) error {
	err := s.db.WithContext(ctx).
		Model(&model.Device{}).
		Where("id = ?", id).
		Updates(fields).Error
	return errors.Wrap(err, "update device")
}
