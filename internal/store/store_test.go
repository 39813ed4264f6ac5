package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saharasprout/smsgateway/internal/db"
	"github.com/saharasprout/smsgateway/internal/model"
	"github.com/saharasprout/smsgateway/internal/store"
)

func setupStore(t *testing.T) store.Store {
	t.Helper()
	gdb, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, gdb.Create(&model.Device{
		ID:                "dev-1",
		Name:              "North Field",
		Mode:              model.ModeAuto,
		MoistureThreshold: 40,
		Moisture:          55,
		PumpStatus:        model.PumpInactive,
		FlowRate:          1.5,
		TotalVolume:       120,
	}).Error)
	require.NoError(t, gdb.Create(&model.AuthorizedNumber{
		Number:   "+233501234567",
		DeviceID: "dev-1",
	}).Error)
	return store.New(gdb)
}

func TestInboundLifecycle(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	id, err := s.SaveInbound(ctx, "+233501234567", "STATUS")
	require.NoError(t, err)
	assert.NotZero(t, id)

	require.NoError(t, s.MarkInboundProcessed(ctx, id))
}

func TestCommandLifecycle(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	id, err := s.SaveCommand(ctx, "dev-1", "+233501234567", "STATUS")
	require.NoError(t, err)
	assert.NotZero(t, id)

	require.NoError(t, s.CompleteCommand(ctx, id, model.StatusCompleted))
}

func TestResponseLifecycle(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	cmdID, err := s.SaveCommand(ctx, "dev-1", "+233501234567", "STATUS")
	require.NoError(t, err)

	id, err := s.SaveResponse(ctx, &cmdID, "+233501234567", "Device: North Field")
	require.NoError(t, err)
	assert.NotZero(t, id)

	require.NoError(t, s.UpdateResponseStatus(ctx, id, model.StatusSent))
}

func TestOutboundLifecycle(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	id, err := s.RecordOutbound(ctx, "+233501234567", "Irrigation turned ON")
	require.NoError(t, err)
	assert.NotZero(t, id)

	require.NoError(t, s.UpdateOutboundStatus(ctx, id, model.StatusSent, "42", ""))
	require.NoError(t, s.UpdateOutboundStatus(ctx, id, model.StatusFailed, "", "send timed out"))
}

func TestDeviceIDByNumber(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	id, err := s.DeviceIDByNumber(ctx, "+233501234567")
	require.NoError(t, err)
	assert.Equal(t, "dev-1", id)

	_, err = s.DeviceIDByNumber(ctx, "+233509999999")
	assert.Equal(t, store.ErrNotFound, err)
}

func TestDevice(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	d, err := s.Device(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, "North Field", d.Name)
	assert.Equal(t, model.ModeAuto, d.Mode)
	assert.Equal(t, 55, d.Moisture)

	_, err = s.Device(ctx, "dev-9")
	assert.Equal(t, store.ErrNotFound, err)
}

func TestUpdateDevice(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	end := time.Now().Add(30 * time.Minute)
	err := s.UpdateDevice(ctx, "dev-1", map[string]interface{}{
		"mode":                model.ModeManual,
		"moisture_threshold":  65,
		"pump_status":         model.PumpActive,
		"irrigating":          true,
		"irrigation_end_time": &end,
	})
	require.NoError(t, err)

	d, err := s.Device(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, model.ModeManual, d.Mode)
	assert.Equal(t, 65, d.MoistureThreshold)
	assert.Equal(t, model.PumpActive, d.PumpStatus)
	assert.True(t, d.Irrigating)
	require.NotNil(t, d.IrrigationEndTime)
	assert.WithinDuration(t, end, *d.IrrigationEndTime, time.Second)
}
