package store

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// DeviceRepo persists managed devices. Status transitions and credential
// sealing are policy in pkg/device; this layer only stores rows.
type DeviceRepo struct {
	db *sqlx.DB
}

const deviceInsert = `
INSERT INTO devices (name, host, port, username, encrypted_password, device_type, status, is_enabled)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING *`

// Create stores a new device. Host is unique: a second registration of
// the same host reports ErrAlreadyExists.
func (r *DeviceRepo) Create(ctx context.Context, d *Device) (*Device, error) {
	if d.Status == "" {
		d.Status = DeviceUnknown
	}
	if err := validateEntity(d); err != nil {
		return nil, err
	}

	var created Device
	err := r.db.GetContext(ctx, &created, deviceInsert,
		d.Name, d.Host, d.Port, d.Username, d.EncryptedPassword, d.DeviceType, d.Status, d.IsEnabled)
	if err != nil {
		return nil, wrapRowErr("insert", "devices", err)
	}
	return &created, nil
}

// Get fetches a device by id
func (r *DeviceRepo) Get(ctx context.Context, id int64) (*Device, error) {
	var d Device
	err := r.db.GetContext(ctx, &d, `SELECT * FROM devices WHERE id = $1`, id)
	if err != nil {
		return nil, wrapRowErr("select", "devices", err)
	}
	return &d, nil
}

// GetByHost fetches a device by its unique host
func (r *DeviceRepo) GetByHost(ctx context.Context, host string) (*Device, error) {
	var d Device
	err := r.db.GetContext(ctx, &d, `SELECT * FROM devices WHERE host = $1`, host)
	if err != nil {
		return nil, wrapRowErr("select", "devices", err)
	}
	return &d, nil
}

// List returns devices ordered by name
func (r *DeviceRepo) List(ctx context.Context, limit, offset int) ([]Device, error) {
	var devices []Device
	err := r.db.SelectContext(ctx, &devices,
		`SELECT * FROM devices ORDER BY name LIMIT $1 OFFSET $2`, clampLimit(limit), offset)
	if err != nil {
		return nil, wrapRowErr("select", "devices", err)
	}
	return devices, nil
}

const deviceUpdate = `
UPDATE devices
SET name = $2, host = $3, port = $4, username = $5, device_type = $6, is_enabled = $7, updated_at = now()
WHERE id = $1
RETURNING *`

// Update replaces the operator-editable device fields. Password changes
// go through SetPassword, status changes through the status methods.
func (r *DeviceRepo) Update(ctx context.Context, d *Device) (*Device, error) {
	if err := validateEntity(d); err != nil {
		return nil, err
	}

	var updated Device
	err := r.db.GetContext(ctx, &updated, deviceUpdate,
		d.ID, d.Name, d.Host, d.Port, d.Username, d.DeviceType, d.IsEnabled)
	if err != nil {
		return nil, wrapRowErr("update", "devices", err)
	}
	return &updated, nil
}

// SetPassword stores a freshly sealed credential
func (r *DeviceRepo) SetPassword(ctx context.Context, id int64, sealed string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE devices SET encrypted_password = $2, updated_at = now() WHERE id = $1`, id, sealed)
	if err != nil {
		return wrapRowErr("update", "devices", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("devices")
	}
	return nil
}

// SetEnabled flips a device on or off
func (r *DeviceRepo) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE devices SET is_enabled = $2, updated_at = now() WHERE id = $1`, id, enabled)
	if err != nil {
		return wrapRowErr("update", "devices", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("devices")
	}
	return nil
}

// UpdateStatus records a connector-driven status transition
func (r *DeviceRepo) UpdateStatus(ctx context.Context, id int64, status string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE devices SET status = $2, last_status_update = now(), updated_at = now() WHERE id = $1`,
		id, status)
	if err != nil {
		return wrapRowErr("update", "devices", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("devices")
	}
	return nil
}

// RecordConnection stamps a successful connection and refreshes the
// observed OS version.
func (r *DeviceRepo) RecordConnection(ctx context.Context, id int64, osVersion string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE devices
		 SET last_successful_connection = now(), os_version = $2, updated_at = now()
		 WHERE id = $1`, id, osVersion)
	if err != nil {
		return wrapRowErr("update", "devices", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("devices")
	}
	return nil
}

// MarkSyslogConfigured records that this server configured syslog export
func (r *DeviceRepo) MarkSyslogConfigured(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE devices SET syslog_configured_by_siem = true, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return wrapRowErr("update", "devices", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("devices")
	}
	return nil
}

// MarkNetflowConfigured records that this server configured flow export
func (r *DeviceRepo) MarkNetflowConfigured(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE devices SET netflow_configured_by_siem = true, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return wrapRowErr("update", "devices", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("devices")
	}
	return nil
}

// Delete removes a device row
func (r *DeviceRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE id = $1`, id)
	if err != nil {
		return wrapRowErr("delete", "devices", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("devices")
	}
	return nil
}
