package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/fleetwatch/fleetwatch/internal/model"
	"github.com/google/uuid"
)

const (
	sectionStatic = "static"
	sectionLive   = "live"
)

// UpsertDevice returns the device registered under hostname, creating it
// under categoryID when absent. The insert races through
// ON CONFLICT DO NOTHING plus a re-select, so concurrent callers upserting
// the same new hostname end up with exactly one row.
func (s *Store) UpsertDevice(hostname, categoryID, ip string) (*model.Device, error) {
	hostname = strings.TrimSpace(hostname)
	if hostname == "" {
		return nil, fmt.Errorf("%w: empty hostname", model.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	dev, err := s.deviceBy(ctx, "hostname", hostname)
	if err == nil {
		return dev, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO devices (id, hostname, ip, category_id)
		 VALUES (?, ?, NULLIF(?, ''), NULLIF(?, ''))
		 ON CONFLICT (hostname) DO NOTHING`,
		uuid.NewString(), hostname, ip, categoryID)
	if err != nil {
		return nil, fmt.Errorf("insert device %q: %w", hostname, err)
	}

	// The winner of a racing insert may be someone else; the re-select is
	// authoritative either way.
	return s.deviceBy(ctx, "hostname", hostname)
}

// DeviceByID returns the device with the given id, or ErrNotFound.
func (s *Store) DeviceByID(id string) (*model.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()
	return s.deviceBy(ctx, "id", id)
}

// DeviceByHostname returns the device registered under hostname, or
// ErrNotFound.
func (s *Store) DeviceByHostname(hostname string) (*model.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()
	return s.deviceBy(ctx, "hostname", hostname)
}

func (s *Store) deviceBy(ctx context.Context, column, value string) (*model.Device, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT id, hostname, COALESCE(ip, ''), COALESCE(category_id, ''), created_at
		 FROM devices WHERE %s = ?`, column), value)

	var d model.Device
	if err := row.Scan(&d.ID, &d.Hostname, &d.IP, &d.CategoryID, &d.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("device %s=%q: %w", column, value, model.ErrNotFound)
		}
		return nil, fmt.Errorf("device lookup: %w", err)
	}

	devices := []model.Device{d}
	if err := s.attachDeviceData(ctx, devices); err != nil {
		return nil, err
	}
	return &devices[0], nil
}

// attachDeviceData loads the static and live sections for every device in
// the slice, preserving first-write entry order.
func (s *Store) attachDeviceData(ctx context.Context, devices []model.Device) error {
	if len(devices) == 0 {
		return nil
	}

	index := make(map[string]*model.Device, len(devices))
	placeholders := make([]string, 0, len(devices))
	args := make([]interface{}, 0, len(devices))
	for i := range devices {
		devices[i].Static = []model.DataEntry{}
		devices[i].Live = []model.LiveEntry{}
		index[devices[i].ID] = &devices[i]
		placeholders = append(placeholders, "?")
		args = append(args, devices[i].ID)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT device_id, section, key, value FROM device_data
		 WHERE device_id IN (%s) ORDER BY seq`, strings.Join(placeholders, ", ")), args...)
	if err != nil {
		return fmt.Errorf("loading device data: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var deviceID, section, key, raw string
		if err := rows.Scan(&deviceID, &section, &key, &raw); err != nil {
			log.Printf("duckdb scan error (device data): %v", err)
			continue
		}
		dev, ok := index[deviceID]
		if !ok {
			continue
		}
		switch section {
		case sectionStatic:
			var value any
			if err := json.Unmarshal([]byte(raw), &value); err != nil {
				log.Printf("duckdb: bad static value for device=%s key=%s: %v", deviceID, key, err)
				continue
			}
			dev.Static = append(dev.Static, model.DataEntry{Key: key, Value: value})
		case sectionLive:
			values := make(map[string]float64)
			if err := json.Unmarshal([]byte(raw), &values); err != nil {
				log.Printf("duckdb: bad live value for device=%s key=%s: %v", deviceID, key, err)
				continue
			}
			dev.Live = append(dev.Live, model.LiveEntry{Key: key, Values: values})
		}
	}
	return rows.Err()
}

// MergeLive shallow-unions values into the stored live mapping for key,
// creating the entry when absent. Incoming timestamps overwrite stored
// ones with the same name; all other stored points are preserved. Merges
// on different keys of one device touch different rows and cannot clobber
// each other.
func (s *Store) MergeLive(deviceID, key string, values map[string]float64) error {
	if deviceID == "" || key == "" {
		return fmt.Errorf("%w: device id and key are required", model.ErrInvalidInput)
	}
	if len(values) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("merge live: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	var raw string
	err = tx.QueryRowContext(ctx,
		`SELECT value FROM device_data WHERE device_id = ? AND section = ? AND key = ?`,
		deviceID, sectionLive, key).Scan(&raw)

	merged := make(map[string]float64, len(values))
	switch {
	case err == nil:
		if uerr := json.Unmarshal([]byte(raw), &merged); uerr != nil {
			return fmt.Errorf("merge live: stored value for key %q is not a mapping: %w", key, uerr)
		}
	case errors.Is(err, sql.ErrNoRows):
		if eerr := deviceExists(ctx, tx, deviceID); eerr != nil {
			return eerr
		}
	default:
		return fmt.Errorf("merge live: %w", err)
	}

	for ts, v := range values {
		merged[ts] = v
	}
	data, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("merge live: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO device_data (device_id, section, key, value) VALUES (?, ?, ?, ?)
		 ON CONFLICT (device_id, section, key)
		 DO UPDATE SET value = excluded.value, updated_at = now()`,
		deviceID, sectionLive, key, string(data)); err != nil {
		return fmt.Errorf("merge live: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("merge live: %w", err)
	}
	committed = true
	return nil
}

// ReplaceStatic wholesale-replaces the static value stored under key.
func (s *Store) ReplaceStatic(deviceID, key string, value any) error {
	if deviceID == "" || key == "" {
		return fmt.Errorf("%w: device id and key are required", model.ErrInvalidInput)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: static value for key %q is not serializable", model.ErrInvalidInput, key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace static: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	if err := deviceExists(ctx, tx, deviceID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO device_data (device_id, section, key, value) VALUES (?, ?, ?, ?)
		 ON CONFLICT (device_id, section, key)
		 DO UPDATE SET value = excluded.value, updated_at = now()`,
		deviceID, sectionStatic, key, string(data)); err != nil {
		return fmt.Errorf("replace static: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("replace static: %w", err)
	}
	committed = true
	return nil
}

func deviceExists(ctx context.Context, tx *sql.Tx, deviceID string) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM devices WHERE id = ?`, deviceID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("device id=%q: %w", deviceID, model.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("device lookup: %w", err)
	}
	return nil
}

// DevicesByCategory lists devices in descending insertion order, optionally
// filtered to a set of category ids and windowed by page. An empty id set
// means no filter. Total is the full matching count regardless of the
// window, so callers can derive total pages.
func (s *Store) DevicesByCategory(categoryIDs []string, page model.PageRequest) (model.DevicePage, error) {
	if err := page.Validate(); err != nil {
		return model.DevicePage{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	categoryIDs = dedupeStrings(categoryIDs)
	if err := s.categoriesExist(ctx, categoryIDs); err != nil {
		return model.DevicePage{}, err
	}

	where := ""
	var args []interface{}
	if len(categoryIDs) > 0 {
		placeholders := make([]string, len(categoryIDs))
		for i, id := range categoryIDs {
			placeholders[i] = "?"
			args = append(args, id)
		}
		where = "WHERE category_id IN (" + strings.Join(placeholders, ", ") + ")"
	}

	var total int64
	if err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM devices %s`, where), args...).Scan(&total); err != nil {
		return model.DevicePage{}, fmt.Errorf("counting devices: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT id, hostname, COALESCE(ip, ''), COALESCE(category_id, ''), created_at
		 FROM devices %s ORDER BY seq DESC`, where)
	if page.Enabled() {
		skip, limit := page.Window()
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, skip)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return model.DevicePage{}, fmt.Errorf("listing devices: %w", err)
	}
	defer rows.Close()

	devices := []model.Device{}
	for rows.Next() {
		var d model.Device
		if err := rows.Scan(&d.ID, &d.Hostname, &d.IP, &d.CategoryID, &d.CreatedAt); err != nil {
			log.Printf("duckdb scan error (DevicesByCategory): %v", err)
			continue
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return model.DevicePage{}, err
	}

	if err := s.attachDeviceData(ctx, devices); err != nil {
		return model.DevicePage{}, err
	}

	return model.DevicePage{
		Page:    page.Page,
		Amount:  page.Amount,
		Total:   total,
		Devices: devices,
	}, nil
}

func (s *Store) categoriesExist(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	var count int
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT COUNT(*) FROM categories WHERE id IN (%s)`,
		strings.Join(placeholders, ", ")), args...).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking categories: %w", err)
	}
	if count != len(ids) {
		return fmt.Errorf("category filter: %w", model.ErrNotFound)
	}
	return nil
}

func dedupeStrings(in []string) []string {
	if len(in) < 2 {
		return in
	}
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
