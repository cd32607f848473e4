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

// AddAggregator registers a collector agent by its token. Tokens are
// unique; a duplicate registration is rejected with ErrConflict.
func (s *Store) AddAggregator(token, version, ip string) (*model.Aggregator, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: empty aggregator token", model.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	if _, err := s.aggregatorByToken(ctx, token); err == nil {
		return nil, fmt.Errorf("aggregator token: %w", model.ErrConflict)
	} else if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}

	id := uuid.NewString()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO aggregators (id, token, version, ip)
		 VALUES (?, ?, NULLIF(?, ''), NULLIF(?, ''))`,
		id, token, version, ip); err != nil {
		return nil, fmt.Errorf("insert aggregator: %w", err)
	}
	return s.aggregatorByToken(ctx, token)
}

// AggregatorByToken resolves an agent token, or returns ErrNotFound.
func (s *Store) AggregatorByToken(token string) (*model.Aggregator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()
	return s.aggregatorByToken(ctx, token)
}

func (s *Store) aggregatorByToken(ctx context.Context, token string) (*model.Aggregator, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, token, COALESCE(version, ''), COALESCE(ip, ''), created_at
		 FROM aggregators WHERE token = ?`, token)

	var a model.Aggregator
	if err := row.Scan(&a.ID, &a.Token, &a.Version, &a.IP, &a.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("aggregator: %w", model.ErrNotFound)
		}
		return nil, fmt.Errorf("aggregator lookup: %w", err)
	}
	return &a, nil
}

// AddModuleType registers a collector module kind with its config schema.
func (s *Store) AddModuleType(name string, signature, fields any) (*model.ModuleType, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: empty module type name", model.ErrInvalidInput)
	}

	sigJSON, err := json.Marshal(signature)
	if err != nil {
		return nil, fmt.Errorf("%w: config signature is not serializable", model.ErrInvalidInput)
	}
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: config fields are not serializable", model.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	id := uuid.NewString()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO module_types (id, name, config_signature, config_fields)
		 VALUES (?, ?, ?, ?) ON CONFLICT (name) DO NOTHING`,
		id, name, string(sigJSON), string(fieldsJSON))
	if err != nil {
		return nil, fmt.Errorf("insert module type: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return nil, fmt.Errorf("module type %q: %w", name, model.ErrConflict)
	}

	return &model.ModuleType{ID: id, Name: name, ConfigSignature: signature, ConfigFields: fields}, nil
}

// ListModuleTypes returns all module types by descending name, the order
// the agent configuration surface expects.
func (s *Store) ListModuleTypes() ([]model.ModuleType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, COALESCE(config_signature, 'null'), COALESCE(config_fields, 'null')
		 FROM module_types ORDER BY name DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing module types: %w", err)
	}
	defer rows.Close()

	var types []model.ModuleType
	for rows.Next() {
		var mt model.ModuleType
		var sigRaw, fieldsRaw string
		if err := rows.Scan(&mt.ID, &mt.Name, &sigRaw, &fieldsRaw); err != nil {
			log.Printf("duckdb scan error (ListModuleTypes): %v", err)
			continue
		}
		mt.ConfigSignature = decodeJSONValue(sigRaw)
		mt.ConfigFields = decodeJSONValue(fieldsRaw)
		types = append(types, mt)
	}
	return types, rows.Err()
}

// AddModule binds a module instance to a device.
func (s *Store) AddModule(deviceID, typeID string, config any) (*model.Module, error) {
	if deviceID == "" || typeID == "" {
		return nil, fmt.Errorf("%w: device id and type id are required", model.ErrInvalidInput)
	}
	configJSON, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("%w: module config is not serializable", model.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	id := uuid.NewString()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO modules (id, device_id, type_id, config) VALUES (?, ?, ?, ?)`,
		id, deviceID, typeID, string(configJSON)); err != nil {
		return nil, fmt.Errorf("insert module: %w", err)
	}
	return &model.Module{ID: id, DeviceID: deviceID, TypeID: typeID, Config: config}, nil
}

// ModulesByDevice returns a device's modules. A device with zero modules
// yields an empty, non-error result.
func (s *Store) ModulesByDevice(deviceID string) ([]model.Module, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, device_id, type_id, COALESCE(config, 'null') FROM modules WHERE device_id = ?`,
		deviceID)
	if err != nil {
		return nil, fmt.Errorf("listing modules: %w", err)
	}
	defer rows.Close()

	modules := []model.Module{}
	for rows.Next() {
		var m model.Module
		var configRaw string
		if err := rows.Scan(&m.ID, &m.DeviceID, &m.TypeID, &configRaw); err != nil {
			log.Printf("duckdb scan error (ModulesByDevice): %v", err)
			continue
		}
		m.Config = decodeJSONValue(configRaw)
		modules = append(modules, m)
	}
	return modules, rows.Err()
}

func decodeJSONValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil
	}
	return v
}
