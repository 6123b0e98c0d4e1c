package store

import (
	"context"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"procodus.dev/sewer-monitor/internal/model"
)

// Fixture is a YAML document describing sensors, thresholds and users to load.
type Fixture struct {
	Sensors    []FixtureSensor    `yaml:"sensors"`
	Thresholds []FixtureThreshold `yaml:"thresholds"`
	Users      []FixtureUser      `yaml:"users"`
}

// FixtureSensor describes one sensor.
type FixtureSensor struct {
	Configuration map[string]any     `yaml:"configuration"`
	SensorID      string             `yaml:"sensor_id"`
	LocationName  string             `yaml:"location_name"`
	SensorType    model.SensorType   `yaml:"sensor_type"`
	Status        model.SensorStatus `yaml:"status"`
	Latitude      float64            `yaml:"latitude"`
	Longitude     float64            `yaml:"longitude"`
}

// FixtureThreshold describes the boundaries of one parameter. Enabled defaults to true.
type FixtureThreshold struct {
	Warning   *float64 `yaml:"warning"`
	Critical  *float64 `yaml:"critical"`
	Enabled   *bool    `yaml:"enabled"`
	SensorID  string   `yaml:"sensor_id"`
	Parameter string   `yaml:"parameter"`
}

// FixtureUser describes one notification recipient.
type FixtureUser struct {
	Username              string     `yaml:"username"`
	PhoneNumber           string     `yaml:"phone_number"`
	Role                  model.Role `yaml:"role"`
	WhatsAppNotifications bool       `yaml:"whatsapp_notifications"`
}

// FixtureResult counts the records written by Apply.
type FixtureResult struct {
	SensorsCreated int
	SensorsUpdated int
	Thresholds     int
	Users          int
}

// LoadFixture decodes and validates a fixture. Unknown keys are rejected.
func LoadFixture(r io.Reader) (*Fixture, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f Fixture
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks every entry of the fixture.
func (f *Fixture) Validate() error {
	var errs []error
	for i, s := range f.Sensors {
		switch {
		case s.SensorID == "":
			errs = append(errs, fmt.Errorf("sensors[%d]: sensor_id is required", i))
		case s.LocationName == "":
			errs = append(errs, fmt.Errorf("sensors[%d]: location_name is required", i))
		case !s.SensorType.Valid():
			errs = append(errs, fmt.Errorf("sensors[%d]: invalid sensor_type %q", i, s.SensorType))
		case s.Status != "" && !s.Status.Valid():
			errs = append(errs, fmt.Errorf("sensors[%d]: invalid status %q", i, s.Status))
		}
	}
	for i, t := range f.Thresholds {
		switch {
		case t.SensorID == "" || t.Parameter == "":
			errs = append(errs, fmt.Errorf("thresholds[%d]: sensor_id and parameter are required", i))
		case t.Warning == nil && t.Critical == nil:
			errs = append(errs, fmt.Errorf("thresholds[%d]: warning or critical is required", i))
		case t.Warning != nil && t.Critical != nil && *t.Warning > *t.Critical:
			errs = append(errs, fmt.Errorf("thresholds[%d]: warning cannot exceed critical", i))
		}
	}
	for i, u := range f.Users {
		switch {
		case u.Username == "":
			errs = append(errs, fmt.Errorf("users[%d]: username is required", i))
		case !u.Role.Valid():
			errs = append(errs, fmt.Errorf("users[%d]: invalid role %q", i, u.Role))
		}
	}
	return errors.Join(errs...)
}

// Apply writes the fixture to st. Existing sensors are updated in place,
// thresholds and users are upserted. It stops at the first failure.
func (f *Fixture) Apply(ctx context.Context, st Store) (FixtureResult, error) {
	var res FixtureResult

	for _, s := range f.Sensors {
		sensor := &model.Sensor{
			Configuration: s.Configuration,
			SensorID:      s.SensorID,
			LocationName:  s.LocationName,
			SensorType:    s.SensorType,
			Status:        s.Status,
			Latitude:      s.Latitude,
			Longitude:     s.Longitude,
		}
		if sensor.Status == "" {
			sensor.Status = model.SensorActive
		}

		err := st.CreateSensor(ctx, sensor)
		if err == nil {
			res.SensorsCreated++
			continue
		}
		if !errors.Is(err, model.ErrAlreadyExists) {
			return res, fmt.Errorf("create sensor %s: %w", s.SensorID, err)
		}
		if _, err := st.UpdateSensor(ctx, s.SensorID, model.SensorUpdate{
			LocationName:  &sensor.LocationName,
			Latitude:      &sensor.Latitude,
			Longitude:     &sensor.Longitude,
			SensorType:    &sensor.SensorType,
			Status:        &sensor.Status,
			Configuration: sensor.Configuration,
		}); err != nil {
			return res, fmt.Errorf("update sensor %s: %w", s.SensorID, err)
		}
		res.SensorsUpdated++
	}

	for _, t := range f.Thresholds {
		if _, err := st.GetSensor(ctx, t.SensorID); err != nil {
			return res, fmt.Errorf("threshold %s/%s: %w", t.SensorID, t.Parameter, err)
		}
		if err := st.UpsertThreshold(ctx, &model.ThresholdConfig{
			SensorID:      t.SensorID,
			ParameterName: t.Parameter,
			Warning:       t.Warning,
			Critical:      t.Critical,
			Enabled:       t.Enabled == nil || *t.Enabled,
		}); err != nil {
			return res, fmt.Errorf("threshold %s/%s: %w", t.SensorID, t.Parameter, err)
		}
		res.Thresholds++
	}

	for _, u := range f.Users {
		if err := st.UpsertUser(ctx, &model.User{
			Username:              u.Username,
			PhoneNumber:           u.PhoneNumber,
			Role:                  u.Role,
			WhatsAppNotifications: u.WhatsAppNotifications,
		}); err != nil {
			return res, fmt.Errorf("user %s: %w", u.Username, err)
		}
		res.Users++
	}

	return res, nil
}
