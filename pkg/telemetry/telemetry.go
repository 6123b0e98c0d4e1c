// Package telemetry encodes the messages exchanged over the queue between
// sensors (or the simulator) and the server. Messages are protobuf-encoded
// google.protobuf.Struct values tagged with a kind field.
package telemetry

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// ContentType is stamped on published messages.
const ContentType = "application/x-protobuf"

// Message kinds.
const (
	KindReading      = "reading"
	KindProvisioning = "provisioning"
)

const (
	fieldKind          = "kind"
	fieldSensorID      = "sensor_id"
	fieldTimestamp     = "timestamp"
	fieldReadingData   = "reading_data"
	fieldLocationName  = "location_name"
	fieldSensorType    = "sensor_type"
	fieldLatitude      = "latitude"
	fieldLongitude     = "longitude"
	fieldConfiguration = "configuration"
)

var (
	// ErrMalformed is returned when a payload cannot be decoded.
	ErrMalformed = errors.New("malformed telemetry message")
	// ErrWrongKind is returned when a payload decodes to a different message kind.
	ErrWrongKind = errors.New("unexpected telemetry message kind")
)

// Reading is one sensor measurement. A zero Timestamp means "time of receipt".
type Reading struct {
	Timestamp time.Time
	Data      map[string]float64
	SensorID  string
}

// Provisioning announces a sensor so the server can register it.
type Provisioning struct {
	Configuration map[string]any
	SensorID      string
	LocationName  string
	SensorType    string
	Latitude      float64
	Longitude     float64
}

// EncodeReading serializes r.
func EncodeReading(r Reading) ([]byte, error) {
	if r.SensorID == "" {
		return nil, errors.New("sensor id cannot be empty")
	}

	data := make(map[string]any, len(r.Data))
	for k, v := range r.Data {
		data[k] = v
	}

	fields := map[string]any{
		fieldKind:        KindReading,
		fieldSensorID:    r.SensorID,
		fieldReadingData: data,
	}
	if !r.Timestamp.IsZero() {
		fields[fieldTimestamp] = r.Timestamp.UTC().Format(time.RFC3339Nano)
	}

	return marshal(fields)
}

// DecodeReading parses a payload produced by EncodeReading.
func DecodeReading(b []byte) (Reading, error) {
	s, err := unmarshal(b, KindReading)
	if err != nil {
		return Reading{}, err
	}

	r := Reading{SensorID: s.Fields[fieldSensorID].GetStringValue()}
	if r.SensorID == "" {
		return Reading{}, fmt.Errorf("%w: missing %s", ErrMalformed, fieldSensorID)
	}

	if ts := s.Fields[fieldTimestamp].GetStringValue(); ts != "" {
		r.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return Reading{}, fmt.Errorf("%w: timestamp: %v", ErrMalformed, err)
		}
	}

	data := s.Fields[fieldReadingData].GetStructValue()
	r.Data = make(map[string]float64, len(data.GetFields()))
	for name, v := range data.GetFields() {
		switch kind := v.GetKind().(type) {
		case *structpb.Value_NumberValue:
			r.Data[name] = kind.NumberValue
		case *structpb.Value_NullValue:
			// absent parameter
		default:
			return Reading{}, fmt.Errorf("%w: parameter %q is not numeric", ErrMalformed, name)
		}
	}

	return r, nil
}

// EncodeProvisioning serializes p.
func EncodeProvisioning(p Provisioning) ([]byte, error) {
	if p.SensorID == "" {
		return nil, errors.New("sensor id cannot be empty")
	}

	fields := map[string]any{
		fieldKind:         KindProvisioning,
		fieldSensorID:     p.SensorID,
		fieldLocationName: p.LocationName,
		fieldSensorType:   p.SensorType,
		fieldLatitude:     p.Latitude,
		fieldLongitude:    p.Longitude,
	}
	if len(p.Configuration) > 0 {
		fields[fieldConfiguration] = p.Configuration
	}

	return marshal(fields)
}

// DecodeProvisioning parses a payload produced by EncodeProvisioning.
func DecodeProvisioning(b []byte) (Provisioning, error) {
	s, err := unmarshal(b, KindProvisioning)
	if err != nil {
		return Provisioning{}, err
	}

	p := Provisioning{
		SensorID:     s.Fields[fieldSensorID].GetStringValue(),
		LocationName: s.Fields[fieldLocationName].GetStringValue(),
		SensorType:   s.Fields[fieldSensorType].GetStringValue(),
		Latitude:     s.Fields[fieldLatitude].GetNumberValue(),
		Longitude:    s.Fields[fieldLongitude].GetNumberValue(),
	}
	if p.SensorID == "" {
		return Provisioning{}, fmt.Errorf("%w: missing %s", ErrMalformed, fieldSensorID)
	}
	if cfg := s.Fields[fieldConfiguration].GetStructValue(); cfg != nil {
		p.Configuration = cfg.AsMap()
	}

	return p, nil
}

// Kind returns the kind tag of a payload without decoding the rest.
func Kind(b []byte) (string, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(b, &s); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return s.Fields[fieldKind].GetStringValue(), nil
}

func marshal(fields map[string]any) ([]byte, error) {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("build message: %w", err)
	}
	return proto.Marshal(s)
}

func unmarshal(b []byte, kind string) (*structpb.Struct, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformed)
	}

	s := &structpb.Struct{}
	if err := proto.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if got := s.Fields[fieldKind].GetStringValue(); got != kind {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrWrongKind, got, kind)
	}
	return s, nil
}
