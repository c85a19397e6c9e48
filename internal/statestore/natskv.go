package statestore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSKV stores records in a JetStream key-value bucket under
// "<device uuid>.<base64url subject>".
type NATSKV struct {
	kv  jetstream.KeyValue
	now func() time.Time
}

var _ Store = (*NATSKV)(nil)

// NewNATSKV creates or updates bucket and returns a store over it. A
// positive ttl expires entries bucket-wide.
func NewNATSKV(ctx context.Context, conn *natsgo.Conn, bucket string, ttl time.Duration) (*NATSKV, error) {
	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("creating jetstream context: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "Latest payload per device subject",
		TTL:         ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("opening key-value bucket %s: %w", bucket, err)
	}

	return &NATSKV{kv: kv, now: time.Now}, nil
}

func natsKey(deviceUUID, subject string) string {
	return deviceUUID + "." + base64.RawURLEncoding.EncodeToString([]byte(subject))
}

// Store overwrites the record for the device subject.
func (s *NATSKV) Store(ctx context.Context, deviceUUID, subject string, payload map[string]any) error {
	if err := validate(deviceUUID, subject); err != nil {
		return err
	}

	data, err := json.Marshal(newRecord(subject, payload, s.now()))
	if err != nil {
		return fmt.Errorf("encoding state record: %w", err)
	}
	if _, err := s.kv.Put(ctx, natsKey(deviceUUID, subject), data); err != nil {
		return fmt.Errorf("storing state for %s: %w", subject, err)
	}
	return nil
}

// StateByTopic returns the record for subject, or nil.
func (s *NATSKV) StateByTopic(ctx context.Context, deviceUUID, subject string) (*Record, error) {
	if err := validate(deviceUUID, subject); err != nil {
		return nil, err
	}

	entry, err := s.kv.Get(ctx, natsKey(deviceUUID, subject))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading state for %s: %w", subject, err)
	}

	var rec Record
	if err := json.Unmarshal(entry.Value(), &rec); err != nil {
		return nil, fmt.Errorf("decoding state for %s: %w", subject, err)
	}
	return &rec, nil
}

// AllStates returns every subject stored for the device, newest first.
func (s *NATSKV) AllStates(ctx context.Context, deviceUUID string) ([]Record, error) {
	if deviceUUID == "" {
		return nil, ErrDeviceRequired
	}

	watcher, err := s.kv.Watch(ctx, deviceUUID+".*", jetstream.IgnoreDeletes())
	if err != nil {
		return nil, fmt.Errorf("listing states for %s: %w", deviceUUID, err)
	}
	defer watcher.Stop() //nolint:errcheck // read-only watcher

	var records []Record
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case entry, ok := <-watcher.Updates():
			if !ok || entry == nil {
				// nil marks the end of the initial values.
				sortNewest(records)
				return records, nil
			}
			var rec Record
			if err := json.Unmarshal(entry.Value(), &rec); err != nil {
				return nil, fmt.Errorf("decoding state %s: %w", entry.Key(), err)
			}
			records = append(records, rec)
		}
	}
}

// LastState returns the newest record for the device, or nil.
func (s *NATSKV) LastState(ctx context.Context, deviceUUID string) (*Record, error) {
	records, err := s.AllStates(ctx, deviceUUID)
	if err != nil {
		return nil, err
	}
	return newest(records), nil
}
