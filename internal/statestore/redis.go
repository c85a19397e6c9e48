package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/redis.v5"
)

// Redis stores records in one hash per device, "<prefix>:<device uuid>",
// with the subject as field.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

var _ Store = (*Redis)(nil)

// RedisOptions configures NewRedis.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int

	// KeyPrefix namespaces the device hashes. Default: "iot:state"
	KeyPrefix string

	// TTL refreshes the expiry of a device hash on every store. Zero keeps
	// hashes forever.
	TTL time.Duration
}

// NewRedis connects to Redis and verifies the connection with PING.
func NewRedis(opts RedisOptions) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping().Err(); err != nil {
		client.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("connecting to redis at %s: %w", opts.Addr, err)
	}

	prefix := strings.TrimSuffix(opts.KeyPrefix, ":")
	if prefix == "" {
		prefix = "iot:state"
	}
	return &Redis{client: client, prefix: prefix, ttl: opts.TTL, now: time.Now}, nil
}

func (s *Redis) key(deviceUUID string) string {
	return s.prefix + ":" + deviceUUID
}

// Store overwrites the record for the device subject.
func (s *Redis) Store(_ context.Context, deviceUUID, subject string, payload map[string]any) error {
	if err := validate(deviceUUID, subject); err != nil {
		return err
	}

	data, err := json.Marshal(newRecord(subject, payload, s.now()))
	if err != nil {
		return fmt.Errorf("encoding state record: %w", err)
	}

	key := s.key(deviceUUID)
	pipe := s.client.Pipeline()
	pipe.HSet(key, subject, string(data))
	if s.ttl > 0 {
		pipe.Expire(key, s.ttl)
	}
	if _, err := pipe.Exec(); err != nil {
		return fmt.Errorf("storing state for %s: %w", subject, err)
	}
	return nil
}

// StateByTopic returns the record for subject, or nil.
func (s *Redis) StateByTopic(_ context.Context, deviceUUID, subject string) (*Record, error) {
	if err := validate(deviceUUID, subject); err != nil {
		return nil, err
	}

	raw, err := s.client.HGet(s.key(deviceUUID), subject).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading state for %s: %w", subject, err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decoding state for %s: %w", subject, err)
	}
	return &rec, nil
}

// AllStates returns every subject stored for the device, newest first.
func (s *Redis) AllStates(_ context.Context, deviceUUID string) ([]Record, error) {
	if deviceUUID == "" {
		return nil, ErrDeviceRequired
	}

	fields, err := s.client.HGetAll(s.key(deviceUUID)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing states for %s: %w", deviceUUID, err)
	}

	records := make([]Record, 0, len(fields))
	for subject, raw := range fields {
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decoding state for %s: %w", subject, err)
		}
		records = append(records, rec)
	}
	sortNewest(records)
	return records, nil
}

// LastState returns the newest record for the device, or nil.
func (s *Redis) LastState(ctx context.Context, deviceUUID string) (*Record, error) {
	records, err := s.AllStates(ctx, deviceUUID)
	if err != nil {
		return nil, err
	}
	return newest(records), nil
}

// Close releases the connection pool.
func (s *Redis) Close() error {
	return s.client.Close()
}
