package statestore

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-iot/internal/command"
)

var (
	// ErrDeviceRequired is returned when the device uuid is empty.
	ErrDeviceRequired = errors.New("statestore: device uuid is required")

	// ErrSubjectRequired is returned when the subject is empty.
	ErrSubjectRequired = errors.New("statestore: subject is required")
)

// Record is the latest payload seen on one device subject.
type Record struct {
	Topic    string         `json:"topic"`
	Payload  map[string]any `json:"payload"`
	StoredAt time.Time      `json:"stored_at"`
}

// Store is implemented by every backend.
type Store interface {
	command.StateStore

	// LastState returns the newest record across the device's subjects,
	// or nil when nothing is stored.
	LastState(ctx context.Context, deviceUUID string) (*Record, error)

	// AllStates returns one record per subject, newest first.
	AllStates(ctx context.Context, deviceUUID string) ([]Record, error)

	// StateByTopic returns the record for subject, or nil.
	StateByTopic(ctx context.Context, deviceUUID, subject string) (*Record, error)
}

func validate(deviceUUID, subject string) error {
	if deviceUUID == "" {
		return ErrDeviceRequired
	}
	if strings.Trim(subject, "/") == "" {
		return ErrSubjectRequired
	}
	return nil
}

// sortNewest orders records by StoredAt descending, then by topic.
func sortNewest(records []Record) {
	slices.SortStableFunc(records, func(a, b Record) int {
		if c := b.StoredAt.Compare(a.StoredAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Topic, b.Topic)
	})
}

func newest(records []Record) *Record {
	if len(records) == 0 {
		return nil
	}
	sortNewest(records)
	r := records[0]
	return &r
}

func newRecord(subject string, payload map[string]any, at time.Time) Record {
	if payload == nil {
		payload = map[string]any{}
	}
	return Record{Topic: subject, Payload: payload, StoredAt: at.UTC()}
}
