package device

import "errors"

// Domain errors for the device catalog.
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	ErrDeviceNotFound        = errors.New("device: not found")
	ErrDeviceExists          = errors.New("device: already exists")
	ErrDeviceTypeNotFound    = errors.New("device: type not found")
	ErrSchemaVersionNotFound = errors.New("device: schema version not found")
	ErrTopicNotFound         = errors.New("device: topic not found")
	ErrTopicExists           = errors.New("device: topic already exists")
	ErrLinkExists            = errors.New("device: link already exists")

	// ErrInvalidDevice is returned when device validation fails.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidTopic is returned when a topic definition fails validation.
	ErrInvalidTopic = errors.New("device: invalid topic")

	// ErrInvalidParameter is returned when a parameter definition fails validation.
	ErrInvalidParameter = errors.New("device: invalid parameter")

	// ErrInvalidLink is returned when a link does not join a command topic to a publish topic.
	ErrInvalidLink = errors.New("device: invalid link")
)
