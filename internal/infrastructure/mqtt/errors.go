package mqtt

import (
	"errors"
	"fmt"
)

// Domain-specific errors for MQTT operations.
// Use errors.Is() to check for these errors in calling code.
//
// Four roots classify every failure the Connector returns:
// ErrConfiguration, ErrConnectionFailed, ErrTimeout and ErrNotConnected.
// The more specific errors below wrap one of them.
var (
	// ErrConfiguration is returned for malformed configuration, topics,
	// QoS levels or payloads. It is always returned before any network I/O.
	ErrConfiguration = errors.New("mqtt: configuration error")

	// ErrConnectionFailed is returned when the transport cannot be
	// established, after the reconnect policy has been exhausted.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrTimeout is returned when an operation exceeds its deadline.
	ErrTimeout = errors.New("mqtt: operation timed out")

	// ErrNotConnected is returned when attempting operations on a disconnected client.
	ErrNotConnected = errors.New("mqtt: client not connected")
)

var (
	// ErrInvalidTopic is returned when a publish topic is empty or malformed.
	ErrInvalidTopic = fmt.Errorf("%w: invalid topic name", ErrConfiguration)

	// ErrInvalidTopicFilter is returned when a subscription filter violates
	// the wildcard rules.
	ErrInvalidTopicFilter = fmt.Errorf("%w: invalid topic filter", ErrConfiguration)

	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	// Valid QoS levels are 0, 1, or 2.
	ErrInvalidQoS = fmt.Errorf("%w: invalid QoS level (must be 0, 1, or 2)", ErrConfiguration)

	// ErrInvalidPayload is returned when a payload value cannot be encoded.
	ErrInvalidPayload = fmt.Errorf("%w: payload cannot be encoded", ErrConfiguration)

	// ErrPayloadTooLarge is returned when an encoded payload exceeds maxPayloadSize.
	ErrPayloadTooLarge = fmt.Errorf("%w: payload too large", ErrConfiguration)

	// ErrNilHandler is returned when Subscribe is called without a handler.
	ErrNilHandler = fmt.Errorf("%w: handler cannot be nil", ErrConfiguration)

	// ErrDisconnected is returned to operations cancelled by Disconnect.
	ErrDisconnected = fmt.Errorf("%w: disconnected", ErrNotConnected)
)

var (
	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when a subscribe operation fails.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrUnsubscribeFailed is returned when an unsubscribe operation fails.
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")
)
