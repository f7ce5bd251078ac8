package provider

import "errors"

// Error taxonomy shared by every layer above the provider boundary.
var (
	// ErrDeviceNotFound indicates the address is not in the current
	// discovery cache; the caller must run discovery again.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrNoEligibleProtocol indicates the device advertises no protocol
	// usable for the requested operation.
	ErrNoEligibleProtocol = errors.New("no eligible protocol")

	// ErrAuthenticationFailure indicates stale or invalid credentials.
	ErrAuthenticationFailure = errors.New("authentication failure")

	// ErrHandshakeFailure indicates a rejected PIN or a transport error
	// during a pairing handshake.
	ErrHandshakeFailure = errors.New("pairing handshake failure")

	// ErrProviderUnavailable indicates a scan, connect or command call
	// failed at the transport layer.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrNotConnected indicates a device command was issued without an
	// active device session.
	ErrNotConnected = errors.New("not connected to a device")

	// ErrUnsupportedCommand indicates the connected device cannot execute
	// the requested command class.
	ErrUnsupportedCommand = errors.New("command not supported by device")
)
