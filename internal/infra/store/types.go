package store

// DeviceRecord is a durable pairing record. The key is
// (device_id, protocol): one device may hold independent credentials per
// protocol, and the device_id itself may differ between protocols of the
// same physical device.
type DeviceRecord struct {
	DeviceID    string
	Protocol    string
	Name        string
	Address     string
	Credentials string
}

// FavoriteApp is a durable favorite-app record, keyed by
// (device_id, bundle_id). Independent of pairing state.
type FavoriteApp struct {
	DeviceID    string
	BundleID    string
	DisplayName string
	IconURL     string
}
