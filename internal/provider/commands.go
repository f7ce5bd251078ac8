package provider

// RemoteCommand is the closed set of direct device-control commands.
type RemoteCommand string

const (
	CmdPlay          RemoteCommand = "play"
	CmdPause         RemoteCommand = "pause"
	CmdPlayPause     RemoteCommand = "play_pause"
	CmdMenu          RemoteCommand = "menu"
	CmdHome          RemoteCommand = "home"
	CmdUp            RemoteCommand = "up"
	CmdDown          RemoteCommand = "down"
	CmdLeft          RemoteCommand = "left"
	CmdRight         RemoteCommand = "right"
	CmdSelect        RemoteCommand = "select"
	CmdControlCenter RemoteCommand = "control_center"
	CmdVolumeUp      RemoteCommand = "volume_up"
	CmdVolumeDown    RemoteCommand = "volume_down"
	CmdPowerOn       RemoteCommand = "power_on"
	CmdPowerOff      RemoteCommand = "power_off"
	CmdPowerToggle   RemoteCommand = "power_toggle"
)

var remoteCommands = map[RemoteCommand]struct{}{
	CmdPlay: {}, CmdPause: {}, CmdPlayPause: {}, CmdMenu: {}, CmdHome: {},
	CmdUp: {}, CmdDown: {}, CmdLeft: {}, CmdRight: {}, CmdSelect: {},
	CmdControlCenter: {}, CmdVolumeUp: {}, CmdVolumeDown: {},
	CmdPowerOn: {}, CmdPowerOff: {}, CmdPowerToggle: {},
}

// ParseRemoteCommand maps a wire command name onto the closed command set.
func ParseRemoteCommand(name string) (RemoteCommand, bool) {
	cmd := RemoteCommand(name)
	_, ok := remoteCommands[cmd]
	return cmd, ok
}

// IsVolume reports whether the command belongs to the latency-sensitive
// volume class, which is dispatched without waiting for the device ack.
func (c RemoteCommand) IsVolume() bool {
	return c == CmdVolumeUp || c == CmdVolumeDown
}
