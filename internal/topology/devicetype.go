package topology

// DeviceType identifies how a managed node is configured and probed.
// Unknown type strings map to DeviceUnsupported and are skipped by
// configuration rather than failing the whole topology.
type DeviceType int

const (
	DeviceUnsupported DeviceType = iota
	DeviceLinux
	DeviceJunos
)

// ParseDeviceType maps a node's declared type string to a DeviceType
func ParseDeviceType(s string) DeviceType {
	switch s {
	case "linux":
		return DeviceLinux
	case "junos":
		return DeviceJunos
	default:
		return DeviceUnsupported
	}
}

func (t DeviceType) String() string {
	switch t {
	case DeviceLinux:
		return "linux"
	case DeviceJunos:
		return "junos"
	default:
		return "unsupported"
	}
}

// ProbesReady reports whether a console readiness probe exists for this type.
// Only linux consoles can be probed for an interactive prompt.
func (t DeviceType) ProbesReady() bool {
	return t == DeviceLinux
}

// SupportsScript reports whether post-boot script execution is supported
func (t DeviceType) SupportsScript() bool {
	return t == DeviceLinux
}
