package kind

import (
	"errors"
	"strings"
)

// Backend identifies the virtualization platform a driver talks to.
type Backend uint8

const (
	Unknown Backend = iota
	Libvirt
	OpenStack
	VMware
	DryRun
)

const (
	LibvirtStr   = "libvirt"
	OpenStackStr = "openstack"
	VMwareStr    = "vmware"
	DryRunStr    = "dryrun"
)

var (
	ErrUnknownBackendKind = errors.New("unknown backend kind")
)

func (b Backend) String() string {
	switch b {
	case Libvirt:
		return LibvirtStr
	case OpenStack:
		return OpenStackStr
	case VMware:
		return VMwareStr
	case DryRun:
		return DryRunStr
	default:
		return "unknown"
	}
}

func FromString(str string) (Backend, error) {
	switch strings.ToLower(str) {
	case LibvirtStr:
		return Libvirt, nil
	case OpenStackStr, "nova":
		return OpenStack, nil
	case VMwareStr, "vsphere", "esxi":
		return VMware, nil
	case DryRunStr:
		return DryRun, nil
	default:
		return Unknown, ErrUnknownBackendKind
	}
}
