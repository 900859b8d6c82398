package libvirt

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/metal-toolbox/vbmc/internal/model"
	"github.com/pkg/errors"
	"libvirt.org/go/libvirtxml"
)

const (
	deviceDisk   = "disk"
	deviceCdrom  = "cdrom"
	deviceFloppy = "floppy"

	osBootNetwork = "network"
	osBootHd      = "hd"
	osBootCdrom   = "cdrom"
	osBootFd      = "fd"

	firmwareEFI  = "efi"
	loaderPflash = "pflash"
)

func parseDomain(doc string) (*libvirtxml.Domain, error) {
	domain := &libvirtxml.Domain{}
	if err := domain.Unmarshal(doc); err != nil {
		return nil, errors.Wrap(ErrDomainXML, err.Error())
	}

	if domain.OS == nil {
		domain.OS = &libvirtxml.DomainOS{}
	}

	if domain.Devices == nil {
		domain.Devices = &libvirtxml.DomainDeviceList{}
	}

	return domain, nil
}

func marshalDomain(domain *libvirtxml.Domain) (string, error) {
	doc, err := domain.Marshal()
	if err != nil {
		return "", errors.Wrap(ErrDomainXML, err.Error())
	}

	return doc, nil
}

func osBootDev(target model.BootTarget) string {
	switch target {
	case model.BootTargetPxe:
		return osBootNetwork
	case model.BootTargetCd:
		return osBootCdrom
	case model.BootTargetFloppy:
		return osBootFd
	default:
		return osBootHd
	}
}

func targetOfOSBootDev(dev string) model.BootTarget {
	switch dev {
	case osBootNetwork:
		return model.BootTargetPxe
	case osBootCdrom:
		return model.BootTargetCd
	case osBootFd:
		return model.BootTargetFloppy
	default:
		return model.BootTargetHdd
	}
}

func diskDevice(target model.BootTarget) string {
	switch target {
	case model.BootTargetCd:
		return deviceCdrom
	case model.BootTargetFloppy:
		return deviceFloppy
	default:
		return deviceDisk
	}
}

func targetOfDisk(disk *libvirtxml.DomainDisk) model.BootTarget {
	switch disk.Device {
	case deviceCdrom:
		return model.BootTargetCd
	case deviceFloppy:
		return model.BootTargetFloppy
	default:
		return model.BootTargetHdd
	}
}

// bootDevice returns the first boot device of a domain, from the os section or
// from the device carrying the lowest boot order.
func bootDevice(domain *libvirtxml.Domain) model.BootTarget {
	if len(domain.OS.BootDevices) > 0 {
		return targetOfOSBootDev(domain.OS.BootDevices[0].Dev)
	}

	best := model.BootTargetHdd
	order := uint(0)

	for i := range domain.Devices.Disks {
		disk := &domain.Devices.Disks[i]
		if disk.Boot != nil && (order == 0 || disk.Boot.Order < order) {
			order = disk.Boot.Order
			best = targetOfDisk(disk)
		}
	}

	for i := range domain.Devices.Interfaces {
		iface := &domain.Devices.Interfaces[i]
		if iface.Boot != nil && (order == 0 || iface.Boot.Order < order) {
			order = iface.Boot.Order
			best = model.BootTargetPxe
		}
	}

	return best
}

// setBootDevice rewrites the boot configuration so target boots first.
//
// Per device ordering is used when the domain has a matching device, the os
// section boot entry otherwise. libvirt rejects a mix of both.
func setBootDevice(domain *libvirtxml.Domain, target model.BootTarget) {
	domain.OS.BootDevices = nil

	for i := range domain.Devices.Disks {
		domain.Devices.Disks[i].Boot = nil
	}

	for i := range domain.Devices.Interfaces {
		domain.Devices.Interfaces[i].Boot = nil
	}

	first := &libvirtxml.DomainDeviceBoot{Order: 1}

	if target == model.BootTargetPxe {
		if len(domain.Devices.Interfaces) > 0 {
			domain.Devices.Interfaces[0].Boot = first
			return
		}
	} else {
		device := diskDevice(target)

		for i := range domain.Devices.Disks {
			if domain.Devices.Disks[i].Device == device || (device == deviceDisk && domain.Devices.Disks[i].Device == "") {
				domain.Devices.Disks[i].Boot = first
				return
			}
		}
	}

	domain.OS.BootDevices = []libvirtxml.DomainBootDevice{{Dev: osBootDev(target)}}
}

func bootMode(domain *libvirtxml.Domain) model.BootMode {
	if domain.OS.Firmware == firmwareEFI {
		return model.BootModeUEFI
	}

	if domain.OS.Loader != nil && domain.OS.Loader.Type == loaderPflash {
		return model.BootModeUEFI
	}

	return model.BootModeLegacy
}

func arch(domain *libvirtxml.Domain) string {
	if domain.OS.Type != nil && domain.OS.Type.Arch != "" {
		return domain.OS.Type.Arch
	}

	return "x86_64"
}

// setBootMode switches the firmware of a domain.
//
// loaders maps a boot mode and an architecture onto a loader path, without a path
// UEFI falls back to libvirt firmware autoselection.
func setBootMode(domain *libvirtxml.Domain, mode model.BootMode, loaders map[string]map[string]string) {
	path := loaders[string(mode)][arch(domain)]

	switch mode {
	case model.BootModeUEFI:
		if path == "" {
			domain.OS.Loader = nil
			domain.OS.Firmware = firmwareEFI

			return
		}

		domain.OS.Firmware = ""
		domain.OS.Loader = &libvirtxml.DomainLoader{
			Path:     path,
			Readonly: "yes",
			Type:     loaderPflash,
		}
	default:
		domain.OS.Firmware = ""
		domain.OS.NVRam = nil
		domain.OS.Loader = nil

		if path != "" {
			domain.OS.Loader = &libvirtxml.DomainLoader{Path: path, Type: "rom"}
		}
	}
}

func slotDevice(slot string) string {
	if slot == model.SlotFloppy {
		return deviceFloppy
	}

	return deviceCdrom
}

func findDisk(domain *libvirtxml.Domain, device string) *libvirtxml.DomainDisk {
	for i := range domain.Devices.Disks {
		if domain.Devices.Disks[i].Device == device {
			return &domain.Devices.Disks[i]
		}
	}

	return nil
}

// addDisk appends an empty removable drive for a slot.
func addDisk(domain *libvirtxml.Domain, slot string) *libvirtxml.DomainDisk {
	disk := libvirtxml.DomainDisk{
		Device:   deviceCdrom,
		Driver:   &libvirtxml.DomainDiskDriver{Name: "qemu", Type: "raw"},
		Target:   &libvirtxml.DomainDiskTarget{Dev: "sdz", Bus: "sata"},
		ReadOnly: &libvirtxml.DomainDiskReadOnly{},
	}

	if slot == model.SlotFloppy {
		disk.Device = deviceFloppy
		disk.Target = &libvirtxml.DomainDiskTarget{Dev: "fda", Bus: "fdc"}
	}

	domain.Devices.Disks = append(domain.Devices.Disks, disk)

	return &domain.Devices.Disks[len(domain.Devices.Disks)-1]
}

// diskSource returns the disk source of an image location, local paths and
// http(s) urls are supported.
func diskSource(uri string) (*libvirtxml.DomainDiskSource, error) {
	if strings.HasPrefix(uri, "/") {
		return &libvirtxml.DomainDiskSource{File: &libvirtxml.DomainDiskSourceFile{File: uri}}, nil
	}

	u, err := url.Parse(uri)
	if err != nil {
		return nil, errors.Wrap(errBadImage, err.Error())
	}

	switch u.Scheme {
	case "file":
		return &libvirtxml.DomainDiskSource{File: &libvirtxml.DomainDiskSourceFile{File: u.Path}}, nil
	case "http", "https":
		host := libvirtxml.DomainDiskSourceHost{Name: u.Hostname(), Port: u.Port()}
		if host.Port == "" {
			host.Port = "80"
			if u.Scheme == "https" {
				host.Port = "443"
			}
		}

		name := u.Path
		if u.RawQuery != "" {
			name += "?" + u.RawQuery
		}

		return &libvirtxml.DomainDiskSource{
			Network: &libvirtxml.DomainDiskSourceNetwork{
				Protocol: u.Scheme,
				Name:     name,
				Hosts:    []libvirtxml.DomainDiskSourceHost{host},
			},
		}, nil
	default:
		return nil, errors.Wrapf(errBadImage, "%q", uri)
	}
}

// imageURI is the inverse of diskSource, empty for a drive without media.
func imageURI(source *libvirtxml.DomainDiskSource) string {
	switch {
	case source == nil:
		return ""
	case source.File != nil:
		return source.File.File
	case source.Network != nil && len(source.Network.Hosts) > 0:
		host := source.Network.Hosts[0]
		addr := host.Name

		if host.Port != "" && !defaultPort(source.Network.Protocol, host.Port) {
			addr = net.JoinHostPort(host.Name, host.Port)
		}

		return source.Network.Protocol + "://" + addr + source.Network.Name
	default:
		return ""
	}
}

func defaultPort(scheme, port string) bool {
	return (scheme == "http" && port == "80") || (scheme == "https" && port == "443")
}

func media(domain *libvirtxml.Domain) []model.VirtualMedia {
	out := make([]model.VirtualMedia, 0, len(model.Slots()))

	for _, slot := range model.Slots() {
		vm := model.EmptySlot(slot)

		if disk := findDisk(domain, slotDevice(slot)); disk != nil {
			vm.ImageURI = imageURI(disk.Source)
			vm.Inserted = vm.ImageURI != ""
			vm.WriteProtected = disk.ReadOnly != nil || disk.Device == deviceCdrom
		}

		out = append(out, vm)
	}

	return out
}

func inventory(domain *libvirtxml.Domain) model.Inventory {
	inv := model.Inventory{
		Arch: arch(domain),
		NICs: []string{},
	}

	if domain.VCPU != nil {
		inv.Processors = int(domain.VCPU.Value)
	}

	if domain.Memory != nil {
		inv.MemoryGiB = memoryGiB(domain.Memory.Value, domain.Memory.Unit)
	}

	for _, iface := range domain.Devices.Interfaces {
		if iface.MAC != nil && iface.MAC.Address != "" {
			inv.NICs = append(inv.NICs, iface.MAC.Address)
		}
	}

	inv.Storage = storage(domain)

	return inv
}

// storage groups the disks of a domain by the controller they are attached to. VirtIO
// block disks have no controller element and share one group.
func storage(domain *libvirtxml.Domain) []model.StorageController {
	var out []model.StorageController

	groups := map[string]int{}

	for _, disk := range domain.Devices.Disks {
		if (disk.Device != "" && disk.Device != deviceDisk) || disk.Target == nil || disk.Target.Dev == "" {
			continue
		}

		id, name := diskController(domain, &disk)

		i, ok := groups[id]
		if !ok {
			i = len(out)
			groups[id] = i
			out = append(out, model.StorageController{ID: id, Name: name, Devices: []model.Disk{}})
		}

		out[i].Devices = append(out[i].Devices, model.Disk{Name: disk.Target.Dev})
	}

	return out
}

// diskController returns the id and name of the controller serving disk.
func diskController(domain *libvirtxml.Domain, disk *libvirtxml.DomainDisk) (id, name string) {
	bus := disk.Target.Bus
	if bus == "" || bus == "virtio" {
		return "virtio", "VirtIO block"
	}

	var index uint
	if disk.Address != nil && disk.Address.Drive != nil && disk.Address.Drive.Controller != nil {
		index = *disk.Address.Drive.Controller
	}

	id = fmt.Sprintf("%s%d", bus, index)
	name = fmt.Sprintf("%s controller %d", strings.ToUpper(bus), index)

	for _, c := range domain.Devices.Controllers {
		if c.Type != bus || c.Index == nil || *c.Index != index {
			continue
		}

		if c.Alias != nil && c.Alias.Name != "" {
			id = c.Alias.Name
		}

		if c.Model != "" {
			name += " (" + c.Model + ")"
		}
	}

	return id, name
}

func memoryGiB(value uint, unit string) float64 {
	v := float64(value)

	switch strings.ToLower(unit) {
	case "b", "bytes":
		return v / (1 << 30)
	case "m", "mib":
		return v / (1 << 10)
	case "g", "gib":
		return v
	default:
		// KiB is the libvirt default unit
		return v / (1 << 20)
	}
}
