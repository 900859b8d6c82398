package vmware

import (
	"path"
	"slices"
	"strings"

	"github.com/metal-toolbox/vbmc/internal/model"
	"github.com/pkg/errors"
	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/vim25/types"
)

const (
	firmwareEFI  = "efi"
	firmwareBIOS = "bios"

	// datastorePrefix is where ESXi mounts datastores, image paths below it map onto
	// datastore paths.
	datastorePrefix = "/vmfs/volumes/"
)

var defaultBootOrder = []string{
	object.DeviceTypeDisk,
	object.DeviceTypeCdrom,
	object.DeviceTypeEthernet,
	object.DeviceTypeFloppy,
}

func deviceType(target model.BootTarget) string {
	switch target {
	case model.BootTargetPxe:
		return object.DeviceTypeEthernet
	case model.BootTargetCd:
		return object.DeviceTypeCdrom
	case model.BootTargetFloppy:
		return object.DeviceTypeFloppy
	default:
		return object.DeviceTypeDisk
	}
}

// bootDevice returns the target of the first boot order entry, an empty order boots
// from disk.
func bootDevice(order []types.BaseVirtualMachineBootOptionsBootableDevice) model.BootTarget {
	if len(order) == 0 {
		return model.BootTargetHdd
	}

	switch order[0].(type) {
	case *types.VirtualMachineBootOptionsBootableEthernetDevice:
		return model.BootTargetPxe
	case *types.VirtualMachineBootOptionsBootableCdromDevice:
		return model.BootTargetCd
	case *types.VirtualMachineBootOptionsBootableFloppyDevice:
		return model.BootTargetFloppy
	default:
		return model.BootTargetHdd
	}
}

// bootOrder returns a boot order starting with the devices serving target followed by
// the remaining device types.
func bootOrder(devices object.VirtualDeviceList, target model.BootTarget) ([]types.BaseVirtualMachineBootOptionsBootableDevice, error) {
	first := deviceType(target)
	order := []string{first}

	for _, t := range defaultBootOrder {
		if t != first {
			order = append(order, t)
		}
	}

	boot := devices.BootOrder(order)
	if bootDevice(boot) != target || len(boot) == 0 {
		return nil, errors.Wrapf(errNoDevice, "no %s device", first)
	}

	return boot, nil
}

func bootMode(firmware string) model.BootMode {
	if firmware == firmwareEFI {
		return model.BootModeUEFI
	}

	return model.BootModeLegacy
}

func firmware(mode model.BootMode) string {
	if mode == model.BootModeUEFI {
		return firmwareEFI
	}

	return firmwareBIOS
}

// datastorePath converts an image location under /vmfs/volumes into a datastore path.
func datastorePath(uri string) (string, error) {
	switch {
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		return "", errRemoteISO
	case strings.HasPrefix(uri, "file://"):
		uri = strings.TrimPrefix(uri, "file://")
	}

	rel, ok := strings.CutPrefix(path.Clean(uri), datastorePrefix)
	if !ok {
		return "", errors.Wrapf(errDatastore, "%q", uri)
	}

	ds, file, ok := strings.Cut(rel, "/")
	if !ok || ds == "" || file == "" {
		return "", errors.Wrapf(errDatastore, "%q", uri)
	}

	return (&object.DatastorePath{Datastore: ds, Path: file}).String(), nil
}

// imageURI is the inverse of datastorePath.
func imageURI(fileName string) string {
	var p object.DatastorePath
	if !p.FromString(fileName) {
		return fileName
	}

	return datastorePrefix + p.Datastore + "/" + p.Path
}

func cdrom(devices object.VirtualDeviceList) *types.VirtualCdrom {
	for _, d := range devices {
		if c, ok := d.(*types.VirtualCdrom); ok {
			return c
		}
	}

	return nil
}

func floppy(devices object.VirtualDeviceList) *types.VirtualFloppy {
	for _, d := range devices {
		if f, ok := d.(*types.VirtualFloppy); ok {
			return f
		}
	}

	return nil
}

// slotImage returns the image mounted in a slot, empty when the drive is missing or
// not backed by an image file.
func slotImage(devices object.VirtualDeviceList, slot string) string {
	if slot == model.SlotFloppy {
		if f := floppy(devices); f != nil {
			if b, ok := f.Backing.(*types.VirtualFloppyImageBackingInfo); ok && b.FileName != "" {
				return imageURI(b.FileName)
			}
		}

		return ""
	}

	if c := cdrom(devices); c != nil {
		if b, ok := c.Backing.(*types.VirtualCdromIsoBackingInfo); ok && b.FileName != "" {
			return imageURI(b.FileName)
		}
	}

	return ""
}

func media(devices object.VirtualDeviceList) []model.VirtualMedia {
	out := make([]model.VirtualMedia, 0, len(model.Slots()))

	for _, slot := range model.Slots() {
		vm := model.EmptySlot(slot)
		vm.ImageURI = slotImage(devices, slot)
		vm.Inserted = vm.ImageURI != ""

		out = append(out, vm)
	}

	return out
}

// mediaChange returns the device change loading file into the drive of a slot, an
// empty file ejects. A missing drive is created when loading.
func mediaChange(devices object.VirtualDeviceList, slot, file string, running bool) ([]types.BaseVirtualDeviceConfigSpec, error) {
	var (
		device types.BaseVirtualDevice
		op     = types.VirtualDeviceConfigSpecOperationEdit
	)

	switch slot {
	case model.SlotFloppy:
		f := floppy(devices)
		if f == nil {
			if file == "" {
				return nil, nil
			}

			created, err := devices.CreateFloppy()
			if err != nil {
				return nil, errors.Wrap(model.ErrInvalidRequest, err.Error())
			}

			f, op = created, types.VirtualDeviceConfigSpecOperationAdd
		}

		if file == "" {
			device = devices.EjectImg(f)
		} else {
			device = devices.InsertImg(f, file)
		}
	default:
		c := cdrom(devices)
		if c == nil {
			if file == "" {
				return nil, nil
			}

			ide, err := devices.FindIDEController("")
			if err != nil {
				return nil, errors.Wrap(model.ErrInvalidRequest, err.Error())
			}

			created, err := devices.CreateCdrom(ide)
			if err != nil {
				return nil, errors.Wrap(model.ErrInvalidRequest, err.Error())
			}

			c, op = created, types.VirtualDeviceConfigSpecOperationAdd
		}

		if file == "" {
			device = devices.EjectIso(c)
		} else {
			device = devices.InsertIso(c, file)
		}
	}

	setConnectable(device, file != "", running)

	return object.VirtualDeviceList{device}.ConfigSpec(op)
}

func setConnectable(device types.BaseVirtualDevice, loaded, running bool) {
	d := device.GetVirtualDevice()
	if d.Connectable == nil {
		d.Connectable = &types.VirtualDeviceConnectInfo{AllowGuestControl: true}
	}

	d.Connectable.StartConnected = loaded
	d.Connectable.Connected = loaded && running
}

func nics(devices object.VirtualDeviceList) []string {
	out := []string{}

	for _, d := range devices {
		if card, ok := d.(types.BaseVirtualEthernetCard); ok {
			if mac := card.GetVirtualEthernetCard().MacAddress; mac != "" {
				out = append(out, mac)
			}
		}
	}

	return out
}

// storage groups the virtual disks under the controllers they are attached to,
// controllers without disks are left out.
func storage(devices object.VirtualDeviceList) []model.StorageController {
	disks := devices.SelectByType((*types.VirtualDisk)(nil))
	if len(disks) == 0 {
		return nil
	}

	var out []model.StorageController

	for _, d := range devices {
		c, ok := d.(types.BaseVirtualController)
		if !ok {
			continue
		}

		controller := c.GetVirtualController()
		sc := model.StorageController{
			ID:      devices.Name(d),
			Name:    label(devices, d),
			Devices: []model.Disk{},
		}

		for _, dd := range disks {
			disk := dd.(*types.VirtualDisk)
			if disk.ControllerKey != controller.Key && !slices.Contains(controller.Device, disk.Key) {
				continue
			}

			sc.Devices = append(sc.Devices, model.Disk{Name: label(devices, disk), CapacityBytes: capacity(disk)})
		}

		if len(sc.Devices) > 0 {
			out = append(out, sc)
		}
	}

	return out
}

func label(devices object.VirtualDeviceList, d types.BaseVirtualDevice) string {
	if info := d.GetVirtualDevice().DeviceInfo; info != nil && info.GetDescription().Label != "" {
		return info.GetDescription().Label
	}

	return devices.Name(d)
}

func capacity(disk *types.VirtualDisk) int64 {
	if disk.CapacityInBytes > 0 {
		return disk.CapacityInBytes
	}

	return disk.CapacityInKB * 1024
}
