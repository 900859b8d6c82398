package vmware

import (
	"context"
	"io"
	"net/url"
	"path"

	"github.com/vmware/govmomi"
	"github.com/vmware/govmomi/find"
	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/property"
	"github.com/vmware/govmomi/session"
	"github.com/vmware/govmomi/view"
	"github.com/vmware/govmomi/vim25/mo"
	"github.com/vmware/govmomi/vim25/soap"
	"github.com/vmware/govmomi/vim25/types"
)

const virtualMachineType = "VirtualMachine"

var (
	listProperties    = []string{"name", "config.uuid", "config.template"}
	machineProperties = []string{"name", "config", "runtime.powerState"}
)

// machine is the subset of a virtual machine the driver reads.
type machine struct {
	ID        string
	Name      string
	UUID      string
	Template  bool
	Power     types.VirtualMachinePowerState
	Firmware  string
	BootOrder []types.BaseVirtualMachineBootOptionsBootableDevice
	Devices   object.VirtualDeviceList
	NumCPU    int32
	MemoryMB  int32
}

func fromManagedObject(vm *mo.VirtualMachine) machine {
	m := machine{
		ID:    vm.Self.Value,
		Name:  vm.Name,
		Power: vm.Runtime.PowerState,
	}

	if vm.Config == nil {
		return m
	}

	m.UUID = vm.Config.Uuid
	m.Template = vm.Config.Template
	m.Firmware = vm.Config.Firmware
	m.Devices = object.VirtualDeviceList(vm.Config.Hardware.Device)
	m.NumCPU = vm.Config.Hardware.NumCPU
	m.MemoryMB = vm.Config.Hardware.MemoryMB

	if vm.Config.BootOptions != nil {
		m.BootOrder = vm.Config.BootOptions.BootOrder
	}

	return m
}

// client is the part of the vSphere API the driver uses, machines are addressed by
// their managed object id.
type client interface {
	Machines(ctx context.Context) ([]machine, error)
	Machine(ctx context.Context, id string) (*machine, error)
	PowerOn(ctx context.Context, id string) error
	PowerOff(ctx context.Context, id string) error
	ShutdownGuest(ctx context.Context, id string) error
	RebootGuest(ctx context.Context, id string) error
	Reset(ctx context.Context, id string) error
	Reconfigure(ctx context.Context, id string, spec types.VirtualMachineConfigSpec) error
	// Upload stores an image in the media folder of a datastore and returns its datastore path.
	Upload(ctx context.Context, datastore, name string, body io.Reader, size int64) (string, error)
	Active(ctx context.Context) error
	Logout(ctx context.Context) error
}

type vimClient struct {
	client *govmomi.Client
}

// connect logs into vCenter or ESXi.
func connect(ctx context.Context, opts *Options) (client, error) {
	u, err := soap.ParseURL(opts.URL)
	if err != nil {
		return nil, err
	}

	u.User = url.UserPassword(opts.Username, opts.Password)

	c, err := govmomi.NewClient(ctx, u, opts.Insecure)
	if err != nil {
		return nil, classify(err)
	}

	return &vimClient{client: c}, nil
}

func ref(id string) types.ManagedObjectReference {
	return types.ManagedObjectReference{Type: virtualMachineType, Value: id}
}

func (v *vimClient) Machines(ctx context.Context) ([]machine, error) {
	m := view.NewManager(v.client.Client)

	cv, err := m.CreateContainerView(ctx, v.client.ServiceContent.RootFolder, []string{virtualMachineType}, true)
	if err != nil {
		return nil, classify(err)
	}

	defer cv.Destroy(ctx) // nolint:errcheck // the view expires with the session

	var vms []mo.VirtualMachine
	if err := cv.Retrieve(ctx, []string{virtualMachineType}, listProperties, &vms); err != nil {
		return nil, classify(err)
	}

	out := make([]machine, 0, len(vms))
	for i := range vms {
		out = append(out, fromManagedObject(&vms[i]))
	}

	return out, nil
}

func (v *vimClient) Machine(ctx context.Context, id string) (*machine, error) {
	var vm mo.VirtualMachine

	pc := property.DefaultCollector(v.client.Client)
	if err := pc.RetrieveOne(ctx, ref(id), machineProperties, &vm); err != nil {
		return nil, classify(err)
	}

	m := fromManagedObject(&vm)

	return &m, nil
}

func (v *vimClient) vm(id string) *object.VirtualMachine {
	return object.NewVirtualMachine(v.client.Client, ref(id))
}

func wait(ctx context.Context, t *object.Task, err error) error {
	if err != nil {
		return classify(err)
	}

	return classify(t.Wait(ctx))
}

func (v *vimClient) PowerOn(ctx context.Context, id string) error {
	t, err := v.vm(id).PowerOn(ctx)
	return wait(ctx, t, err)
}

func (v *vimClient) PowerOff(ctx context.Context, id string) error {
	t, err := v.vm(id).PowerOff(ctx)
	return wait(ctx, t, err)
}

func (v *vimClient) ShutdownGuest(ctx context.Context, id string) error {
	return classify(v.vm(id).ShutdownGuest(ctx))
}

func (v *vimClient) RebootGuest(ctx context.Context, id string) error {
	return classify(v.vm(id).RebootGuest(ctx))
}

func (v *vimClient) Reset(ctx context.Context, id string) error {
	t, err := v.vm(id).Reset(ctx)
	return wait(ctx, t, err)
}

func (v *vimClient) Reconfigure(ctx context.Context, id string, spec types.VirtualMachineConfigSpec) error {
	t, err := v.vm(id).Reconfigure(ctx, spec)
	return wait(ctx, t, err)
}

func (v *vimClient) Upload(ctx context.Context, datastore, name string, body io.Reader, size int64) (string, error) {
	finder := find.NewFinder(v.client.Client, true)

	dc, err := finder.DefaultDatacenter(ctx)
	if err != nil {
		return "", classify(err)
	}

	finder.SetDatacenter(dc)

	ds, err := finder.Datastore(ctx, datastore)
	if err != nil {
		return "", classify(err)
	}

	fm := object.NewFileManager(v.client.Client)
	if err := fm.MakeDirectory(ctx, ds.Path(mediaFolder), dc, true); err != nil && !alreadyExists(err) {
		return "", classify(err)
	}

	file := path.Join(mediaFolder, name)

	param := soap.DefaultUpload
	param.ContentLength = size

	if err := ds.Upload(ctx, body, file, &param); err != nil {
		return "", classify(err)
	}

	return ds.Path(file), nil
}

func (v *vimClient) Active(ctx context.Context) error {
	us, err := session.NewManager(v.client.Client).UserSession(ctx)
	if err != nil {
		return classify(err)
	}

	if us == nil {
		return errNoSession
	}

	return nil
}

func (v *vimClient) Logout(ctx context.Context) error {
	return v.client.Logout(ctx)
}
