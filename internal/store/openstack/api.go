package openstack

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gophercloud/gophercloud/v2"
	gopenstack "github.com/gophercloud/gophercloud/v2/openstack"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/flavors"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/servers"
	"github.com/gophercloud/gophercloud/v2/openstack/image/v2/images"
)

// server is the subset of a Nova server the driver reads.
// nolint:govet // prefer readability over field alignment optimization for this case.
type server struct {
	ID        string               `json:"id"`
	Name      string               `json:"name"`
	Status    string               `json:"status"`
	TaskState string               `json:"OS-EXT-STS:task_state"`
	Metadata  map[string]string    `json:"metadata"`
	Flavor    map[string]any       `json:"flavor"`
	Image     json.RawMessage      `json:"image"`
	Addresses map[string][]address `json:"addresses"`
}

type address struct {
	Addr string `json:"addr"`
	MAC  string `json:"OS-EXT-IPS-MAC:mac_addr"`
}

// imageID returns the id of the image the server booted from, empty for volume backed servers.
func (s *server) imageID() string {
	var ref struct {
		ID string `json:"id"`
	}

	if len(s.Image) == 0 || json.Unmarshal(s.Image, &ref) != nil {
		return ""
	}

	return ref.ID
}

// api is the part of the compute and image services the driver uses.
type api interface {
	ListServers(ctx context.Context) ([]server, error)
	GetServer(ctx context.Context, id string) (*server, error)
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	Reboot(ctx context.Context, id string, hard bool) error
	UpdateMetadata(ctx context.Context, id string, metadata map[string]string) error
	DeleteMetadata(ctx context.Context, id, key string) error
	GetFlavor(ctx context.Context, id string) (*flavors.Flavor, error)
	GetImage(ctx context.Context, id string) (*images.Image, error)
}

type gopherAPI struct {
	compute *gophercloud.ServiceClient
	image   *gophercloud.ServiceClient
}

// connect authenticates against Keystone and returns the compute and image clients.
func connect(ctx context.Context, opts *Options, httpClient *http.Client) (api, error) {
	provider, err := gopenstack.NewClient(opts.AuthURL)
	if err != nil {
		return nil, classify(err)
	}

	provider.HTTPClient = *httpClient

	authOpts := gophercloud.AuthOptions{
		IdentityEndpoint:            opts.AuthURL,
		Username:                    opts.Username,
		Password:                    opts.Password,
		DomainName:                  opts.DomainName,
		TenantName:                  opts.ProjectName,
		TenantID:                    opts.ProjectID,
		ApplicationCredentialID:     opts.ApplicationCredentialID,
		ApplicationCredentialSecret: opts.ApplicationCredentialSecret,
		// session renewal belongs to the backend session
		AllowReauth: false,
	}

	if err := gopenstack.Authenticate(ctx, provider, authOpts); err != nil {
		return nil, classify(err)
	}

	endpoint := gophercloud.EndpointOpts{Region: opts.Region}

	compute, err := gopenstack.NewComputeV2(provider, endpoint)
	if err != nil {
		return nil, classify(err)
	}

	image, err := gopenstack.NewImageV2(provider, endpoint)
	if err != nil {
		return nil, classify(err)
	}

	return &gopherAPI{compute: compute, image: image}, nil
}

func (g *gopherAPI) ListServers(ctx context.Context) ([]server, error) {
	page, err := servers.List(g.compute, servers.ListOpts{}).AllPages(ctx)
	if err != nil {
		return nil, classify(err)
	}

	list := []server{}
	if err := servers.ExtractServersInto(page, &list); err != nil {
		return nil, err
	}

	return list, nil
}

func (g *gopherAPI) GetServer(ctx context.Context, id string) (*server, error) {
	s := &server{}
	if err := servers.Get(ctx, g.compute, id).ExtractInto(s); err != nil {
		return nil, classify(err)
	}

	return s, nil
}

func (g *gopherAPI) Start(ctx context.Context, id string) error {
	return classify(servers.Start(ctx, g.compute, id).ExtractErr())
}

func (g *gopherAPI) Stop(ctx context.Context, id string) error {
	return classify(servers.Stop(ctx, g.compute, id).ExtractErr())
}

func (g *gopherAPI) Reboot(ctx context.Context, id string, hard bool) error {
	opts := servers.RebootOpts{Type: servers.SoftReboot}
	if hard {
		opts.Type = servers.HardReboot
	}

	return classify(servers.Reboot(ctx, g.compute, id, opts).ExtractErr())
}

func (g *gopherAPI) UpdateMetadata(ctx context.Context, id string, metadata map[string]string) error {
	_, err := servers.UpdateMetadata(ctx, g.compute, id, servers.MetadataOpts(metadata)).Extract()
	return classify(err)
}

func (g *gopherAPI) DeleteMetadata(ctx context.Context, id, key string) error {
	err := servers.DeleteMetadatum(ctx, g.compute, id, key).ExtractErr()
	if gophercloud.ResponseCodeIs(err, http.StatusNotFound) {
		return nil
	}

	return classify(err)
}

func (g *gopherAPI) GetFlavor(ctx context.Context, id string) (*flavors.Flavor, error) {
	flavor, err := flavors.Get(ctx, g.compute, id).Extract()
	if err != nil {
		return nil, classify(err)
	}

	return flavor, nil
}

func (g *gopherAPI) GetImage(ctx context.Context, id string) (*images.Image, error) {
	image, err := images.Get(ctx, g.image, id).Extract()
	if err != nil {
		return nil, classify(err)
	}

	return image, nil
}
