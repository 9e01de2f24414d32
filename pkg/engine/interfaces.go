package engine

import (
	"context"

	"github.com/openfroyo/powerdown/pkg/policy"
	"github.com/openfroyo/powerdown/pkg/prism"
)

// VMLister samples the cluster's virtual machines. Every cluster query
// returns the HTTP status alongside its result.
type VMLister interface {
	// ListVMs returns every VM with its NIC configuration.
	ListVMs(ctx context.Context) ([]prism.VM, int, error)
}

// InventoryClient queries the cluster topology.
type InventoryClient interface {
	VMLister

	// ListHosts returns the hypervisor nodes.
	ListHosts(ctx context.Context) ([]prism.Host, int, error)

	// GetCluster returns cluster-wide information.
	GetCluster(ctx context.Context) (*prism.Cluster, int, error)

	// ListClusterRegistrations returns the management plane registrations.
	ListClusterRegistrations(ctx context.Context) ([]prism.ClusterRegistration, int, error)

	// ListFileServers returns the file servers and their backing VMs.
	ListFileServers(ctx context.Context) ([]prism.FileServer, int, error)
}

// AppClient drives managed applications.
type AppClient interface {
	// ListApps returns the application instances.
	ListApps(ctx context.Context) ([]prism.App, int, error)

	// GetApp returns one application with its status and actions.
	GetApp(ctx context.Context, uuid string) (*prism.App, int, error)

	// RunAppAction invokes an action on app.
	RunAppAction(ctx context.Context, app *prism.App, actionUUID string) (*prism.ActionRun, int, error)
}

// ClusterClient is everything a run needs from the cluster API.
type ClusterClient interface {
	InventoryClient
	AppClient
}

// ProtectionPolicy names additional VMs to keep running.
type ProtectionPolicy interface {
	// Protected returns the names of protected VMs.
	Protected(ctx context.Context, vms []policy.VM) ([]string, error)
}

var (
	_ ClusterClient    = (*prism.Client)(nil)
	_ ProtectionPolicy = (*policy.Engine)(nil)
)
