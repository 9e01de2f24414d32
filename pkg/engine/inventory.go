package engine

import (
	"context"
	"sort"

	"github.com/openfroyo/powerdown/pkg/prism"
)

// Inventory is a point-in-time snapshot of the cluster.
type Inventory struct {
	Cluster *prism.Cluster `json:"cluster,omitempty" yaml:"cluster,omitempty"`
	Hosts   []prism.Host   `json:"hosts" yaml:"hosts"`
	VMs     []prism.VM     `json:"vms" yaml:"vms"`
}

// CollectInventory queries cluster, host and VM information.
func CollectInventory(ctx context.Context, client InventoryClient) (*Inventory, error) {
	cluster, status, err := client.GetCluster(ctx)
	if err != nil {
		return nil, apiError(PhaseInventory, "failed to get cluster", err, status)
	}

	hosts, status, err := client.ListHosts(ctx)
	if err != nil {
		return nil, apiError(PhaseInventory, "failed to list hosts", err, status)
	}

	vms, status, err := client.ListVMs(ctx)
	if err != nil {
		return nil, apiError(PhaseInventory, "failed to list VMs", err, status)
	}

	return &Inventory{Cluster: cluster, Hosts: hosts, VMs: vms}, nil
}

// PoweredOn returns the names of VMs that are on, sorted.
func (inv *Inventory) PoweredOn() []string {
	var names []string
	for _, vm := range inv.VMs {
		if vm.IsOn() {
			names = append(names, vm.Name)
		}
	}
	sort.Strings(names)
	return names
}
