package prism

import (
	"context"
)

// GetCluster returns basic information about the cluster.
func (c *Client) GetCluster(ctx context.Context) (*Cluster, int, error) {
	var cluster Cluster
	status, err := c.get(ctx, "get-cluster", V2, "cluster/", &cluster)
	if err != nil {
		return nil, status, err
	}
	return &cluster, status, nil
}

// ListHosts returns the hypervisor hosts of the cluster.
func (c *Client) ListHosts(ctx context.Context) ([]Host, int, error) {
	var list entityList[Host]
	status, err := c.get(ctx, "list-hosts", V2, "hosts/", &list)
	if err != nil {
		return nil, status, err
	}
	return list.Entities, status, nil
}

// ListVMs returns all VMs with their NIC configuration.
func (c *Client) ListVMs(ctx context.Context) ([]VM, int, error) {
	var list entityList[VM]
	status, err := c.get(ctx, "list-vms", V2, "vms/?include_vm_nic_config=true", &list)
	if err != nil {
		return nil, status, err
	}
	return list.Entities, status, nil
}

// ListClusterRegistrations returns the management plane registrations of the
// cluster. An unregistered cluster yields an empty slice.
func (c *Client) ListClusterRegistrations(ctx context.Context) ([]ClusterRegistration, int, error) {
	var regs []ClusterRegistration
	status, err := c.get(ctx, "list-registrations", V1, "multicluster/cluster_external_state", &regs)
	if err != nil {
		return nil, status, err
	}
	return regs, status, nil
}

// ListFileServers returns file servers and the VMs backing each one.
func (c *Client) ListFileServers(ctx context.Context) ([]FileServer, int, error) {
	var list entityList[FileServer]
	status, err := c.get(ctx, "list-file-servers", V1, "vfilers/", &list)
	if err != nil {
		return nil, status, err
	}
	return list.Entities, status, nil
}
