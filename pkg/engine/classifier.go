package engine

import (
	"context"

	"github.com/openfroyo/powerdown/pkg/policy"
	"github.com/openfroyo/powerdown/pkg/prism"
	"github.com/openfroyo/powerdown/pkg/telemetry"
)

// ClassifierOptions tunes infrastructure VM detection.
type ClassifierOptions struct {
	// FirstNICOnly matches the management-plane address against each VM's
	// first NIC only. By default every NIC is checked.
	FirstNICOnly bool
}

// Classifier computes the set of infrastructure VMs that must stay running.
type Classifier struct {
	client InventoryClient
	policy ProtectionPolicy
	opts   ClassifierOptions
	tel    *telemetry.Telemetry
}

// NewClassifier creates a classifier. policy may be nil.
func NewClassifier(client InventoryClient, policy ProtectionPolicy, opts ClassifierOptions, tel *telemetry.Telemetry) *Classifier {
	return &Classifier{
		client: client,
		policy: policy,
		opts:   opts,
		tel:    orNoop(tel),
	}
}

// Classify queries the cluster once and returns the exclusion set. Every
// query failure is fatal.
func (c *Classifier) Classify(ctx context.Context) (*ExclusionSet, error) {
	logger := c.tel.Logger.WithPhase(string(PhaseClassify))
	set := NewExclusionSet()

	regs, status, err := c.client.ListClusterRegistrations(ctx)
	if err != nil {
		return nil, apiError(PhaseClassify, "failed to list cluster registrations", err, status)
	}

	vms, status, err := c.client.ListVMs(ctx)
	if err != nil {
		return nil, apiError(PhaseClassify, "failed to list VMs", err, status)
	}

	mgmtIP := managementIP(regs)
	if mgmtIP == "" {
		logger.Info("Cluster is not registered to a management plane")
	} else {
		for _, vm := range vms {
			if c.hasAddress(vm, mgmtIP) {
				set.add(vm.Name, ReasonManagementPlane)
			}
		}
	}

	servers, status, err := c.client.ListFileServers(ctx)
	if err != nil {
		return nil, apiError(PhaseClassify, "failed to list file servers", err, status)
	}
	for _, fs := range servers {
		for _, nvm := range fs.NVMs {
			set.add(nvm.Name, ReasonFileService)
		}
	}

	if c.policy != nil {
		names, err := c.policy.Protected(ctx, policyInput(vms))
		if err != nil {
			return nil, wrapError(PhaseClassify, "failed to evaluate protection policy", err, ErrorClassConfig)
		}
		for _, name := range names {
			set.add(name, ReasonPolicy)
		}
	}

	counts := set.CountByReason()
	for reason, n := range counts {
		c.tel.Metrics.SetExclusions(string(reason), n)
	}

	logger.WithFields(map[string]any{
		"management_ip": mgmtIP,
		"excluded":      set.Names(),
	}).Infof("Classified %d infrastructure VMs", set.Len())

	publish(ctx, c.tel, PhaseClassify, telemetry.EventTypeClassified, telemetry.EventLevelInfo,
		"infrastructure VMs classified", map[string]any{
			"management_ip":    mgmtIP,
			"excluded":         set.Names(),
			"management_plane": counts[ReasonManagementPlane],
			"file_service":     counts[ReasonFileService],
			"policy":           counts[ReasonPolicy],
		})

	return set, nil
}

func (c *Classifier) hasAddress(vm prism.VM, ip string) bool {
	if len(vm.NICs) == 0 {
		return false
	}
	if c.opts.FirstNICOnly {
		return vm.NICs[0].IPAddress == ip
	}
	for _, nic := range vm.NICs {
		if nic.IPAddress == ip {
			return true
		}
	}
	return false
}

// managementIP returns the first address of the first registration.
func managementIP(regs []prism.ClusterRegistration) string {
	if len(regs) == 0 || len(regs[0].Details.IPAddresses) == 0 {
		return ""
	}
	return regs[0].Details.IPAddresses[0]
}

func policyInput(vms []prism.VM) []policy.VM {
	out := make([]policy.VM, 0, len(vms))
	for _, vm := range vms {
		out = append(out, policy.VM{
			Name:       vm.Name,
			UUID:       vm.UUID,
			PowerState: vm.PowerState,
			IPs:        vm.IPs(),
		})
	}
	return out
}
