package prism

// Power states reported by the v2 VM API.
const (
	PowerStateOn  = "on"
	PowerStateOff = "off"
)

// Application states reported by the v3 apps API.
const (
	AppStateRunning  = "running"
	AppStateStopped  = "stopped"
	AppStateStopping = "stopping"
	AppStateError    = "error"
)

// entityList is the envelope used by list endpoints.
type entityList[T any] struct {
	Entities []T `json:"entities"`
}

// Cluster is the subset of cluster information printed by the inventory.
type Cluster struct {
	UUID              string `json:"uuid"`
	Name              string `json:"name"`
	Version           string `json:"version"`
	ExternalIPAddress string `json:"cluster_external_ipaddress"`
	NumNodes          int    `json:"num_nodes"`
}

// Host is a hypervisor node of the cluster.
type Host struct {
	UUID                    string `json:"uuid"`
	Name                    string `json:"name"`
	HypervisorAddress       string `json:"hypervisor_address"`
	ControllerVMBackplaneIP string `json:"controller_vm_backplane_ip"`
	IPMIAddress             string `json:"ipmi_address"`
}

// VM is a virtual machine as returned by the v2 API with NIC config included.
type VM struct {
	UUID       string `json:"uuid"`
	Name       string `json:"name"`
	PowerState string `json:"power_state"`
	NICs       []NIC  `json:"vm_nics,omitempty"`
}

// IsOn reports whether the VM is powered on.
func (v VM) IsOn() bool {
	return v.PowerState == PowerStateOn
}

// IPs returns the non-empty NIC addresses in NIC order.
func (v VM) IPs() []string {
	ips := make([]string, 0, len(v.NICs))
	for _, nic := range v.NICs {
		if nic.IPAddress != "" {
			ips = append(ips, nic.IPAddress)
		}
	}
	return ips
}

// NIC is a VM network interface.
type NIC struct {
	IPAddress   string `json:"ip_address,omitempty"`
	MACAddress  string `json:"mac_address,omitempty"`
	NetworkUUID string `json:"network_uuid,omitempty"`
}

// ClusterRegistration is one entry of the multicluster registration state.
// A cluster registered to a management plane has one entry describing it.
type ClusterRegistration struct {
	ClusterUUID string              `json:"clusterUuid"`
	Details     RegistrationDetails `json:"clusterDetails"`
}

// RegistrationDetails carries the management plane addresses.
type RegistrationDetails struct {
	ClusterName string   `json:"clusterName"`
	IPAddresses []string `json:"ipAddresses"`
}

// FileServer is a file-service instance and the VMs that back it.
type FileServer struct {
	UUID string         `json:"uuid"`
	Name string         `json:"name"`
	NVMs []FileServerVM `json:"nvms"`
}

// FileServerVM is one VM serving a file server.
type FileServerVM struct {
	UUID        string   `json:"uuid"`
	Name        string   `json:"name"`
	IPAddresses []string `json:"ipAddresses,omitempty"`
}

// App is a managed application instance from the v3 apps API.
type App struct {
	Metadata AppMetadata `json:"metadata"`
	Status   AppStatus   `json:"status"`
}

// AppMetadata is echoed back verbatim when running an action.
type AppMetadata struct {
	UUID             string            `json:"uuid"`
	Name             string            `json:"name,omitempty"`
	Kind             string            `json:"kind"`
	SpecVersion      *int              `json:"spec_version,omitempty"`
	Categories       map[string]string `json:"categories,omitempty"`
	ProjectReference *Reference        `json:"project_reference,omitempty"`
}

// Reference is a v3 kind/uuid reference.
type Reference struct {
	Kind string `json:"kind"`
	UUID string `json:"uuid"`
	Name string `json:"name,omitempty"`
}

// AppStatus is the observed state of an application.
type AppStatus struct {
	Name      string       `json:"name"`
	State     string       `json:"state"`
	Resources AppResources `json:"resources"`
}

// AppResources holds the actions an application exposes.
type AppResources struct {
	ActionList []AppAction `json:"action_list"`
}

// AppAction is a named runnable action on an application.
type AppAction struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
}

// Name returns the display name of the application.
func (a App) Name() string {
	if a.Status.Name != "" {
		return a.Status.Name
	}
	return a.Metadata.Name
}

// Action returns the action called name, if the application exposes one.
func (a App) Action(name string) (AppAction, bool) {
	for _, act := range a.Status.Resources.ActionList {
		if act.Name == name {
			return act, true
		}
	}
	return AppAction{}, false
}

// ActionRunRequest is the body posted to run an application action.
type ActionRunRequest struct {
	APIVersion string        `json:"api_version"`
	Metadata   AppMetadata   `json:"metadata"`
	Spec       ActionRunSpec `json:"spec"`
}

// ActionRunSpec targets the action at an application.
type ActionRunSpec struct {
	TargetUUID string      `json:"target_uuid"`
	TargetKind string      `json:"target_kind"`
	Args       []ActionArg `json:"args"`
}

// ActionArg is a runtime argument to an action.
type ActionArg struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ActionRun is the response to running an action.
type ActionRun struct {
	Status struct {
		RunlogUUID string `json:"runlog_uuid"`
	} `json:"status"`
}
