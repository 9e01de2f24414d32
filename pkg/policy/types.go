package policy

// Policy is one Rego module contributing to the protected set.
type Policy struct {
	// Name identifies the policy, usually its file name without extension.
	Name string `json:"name"`

	// Description is taken from the module's leading comment block.
	Description string `json:"description,omitempty"`

	// Rego contains the Rego module source.
	Rego string `json:"rego"`

	// Source is the file the policy was read from, or "builtin".
	Source string `json:"source"`
}

// VM is the policy view of a virtual machine.
type VM struct {
	Name       string   `json:"name"`
	UUID       string   `json:"uuid,omitempty"`
	PowerState string   `json:"power_state"`
	IPs        []string `json:"ips"`
}

// Input is the document policies see as input.
type Input struct {
	VMs []VM `json:"vms"`
}

// Options configures an Engine.
type Options struct {
	// Package is the Rego package whose "protected" set is queried, for
	// example "powerdown.protection".
	Package string

	// Builtin loads the bundled CVM protection rule.
	Builtin bool

	// Paths lists .rego files or directories to load.
	Paths []string
}
