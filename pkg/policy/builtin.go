package policy

import "fmt"

// BuiltinPolicies returns the bundled policies rendered into pkg.
func BuiltinPolicies(pkg string) []Policy {
	return []Policy{
		controllerVMPolicy(pkg),
	}
}

// controllerVMPolicy protects Controller VMs by their naming convention, so
// they stay up even when the management IP lookup finds nothing.
func controllerVMPolicy(pkg string) Policy {
	return Policy{
		Name:        "controller-vms",
		Description: "Protects Controller VMs named NTNX-<block>-<node>-CVM",
		Source:      "builtin",
		Rego: fmt.Sprintf(`package %s

import rego.v1

protected contains vm.name if {
	some vm in input.vms
	regex.match("^NTNX-.*-CVM$", vm.name)
}
`, pkg),
	}
}
