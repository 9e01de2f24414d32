// Package policy evaluates Rego protection rules over the cluster's VM list.
//
// Every loaded module contributes to one partial set, "protected", in a
// single package (DefaultPackage unless configured). Names in that set are
// excluded from shutdown alongside the management-plane and file-service VMs.
//
// The input document is:
//
//	{"vms": [{"name": "web-01", "uuid": "...", "power_state": "on", "ips": ["10.0.1.10"]}]}
//
// A site policy keeping databases up:
//
//	package powerdown.protection
//
//	import rego.v1
//
//	protected contains vm.name if {
//		some vm in input.vms
//		startswith(vm.name, "db-")
//	}
//
// The bundled policy protects Controller VMs by their NTNX-*-CVM names.
package policy
