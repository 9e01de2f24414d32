// Package prism is a thin client for the cluster management (Prism) REST API.
//
// Three versioned surfaces are used:
//
//   - v1 (PrismGateway/services/rest/v1): multicluster registration, file servers
//   - v2 (api/nutanix/v2.0): cluster, hosts, VMs with NIC detail
//   - v3 (api/nutanix/v3): managed applications and their actions
//
// All calls authenticate with basic credentials. Certificate validation is off
// unless Config.VerifyTLS is set, since clusters ship with self-signed
// certificates.
//
// Every operation returns its decoded body, the HTTP status and an error. The
// status is 0 when no response arrived. The client never retries and leaves
// status interpretation to the caller. Failures come back as one of three
// typed errors:
//
//   - *TransportError: the request never produced a response
//   - *StatusError: the server answered with a non-2xx status
//   - *ParseError: the body was not the JSON shape we expected
//
// Usage:
//
//	client, err := prism.NewClient(prism.Config{
//	    Address:  "10.0.0.10",
//	    Username: "admin",
//	    Password: secret,
//	})
//	vms, status, err := client.ListVMs(ctx)
package prism
