package engine

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/openfroyo/powerdown/pkg/policy"
	"github.com/openfroyo/powerdown/pkg/prism"
	"github.com/openfroyo/powerdown/pkg/remote"
)

// mockCluster is an in-memory ClusterClient. ListVMs returns vmRounds in
// order and repeats the last round once they run out.
type mockCluster struct {
	mu sync.Mutex

	cluster       *prism.Cluster
	hosts         []prism.Host
	vmRounds      [][]prism.VM
	registrations []prism.ClusterRegistration
	fileServers   []prism.FileServer

	apps       []prism.App
	appStates  map[string][]string
	stateCalls map[string]int
	actionRuns []string

	listVMsErr       error
	listVMsErrAt     int
	registrationsErr error
	fileServersErr   error
	listAppsErr      error
	runActionErr     error

	vmCalls int
}

func newMockCluster() *mockCluster {
	return &mockCluster{
		cluster:    &prism.Cluster{UUID: "c-1", Name: "cluster-a", NumNodes: 3},
		appStates:  make(map[string][]string),
		stateCalls: make(map[string]int),
	}
}

func (m *mockCluster) ListVMs(ctx context.Context) ([]prism.VM, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.vmCalls++
	if m.listVMsErr != nil && m.vmCalls >= m.listVMsErrAt {
		return nil, prism.StatusCode(m.listVMsErr), m.listVMsErr
	}
	if len(m.vmRounds) == 0 {
		return nil, http.StatusOK, nil
	}
	idx := m.vmCalls - 1
	if idx >= len(m.vmRounds) {
		idx = len(m.vmRounds) - 1
	}
	return append([]prism.VM(nil), m.vmRounds[idx]...), http.StatusOK, nil
}

func (m *mockCluster) ListHosts(_ context.Context) ([]prism.Host, int, error) {
	return m.hosts, http.StatusOK, nil
}

func (m *mockCluster) GetCluster(_ context.Context) (*prism.Cluster, int, error) {
	return m.cluster, http.StatusOK, nil
}

func (m *mockCluster) ListClusterRegistrations(_ context.Context) ([]prism.ClusterRegistration, int, error) {
	if m.registrationsErr != nil {
		return nil, prism.StatusCode(m.registrationsErr), m.registrationsErr
	}
	return m.registrations, http.StatusOK, nil
}

func (m *mockCluster) ListFileServers(_ context.Context) ([]prism.FileServer, int, error) {
	if m.fileServersErr != nil {
		return nil, prism.StatusCode(m.fileServersErr), m.fileServersErr
	}
	return m.fileServers, http.StatusOK, nil
}

func (m *mockCluster) ListApps(_ context.Context) ([]prism.App, int, error) {
	if m.listAppsErr != nil {
		return nil, prism.StatusCode(m.listAppsErr), m.listAppsErr
	}
	out := make([]prism.App, len(m.apps))
	for i, app := range m.apps {
		out[i] = prism.App{Metadata: prism.AppMetadata{UUID: app.Metadata.UUID, Kind: "app"}}
	}
	return out, http.StatusOK, nil
}

// GetApp returns the app with the next scripted state. The first call
// reports the app's own state, later calls walk appStates.
func (m *mockCluster) GetApp(_ context.Context, uuid string) (*prism.App, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, app := range m.apps {
		if app.Metadata.UUID != uuid {
			continue
		}
		out := app
		calls := m.stateCalls[uuid]
		m.stateCalls[uuid] = calls + 1
		if calls > 0 {
			states := m.appStates[uuid]
			switch {
			case len(states) == 0:
			case calls-1 < len(states):
				out.Status.State = states[calls-1]
			default:
				out.Status.State = states[len(states)-1]
			}
		}
		return &out, http.StatusOK, nil
	}
	return nil, http.StatusNotFound, &prism.StatusError{Op: "get app", StatusCode: http.StatusNotFound}
}

func (m *mockCluster) RunAppAction(_ context.Context, app *prism.App, actionUUID string) (*prism.ActionRun, int, error) {
	if m.runActionErr != nil {
		return nil, prism.StatusCode(m.runActionErr), m.runActionErr
	}
	m.mu.Lock()
	m.actionRuns = append(m.actionRuns, app.Metadata.UUID+":"+actionUUID)
	m.mu.Unlock()

	run := &prism.ActionRun{}
	run.Status.RunlogUUID = "runlog-" + app.Metadata.UUID
	return run, http.StatusAccepted, nil
}

func (m *mockCluster) sampleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vmCalls
}

// failingChannel fails every Send or Await.
type failingChannel struct {
	sendErr  error
	exitCode int
}

func (c *failingChannel) Send(_ context.Context, cmd remote.Command) (*remote.Handle, error) {
	if c.sendErr != nil {
		return nil, c.sendErr
	}
	return &remote.Handle{ID: "h-1", Command: cmd, SentAt: time.Now()}, nil
}

func (c *failingChannel) Await(_ context.Context, h *remote.Handle) (remote.Result, error) {
	return remote.Result{Command: h.Command.Render(), ExitCode: c.exitCode, Stderr: "acli: failed"}, nil
}

func (c *failingChannel) Close() error {
	return nil
}

// staticPolicy protects a fixed list of names.
type staticPolicy struct {
	names []string
	err   error
	input []policy.VM
}

func (p *staticPolicy) Protected(_ context.Context, vms []policy.VM) ([]string, error) {
	p.input = vms
	return p.names, p.err
}

var errBoom = errors.New("boom")

// noSleep records requested waits without blocking.
type noSleep struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *noSleep) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

func testVM(name, state string, ips ...string) prism.VM {
	v := prism.VM{UUID: "uuid-" + name, Name: name, PowerState: state}
	for _, ip := range ips {
		v.NICs = append(v.NICs, prism.NIC{IPAddress: ip})
	}
	return v
}

func testApp(uuid, name, state string, actions ...string) prism.App {
	a := prism.App{
		Metadata: prism.AppMetadata{UUID: uuid, Kind: "app"},
		Status:   prism.AppStatus{Name: name, State: state},
	}
	for _, act := range actions {
		a.Status.Resources.ActionList = append(a.Status.Resources.ActionList,
			prism.AppAction{UUID: act + "-" + uuid, Name: act})
	}
	return a
}
