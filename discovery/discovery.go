// Package discovery advertises the agent on the local network over mDNS and
// finds advertised agents from the companion side.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"
)

const ServiceType = "_hidlink._tcp"

// TXTRecords builds the key=value records published with the service.
func TXTRecords(version, hostId string) []string {
	return []string{"version=" + version, "host_id=" + hostId}
}

// ParseTXT turns key=value records into a map. Records without '=' are kept
// with an empty value.
func ParseTXT(fields []string) map[string]string {
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		k, v, _ := strings.Cut(f, "=")
		out[k] = v
	}
	return out
}

// Advertiser publishes the companion port until shut down.
type Advertiser struct {
	Instance string
	Port     int
	Version  string
	HostId   string

	mu     sync.Mutex
	server *mdns.Server
}

func NewAdvertiser(hostId, version string, port int) *Advertiser {
	instance, err := os.Hostname()
	if err != nil || instance == "" {
		instance = hostId
	}
	return &Advertiser{Instance: instance, Port: port, Version: version, HostId: hostId}
}

func (a *Advertiser) Start() error {
	svc, err := mdns.NewMDNSService(a.Instance, ServiceType, "", "", a.Port, nil, TXTRecords(a.Version, a.HostId))
	if err != nil {
		return fmt.Errorf("failed to build mDNS service: %w", err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: svc})
	if err != nil {
		return fmt.Errorf("failed to start mDNS server: %w", err)
	}

	a.mu.Lock()
	a.server = server
	a.mu.Unlock()
	slog.Info("Advertising over mDNS", "service", ServiceType, "instance", a.Instance, "port", a.Port)
	return nil
}

func (a *Advertiser) Shutdown() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server == nil {
		return nil
	}
	err := a.server.Shutdown()
	a.server = nil
	return err
}

// Agent is an agent found on the network.
type Agent struct {
	Name    string
	Address string
	Port    int
	Version string
	HostId  string
}

// URL is the WebSocket endpoint of the agent.
func (a Agent) URL() string {
	return fmt.Sprintf("ws://%s:%d/", a.Address, a.Port)
}

func fromEntry(entry *mdns.ServiceEntry) (Agent, error) {
	var address string
	if entry.AddrV4 != nil {
		address = entry.AddrV4.String()
	} else if entry.AddrV6 != nil {
		address = fmt.Sprintf("[%s]", entry.AddrV6.String())
	} else {
		return Agent{}, fmt.Errorf("no valid address found for %s", entry.Name)
	}
	txt := ParseTXT(entry.InfoFields)
	return Agent{
		Name:    entry.Name,
		Address: address,
		Port:    entry.Port,
		Version: txt["version"],
		HostId:  txt["host_id"],
	}, nil
}

// Lookup returns the first agent that answers within timeout.
func Lookup(ctx context.Context, timeout time.Duration) (Agent, error) {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	entriesCh := make(chan *mdns.ServiceEntry, 4)

	params := mdns.DefaultParams(ServiceType)
	params.Entries = entriesCh
	params.Timeout = timeout
	params.DisableIPv6 = true

	go func() {
		defer close(entriesCh)
		if err := mdns.Query(params); err != nil {
			slog.Warn("mDNS query failed", "error", err.Error())
		}
	}()

	for {
		select {
		case entry, ok := <-entriesCh:
			if !ok {
				return Agent{}, fmt.Errorf("no %s service found", ServiceType)
			}
			agent, err := fromEntry(entry)
			if err != nil {
				slog.Debug("Skipping mDNS entry", "error", err.Error())
				continue
			}
			slog.Info("Discovered agent", "name", agent.Name, "address", agent.Address, "port", agent.Port)
			return agent, nil
		case <-ctx.Done():
			return Agent{}, ctx.Err()
		}
	}
}
