// Package discovery announces the running outputs over mDNS and finds other instances.
package discovery

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/sirupsen/logrus"
)

const (
	FeatureName = "mdns"

	ServiceType = "_hrmon._tcp"
	Domain      = "local."

	DefaultBrowseTimeout = 3 * time.Second
)

// Endpoints are the ports advertised in TXT records. Zero means not served.
type Endpoints struct {
	HTTPPort      int
	WebSocketPort int
}

// Instance is a monitor found on the network.
type Instance struct {
	Name          string   `json:"name"`
	Host          string   `json:"host"`
	Addresses     []string `json:"addresses"`
	HTTPPort      int      `json:"http_port,omitempty"`
	WebSocketPort int      `json:"websocket_port,omitempty"`
	Path          string   `json:"path,omitempty"`
}

// registerFunc is zeroconf.Register; tests replace it.
var registerFunc = func(instance, service, domain string, port int, text []string) (shutdowner, error) {
	return zeroconf.Register(instance, service, domain, port, text, nil)
}

type shutdowner interface {
	Shutdown()
}

// Announcer registers the service while enabled.
type Announcer struct {
	instance  string
	endpoints func() Endpoints
	logger    *logrus.Logger

	mu     sync.Mutex
	server shutdowner
}

// NewAnnouncer creates a stopped announcer. endpoints is read on every Start
// so the TXT records follow the outputs that are enabled at that time.
func NewAnnouncer(instance string, endpoints func() Endpoints, logger *logrus.Logger) *Announcer {
	if logger == nil {
		logger = logrus.New()
	}
	if instance == "" {
		host, _ := os.Hostname()
		instance = "hrmon"
		if host != "" {
			instance = "hrmon on " + host
		}
	}
	return &Announcer{instance: instance, endpoints: endpoints, logger: logger}
}

func (a *Announcer) Name() string { return FeatureName }

func (a *Announcer) Start(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		return nil
	}

	ep := a.endpoints()
	port := ep.HTTPPort
	if port == 0 {
		port = ep.WebSocketPort
	}
	if port == 0 {
		return fmt.Errorf("nothing to announce: HTTP and WebSocket outputs are disabled")
	}

	text := TXTRecords(ep)
	server, err := registerFunc(a.instance, ServiceType, Domain, port, text)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}
	a.server = server

	a.logger.WithFields(logrus.Fields{
		"instance": a.instance,
		"port":     port,
		"txt":      strings.Join(text, " "),
	}).Info("Announcing over mDNS")
	return nil
}

func (a *Announcer) Stop(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
		a.logger.WithField("instance", a.instance).Info("mDNS announcement withdrawn")
	}
	return nil
}

// TXTRecords renders the endpoints as key=value records.
func TXTRecords(ep Endpoints) []string {
	txt := []string{"path=/heartrate"}
	if ep.HTTPPort > 0 {
		txt = append(txt, "http="+strconv.Itoa(ep.HTTPPort))
	}
	if ep.WebSocketPort > 0 {
		txt = append(txt, "ws="+strconv.Itoa(ep.WebSocketPort))
	}
	return txt
}

// Browse lists instances that answer within the timeout.
func Browse(ctx context.Context, timeout time.Duration, logger *logrus.Logger) ([]Instance, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if timeout <= 0 {
		timeout = DefaultBrowseTimeout
	}

	resolver, err := zeroconf.NewResolver()
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	var found []Instance
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range entries {
			inst := entryToInstance(e)
			logger.WithFields(logrus.Fields{
				"instance": inst.Name,
				"host":     inst.Host,
			}).Debug("Found instance")
			found = append(found, inst)
		}
	}()

	browseCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := resolver.Browse(browseCtx, ServiceType, Domain, entries); err != nil {
		cancel()
		<-done
		return nil, fmt.Errorf("mdns browse: %w", err)
	}

	<-browseCtx.Done()
	<-done

	sort.Slice(found, func(i, j int) bool { return found[i].Name < found[j].Name })
	return found, nil
}

func entryToInstance(e *zeroconf.ServiceEntry) Instance {
	inst := Instance{
		Name: e.Instance,
		Host: e.HostName,
	}
	for _, ip := range e.AddrIPv4 {
		inst.Addresses = append(inst.Addresses, ip.String())
	}
	for _, ip := range e.AddrIPv6 {
		inst.Addresses = append(inst.Addresses, ip.String())
	}

	for _, t := range e.Text {
		k, v, ok := strings.Cut(t, "=")
		if !ok {
			continue
		}
		switch k {
		case "http":
			inst.HTTPPort, _ = strconv.Atoi(v)
		case "ws":
			inst.WebSocketPort, _ = strconv.Atoi(v)
		case "path":
			inst.Path = v
		}
	}
	return inst
}
