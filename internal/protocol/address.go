package protocol

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Endpoint names, in port order for tcp addresses.
const (
	EndpointPing            = "ping"
	EndpointCurrentSolution = "current-solution"
	EndpointSetEdgeLabels   = "set-edge-labels"
	EndpointUpdateSolution  = "update-solution"
	EndpointNewSolution     = "new-solution"
)

// Endpoints lists every endpoint name in port order.
var Endpoints = []string{
	EndpointPing,
	EndpointCurrentSolution,
	EndpointSetEdgeLabels,
	EndpointUpdateSolution,
	EndpointNewSolution,
}

// ErrBadAddress is returned for a base address that cannot be parsed.
var ErrBadAddress = errors.New("bad base address")

// Addr is a dialable network address.
type Addr struct {
	Network string // "unix" or "tcp"
	Address string
}

func (a Addr) String() string {
	return a.Network + "://" + a.Address
}

// URL returns a in the form the socket transports dial and listen on.
func (a Addr) URL() string {
	if a.Network == "unix" {
		return "ipc://" + a.Address
	}
	return "tcp://" + a.Address
}

// Addresses derives the address of every endpoint from a base address of the
// form unix:///path or tcp://host:port. Unix endpoints append "-name" to the
// path; tcp endpoints use consecutive ports starting at port.
func Addresses(base string) (map[string]Addr, error) {
	network, rest, ok := strings.Cut(base, "://")
	if !ok || rest == "" {
		return nil, fmt.Errorf("%w: %q", ErrBadAddress, base)
	}

	out := make(map[string]Addr, len(Endpoints))
	switch network {
	case "unix", "ipc":
		for _, name := range Endpoints {
			out[name] = Addr{Network: "unix", Address: rest + "-" + name}
		}
	case "tcp":
		host, portStr, err := net.SplitHostPort(rest)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadAddress, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil || port <= 0 || port+len(Endpoints)-1 > 65535 {
			return nil, fmt.Errorf("%w: port %q", ErrBadAddress, portStr)
		}
		for i, name := range Endpoints {
			out[name] = Addr{Network: "tcp", Address: net.JoinHostPort(host, strconv.Itoa(port+i))}
		}
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrBadAddress, network)
	}
	return out, nil
}
