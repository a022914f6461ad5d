package entity

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/docker/go-connections/nat"

	"github.com/capsules-dev/capsules/internal/errors"
)

// Port bounds for mappings. Host ports below 1024 are privileged and refused.
const (
	MinHostPort      = 1024
	MinContainerPort = 1
	MaxPort          = 65535
)

// PortMapping forwards a host port to a capsule port. Both ports are always set.
type PortMapping struct {
	HostPort      int    `json:"host_port" yaml:"host_port"`
	ContainerPort int    `json:"container_port" yaml:"container_port"`
	Protocol      string `json:"protocol" yaml:"protocol"`
}

// String renders the mapping in the runtime's -p syntax.
func (p PortMapping) String() string {
	return fmt.Sprintf("%d:%d/%s", p.HostPort, p.ContainerPort, p.Protocol)
}

// ParsePortMapping parses "<host>:<container>[/<protocol>]".
// host ∈ [1024,65535], container ∈ [1,65535], protocol ∈ {tcp,udp}, default tcp.
func ParsePortMapping(raw string) (PortMapping, error) {
	s := strings.TrimSpace(raw)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return PortMapping{}, errors.NewInvalidPortMapping(raw, "expected exactly one ':' between host and container port")
	}

	host, err := parsePort(parts[0])
	if err != nil {
		return PortMapping{}, errors.NewInvalidPortMapping(raw, "host port: "+err.Error())
	}
	if host < MinHostPort || host > MaxPort {
		return PortMapping{}, errors.NewInvalidPortMapping(raw, fmt.Sprintf("host port must be in [%d,%d]", MinHostPort, MaxPort))
	}

	if strings.Count(parts[1], "/") > 1 || strings.HasSuffix(parts[1], "/") {
		return PortMapping{}, errors.NewInvalidPortMapping(raw, "malformed protocol suffix")
	}
	proto, containerRaw := nat.SplitProtoPort(parts[1])
	container, err := parsePort(containerRaw)
	if err != nil {
		return PortMapping{}, errors.NewInvalidPortMapping(raw, "container port: "+err.Error())
	}
	if container < MinContainerPort || container > MaxPort {
		return PortMapping{}, errors.NewInvalidPortMapping(raw, fmt.Sprintf("container port must be in [%d,%d]", MinContainerPort, MaxPort))
	}

	proto = strings.ToLower(proto)
	if proto != "tcp" && proto != "udp" {
		return PortMapping{}, errors.NewInvalidPortMapping(raw, "protocol must be tcp or udp")
	}

	return PortMapping{HostPort: host, ContainerPort: container, Protocol: proto}, nil
}

// ParsePortMappings parses every mapping, failing on the first malformed one.
func ParsePortMappings(raws []string) ([]PortMapping, error) {
	out := make([]PortMapping, 0, len(raws))
	for _, raw := range raws {
		pm, err := ParsePortMapping(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, pm)
	}
	return out, nil
}

// ParseInspectPorts parses the runtime's inspect rendering of forwarded ports:
// whitespace separated "<host>-><container>/<protocol>" entries. Entries that
// do not fit the mapping grammar are returned in skipped.
func ParseInspectPorts(out string) (mappings []PortMapping, skipped []string) {
	for _, field := range strings.Fields(out) {
		host, container, ok := strings.Cut(field, "->")
		if !ok {
			skipped = append(skipped, field)
			continue
		}
		pm, err := ParsePortMapping(host + ":" + container)
		if err != nil {
			skipped = append(skipped, field)
			continue
		}
		mappings = append(mappings, pm)
	}
	return mappings, skipped
}

// parsePort accepts only plain decimal digits.
func parsePort(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("missing")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%q is not a number", s)
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%q is out of range", s)
	}
	return n, nil
}
