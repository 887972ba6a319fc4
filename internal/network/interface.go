package network

import (
	"errors"
	"fmt"
	"net"
	"strings"

	gopsnet "github.com/shirou/gopsutil/v4/net"
)

// LoopbackInterface returns the platform's loopback interface name.
func LoopbackInterface() (string, error) {
	ifaces, err := gopsnet.Interfaces()
	if err != nil {
		return "", fmt.Errorf("failed to list network interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if strings.HasPrefix(iface.Name, "lo") {
			return iface.Name, nil
		}
	}
	return "", errors.New("could not find loopback interface")
}

// InterfaceIP returns the IPv4 address assigned to the named interface.
func InterfaceIP(name string) (string, error) {
	ifaces, err := gopsnet.Interfaces()
	if err != nil {
		return "", fmt.Errorf("failed to list network interfaces: %w", err)
	}

	available := make([]string, 0, len(ifaces))
	for _, iface := range ifaces {
		available = append(available, iface.Name)
		if iface.Name != name {
			continue
		}
		for _, addr := range iface.Addrs {
			ip := parseAddr(addr.Addr)
			if ip != nil && ip.To4() != nil {
				return ip.String(), nil
			}
		}
		return "", fmt.Errorf("interface %s doesn't have an IPv4 address", name)
	}

	return "", fmt.Errorf("%s is not a valid network interface, valid interfaces are: %s",
		name, strings.Join(available, ", "))
}

// CurrentIP resolves the bind address for an interface name, mapping the
// generic "lo" onto whatever the platform calls its loopback interface.
func CurrentIP(name string) (string, error) {
	if name == "lo" {
		lo, err := LoopbackInterface()
		if err != nil {
			return "", err
		}
		name = lo
	}
	return InterfaceIP(name)
}

// parseAddr handles both CIDR ("127.0.0.1/8") and bare address forms.
func parseAddr(s string) net.IP {
	if ip, _, err := net.ParseCIDR(s); err == nil {
		return ip
	}
	return net.ParseIP(s)
}
