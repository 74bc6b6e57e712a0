// Package pmtu discovers the path MTU to a peer via the kernel's routing
// table, supplementing spec §6's static MTU knob with the original's path
// MTU awareness (the distilled spec only carries a fixed default).
//
// Grounded on the teacher's netlink package (netlink/netlink_linux.go),
// but layered on vishvananda/netlink's higher-level RouteGet/LinkByIndex
// calls rather than hand-rolled NETLINK_ROUTE request building, since the
// query here is a single route lookup rather than a streamed socket dump.
package pmtu

import (
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
)

// Discover returns the link MTU the kernel would use to reach dst, by
// resolving the outbound route and reading the egress interface's MTU.
func Discover(dst net.IP) (int, error) {
	routes, err := netlink.RouteGet(dst)
	if err != nil {
		return 0, fmt.Errorf("pmtu: RouteGet(%s): %w", dst, err)
	}
	if len(routes) == 0 {
		return 0, fmt.Errorf("pmtu: no route to %s", dst)
	}
	route := routes[0]
	if route.MTU > 0 {
		return route.MTU, nil
	}
	link, err := netlink.LinkByIndex(route.LinkIndex)
	if err != nil {
		return 0, fmt.Errorf("pmtu: LinkByIndex(%d): %w", route.LinkIndex, err)
	}
	mtu := link.Attrs().MTU
	if mtu <= 0 {
		return 0, fmt.Errorf("pmtu: link %s reports MTU %d", link.Attrs().Name, mtu)
	}
	return mtu, nil
}

// DiscoverOrDefault calls Discover and falls back to def on any error,
// without logging it. The Communicator does not use it: AddConnection
// calls Discover directly and logs a discovered MTU that differs from
// cfg.MTU.
func DiscoverOrDefault(dst net.IP, def int) int {
	mtu, err := Discover(dst)
	if err != nil {
		return def
	}
	return mtu
}
