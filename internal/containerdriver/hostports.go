package containerdriver

import (
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// shipPort is the port every Ship worker listens on inside its container.
const shipPort = 8123

// portPublisher sets up iptables DNAT rules that let the control plane (and
// anything else on the host) reach a Ship's worker by host port instead of
// relying on the container's network-namespace IP being directly routable.
// containerd, unlike Docker, has no built-in PortBindings concept, so Bay
// publishes the port itself the same way a host-mode service would.
type portPublisher struct {
	mu        sync.Mutex
	published map[string]int // shipID -> host port
}

func newPortPublisher() *portPublisher {
	return &portPublisher{published: make(map[string]int)}
}

// publish forwards hostPort on the host to containerIP:shipPort for shipID.
// Failures are non-fatal to the caller: Bay still has the container's
// network-namespace IP and can usually reach it directly when the CNI
// bridge is host-routable, so a failed publish only degrades
// external-to-host reachability, not Bay's own forwarding path.
func (p *portPublisher) publish(shipID, containerIP string, hostPort int) error {
	protocol := "tcp"

	dnat := []string{
		"-t", "nat", "-A", "PREROUTING",
		"-p", protocol, "--dport", fmt.Sprintf("%d", hostPort),
		"-j", "DNAT", "--to-destination", fmt.Sprintf("%s:%d", containerIP, shipPort),
	}
	if err := runIPTables(dnat); err != nil {
		return fmt.Errorf("add DNAT rule: %w", err)
	}

	masq := []string{
		"-t", "nat", "-A", "POSTROUTING",
		"-p", protocol, "-d", containerIP, "--dport", fmt.Sprintf("%d", shipPort),
		"-j", "MASQUERADE",
	}
	if err := runIPTables(masq); err != nil {
		p.removeRules(containerIP, hostPort)
		return fmt.Errorf("add MASQUERADE rule: %w", err)
	}

	forward := []string{
		"-A", "FORWARD",
		"-p", protocol, "-d", containerIP, "--dport", fmt.Sprintf("%d", shipPort),
		"-j", "ACCEPT",
	}
	if err := runIPTables(forward); err != nil {
		p.removeRules(containerIP, hostPort)
		return fmt.Errorf("add FORWARD rule: %w", err)
	}

	p.mu.Lock()
	p.published[shipID] = hostPort
	p.mu.Unlock()
	return nil
}

// unpublish removes the iptables rules for shipID, if any were installed.
func (p *portPublisher) unpublish(shipID, containerIP string) {
	p.mu.Lock()
	hostPort, ok := p.published[shipID]
	delete(p.published, shipID)
	p.mu.Unlock()

	if !ok {
		return
	}
	p.removeRules(containerIP, hostPort)
}

func (p *portPublisher) removeRules(containerIP string, hostPort int) {
	protocol := "tcp"

	runIPTables([]string{
		"-t", "nat", "-D", "PREROUTING",
		"-p", protocol, "--dport", fmt.Sprintf("%d", hostPort),
		"-j", "DNAT", "--to-destination", fmt.Sprintf("%s:%d", containerIP, shipPort),
	})
	runIPTables([]string{
		"-t", "nat", "-D", "POSTROUTING",
		"-p", protocol, "-d", containerIP, "--dport", fmt.Sprintf("%d", shipPort),
		"-j", "MASQUERADE",
	})
	runIPTables([]string{
		"-D", "FORWARD",
		"-p", protocol, "-d", containerIP, "--dport", fmt.Sprintf("%d", shipPort),
		"-j", "ACCEPT",
	})
}

func runIPTables(args []string) error {
	cmd := exec.Command("iptables", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("iptables failed: %w (output: %s)", err, strings.TrimSpace(string(output)))
	}
	return nil
}
