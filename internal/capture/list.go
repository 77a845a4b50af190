package capture

import "net"

// Candidate describes one interface for the --list-interfaces CLI surface
// (§6.4), sourced from net.Interfaces() in the teacher's plain
// enumerate-and-print style (run.go had no such flag; this follows the
// same "loop and report" shape as the rest of the teacher's startup code).
type Candidate struct {
	Name string
	MTU  int
	Up   bool
}

// ListCandidates enumerates every interface on the host.
func ListCandidates() ([]Candidate, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(ifaces))
	for _, iface := range ifaces {
		out = append(out, Candidate{
			Name: iface.Name,
			MTU:  iface.MTU,
			Up:   iface.Flags&net.FlagUp != 0,
		})
	}
	return out, nil
}
