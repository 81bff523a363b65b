package router

import (
	"fmt"
	"strings"
)

// Destination is where the supervisor sends the run next. The set is closed:
// the three workers plus the terminal Finish.
type Destination int

const (
	Finish Destination = iota
	SaaSFinder
	Market
	Research
)

// ReportName is the producer name of the synthesized final message.
const ReportName = "final_report"

var destinationNames = [...]string{
	Finish:     "FINISH",
	SaaSFinder: "saas_finder",
	Market:     "market",
	Research:   "research",
}

func (d Destination) String() string {
	if d < 0 || int(d) >= len(destinationNames) {
		return fmt.Sprintf("Destination(%d)", int(d))
	}
	return destinationNames[d]
}

func (d Destination) IsWorker() bool {
	return d == SaaSFinder || d == Market || d == Research
}

// ParseDestination maps an exact identifier to its destination.
func ParseDestination(s string) (Destination, bool) {
	for i, name := range destinationNames {
		if s == name {
			return Destination(i), true
		}
	}
	return Finish, false
}

// ParseWorker maps a producer name to a worker, ignoring case and padding.
func ParseWorker(name string) (Destination, bool) {
	d, ok := ParseDestination(strings.ToLower(strings.TrimSpace(name)))
	if !ok || !d.IsWorker() {
		return Finish, false
	}
	return d, true
}

// ParseWorkers resolves configured worker ids in order.
func ParseWorkers(ids []string) ([]Destination, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("no workers configured")
	}
	out := make([]Destination, 0, len(ids))
	seen := make(map[Destination]bool, len(ids))
	for _, id := range ids {
		d, ok := ParseDestination(id)
		if !ok || !d.IsWorker() {
			return nil, fmt.Errorf("unknown worker %q", id)
		}
		if seen[d] {
			return nil, fmt.Errorf("worker %q listed twice", id)
		}
		seen[d] = true
		out = append(out, d)
	}
	return out, nil
}
