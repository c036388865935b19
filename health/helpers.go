package health

import (
	"strconv"
	"time"
)

func newStatus(component, state, message string) Status {
	return Status{
		Component: component,
		Healthy:   state == StateHealthy,
		Status:    state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy creates a healthy status
func NewHealthy(component, message string) Status {
	return newStatus(component, StateHealthy, message)
}

// NewUnhealthy creates an unhealthy status
func NewUnhealthy(component, message string) Status {
	return newStatus(component, StateUnhealthy, message)
}

// NewDegraded creates a degraded status
func NewDegraded(component, message string) Status {
	return newStatus(component, StateDegraded, message)
}

// Aggregate rolls subs up into one status: unhealthy if any sub is
// unhealthy, else degraded if any is degraded, else healthy. An empty list
// is healthy.
func Aggregate(component string, subs []Status) Status {
	if len(subs) == 0 {
		return NewHealthy(component, "No adapters to check")
	}

	unhealthy, degraded := 0, 0
	for _, sub := range subs {
		switch {
		case sub.IsUnhealthy():
			unhealthy++
		case sub.IsDegraded():
			degraded++
		}
	}

	var status Status
	switch {
	case unhealthy > 0:
		status = NewUnhealthy(component, pluralize(unhealthy, "adapter is", "adapters are")+" unhealthy")
	case degraded > 0:
		status = NewDegraded(component, pluralize(degraded, "adapter is", "adapters are")+" degraded")
	default:
		status = NewHealthy(component, "All adapters are healthy")
	}
	status.SubStatuses = make([]Status, len(subs))
	copy(status.SubStatuses, subs)
	return status
}

func pluralize(n int, one, many string) string {
	if n == 1 {
		return "1 " + one
	}
	return strconv.Itoa(n) + " " + many
}
