package scenario

import "time"

// BuiltIn returns predefined disruption scenarios.
func BuiltIn() map[string]Scenario {
	return map[string]Scenario{
		"steady": {
			Name:        "Steady",
			Description: "No injected faults; establishes the latency baseline.",
			Phases: []Phase{
				{Name: "baseline", Condition: "normal"},
			},
		},
		"network-partition": {
			Name:        "Network partition",
			Description: "Replicas become unreachable for thirty seconds, then the network heals.",
			Phases: []Phase{
				{Name: "baseline", Condition: "normal"},
				{Name: "partition", At: 30 * time.Second, Condition: "partitioned"},
				{Name: "healed", At: 60 * time.Second, Condition: "normal"},
			},
		},
		"partition-then-outage": {
			Name:        "Partition then outage",
			Description: "Network degrades at thirty seconds and a replica is taken down at sixty.",
			Phases: []Phase{
				{Name: "baseline", Condition: "normal"},
				{Name: "degraded", At: 30 * time.Second, Condition: "disrupted"},
				{Name: "outage", At: 60 * time.Second, Condition: "replica_down"},
				{Name: "recovered", At: 90 * time.Second, Condition: "normal"},
			},
		},
	}
}

// Lookup returns a built-in scenario by name, or loads path when no built-in matches.
func Lookup(nameOrPath string) (*Scenario, error) {
	if s, ok := BuiltIn()[nameOrPath]; ok {
		return &s, nil
	}
	return Load(nameOrPath)
}
