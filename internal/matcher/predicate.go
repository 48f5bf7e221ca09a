package matcher

import (
	"github.com/flowmesh/jobbroker/internal/capability"
	"github.com/flowmesh/jobbroker/internal/jobmodel"
)

// Eligible reports whether worker may claim job, applying every predicate
// in spec order: service, workflow affinity, customer isolation, positive
// requirements, negative requirements. It is the Go mirror of script.lua's
// matching branch, kept in lockstep by hand since Lua has no shared type
// system with Go; predicate_test.go exercises this Go side only, and the
// script has no test of its own.
func Eligible(job jobmodel.Job, worker jobmodel.Worker) bool {
	if !worker.HasService(job.ServiceRequired) {
		return false
	}
	if job.WorkflowID != "" && worker.WorkflowID != "" && worker.WorkflowID != job.WorkflowID {
		return false
	}
	if !customerAllowed(job.CustomerID, worker.CustomerAccess) {
		return false
	}
	if !positiveSatisfied(job.Requirements.Positive, worker) {
		return false
	}
	if negativeViolated(job.Requirements.Negative, worker) {
		return false
	}
	return true
}

func customerAllowed(customerID string, access jobmodel.CustomerAccess) bool {
	if customerID == "" {
		return true
	}
	for _, denied := range access.DeniedCustomers {
		if denied == customerID {
			return false
		}
	}
	switch access.Isolation {
	case jobmodel.IsolationStrict:
		for _, allowed := range access.AllowedCustomers {
			if allowed == customerID {
				return true
			}
		}
		return false
	default:
		return true
	}
}

func positiveSatisfied(req jobmodel.RequirementSet, worker jobmodel.Worker) bool {
	for key, want := range req.Hardware {
		if want.All {
			continue
		}
		have, ok := worker.Hardware[key]
		if !ok {
			return false
		}
		if have < want.Value {
			return false
		}
	}
	for service, models := range req.Models {
		have, ok := worker.Models[service]
		if !ok {
			return false
		}
		if !containsAll(have, models) {
			return false
		}
	}
	if req.CustomerIsolation != "" {
		if string(worker.CustomerAccess.Isolation) != req.CustomerIsolation {
			return false
		}
	}
	for key, raw := range req.Custom {
		want, err := capability.FromJSON(raw)
		if err != nil {
			return false
		}
		if capability.IsAllSentinel(want) {
			continue
		}
		have, ok := workerCustom(worker, key)
		if !ok {
			return false
		}
		if !capability.Satisfies(have, want) {
			return false
		}
	}
	return true
}

func negativeViolated(req jobmodel.RequirementSet, worker jobmodel.Worker) bool {
	for key, forbid := range req.Hardware {
		if forbid.All {
			return true
		}
		have, ok := worker.Hardware[key]
		if !ok {
			continue
		}
		if have >= forbid.Value {
			return true
		}
	}
	for key, raw := range req.Custom {
		forbid, err := capability.FromJSON(raw)
		if err != nil {
			continue
		}
		have, ok := workerCustom(worker, key)
		if !ok {
			continue
		}
		if capability.SatisfiesNegative(have, forbid) {
			return true
		}
	}
	return false
}

func workerCustom(worker jobmodel.Worker, key string) (capability.Value, bool) {
	raw, ok := worker.Custom[key]
	if !ok {
		return nil, false
	}
	v, err := capability.FromJSON(raw)
	if err != nil {
		return nil, false
	}
	return v, true
}

func containsAll(have []string, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, h := range have {
		set[h] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; !ok {
			return false
		}
	}
	return true
}
