package matcher

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flowmesh/jobbroker/internal/jobmodel"
)

func rawJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestEligibleServiceMismatch(t *testing.T) {
	job := jobmodel.Job{ServiceRequired: "transcode"}
	worker := jobmodel.Worker{Services: []string{"render"}}
	assert.False(t, Eligible(job, worker))
}

func TestEligibleWorkflowAffinity(t *testing.T) {
	job := jobmodel.Job{ServiceRequired: "render", WorkflowID: "wf-1"}

	boundToOther := jobmodel.Worker{Services: []string{"render"}, WorkflowID: "wf-2"}
	assert.False(t, Eligible(job, boundToOther))

	boundToSame := jobmodel.Worker{Services: []string{"render"}, WorkflowID: "wf-1"}
	assert.True(t, Eligible(job, boundToSame))

	unbound := jobmodel.Worker{Services: []string{"render"}}
	assert.True(t, Eligible(job, unbound))
}

func TestEligibleCustomerIsolation(t *testing.T) {
	job := jobmodel.Job{ServiceRequired: "render", CustomerID: "acme"}

	strictDenied := jobmodel.Worker{
		Services: []string{"render"},
		CustomerAccess: jobmodel.CustomerAccess{
			Isolation:        jobmodel.IsolationStrict,
			AllowedCustomers: []string{"other-co"},
		},
	}
	assert.False(t, Eligible(job, strictDenied))

	strictAllowed := jobmodel.Worker{
		Services: []string{"render"},
		CustomerAccess: jobmodel.CustomerAccess{
			Isolation:        jobmodel.IsolationStrict,
			AllowedCustomers: []string{"acme"},
		},
	}
	assert.True(t, Eligible(job, strictAllowed))

	explicitlyDenied := jobmodel.Worker{
		Services: []string{"render"},
		CustomerAccess: jobmodel.CustomerAccess{
			Isolation:       jobmodel.IsolationLoose,
			DeniedCustomers: []string{"acme"},
		},
	}
	assert.False(t, Eligible(job, explicitlyDenied))
}

func TestEligibleHardwarePositiveRequirement(t *testing.T) {
	job := jobmodel.Job{
		ServiceRequired: "render",
		Requirements: jobmodel.Requirements{
			Positive: jobmodel.RequirementSet{
				Hardware: map[string]jobmodel.CapabilityNumber{"vram_gb": {Value: 24}},
			},
		},
	}

	underpowered := jobmodel.Worker{Services: []string{"render"}, Hardware: map[string]float64{"vram_gb": 16}}
	assert.False(t, Eligible(job, underpowered))

	sufficient := jobmodel.Worker{Services: []string{"render"}, Hardware: map[string]float64{"vram_gb": 24}}
	assert.True(t, Eligible(job, sufficient))

	missingField := jobmodel.Worker{Services: []string{"render"}}
	assert.False(t, Eligible(job, missingField))
}

func TestEligibleHardwareAllSentinelWaivesCheck(t *testing.T) {
	job := jobmodel.Job{
		ServiceRequired: "render",
		Requirements: jobmodel.Requirements{
			Positive: jobmodel.RequirementSet{
				Hardware: map[string]jobmodel.CapabilityNumber{"vram_gb": {All: true}},
			},
		},
	}
	worker := jobmodel.Worker{Services: []string{"render"}}
	assert.True(t, Eligible(job, worker))
}

func TestEligibleHardwareNegativeRequirement(t *testing.T) {
	job := jobmodel.Job{
		ServiceRequired: "render",
		Requirements: jobmodel.Requirements{
			Negative: jobmodel.RequirementSet{
				Hardware: map[string]jobmodel.CapabilityNumber{"vram_gb": {Value: 8}},
			},
		},
	}
	meetsForbidden := jobmodel.Worker{Services: []string{"render"}, Hardware: map[string]float64{"vram_gb": 16}}
	assert.False(t, Eligible(job, meetsForbidden))

	below := jobmodel.Worker{Services: []string{"render"}, Hardware: map[string]float64{"vram_gb": 4}}
	assert.True(t, Eligible(job, below))
}

func TestEligibleModelsRequirement(t *testing.T) {
	job := jobmodel.Job{
		ServiceRequired: "inference",
		Requirements: jobmodel.Requirements{
			Positive: jobmodel.RequirementSet{
				Models: map[string][]string{"inference": {"llama-70b"}},
			},
		},
	}
	missing := jobmodel.Worker{Services: []string{"inference"}}
	assert.False(t, Eligible(job, missing))

	partial := jobmodel.Worker{
		Services: []string{"inference"},
		Models:   map[string][]string{"inference": {"mixtral-8x7b"}},
	}
	assert.False(t, Eligible(job, partial))

	satisfied := jobmodel.Worker{
		Services: []string{"inference"},
		Models:   map[string][]string{"inference": {"llama-70b", "mixtral-8x7b"}},
	}
	assert.True(t, Eligible(job, satisfied))
}

func TestEligibleCustomCapabilityPositiveAllSentinel(t *testing.T) {
	job := jobmodel.Job{
		ServiceRequired: "render",
		Requirements: jobmodel.Requirements{
			Positive: jobmodel.RequirementSet{
				Custom: map[string]json.RawMessage{"region": rawJSON(t, "all")},
			},
		},
	}
	worker := jobmodel.Worker{Services: []string{"render"}}
	assert.True(t, Eligible(job, worker))
}

func TestEligibleCustomCapabilityListSubset(t *testing.T) {
	job := jobmodel.Job{
		ServiceRequired: "render",
		Requirements: jobmodel.Requirements{
			Positive: jobmodel.RequirementSet{
				Custom: map[string]json.RawMessage{"codecs": rawJSON(t, []string{"av1", "h264"})},
			},
		},
	}
	insufficient := jobmodel.Worker{
		Services: []string{"render"},
		Custom:   map[string]json.RawMessage{"codecs": rawJSON(t, []string{"h264"})},
	}
	assert.False(t, Eligible(job, insufficient))

	sufficient := jobmodel.Worker{
		Services: []string{"render"},
		Custom:   map[string]json.RawMessage{"codecs": rawJSON(t, []string{"h264", "av1", "vp9"})},
	}
	assert.True(t, Eligible(job, sufficient))
}

func TestEligibleCustomCapabilityNumericMinimum(t *testing.T) {
	job := jobmodel.Job{
		ServiceRequired: "render",
		Requirements: jobmodel.Requirements{
			Positive: jobmodel.RequirementSet{
				Custom: map[string]json.RawMessage{"bandwidth_mbps": rawJSON(t, 500)},
			},
		},
	}
	slow := jobmodel.Worker{
		Services: []string{"render"},
		Custom:   map[string]json.RawMessage{"bandwidth_mbps": rawJSON(t, 100)},
	}
	assert.False(t, Eligible(job, slow))

	fast := jobmodel.Worker{
		Services: []string{"render"},
		Custom:   map[string]json.RawMessage{"bandwidth_mbps": rawJSON(t, 1000)},
	}
	assert.True(t, Eligible(job, fast))
}
