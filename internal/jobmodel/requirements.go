package jobmodel

import "encoding/json"

var knownRequirementKeys = map[string]struct{}{
	"hardware":           {},
	"models":             {},
	"customer_isolation": {},
}

// MarshalJSON emits the known fields plus any custom capability keys
// flattened back into the object, so the wire format stays a single flat
// JSON object per requirement branch.
func (r RequirementSet) MarshalJSON() ([]byte, error) {
	out := map[string]json.RawMessage{}
	for k, v := range r.Custom {
		out[k] = v
	}
	if len(r.Hardware) > 0 {
		b, err := json.Marshal(r.Hardware)
		if err != nil {
			return nil, err
		}
		out["hardware"] = b
	}
	if len(r.Models) > 0 {
		b, err := json.Marshal(r.Models)
		if err != nil {
			return nil, err
		}
		out["models"] = b
	}
	if r.CustomerIsolation != "" {
		b, err := json.Marshal(r.CustomerIsolation)
		if err != nil {
			return nil, err
		}
		out["customer_isolation"] = b
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the known requirement keys into their typed fields
// and collects every other key into Custom, so arbitrary capability
// classes survive the round trip without code changes.
func (r *RequirementSet) UnmarshalJSON(b []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	custom := map[string]json.RawMessage{}
	for k, v := range raw {
		switch k {
		case "hardware":
			if err := json.Unmarshal(v, &r.Hardware); err != nil {
				return err
			}
		case "models":
			if err := json.Unmarshal(v, &r.Models); err != nil {
				return err
			}
		case "customer_isolation":
			if err := json.Unmarshal(v, &r.CustomerIsolation); err != nil {
				return err
			}
		default:
			custom[k] = v
		}
	}
	r.Custom = custom
	return nil
}

// IsKnownKey reports whether k is one of the requirement keys with
// dedicated typed handling (as opposed to a custom capability key).
func IsKnownKey(k string) bool {
	_, ok := knownRequirementKeys[k]
	return ok
}
