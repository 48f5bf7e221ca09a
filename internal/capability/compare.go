package capability

// Satisfies implements the value comparison rules from the matcher's
// custom-capability contract:
//
//   - required is a List: worker value must be a List containing ALL
//     required items (subset).
//   - worker value is a List, required is a Scalar: worker list must
//     CONTAIN the required value.
//   - required is a numeric Scalar: worker value must be numeric and >=
//     required.
//   - otherwise: equality.
//   - a missing worker value never satisfies (callers handle "missing" by
//     not calling Satisfies at all; see workerCustom in internal/matcher).
func Satisfies(worker, required Value) bool {
	if required == nil {
		return true
	}
	if worker == nil {
		return false
	}

	if reqList, ok := required.(List); ok {
		workerItems, ok := Items(worker)
		if !ok {
			return false
		}
		for _, need := range reqList.Items {
			if !containsValue(workerItems, need) {
				return false
			}
		}
		return true
	}

	if workerList, ok := worker.(List); ok {
		return containsValue(workerList.Items, required)
	}

	if reqNum, ok := AsNumber(required); ok {
		workerNum, ok := AsNumber(worker)
		if !ok {
			return false
		}
		return workerNum >= reqNum
	}

	return Equal(worker, required)
}

// SatisfiesNegative implements the negative-requirement rule: hardware
// negatives reject when the worker meets or exceeds the stated value; for
// non-numeric negatives, equality/containment (as in Satisfies) defines
// "meets".
func SatisfiesNegative(worker, forbidden Value) bool {
	if forbidden == nil {
		return false
	}
	if worker == nil {
		// missing worker value is always safe against a negative requirement
		return false
	}
	if reqNum, ok := AsNumber(forbidden); ok {
		workerNum, ok := AsNumber(worker)
		if !ok {
			return false
		}
		return workerNum >= reqNum
	}
	return Satisfies(worker, forbidden)
}

// Equal reports deep equality between two Values.
func Equal(a, b Value) bool {
	switch av := a.(type) {
	case Scalar:
		bv, ok := b.(Scalar)
		if !ok {
			return false
		}
		if av.IsStr != bv.IsStr || av.IsNum != bv.IsNum || av.IsBool != bv.IsBool {
			return false
		}
		switch {
		case av.IsStr:
			return av.Str == bv.Str
		case av.IsNum:
			return av.Num == bv.Num
		case av.IsBool:
			return av.Bool == bv.Bool
		}
		return true
	case List:
		bv, ok := b.(List)
		if !ok || len(av.Items) != len(bv.Items) {
			return false
		}
		for i := range av.Items {
			if !Equal(av.Items[i], bv.Items[i]) {
				return false
			}
		}
		return true
	case Map:
		bv, ok := b.(Map)
		if !ok || len(av.Fields) != len(bv.Fields) {
			return false
		}
		for k, v := range av.Fields {
			bvv, ok := bv.Fields[k]
			if !ok || !Equal(v, bvv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func containsValue(items []Value, needle Value) bool {
	for _, it := range items {
		if Equal(it, needle) {
			return true
		}
	}
	return false
}

// AtLeast reports whether worker's numeric value is >= the required
// minimum. Used directly for hardware keys, where "all" waives the check
// before this is ever called.
func AtLeast(worker Value, min float64) bool {
	n, ok := AsNumber(worker)
	if !ok {
		return false
	}
	return n >= min
}
