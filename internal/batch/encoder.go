package batch

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Operation kinds the encoder understands. Batch-prefixed variants
// ("batch-save") validate against the underlying kind's parameter spec.
const (
	KindSave             = "save"
	KindWithdraw         = "withdraw"
	KindConvert          = "convert"
	KindRecurringSave    = "recurring-save"
	KindRecurringConvert = "recurring-convert"
	KindInitialSetup     = "initial-setup"

	batchPrefix = "batch-"
)

// paramSpec describes one required parameter and its validation.
type paramSpec struct {
	name  string
	check func(string) error
}

func amountParam(name string) paramSpec {
	return paramSpec{name: name, check: func(v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return fmt.Errorf("%s must be a positive integer", name)
		}
		return nil
	}}
}

func addressParam(name string) paramSpec {
	return paramSpec{name: name, check: func(v string) error {
		if len(v) < 4 {
			return fmt.Errorf("%s is not a valid address", name)
		}
		return nil
	}}
}

func intervalParam(name string) paramSpec {
	return paramSpec{name: name, check: func(v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 60 {
			return fmt.Errorf("%s must be at least 60 seconds", name)
		}
		return nil
	}}
}

// kindSpecs maps operation kinds to their required parameters.
var kindSpecs = map[string][]paramSpec{
	KindSave: {
		amountParam("amount"),
		addressParam("token"),
	},
	KindWithdraw: {
		amountParam("amount"),
		addressParam("to"),
	},
	KindConvert: {
		amountParam("amount"),
		addressParam("from_token"),
		addressParam("to_token"),
	},
	KindRecurringSave: {
		amountParam("amount"),
		addressParam("token"),
		intervalParam("interval_seconds"),
	},
	KindRecurringConvert: {
		amountParam("amount"),
		addressParam("from_token"),
		addressParam("to_token"),
		intervalParam("interval_seconds"),
	},
	KindInitialSetup: {
		addressParam("owner"),
	},
}

// callPayload is the wire form of an encoded call: the contract method and
// its arguments, hex-wrapped into CallDescriptor.Data.
type callPayload struct {
	Method string    `json:"method"`
	Args   []callArg `json:"args"`
}

type callArg struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Encoder validates and encodes operation requests.
type Encoder struct{}

// NewEncoder creates an encoder.
func NewEncoder() *Encoder { return &Encoder{} }

// specFor resolves the parameter spec for a kind, unwrapping batch-prefixed
// variants.
func specFor(kind string) ([]paramSpec, string, bool) {
	base := kind
	if strings.HasPrefix(kind, batchPrefix) {
		base = strings.TrimPrefix(kind, batchPrefix)
	}
	spec, ok := kindSpecs[base]
	return spec, base, ok
}

// Encode validates the request and produces its call descriptor. Unknown
// kinds and missing or malformed parameters fail locally; no network
// interaction is ever attempted here.
func (e *Encoder) Encode(req OperationRequest) (CallDescriptor, error) {
	spec, method, ok := specFor(req.Kind)
	if !ok {
		return CallDescriptor{}, fmt.Errorf("%w: %q", ErrInvalidOperationKind, req.Kind)
	}
	if req.Target == "" {
		return CallDescriptor{}, fmt.Errorf("%w: target", ErrMissingParameter)
	}
	if req.Value < 0 {
		return CallDescriptor{}, fmt.Errorf("%w: value must not be negative", ErrMalformedParameter)
	}

	payload := callPayload{Method: method, Args: make([]callArg, 0, len(spec))}
	for _, p := range spec {
		v, present := req.Params[p.name]
		if !present || v == "" {
			return CallDescriptor{}, fmt.Errorf("%w: %s (kind %s)", ErrMissingParameter, p.name, req.Kind)
		}
		if err := p.check(v); err != nil {
			return CallDescriptor{}, fmt.Errorf("%w: %v", ErrMalformedParameter, err)
		}
		payload.Args = append(payload.Args, callArg{Name: p.name, Value: v})
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return CallDescriptor{}, fmt.Errorf("encode payload: %w", err)
	}

	return CallDescriptor{
		Target: req.Target,
		Data:   hex.EncodeToString(data),
		Value:  req.Value,
	}, nil
}

// KnownKinds returns the operation kinds the encoder accepts, excluding
// batch-prefixed variants.
func KnownKinds() []string {
	kinds := make([]string, 0, len(kindSpecs))
	for k := range kindSpecs {
		kinds = append(kinds, k)
	}
	return kinds
}
