package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformed reports a payload that is not a JSON object.
	ErrMalformed = errors.New("malformed payload")
	// ErrUnknownCode reports a code outside KnownCodes.
	ErrUnknownCode = errors.New("unknown information code")
	// ErrSchemaMismatch reports a known code whose body does not fit its variant.
	ErrSchemaMismatch = errors.New("schema mismatch")
)

type decodeFunc func(code InfoCode, raw []byte, fields map[string]json.RawMessage) (Message, error)

// validator is implemented by variants with nested required fields.
type validator interface {
	validate() error
}

var decoders = map[InfoCode]decodeFunc{
	CodeJMAQuake:            decodeAs[JMAQuake]("issue", "earthquake"),
	CodeJMATsunami:          decodeAs[JMATsunami]("cancelled", "issue"),
	CodeEEWDetection:        decodeAs[EEWDetection]("type"),
	CodeAreapeers:           decodeAs[Areapeers]("areas"),
	CodeEEW:                 decodeAs[EEW]("issue", "cancelled"),
	CodeUserquake:           decodeAs[Userquake]("area"),
	CodeUserquakeEvaluation: decodeAs[UserquakeEvaluation]("count", "confidence"),
}

// IsKnownCode reports whether the parser has a decoder for code.
func IsKnownCode(code InfoCode) bool {
	_, ok := decoders[code]
	return ok
}

// ParseMessage decodes one P2P JSON object into its variant. Unknown fields
// are ignored. The returned error wraps ErrMalformed, ErrUnknownCode or
// ErrSchemaMismatch.
func ParseMessage(raw []byte) (Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: null payload", ErrMalformed)
	}

	rawCode, ok := fields["code"]
	if !ok {
		return nil, fmt.Errorf("%w: missing code", ErrSchemaMismatch)
	}
	var code InfoCode
	if err := json.Unmarshal(rawCode, &code); err != nil {
		return nil, fmt.Errorf("%w: code: %v", ErrSchemaMismatch, err)
	}

	decode, ok := decoders[code]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCode, code)
	}
	if err := requireKeys(code, fields, "time"); err != nil {
		return nil, err
	}
	return decode(code, raw, fields)
}

func decodeAs[T Message](required ...string) decodeFunc {
	return func(code InfoCode, raw []byte, fields map[string]json.RawMessage) (Message, error) {
		if err := requireKeys(code, fields, required...); err != nil {
			return nil, err
		}
		var m T
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("%w: code %d: %v", ErrSchemaMismatch, code, err)
		}
		if v, ok := any(m).(validator); ok {
			if err := v.validate(); err != nil {
				return nil, fmt.Errorf("%w: code %d: %v", ErrSchemaMismatch, code, err)
			}
		}
		return m, nil
	}
}

func requireKeys(code InfoCode, fields map[string]json.RawMessage, keys ...string) error {
	for _, k := range keys {
		v, ok := fields[k]
		if !ok || string(v) == "null" {
			return fmt.Errorf("%w: code %d: missing %q", ErrSchemaMismatch, code, k)
		}
	}
	return nil
}

func (q JMAQuake) validate() error {
	switch {
	case q.Issue.Time == "":
		return errors.New("missing issue.time")
	case q.Issue.Type == "":
		return errors.New("missing issue.type")
	case q.Earthquake.Time == "":
		return errors.New("missing earthquake.time")
	}
	for i, p := range q.Points {
		if p.Pref == "" || p.Addr == "" {
			return fmt.Errorf("point %d: missing pref or addr", i)
		}
	}
	return nil
}

func (t JMATsunami) validate() error {
	if t.Issue.Time == "" || t.Issue.Type == "" {
		return errors.New("missing issue.time or issue.type")
	}
	for i, a := range t.Areas {
		if a.Grade == "" || a.Name == "" {
			return fmt.Errorf("area %d: missing grade or name", i)
		}
	}
	return nil
}

func (e EEW) validate() error {
	if e.Issue.EventID == "" || e.Issue.Serial == "" {
		return errors.New("missing issue.eventId or issue.serial")
	}
	return nil
}
