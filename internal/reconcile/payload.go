package reconcile

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// Kind tags a classified push payload.
type Kind int

const (
	Unrecognized Kind = iota
	FullSnapshot
	EntityPatch
)

func (k Kind) String() string {
	switch k {
	case FullSnapshot:
		return "full_snapshot"
	case EntityPatch:
		return "entity_patch"
	default:
		return "unrecognized"
	}
}

// Payload is a push payload validated against a collection's shape.
type Payload struct {
	Kind Kind

	// List holds the raw collection for FullSnapshot.
	List json.RawMessage

	// Name and Fields describe an EntityPatch.
	Name   string
	Fields json.RawMessage

	// Reason explains an Unrecognized payload.
	Reason string
}

// Classify inspects payload without decoding it into entity types. A list
// under one of listKeys is a full snapshot; otherwise a string value under
// one of identityKeys names a single entity to patch. A top-level "data"
// object is unwrapped first.
func Classify(payload []byte, listKeys, identityKeys []string) Payload {
	if !gjson.ValidBytes(payload) {
		return Payload{Kind: Unrecognized, Reason: "malformed JSON"}
	}

	root := gjson.ParseBytes(payload)
	if !root.IsObject() {
		return Payload{Kind: Unrecognized, Reason: "payload is not an object"}
	}
	if data := root.Get("data"); data.IsObject() && !hasAny(root, listKeys) && !hasAny(root, identityKeys) {
		root = data
	}

	for _, key := range listKeys {
		if v := root.Get(gjson.Escape(key)); v.IsArray() {
			return Payload{Kind: FullSnapshot, List: json.RawMessage(v.Raw)}
		}
	}

	for _, key := range identityKeys {
		v := root.Get(gjson.Escape(key))
		if v.Type == gjson.String && v.Str != "" {
			return Payload{Kind: EntityPatch, Name: v.Str, Fields: json.RawMessage(root.Raw)}
		}
	}

	return Payload{Kind: Unrecognized, Reason: "no collection or identity key"}
}

func hasAny(root gjson.Result, keys []string) bool {
	for _, key := range keys {
		if root.Get(gjson.Escape(key)).Exists() {
			return true
		}
	}
	return false
}

// overlay returns a new entity with every key present in fields written over
// base. base is not modified.
func overlay[T any](base *T, fields json.RawMessage) (*T, error) {
	encoded, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}

	merged := map[string]json.RawMessage{}
	if err := json.Unmarshal(encoded, &merged); err != nil {
		return nil, err
	}
	patch := map[string]json.RawMessage{}
	if err := json.Unmarshal(fields, &patch); err != nil {
		return nil, err
	}
	for k, v := range patch {
		merged[k] = v
	}

	combined, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}
	out := new(T)
	if err := json.Unmarshal(combined, out); err != nil {
		return nil, err
	}
	return out, nil
}
