package observerproto

import (
	"encoding/json"
	"testing"
)

func TestIsKnownCode(t *testing.T) {
	cases := []string{
		"",
		ErrProtoBadRequest,
		ErrProtoVersion,
		ErrBadRequest,
		ErrRateLimit,
		ErrBusy,
		ErrInternal,
	}
	for _, c := range cases {
		if !IsKnownCode(c) {
			t.Fatalf("expected known code: %q", c)
		}
	}
	if IsKnownCode("E_NOT_DEFINED") {
		t.Fatalf("expected unknown code rejected")
	}
}

func TestSchemas_ValidateSamples(t *testing.T) {
	ok := map[string]string{
		TypeHello: `{"type":"HELLO","protocol_version":"1.0","name":"walker"}`,
		TypeMove:  `{"type":"MOVE","protocol_version":"1.0","pos":[9.5,0,-3]}`,
	}
	for typ, raw := range ok {
		if err := Validate(typ, []byte(raw)); err != nil {
			t.Fatalf("%s: %v", typ, err)
		}
	}

	bad := map[string]string{
		"missing pos":  `{"type":"MOVE","protocol_version":"1.0"}`,
		"short pos":    `{"type":"MOVE","protocol_version":"1.0","pos":[1,2]}`,
		"string coord": `{"type":"MOVE","protocol_version":"1.0","pos":[1,"2",3]}`,
	}
	for name, raw := range bad {
		if err := Validate(TypeMove, []byte(raw)); err == nil {
			t.Fatalf("%s: expected schema error", name)
		}
	}
	if err := Validate(TypeMove, []byte(`{`)); err == nil {
		t.Fatalf("expected json error")
	}
	if err := Validate("UNKNOWN", []byte(`{}`)); err != nil {
		t.Fatalf("types without schema should pass: %v", err)
	}
}

func TestSchemas_TickMessageMatches(t *testing.T) {
	msg := TickMsg{
		Type:            TypeTick,
		ProtocolVersion: Version,
		Tick:            3,
		Observer:        [3]float64{30, 0, 0},
		Rebuilt:         true,
		Drawn:           []string{"8_0_0"},
		PendingRemoval:  []string{"-24_0_0"},
		Removed:         []string{"-24_0_0"},
		Registry:        62,
		Queue:           QueueStats{Active: 2, Submitted: 90, Completed: 88},
	}
	b, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := Validate(TypeTick, b); err != nil {
		t.Fatalf("tick: %v", err)
	}
}
