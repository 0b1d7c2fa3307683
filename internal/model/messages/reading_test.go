package messages

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/LeonardoBeccarini/sentry_relay/internal/model/entities"
)

func TestReadingJSONRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 589000000, time.UTC)
	cases := []Reading{
		{ID: "temp-1", Kind: entities.KindTemperature, Value: NumberValue(21.75), Timestamp: ts, Status: entities.StatusActive, Location: "kitchen"},
		{ID: "door-1", Kind: entities.KindDoor, Value: BoolValue(true), Timestamp: ts, Status: entities.StatusAlert,
			Metadata: map[string]any{"battery": 87.0, "vendor": "acme"}},
		{ID: "cam-1", Kind: entities.KindCamera, Value: StringValue("aGVsbG8="), Timestamp: ts, Status: entities.StatusInactive},
	}
	for _, want := range cases {
		b, err := json.Marshal(want)
		if err != nil {
			t.Fatalf("marshal %s: %v", want.ID, err)
		}
		var got Reading
		if err := json.Unmarshal(b, &got); err != nil {
			t.Fatalf("unmarshal %s: %v", want.ID, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, want)
		}
	}
}

func TestReadingWireFieldNames(t *testing.T) {
	r := Reading{ID: "m1", Kind: entities.KindMotion, Value: NumberValue(1), Status: entities.StatusActive}
	b, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	s := string(b)
	for _, key := range []string{`"id":"m1"`, `"type":"motion"`, `"value":1`, `"status":"active"`, `"timestamp":`} {
		if !strings.Contains(s, key) {
			t.Errorf("expected %s in %s", key, s)
		}
	}
	if strings.Contains(s, "location") || strings.Contains(s, "metadata") {
		t.Errorf("optional fields should be omitted: %s", s)
	}
}

func TestReadingUnmarshalDefaultsStatus(t *testing.T) {
	var r Reading
	if err := json.Unmarshal([]byte(`{"id":"h1","type":"humidity","value":40.5,"timestamp":"2026-01-02T03:04:05.000Z"}`), &r); err != nil {
		t.Fatal(err)
	}
	if r.Status != entities.StatusActive {
		t.Fatalf("expected default status active, got %q", r.Status)
	}
	if err := r.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestReadingValidate(t *testing.T) {
	ok := Reading{ID: "x", Kind: entities.KindWindow, Value: StringValue("open"), Status: entities.StatusActive}
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bad := []Reading{
		{Kind: entities.KindWindow, Value: BoolValue(true), Status: entities.StatusActive},
		{ID: "x", Kind: "smoke", Value: BoolValue(true), Status: entities.StatusActive},
		{ID: "x", Kind: entities.KindWindow, Value: BoolValue(true), Status: "broken"},
		{ID: "x", Kind: entities.KindWindow, Status: entities.StatusActive},
	}
	for i, r := range bad {
		if err := r.Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestValueRejectsComposite(t *testing.T) {
	var v Value
	if err := json.Unmarshal([]byte(`{"a":1}`), &v); err == nil {
		t.Fatal("expected error for object value")
	}
	if err := json.Unmarshal([]byte(`null`), &v); err != nil || v.Kind() != ValueNone {
		t.Fatalf("null should decode to empty value, got %v %v", v, err)
	}
}

func TestCloneDetachesMetadata(t *testing.T) {
	r := Reading{ID: "a", Metadata: map[string]any{"k": "v"}}
	c := r.Clone()
	c.Metadata["k"] = "changed"
	if r.Metadata["k"] != "v" {
		t.Fatal("clone shares metadata with original")
	}
}
