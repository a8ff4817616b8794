package runlog

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestEvent_Validate(t *testing.T) {
	base := Event{
		OccurredAt: time.Date(2024, 3, 5, 13, 11, 55, 0, time.UTC),
		RunID:      uuid.New(),
		Model:      "wflow",
		Action:     ActionSetup,
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}

	cases := map[string]func(*Event){
		"no time":   func(e *Event) { e.OccurredAt = time.Time{} },
		"no run id": func(e *Event) { e.RunID = uuid.Nil },
		"no model":  func(e *Event) { e.Model = " " },
		"no action": func(e *Event) { e.Action = "" },
	}
	for name, mutate := range cases {
		e := base
		mutate(&e)
		if err := e.Validate(); err == nil {
			t.Fatalf("%s: Validate() expected error", name)
		}
	}
}

func TestComputeIntegritySHA256(t *testing.T) {
	e := Event{
		OccurredAt: time.Date(2024, 3, 5, 13, 11, 55, 0, time.UTC),
		RunID:      uuid.MustParse("6f1c1f7e-5d55-4b6a-8f6b-8a6e6c1f0d11"),
		Model:      "hype",
		Version:    "feb2021",
		Action:     ActionInitialize,
	}
	a, err := ComputeIntegritySHA256(e, []byte(`{"cfg_file":"/tmp/info.txt"}`))
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	b, _ := ComputeIntegritySHA256(e, []byte(`{"cfg_file":"/tmp/info.txt"}`))
	if a != b || len(a) != 64 {
		t.Fatalf("ComputeIntegritySHA256()=%q and %q, want equal 64 char digests", a, b)
	}
	c, _ := ComputeIntegritySHA256(e, []byte(`{"cfg_file":"/tmp/other.txt"}`))
	if a == c {
		t.Fatalf("ComputeIntegritySHA256() ignores the payload")
	}
}

func TestMemory_Record(t *testing.T) {
	var m Memory
	id := uuid.New()
	for _, a := range []Action{ActionSetup, ActionInitialize, ActionFinalize} {
		if err := m.Record(context.Background(), Event{RunID: id, Model: "marrmotm01", Action: a}); err != nil {
			t.Fatalf("Record(%s) err=%v", a, err)
		}
	}
	got := m.Events()
	if len(got) != 3 || got[0].Action != ActionSetup || got[2].Action != ActionFinalize {
		t.Fatalf("Events()=%+v", got)
	}
	if got[0].OccurredAt.IsZero() {
		t.Fatalf("Record() did not stamp the event time")
	}
	if err := m.Record(context.Background(), Event{Model: "x", Action: ActionSetup}); err == nil {
		t.Fatalf("Record() expected error without run id")
	}
}

func TestInsert_RequiresQueryer(t *testing.T) {
	if _, err := Insert(context.Background(), nil, Event{}); err == nil {
		t.Fatalf("Insert() expected error for nil queryer")
	}
}
