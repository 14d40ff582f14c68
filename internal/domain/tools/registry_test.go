package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	if err := RegisterBuiltins(r); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}
	return r
}

func decodePayload(t *testing.T, payload string) map[string]interface{} {
	t.Helper()
	out := map[string]interface{}{}
	if err := sonic.Unmarshal([]byte(payload), &out); err != nil {
		t.Fatalf("payload %q is not valid JSON: %v", payload, err)
	}
	return out
}

func TestRegistry_RegisterRules(t *testing.T) {
	r := newTestRegistry(t)

	err := r.Register(Spec{Name: "add"}, addHandler)
	if err == nil {
		t.Error("duplicate name should fail")
	}

	r.Freeze()
	err = r.Register(Spec{Name: "late"}, addHandler)
	if err == nil || !strings.Contains(err.Error(), "frozen") {
		t.Errorf("post-freeze registration should fail, got %v", err)
	}

	specs := r.Specs()
	if len(specs) != 3 || specs[0].Name != "add" {
		t.Errorf("unexpected specs: %+v", specs)
	}
}

func TestRegistry_ExecuteAdd(t *testing.T) {
	r := newTestRegistry(t)
	res := r.Execute(context.Background(), "add", `{"a": 2, "b": 40.5}`)
	if res.Failed() {
		t.Fatalf("add failed: %+v", res.Err)
	}
	out := decodePayload(t, res.JSON())
	if out["sum"] != 42.5 {
		t.Errorf("sum = %v, want 42.5", out["sum"])
	}
}

func TestRegistry_UnknownToolIsRecoverable(t *testing.T) {
	r := newTestRegistry(t)
	res := r.Execute(context.Background(), "launch_rockets", `{}`)
	if !res.Failed() || res.Err.Kind != "unknown_tool" {
		t.Fatalf("expected unknown_tool failure, got %+v", res)
	}
	// payload must still be well-formed JSON for the conversation log
	out := decodePayload(t, res.JSON())
	if out["error"] != "unknown_tool" {
		t.Errorf("payload = %v", out)
	}
}

func TestRegistry_ArgumentValidation(t *testing.T) {
	tests := []struct {
		name string
		args string
		kind string
	}{
		{"malformed json", `{"a": `, "invalid_arguments"},
		{"missing required", `{"a": 1}`, "invalid_arguments"},
		{"wrong type", `{"a": "one", "b": 2}`, "invalid_arguments"},
		{"unknown argument", `{"a": 1, "b": 2, "c": 3}`, "invalid_arguments"},
	}

	r := newTestRegistry(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Execute(context.Background(), "add", tt.args)
			if !res.Failed() || res.Err.Kind != tt.kind {
				t.Errorf("Execute(add, %q) = %+v, want %s failure", tt.args, res, tt.kind)
			}
		})
	}
}

func TestRegistry_HandlerErrorBecomesPayload(t *testing.T) {
	r := newTestRegistry(t)
	res := r.Execute(context.Background(), "life_path_number", `{"birth_date": "not-a-date"}`)
	if !res.Failed() || res.Err.Kind != "execution_failed" {
		t.Fatalf("expected execution_failed, got %+v", res)
	}
	if !strings.Contains(res.Err.Message, "not-a-date") {
		t.Errorf("message should name the bad input: %q", res.Err.Message)
	}
}

func TestRegistry_PanicRecovery(t *testing.T) {
	r := NewRegistry()
	err := r.Register(Spec{Name: "boom", Schema: ObjectSchema(nil)},
		func(context.Context, map[string]interface{}) (interface{}, error) {
			panic("kaboom")
		})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	res := r.Execute(context.Background(), "boom", `{}`)
	if !res.Failed() || res.Err.Kind != "handler_panic" {
		t.Fatalf("expected handler_panic, got %+v", res)
	}
}

func TestRegistry_DigitsOnlyName(t *testing.T) {
	r := newTestRegistry(t)
	res := r.Execute(context.Background(), "name_number", `{"name": "1234"}`)
	if !res.Failed() || res.Err.Kind != "execution_failed" {
		t.Fatalf("expected execution_failed for digits-only name, got %+v", res)
	}
	decodePayload(t, res.JSON())
}

func TestLifePathNumber(t *testing.T) {
	tests := []struct {
		date   string
		number float64
		master bool
	}{
		{"1990-05-14", 11, true}, // 5 + 5 + 1 = master 11
		{"2000-01-01", 4, false},
		{"1987-06-29", 6, false}, // day 29 reduces to master 11, kept in the sum
		// month 11 stays a master while it is a component, but the total
		// 11 + 8 + 1 = 20 reduces all the way down
		{"1963-11-08", 2, false},
	}

	r := newTestRegistry(t)
	for _, tt := range tests {
		res := r.Execute(context.Background(), "life_path_number",
			`{"birth_date": "`+tt.date+`"}`)
		if res.Failed() {
			t.Fatalf("life_path_number(%s): %+v", tt.date, res.Err)
		}
		out := decodePayload(t, res.JSON())
		if out["life_path_number"] != tt.number {
			t.Errorf("life_path_number(%s) = %v, want %v", tt.date, out["life_path_number"], tt.number)
		}
		if out["is_master_number"] != tt.master {
			t.Errorf("is_master_number(%s) = %v, want %v", tt.date, out["is_master_number"], tt.master)
		}
	}
}

func TestNameNumber(t *testing.T) {
	tests := []struct {
		name   string
		number float64
	}{
		{"Ada", 6},          // a=1 d=4 a=1
		{"Ada Lovelace", 9}, // space carries no value
		{"Zoë O'Neil-2", 6}, // unmapped runes are skipped: z+o+o+n+e+i+l
	}

	r := newTestRegistry(t)
	for _, tt := range tests {
		res := r.Execute(context.Background(), "name_number", `{"name": "`+tt.name+`"}`)
		if res.Failed() {
			t.Fatalf("name_number(%s): %+v", tt.name, res.Err)
		}
		out := decodePayload(t, res.JSON())
		if out["name_number"] != tt.number {
			t.Errorf("name_number(%s) = %v, want %v", tt.name, out["name_number"], tt.number)
		}
	}
}
