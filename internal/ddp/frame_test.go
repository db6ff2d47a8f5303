package ddp

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestEncodeFrame(t *testing.T) {
	got, err := EncodeFrame([]string{`{"msg":"pong"}`})
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	if want := `a["{\"msg\":\"pong\"}"]`; got != want {
		t.Fatalf("got %s want %s", got, want)
	}
	if got, _ := EncodeFrame(nil); got != "a[]" {
		t.Fatalf("empty frame: got %s want a[]", got)
	}
}

func TestCloseFrame(t *testing.T) {
	if got := CloseFrame(CloseBrokenFraming, "Broken framing."); got != `c[2010,"Broken framing."]` {
		t.Fatalf("got %s", got)
	}
	if got := CloseFrame(CloseGoAway, "Go away!"); got != `c[3000,"Go away!"]` {
		t.Fatalf("got %s", got)
	}
}

func TestDecodeBatch(t *testing.T) {
	packets, err := DecodeBatch(` ["{\"msg\":\"ping\"}", {"msg":"connect"}, 5] `)
	if err != nil {
		t.Fatalf("DecodeBatch: %v", err)
	}
	if len(packets) != 3 {
		t.Fatalf("packets: got %d want 3", len(packets))
	}
	if string(packets[0]) != `{"msg":"ping"}` || string(packets[1]) != `{"msg":"connect"}` {
		t.Fatalf("packets: got %q", packets)
	}
	if _, err := ParsePacket(packets[2]); err == nil {
		t.Fatal("a number is not a packet")
	}
}

func TestDecodeBatchRejectsNonArray(t *testing.T) {
	for _, in := range []string{"{}", "42", `"x"`, "null", "[", ""} {
		if _, err := DecodeBatch(in); !errors.Is(err, ErrDecode) {
			t.Fatalf("DecodeBatch(%q): got %v want ErrDecode", in, err)
		}
	}
}

func TestIDString(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{``, ""},
		{`null`, ""},
		{`""`, ""},
		{`"abc"`, "abc"},
		{`12`, "12"},
	}
	for _, tt := range tests {
		if got := idString([]byte(tt.in)); got != tt.want {
			t.Fatalf("idString(%q): got %q want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewSessionID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		id := NewSessionID()
		if len(id) != SessionIDLength {
			t.Fatalf("length: got %d want %d", len(id), SessionIDLength)
		}
		if strings.Trim(id, alphanumeric) != "" {
			t.Fatalf("id %q has non-alphanumeric characters", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestEnvWithKeepsOrder(t *testing.T) {
	var env Env
	env = env.With("a", 1)
	env = env.With("b", 2)
	prev := env
	env = env.With("a", 3)

	if got := strings.Join(env.Names(), ","); got != "a,b" {
		t.Fatalf("names: got %s want a,b", got)
	}
	if v, _ := env.Lookup("a"); v != 3 {
		t.Fatalf("a: got %v want 3", v)
	}
	if v, _ := prev.Lookup("a"); v != 1 {
		t.Fatalf("previous snapshot changed: got %v want 1", v)
	}
	if _, ok := env.Lookup("missing"); ok {
		t.Fatal("missing name should not be found")
	}
	if v, _ := env.Lookup("b"); v != 2 {
		t.Fatalf("b: got %v want 2", v)
	}
}

func TestCallArgs(t *testing.T) {
	call := &Call{Args: []json.RawMessage{[]byte(`"hi"`), []byte(`{"n":2}`)}}
	var s string
	if err := call.Arg(0, &s); err != nil || s != "hi" {
		t.Fatalf("Arg(0): got %q, %v", s, err)
	}
	var obj struct{ N int }
	if err := call.Arg(1, &obj); err != nil || obj.N != 2 {
		t.Fatalf("Arg(1): got %+v, %v", obj, err)
	}
	if err := call.Arg(2, &s); err == nil {
		t.Fatal("Arg(2) should fail")
	}
	if call.Value(5) != nil {
		t.Fatal("Value out of range should be nil")
	}
	if m, ok := call.Value(1).(map[string]any); !ok || m["n"] != 2.0 {
		t.Fatalf("Value(1): got %v", call.Value(1))
	}
}
