package ddp

// EnvVar is one named value in a connection environment.
type EnvVar struct {
	Name  string
	Value any
}

// Env is an ordered set of connection variables. Values are treated as
// immutable once set; updates produce a new slice so snapshots handed to
// methods and emit callbacks never change underneath them.
type Env []EnvVar

// Lookup returns the value stored under name.
func (e Env) Lookup(name string) (any, bool) {
	for _, v := range e {
		if v.Name == name {
			return v.Value, true
		}
	}
	return nil, false
}

// String returns the value stored under name when it is a string.
func (e Env) String(name string) string {
	v, ok := e.Lookup(name)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Names lists variable names in insertion order.
func (e Env) Names() []string {
	names := make([]string, len(e))
	for i, v := range e {
		names[i] = v.Name
	}
	return names
}

// With returns a copy of e with name set to value. An existing entry keeps
// its position.
func (e Env) With(name string, value any) Env {
	out := make(Env, len(e), len(e)+1)
	copy(out, e)
	for i := range out {
		if out[i].Name == name {
			out[i].Value = value
			return out
		}
	}
	return append(out, EnvVar{Name: name, Value: value})
}
