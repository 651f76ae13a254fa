package logger

import "testing"

type plain struct{}

func (plain) Debugf(string, ...any)         {}
func (plain) Debugw(string, map[string]any) {}
func (plain) Infof(string, ...any)          {}
func (plain) Warnf(string, ...any)          {}
func (plain) Errorf(string, ...any)         {}

type tagged struct {
	plain
	fields map[string]any
}

func (t tagged) With(key string, value any) Logger {
	f := map[string]any{key: value}
	for k, v := range t.fields {
		f[k] = v
	}
	return tagged{fields: f}
}

func TestWith(t *testing.T) {
	if _, ok := With(plain{}, "group", "a").(plain); !ok {
		t.Fatalf("plain logger should be returned unchanged")
	}
	l, ok := With(tagged{}, "group", "a").(tagged)
	if !ok || l.fields["group"] != "a" {
		t.Fatalf("expected contextual child, got %#v", l)
	}
}

func TestNopLogger(t *testing.T) {
	var l Logger = NopLogger{}
	l.Debugf("x %d", 1)
	l.Debugw("x", map[string]any{"k": 1})
	l.Infof("x")
	l.Warnf("x")
	l.Errorf("x")
	if _, ok := With(l, "group", "a").(NopLogger); !ok {
		t.Fatalf("nop logger should be returned unchanged")
	}
}
