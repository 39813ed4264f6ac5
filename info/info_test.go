package info

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasPrefix(t *testing.T) {
	l := "cmd: blah"
	// Has
	if !HasPrefix(l, "cmd") {
		t.Error("didn't find prefix")
	}
	// Hasn't
	if HasPrefix(l, "cmd:") {
		t.Error("found prefix")
	}
}

func TestTrimPrefix(t *testing.T) {
	// no prefix
	i := TrimPrefix("info line", "cmd")
	if i != "info line" {
		t.Errorf("expected trimmed line 'info line' but got '%s'", i)
	}
	// prefix
	i = TrimPrefix("cmd:info line", "cmd")
	if i != "info line" {
		t.Errorf("expected trimmed line 'info line' but got '%s'", i)
	}

	// prefix and space
	i = TrimPrefix("cmd: info line", "cmd")
	if i != "info line" {
		t.Errorf("expected trimmed line 'info line' but got '%s'", i)
	}
}

func TestFields(t *testing.T) {
	patterns := []struct {
		name   string
		args   string
		fields []string
	}{
		{
			"empty",
			"",
			[]string{""},
		},
		{
			"bare",
			"SM,3",
			[]string{"SM", "3"},
		},
		{
			"quoted",
			`"SM",3`,
			[]string{"SM", "3"},
		},
		{
			"cmgr header",
			`"REC UNREAD","+233501234567","","24/03/12,10:15:22+00"`,
			[]string{"REC UNREAD", "+233501234567", "", "24/03/12,10:15:22+00"},
		},
		{
			"spaced",
			` "SM" , 3 `,
			[]string{"SM", "3"},
		},
		{
			"quoted comma",
			`"a,b",c`,
			[]string{"a,b", "c"},
		},
	}
	for _, p := range patterns {
		f := func(t *testing.T) {
			assert.Equal(t, p.fields, Fields(p.args))
		}
		t.Run(p.name, f)
	}
}
