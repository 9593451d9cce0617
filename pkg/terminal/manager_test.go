package terminal

import (
	"bytes"
	"strings"
	"testing"
)

func TestReadSecretFromPipe(t *testing.T) {
	var out bytes.Buffer
	m := NewWithIO(strings.NewReader("hunter2\r\nsecond\nlast"), &out)

	if m.IsTerminal() {
		t.Fatal("string reader reported as terminal")
	}

	for _, want := range []string{"hunter2", "second", "last"} {
		got, err := m.ReadSecret("Password: ")
		if err != nil {
			t.Fatalf("ReadSecret: %v", err)
		}
		if got != want {
			t.Errorf("ReadSecret = %q, want %q", got, want)
		}
	}
	if strings.Count(out.String(), "Password: ") != 3 {
		t.Errorf("prompt output = %q", out.String())
	}

	if _, err := m.ReadSecret("Password: "); err == nil {
		t.Error("ReadSecret at EOF succeeded")
	}
}

func TestRestoreWithoutTerminal(t *testing.T) {
	m := NewWithIO(strings.NewReader(""), &bytes.Buffer{})
	if err := m.Restore(); err != nil {
		t.Errorf("Restore: %v", err)
	}
	m.Cleanup()
}
