package ssh

import "testing"

func TestNewKeyDefaultsPort(t *testing.T) {
	k := NewKey("example.com", 0, "deploy")
	if k.Port != DefaultPort {
		t.Errorf("Port = %d, want %d", k.Port, DefaultPort)
	}
	if got := k.String(); got != "deploy@example.com:22" {
		t.Errorf("String() = %q", got)
	}
}

func TestKeyAddr(t *testing.T) {
	tests := []struct {
		key  Key
		want string
	}{
		{Key{Host: "10.0.0.1", Port: 2222, User: "u"}, "10.0.0.1:2222"},
		{Key{Host: "::1", Port: 22, User: "u"}, "[::1]:22"},
	}
	for _, tt := range tests {
		if got := tt.key.Addr(); got != tt.want {
			t.Errorf("Addr() = %q, want %q", got, tt.want)
		}
	}
}

func TestKeyEquality(t *testing.T) {
	m := map[Key]int{NewKey("h", 22, "u"): 1}
	if _, ok := m[Key{Host: "h", Port: 22, User: "u"}]; !ok {
		t.Error("structurally equal key did not match")
	}
	if _, ok := m[Key{Host: "h", Port: 22, User: "other"}]; ok {
		t.Error("key with different user matched")
	}
}

func TestKeyValidate(t *testing.T) {
	tests := []struct {
		name    string
		key     Key
		wantErr bool
	}{
		{"valid", Key{Host: "h", Port: 22, User: "u"}, false},
		{"no host", Key{Port: 22, User: "u"}, true},
		{"no user", Key{Host: "h", Port: 22}, true},
		{"zero port", Key{Host: "h", User: "u"}, true},
		{"port too large", Key{Host: "h", Port: 70000, User: "u"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.key.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
