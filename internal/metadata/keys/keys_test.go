package keys

import (
	"errors"
	"sort"
	"strings"
	"testing"
)

func TestConfigKeyPath(t *testing.T) {
	got := ConfigKeyPath("sharding_db")
	if got != "/shardorch/v1/sharding_db/config" {
		t.Errorf("ConfigKeyPath = %q", got)
	}
}

func TestInstanceKeyPath(t *testing.T) {
	got := InstanceKeyPath("sharding_db", "inst-1")
	if got != "/shardorch/v1/sharding_db/instances/inst-1" {
		t.Errorf("InstanceKeyPath = %q", got)
	}
	if !strings.HasPrefix(got, InstancesPrefix("sharding_db")) {
		t.Errorf("instance key %q not under InstancesPrefix", got)
	}
}

func TestNamesDoNotShareSubtrees(t *testing.T) {
	if strings.HasPrefix(ConfigKeyPath("db10"), NamePrefix("db1")) {
		t.Error("db10 config must not sit under db1's prefix")
	}
	if strings.HasPrefix(InstanceKeyPath("db10", "a"), InstancesPrefix("db1")) {
		t.Error("db10 instances must not sit under db1's instances prefix")
	}
}

func TestParseInstanceKey(t *testing.T) {
	tests := []struct {
		key      string
		name     string
		instance string
		wantErr  bool
	}{
		{"/shardorch/v1/db/instances/i-1", "db", "i-1", false},
		{"/shardorch/v1/db/config", "", "", true},
		{"/shardorch/v1/db/instances/", "", "", true},
		{"/other/v1/db/instances/i-1", "", "", true},
		{"/shardorch/v1/db/instances/i-1/extra", "", "", true},
	}

	for _, tc := range tests {
		t.Run(tc.key, func(t *testing.T) {
			name, id, err := ParseInstanceKey(tc.key)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidKey) {
					t.Errorf("expected ErrInvalidKey, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if name != tc.name || id != tc.instance {
				t.Errorf("got (%q, %q), want (%q, %q)", name, id, tc.name, tc.instance)
			}
		})
	}
}

func TestParseConfigKeyRoundTrip(t *testing.T) {
	name, err := ParseConfigKey(ConfigKeyPath("orders"))
	if err != nil || name != "orders" {
		t.Errorf("ParseConfigKey = (%q, %v)", name, err)
	}
	if _, err := ParseConfigKey(InstanceKeyPath("orders", "x")); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("instance key parsed as config key: %v", err)
	}
}

func TestValidateName(t *testing.T) {
	for _, ok := range []string{"db", "sharding_db", "a.b-c", "0abc"} {
		if err := ValidateName(ok); err != nil {
			t.Errorf("ValidateName(%q) = %v", ok, err)
		}
	}
	for _, bad := range []string{"", "a/b", "-lead", ".hidden", "sp ace", strings.Repeat("x", 200)} {
		if err := ValidateName(bad); !errors.Is(err, ErrInvalidName) {
			t.Errorf("ValidateName(%q) = %v, want ErrInvalidName", bad, err)
		}
	}
}

func TestInstanceKeysSortUnderPrefix(t *testing.T) {
	ids := []string{"c", "a", "b"}
	var got []string
	for _, id := range ids {
		got = append(got, InstanceKeyPath("db", id))
	}
	sort.Strings(got)
	if got[0] != InstanceKeyPath("db", "a") {
		t.Errorf("unexpected order: %v", got)
	}
}
