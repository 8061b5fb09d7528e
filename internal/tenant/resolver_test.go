package tenant

import "testing"

func TestResolve(t *testing.T) {
	cases := []struct {
		name     string
		hostname string
		want     string
		ok       bool
	}{
		{"plain tenant", "alice.agents.example.com", "alice", true},
		{"uppercase normalized", "ALICE.Agents.Example.COM", "alice", true},
		{"with port", "alice.agents.example.com:8787", "alice", true},
		{"hyphen reads back as dot", "my-agent.agents.example.com", "my.agent", true},
		{"digits one to five", "agent12345.agents.example.com", "agent12345", true},
		{"two labels only", "example.com", "", false},
		{"single label", "localhost", "", false},
		{"reserved www", "www.agents.example.com", "", false},
		{"reserved api", "api.agents.example.com", "", false},
		{"reserved admin", "admin.agents.example.com", "", false},
		{"digit outside grammar", "agent6.agents.example.com", "", false},
		{"too long", "abcdefghijklm.agents.example.com", "", false},
		{"underscore rejected", "bad_name.agents.example.com", "", false},
		{"empty", "", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Resolve(tc.hostname)
			if ok != tc.ok || got != tc.want {
				t.Fatalf("Resolve(%q) = (%q, %v), want (%q, %v)", tc.hostname, got, ok, tc.want, tc.ok)
			}
		})
	}
}
