package policy

import (
	"testing"
)

func TestExpandGroups(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		contains []string
		excludes []string
	}{
		{
			name:     "fs group",
			input:    []string{"group:fs"},
			contains: []string{"create_file", "read_file", "list_dir"},
		},
		{
			name:     "runtime group",
			input:    []string{"group:runtime"},
			contains: []string{"shell"},
		},
		{
			name:     "all builtin tools",
			input:    []string{"group:agentcore"},
			contains: []string{"shell", "create_file", "read_file", "list_dir", "browser"},
		},
		{
			name:     "group plus direct tool",
			input:    []string{"group:browser", "custom_tool"},
			contains: []string{"browser", "custom_tool"},
		},
		{
			name:     "readonly excludes writers",
			input:    []string{"group:readonly"},
			contains: []string{"read_file", "list_dir"},
			excludes: []string{"create_file", "shell", "browser"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expanded := ExpandGroups(tt.input)
			set := make(map[string]bool, len(expanded))
			for _, tool := range expanded {
				set[tool] = true
			}
			for _, want := range tt.contains {
				if !set[want] {
					t.Errorf("expected %q in expansion %v", want, expanded)
				}
			}
			for _, unwanted := range tt.excludes {
				if set[unwanted] {
					t.Errorf("did not expect %q in expansion %v", unwanted, expanded)
				}
			}
		})
	}
}

func TestExpandGroups_Deduplicates(t *testing.T) {
	input := []string{"group:fs", "read_file", "group:fs"}
	expanded := ExpandGroups(input)

	count := 0
	for _, tool := range expanded {
		if tool == "read_file" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected read_file once, got %d occurrences in %v", count, expanded)
	}
}

func TestGetProfilePolicy(t *testing.T) {
	tests := []struct {
		name        string
		profile     string
		expectNil   bool
		expectAllow []string
	}{
		{
			name:        "coding profile",
			profile:     "coding",
			expectAllow: []string{"group:fs", "group:runtime"},
		},
		{
			name:        "readonly profile",
			profile:     "readonly",
			expectAllow: []string{"group:readonly"},
		},
		{
			name:    "full profile",
			profile: "full",
		},
		{
			name:      "unknown profile",
			profile:   "nope",
			expectNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := GetProfilePolicy(tt.profile)
			if tt.expectNil {
				if policy != nil {
					t.Fatalf("expected nil policy for %q", tt.profile)
				}
				return
			}
			if policy == nil {
				t.Fatalf("expected policy for %q", tt.profile)
			}
			if len(tt.expectAllow) > 0 {
				set := make(map[string]bool, len(policy.Allow))
				for _, item := range policy.Allow {
					set[item] = true
				}
				for _, want := range tt.expectAllow {
					if !set[want] {
						t.Errorf("expected %q in allow list %v", want, policy.Allow)
					}
				}
			}
		})
	}
}

func TestIsGroup(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"valid fs group", "group:fs", true},
		{"valid browser group", "group:browser", true},
		{"regular tool name", "read_file", false},
		{"unknown group", "group:nope", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsGroup(tt.input); got != tt.want {
				t.Errorf("IsGroup(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestGetGroupTools(t *testing.T) {
	tools := GetGroupTools("group:runtime")
	if len(tools) != 1 || tools[0] != "shell" {
		t.Fatalf("unexpected runtime group %v", tools)
	}
	if GetGroupTools("group:nope") != nil {
		t.Fatal("expected nil for unknown group")
	}

	// Mutating the returned slice must not change the group.
	tools[0] = "mutated"
	if GetGroupTools("group:runtime")[0] != "shell" {
		t.Fatal("GetGroupTools must return a copy")
	}
}

func TestListGroupsAndProfiles(t *testing.T) {
	groups := ListGroups()
	if len(groups) == 0 {
		t.Fatal("expected groups")
	}
	profiles := ListProfiles()
	wanted := map[string]bool{"coding": false, "readonly": false, "full": false, "minimal": false}
	for _, p := range profiles {
		if _, ok := wanted[p]; ok {
			wanted[p] = true
		}
	}
	for name, seen := range wanted {
		if !seen {
			t.Errorf("expected profile %q to be listed", name)
		}
	}
}

func TestProfilePolicyEnforcement(t *testing.T) {
	resolver := NewResolver()

	coding := GetProfilePolicy("coding")
	for _, tool := range []string{"shell", "create_file", "read_file", "list_dir"} {
		if !resolver.IsAllowed(coding, tool) {
			t.Errorf("coding profile should allow %q", tool)
		}
	}
	if resolver.IsAllowed(coding, "browser") {
		t.Error("coding profile should not allow browser")
	}

	readonly := GetProfilePolicy("readonly")
	if !resolver.IsAllowed(readonly, "read_file") {
		t.Error("readonly profile should allow read_file")
	}
	for _, tool := range []string{"create_file", "shell"} {
		if resolver.IsAllowed(readonly, tool) {
			t.Errorf("readonly profile should not allow %q", tool)
		}
	}

	full := GetProfilePolicy("full")
	if !resolver.IsAllowed(full, "browser") {
		t.Error("full profile should allow browser")
	}
}

func TestDenyOverridesAllow(t *testing.T) {
	resolver := NewResolver()
	policy := &Policy{
		Profile: ProfileFull,
		Deny:    []string{"shell"},
	}

	if resolver.IsAllowed(policy, "shell") {
		t.Error("deny must override the full profile")
	}
	if !resolver.IsAllowed(policy, "read_file") {
		t.Error("read_file should remain allowed")
	}
	// Aliases normalize to the denied canonical name.
	if resolver.IsAllowed(policy, "bash") {
		t.Error("bash aliases shell and must be denied too")
	}
}

func TestMinimalProfileDeniesSandboxTools(t *testing.T) {
	resolver := NewResolver()
	minimal := GetProfilePolicy("minimal")
	for _, tool := range []string{"shell", "create_file", "read_file", "list_dir", "browser"} {
		if resolver.IsAllowed(minimal, tool) {
			t.Errorf("minimal profile should not allow %q", tool)
		}
	}
}
