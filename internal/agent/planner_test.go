package agent

import (
	"slices"
	"testing"
)

func safeSet(names ...string) SafetyLookup {
	return func(name string) bool { return slices.Contains(names, name) }
}

func useNames(blocks []Block) []string {
	var names []string
	for _, b := range blocks {
		if b.Type == BlockToolUse {
			names = append(names, b.ToolUse.Name)
		}
	}
	return names
}

func TestSerialGate(t *testing.T) {
	isSafe := safeSet("Read", "LS")
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"all safe", []string{"Read", "LS", "Read"}, []string{"Read", "LS", "Read"}},
		{"single unsafe", []string{"Bash"}, []string{"Bash"}},
		{"later unsafe dropped", []string{"Bash", "Read", "Bash"}, []string{"Bash", "Read"}},
		{"safe after kept unsafe survives", []string{"Read", "Bash", "LS", "Write", "Read"}, []string{"Read", "Bash", "LS", "Read"}},
		{"unknown treated unsafe", []string{"Mystery", "Mystery"}, []string{"Mystery"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var blocks []Block
			for i, name := range tt.in {
				blocks = append(blocks, ToolUseBlock(ToolUse{ID: string(rune('a' + i)), Name: name}))
			}
			got := useNames(SerialGate(blocks, isSafe))
			if !slices.Equal(got, tt.want) {
				t.Errorf("SerialGate(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestSerialGateKeepsNonToolBlocks(t *testing.T) {
	blocks := []Block{
		TextBlock("first"),
		ToolUseBlock(ToolUse{ID: "t1", Name: "Bash"}),
		ToolUseBlock(ToolUse{ID: "t2", Name: "Bash"}),
		TextBlock("last"),
	}
	out := SerialGate(blocks, safeSet())
	if len(out) != 3 {
		t.Fatalf("blocks = %d, want 3", len(out))
	}
	if out[0].Text != "first" || out[2].Text != "last" {
		t.Errorf("text blocks disturbed: %+v", out)
	}
}

func TestPlanGroups(t *testing.T) {
	isSafe := safeSet("Read")
	uses := []ToolUse{
		{ID: "t1", Name: "Read"},
		{ID: "t2", Name: "Read"},
		{ID: "t3", Name: "Bash"},
		{ID: "t4", Name: "Read"},
		{ID: "t5", Name: "Write"},
	}
	groups := PlanGroups(uses, isSafe)
	if len(groups) != 4 {
		t.Fatalf("groups = %d, want 4", len(groups))
	}
	if !groups[0].Parallel || len(groups[0].Uses) != 2 {
		t.Errorf("group 0 = %+v", groups[0])
	}
	if groups[1].Parallel || groups[1].Uses[0].ID != "t3" {
		t.Errorf("group 1 = %+v", groups[1])
	}
	if !groups[2].Parallel || groups[2].Uses[0].ID != "t4" {
		t.Errorf("group 2 = %+v", groups[2])
	}
	if groups[3].Parallel || groups[3].Uses[0].ID != "t5" {
		t.Errorf("group 3 = %+v", groups[3])
	}
}

func TestPlanGroupsEmpty(t *testing.T) {
	if groups := PlanGroups(nil, safeSet()); len(groups) != 0 {
		t.Errorf("groups = %+v, want none", groups)
	}
}
