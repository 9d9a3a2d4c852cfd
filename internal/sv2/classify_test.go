package sv2

import "testing"

func TestClassify_KnownCodes(t *testing.T) {
	tests := []struct {
		name    string
		msgType byte
		want    MessageType
	}{
		{"setup connection", MsgTypeSetupConnection, MessageTypeCommon},
		{"reconnect", MsgTypeReconnect, MessageTypeCommon},
		{"open standard channel", MsgTypeOpenStandardMiningChannel, MessageTypeMining},
		{"submit shares standard", MsgTypeSubmitSharesStandard, MessageTypeMining},
		{"submit shares extended", MsgTypeSubmitSharesExtended, MessageTypeMining},
		{"mining set new prev hash", MsgTypeMiningSetNewPrevHash, MessageTypeMining},
		{"set group channel", MsgTypeSetGroupChannel, MessageTypeMining},
		{"allocate job token", MsgTypeAllocateMiningJobToken, MessageTypeJobDeclaration},
		{"declare mining job", MsgTypeDeclareMiningJob, MessageTypeJobDeclaration},
		{"push solution", MsgTypePushSolution, MessageTypeJobDeclaration},
		{"new template", MsgTypeNewTemplate, MessageTypeTemplateDistribution},
		{"set new prev hash", MsgTypeSetNewPrevHash, MessageTypeTemplateDistribution},
		{"submit solution", MsgTypeSubmitSolution, MessageTypeTemplateDistribution},
		{"unassigned low", 0x04, MessageTypeUnknown},
		{"unassigned mid", 0x40, MessageTypeUnknown},
		{"unassigned high", 0xff, MessageTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.msgType); got != tt.want {
				t.Errorf("Classify(0x%02x) = %v, want %v", tt.msgType, got, tt.want)
			}
		})
	}
}

// The four named sets must be pairwise disjoint: for every code at most one
// membership predicate may hold.
func TestClassify_SetsAreDisjoint(t *testing.T) {
	for code := 0; code < 256; code++ {
		b := byte(code)
		matches := 0
		if IsCommonMessage(b) {
			matches++
		}
		if IsMiningMessage(b) {
			matches++
		}
		if IsJobDeclarationMessage(b) {
			matches++
		}
		if IsTemplateDistributionMessage(b) {
			matches++
		}
		if matches > 1 {
			t.Errorf("code 0x%02x matched %d sub-protocol sets", b, matches)
		}
	}
}

// Classify must be total: every byte maps to exactly one category, and only
// codes outside every set map to unknown.
func TestClassify_Total(t *testing.T) {
	counts := make(map[MessageType]int)
	for code := 0; code < 256; code++ {
		b := byte(code)
		got := Classify(b)
		counts[got]++

		inAnySet := IsCommonMessage(b) || IsMiningMessage(b) ||
			IsJobDeclarationMessage(b) || IsTemplateDistributionMessage(b)
		if inAnySet && got == MessageTypeUnknown {
			t.Errorf("code 0x%02x is in a named set but classified unknown", b)
		}
		if !inAnySet && got != MessageTypeUnknown {
			t.Errorf("code 0x%02x is in no set but classified %v", b, got)
		}
	}

	if counts[MessageTypeCommon] != 5 {
		t.Errorf("common set size = %d, want 5", counts[MessageTypeCommon])
	}
	if counts[MessageTypeMining] != 22 {
		t.Errorf("mining set size = %d, want 22", counts[MessageTypeMining])
	}
	if counts[MessageTypeJobDeclaration] != 8 {
		t.Errorf("job declaration set size = %d, want 8", counts[MessageTypeJobDeclaration])
	}
	if counts[MessageTypeTemplateDistribution] != 7 {
		t.Errorf("template distribution set size = %d, want 7", counts[MessageTypeTemplateDistribution])
	}
}

func TestMessageType_String(t *testing.T) {
	tests := []struct {
		mt   MessageType
		want string
	}{
		{MessageTypeCommon, "common"},
		{MessageTypeMining, "mining"},
		{MessageTypeJobDeclaration, "job_declaration"},
		{MessageTypeTemplateDistribution, "template_distribution"},
		{MessageTypeUnknown, "unknown"},
	}
	for _, tt := range tests {
		if got := tt.mt.String(); got != tt.want {
			t.Errorf("MessageType(%d).String() = %q, want %q", tt.mt, got, tt.want)
		}
	}
}
