package navigator

import (
	"errors"
	"strings"
	"testing"

	"github.com/Iskam31/YADISKTGBOT/internal/pathtoken"
)

func TestParseAction_Valid(t *testing.T) {
	tests := []struct {
		data string
		want Action
	}{
		{data: "cd:b:0:pL2RvY3M", want: Action{Op: OpOpen, Mode: ModeBrowse, Offset: 0, Token: "pL2RvY3M"}},
		{data: "cd:s:120:hdeadbeef", want: Action{Op: OpOpen, Mode: ModeSelect, Offset: 120, Token: "hdeadbeef"}},
		{data: "cd:b:99999999:p", want: Action{Op: OpOpen, Mode: ModeBrowse, Offset: 99999999, Token: "p"}},
		{data: "fi:pL2E", want: Action{Op: OpFileInfo, Token: "pL2E"}},
		{data: "pub:hcafebabe", want: Action{Op: OpPublish, Token: "hcafebabe"}},
		{data: "del:pL2E", want: Action{Op: OpDeleteRequest, Token: "pL2E"}},
		{data: "pick:pL2E", want: Action{Op: OpPickFolder, Token: "pL2E"}},
		{data: "ok", want: Action{Op: OpDeleteConfirm}},
		{data: "no", want: Action{Op: OpDeleteCancel}},
		{data: "noop", want: Action{Op: OpNoop}},
	}

	for _, tt := range tests {
		t.Run(tt.data, func(t *testing.T) {
			got, err := ParseAction(tt.data)
			if err != nil {
				t.Fatalf("ParseAction(%q): %v", tt.data, err)
			}
			if *got != tt.want {
				t.Errorf("ParseAction(%q) = %+v, want %+v", tt.data, *got, tt.want)
			}
		})
	}
}

func TestParseAction_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "empty", data: ""},
		{name: "unknown op", data: "zz:b:0:pL2E"},
		{name: "nav missing token", data: "cd:b:0:"},
		{name: "nav missing parts", data: "cd:b:pL2E"},
		{name: "nav extra parts", data: "cd:b:0:pL2E:x"},
		{name: "bad mode", data: "cd:x:0:pL2E"},
		{name: "offset not a number", data: "cd:b:ten:pL2E"},
		{name: "offset negative", data: "cd:b:-5:pL2E"},
		{name: "offset too long", data: "cd:b:123456789:pL2E"},
		{name: "entry missing token", data: "fi:"},
		{name: "entry extra parts", data: "del:pL2E:x"},
		{name: "bare op with token", data: "ok:pL2E"},
		{name: "over budget", data: "cd:b:0:p" + strings.Repeat("A", 80)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseAction(tt.data); !errors.Is(err, pathtoken.ErrInvalidToken) {
				t.Errorf("ParseAction(%q) err = %v, want ErrInvalidToken", tt.data, err)
			}
		})
	}
}

func TestActionPayloadRoundTrip(t *testing.T) {
	table := pathtoken.Table{}
	longTok := pathtoken.Encode("/"+strings.Repeat("x", 100), table)

	tests := []struct {
		data string
		want Action
	}{
		{data: navData(OpOpen, ModeSelect, 30, longTok), want: Action{Op: OpOpen, Mode: ModeSelect, Offset: 30, Token: longTok}},
		{data: entryData(OpPublish, longTok), want: Action{Op: OpPublish, Token: longTok}},
	}
	for _, tt := range tests {
		got, err := ParseAction(tt.data)
		if err != nil {
			t.Fatalf("ParseAction(%q): %v", tt.data, err)
		}
		if *got != tt.want {
			t.Errorf("ParseAction(%q) = %+v, want %+v", tt.data, *got, tt.want)
		}
	}
}

func TestNavPayloadsFitTheBudget(t *testing.T) {
	table := pathtoken.Table{}
	for _, path := range []string{
		"/",
		"/" + strings.Repeat("a", 36),
		"/" + strings.Repeat("b", 500),
	} {
		tok := pathtoken.Encode(path, table)
		data := navData(OpOpen, ModeBrowse, 99999999, tok)
		if len(data) > pathtoken.PayloadBudget {
			t.Errorf("payload for %d-byte path is %d bytes, budget %d",
				len(path), len(data), pathtoken.PayloadBudget)
		}
	}
}
