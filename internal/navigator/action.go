package navigator

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Iskam31/YADISKTGBOT/internal/pathtoken"
)

// Mode selects what a rendered directory page is for. It rides inside every
// navigation payload unchanged, so paging deep into a tree never loses the
// reason the user is there.
type Mode string

const (
	// ModeBrowse is the regular listing with per-entry actions.
	ModeBrowse Mode = "b"
	// ModeSelect is the folder picker shown while an upload target is
	// being chosen.
	ModeSelect Mode = "s"
)

// Name returns the long form used in logs and metric labels.
func (m Mode) Name() string {
	if m == ModeSelect {
		return "select"
	}
	return "browse"
}

// Op tags one callback action.
type Op string

const (
	// OpOpen navigates into a directory page. Payload "cd:mode:offset:token".
	OpOpen Op = "cd"
	// OpFileInfo shows a file's detail card. Payload "fi:token".
	OpFileInfo Op = "fi"
	// OpPublish publishes a file and shows its public link. Payload "pub:token".
	OpPublish Op = "pub"
	// OpDeleteRequest asks for delete confirmation. Payload "del:token".
	OpDeleteRequest Op = "del"
	// OpDeleteConfirm executes the pending delete. Payload "ok".
	OpDeleteConfirm Op = "ok"
	// OpDeleteCancel discards the pending action. Payload "no".
	OpDeleteCancel Op = "no"
	// OpPickFolder records the rendered folder as the upload target.
	// Payload "pick:token".
	OpPickFolder Op = "pick"
	// OpNoop acknowledges a decorative button. Payload "noop".
	OpNoop Op = "noop"
)

// Action is one parsed callback payload. Mode and Offset are meaningful for
// OpOpen only; Token is empty for the bare ops.
type Action struct {
	Op     Op
	Mode   Mode
	Offset int
	Token  string
}

// ParseAction decodes a callback payload into an Action. Anything that does
// not match one of the known layouts is a validation error, not a silent
// mismatch.
func ParseAction(data string) (*Action, error) {
	if data == "" || len(data) > pathtoken.PayloadBudget {
		return nil, invalidAction(data)
	}

	parts := strings.Split(data, ":")
	op := Op(parts[0])
	switch op {
	case OpOpen:
		if len(parts) != 4 || parts[3] == "" {
			return nil, invalidAction(data)
		}
		mode := Mode(parts[1])
		if mode != ModeBrowse && mode != ModeSelect {
			return nil, invalidAction(data)
		}
		if len(parts[2]) == 0 || len(parts[2]) > 8 {
			return nil, invalidAction(data)
		}
		offset, err := strconv.Atoi(parts[2])
		if err != nil || offset < 0 {
			return nil, invalidAction(data)
		}
		return &Action{Op: op, Mode: mode, Offset: offset, Token: parts[3]}, nil

	case OpFileInfo, OpPublish, OpDeleteRequest, OpPickFolder:
		if len(parts) != 2 || parts[1] == "" {
			return nil, invalidAction(data)
		}
		return &Action{Op: op, Token: parts[1]}, nil

	case OpDeleteConfirm, OpDeleteCancel, OpNoop:
		if len(parts) != 1 {
			return nil, invalidAction(data)
		}
		return &Action{Op: op}, nil

	default:
		return nil, invalidAction(data)
	}
}

func invalidAction(data string) error {
	return fmt.Errorf("action %q: %w", data, pathtoken.ErrInvalidToken)
}

// navData lays out a navigation payload. The offset stays within 8 digits,
// which together with the other prefix bytes is what the token budget was
// sized against.
func navData(op Op, mode Mode, offset int, token string) string {
	return string(op) + ":" + string(mode) + ":" + strconv.Itoa(offset) + ":" + token
}

// entryData lays out a single-token payload.
func entryData(op Op, token string) string {
	return string(op) + ":" + token
}
