// Package grabber implements the privileged command channel of the input
// daemon: a fixed-layout binary datagram protocol, the root-side receiver
// that dispatches decoded commands onto device-grab and remapping state, and
// the session-side client that encodes them. The channel is guarded by
// filesystem permissions only; every datagram is validated before any field
// is read and malformed input is dropped without affecting state.
package grabber

import (
	"encoding/binary"
	"fmt"

	"github.com/kclejeune/kestrel/internal/keycode"
)

// Operation is the one-byte wire tag identifying a command. Tag 0 is
// reserved invalid so a zeroed buffer never decodes.
type Operation byte

const (
	OpConnect                  Operation = 1
	OpSystemPreferencesUpdated Operation = 2
	OpClearSimpleModifications Operation = 3
	OpAddSimpleModification    Operation = 4
	OpClearFnFunctionKeys      Operation = 5
	OpAddFnFunctionKey         Operation = 6
	OpClearStandaloneModifiers Operation = 7
	OpAddStandaloneModifier    Operation = 8
	OpSetCapsLockLedState      Operation = 9
)

func (op Operation) String() string {
	switch op {
	case OpConnect:
		return "connect"
	case OpSystemPreferencesUpdated:
		return "system_preferences_values_updated"
	case OpClearSimpleModifications:
		return "clear_simple_modifications"
	case OpAddSimpleModification:
		return "add_simple_modification"
	case OpClearFnFunctionKeys:
		return "clear_fn_function_keys"
	case OpAddFnFunctionKey:
		return "add_fn_function_key"
	case OpClearStandaloneModifiers:
		return "clear_standalone_modifiers"
	case OpAddStandaloneModifier:
		return "add_standalone_modifier"
	case OpSetCapsLockLedState:
		return "set_caps_lock_led_state"
	default:
		return fmt.Sprintf("operation(0x%02x)", byte(op))
	}
}

// Origin identifies which client role a Connect comes from.
type Origin byte

const (
	OriginEventDispatcher   Origin = 0
	OriginConsoleUserServer Origin = 1
)

func (o Origin) String() string {
	switch o {
	case OriginEventDispatcher:
		return "event_dispatcher"
	case OriginConsoleUserServer:
		return "console_user_server"
	default:
		return fmt.Sprintf("origin(0x%02x)", byte(o))
	}
}

// LedState is the caps lock LED target state.
type LedState byte

const (
	LedStateOff LedState = 0
	LedStateOn  LedState = 1
)

func (s LedState) String() string {
	switch s {
	case LedStateOff:
		return "off"
	case LedStateOn:
		return "on"
	default:
		return fmt.Sprintf("led_state(0x%02x)", byte(s))
	}
}

// Preferences is the fixed-size system preferences blob carried by
// SystemPreferencesUpdated. The core forwards it without interpreting it.
type Preferences struct {
	KeyboardFnState bool
}

// Command is the decoded form of one datagram. Implementations are the
// closed set of value types below; each encodes to a fixed size determined
// by its tag.
type Command interface {
	Operation() Operation
}

type Connect struct {
	Origin Origin
	PID    int32
}

type SystemPreferencesUpdated struct {
	Values Preferences
}

type SetCapsLockLedState struct {
	State LedState
}

type ClearSimpleModifications struct{}

type AddSimpleModification struct {
	From, To keycode.Code
}

type ClearFnFunctionKeys struct{}

type AddFnFunctionKey struct {
	From, To keycode.Code
}

type ClearStandaloneModifiers struct{}

type AddStandaloneModifier struct {
	From, To keycode.Code
}

func (Connect) Operation() Operation                  { return OpConnect }
func (SystemPreferencesUpdated) Operation() Operation { return OpSystemPreferencesUpdated }
func (SetCapsLockLedState) Operation() Operation      { return OpSetCapsLockLedState }
func (ClearSimpleModifications) Operation() Operation { return OpClearSimpleModifications }
func (AddSimpleModification) Operation() Operation    { return OpAddSimpleModification }
func (ClearFnFunctionKeys) Operation() Operation      { return OpClearFnFunctionKeys }
func (AddFnFunctionKey) Operation() Operation         { return OpAddFnFunctionKey }
func (ClearStandaloneModifiers) Operation() Operation { return OpClearStandaloneModifiers }
func (AddStandaloneModifier) Operation() Operation    { return OpAddStandaloneModifier }

// Encoded sizes, tag byte included.
const (
	connectSize      = 6 // tag + origin u8 + pid i32
	preferencesSize  = 2 // tag + keyboard fn state u8
	ledSize          = 2 // tag + led state u8
	clearSize        = 1 // tag only
	modificationSize = 9 // tag + from i32 + to i32
)

// UnknownTagError reports a datagram whose first byte is not a defined
// operation. Callers drop the message; this is not fatal.
type UnknownTagError struct {
	Tag byte
}

func (e *UnknownTagError) Error() string {
	return fmt.Sprintf("unknown operation tag 0x%02x", e.Tag)
}

// SizeMismatchError reports a datagram whose length does not fit its tag:
// too short for any operation, or not exactly connectSize for connect.
type SizeMismatchError struct {
	Op       Operation
	Expected int
	Actual   int
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("%s: datagram size %d, want %d", e.Op, e.Actual, e.Expected)
}

// InvalidFieldError reports an out-of-range field value in an otherwise
// well-sized datagram.
type InvalidFieldError struct {
	Op    Operation
	Field string
	Value int64
}

func (e *InvalidFieldError) Error() string {
	return fmt.Sprintf("%s: %s out of range: %d", e.Op, e.Field, e.Value)
}

// Encode serializes a command into a datagram. It applies the same field
// validation as Decode so a client never emits a frame the receiver would
// drop.
func Encode(cmd Command) ([]byte, error) {
	switch c := cmd.(type) {
	case Connect:
		if c.Origin != OriginEventDispatcher && c.Origin != OriginConsoleUserServer {
			return nil, &InvalidFieldError{Op: OpConnect, Field: "origin", Value: int64(c.Origin)}
		}
		buf := make([]byte, connectSize)
		buf[0] = byte(OpConnect)
		buf[1] = byte(c.Origin)
		binary.LittleEndian.PutUint32(buf[2:], uint32(c.PID))
		return buf, nil
	case SystemPreferencesUpdated:
		buf := make([]byte, preferencesSize)
		buf[0] = byte(OpSystemPreferencesUpdated)
		if c.Values.KeyboardFnState {
			buf[1] = 1
		}
		return buf, nil
	case SetCapsLockLedState:
		if c.State != LedStateOff && c.State != LedStateOn {
			return nil, &InvalidFieldError{Op: OpSetCapsLockLedState, Field: "led_state", Value: int64(c.State)}
		}
		return []byte{byte(OpSetCapsLockLedState), byte(c.State)}, nil
	case ClearSimpleModifications:
		return []byte{byte(OpClearSimpleModifications)}, nil
	case AddSimpleModification:
		return encodeModification(OpAddSimpleModification, c.From, c.To)
	case ClearFnFunctionKeys:
		return []byte{byte(OpClearFnFunctionKeys)}, nil
	case AddFnFunctionKey:
		return encodeModification(OpAddFnFunctionKey, c.From, c.To)
	case ClearStandaloneModifiers:
		return []byte{byte(OpClearStandaloneModifiers)}, nil
	case AddStandaloneModifier:
		return encodeModification(OpAddStandaloneModifier, c.From, c.To)
	default:
		return nil, fmt.Errorf("unencodable command type %T", cmd)
	}
}

func encodeModification(op Operation, from, to keycode.Code) ([]byte, error) {
	if !keycode.Valid(from) {
		return nil, &InvalidFieldError{Op: op, Field: "from_key_code", Value: int64(from)}
	}
	if !keycode.Valid(to) {
		return nil, &InvalidFieldError{Op: op, Field: "to_key_code", Value: int64(to)}
	}
	buf := make([]byte, modificationSize)
	buf[0] = byte(op)
	binary.LittleEndian.PutUint32(buf[1:], uint32(from))
	binary.LittleEndian.PutUint32(buf[5:], uint32(to))
	return buf, nil
}

// Decode validates and deserializes one datagram into an owned Command.
// The size check always precedes field access; connect requires an exact
// size while every other operation tolerates trailing bytes. Decoded values
// never alias buf.
func Decode(buf []byte) (Command, error) {
	if len(buf) == 0 {
		return nil, &SizeMismatchError{Op: 0, Expected: clearSize, Actual: 0}
	}

	op := Operation(buf[0])
	switch op {
	case OpConnect:
		// Exact match: an over-long connect frame is as suspicious as a
		// short one.
		if len(buf) != connectSize {
			return nil, &SizeMismatchError{Op: op, Expected: connectSize, Actual: len(buf)}
		}
		origin := Origin(buf[1])
		if origin != OriginEventDispatcher && origin != OriginConsoleUserServer {
			return nil, &InvalidFieldError{Op: op, Field: "origin", Value: int64(buf[1])}
		}
		pid := int32(binary.LittleEndian.Uint32(buf[2:6]))
		return Connect{Origin: origin, PID: pid}, nil

	case OpSystemPreferencesUpdated:
		if len(buf) < preferencesSize {
			return nil, &SizeMismatchError{Op: op, Expected: preferencesSize, Actual: len(buf)}
		}
		return SystemPreferencesUpdated{Values: Preferences{KeyboardFnState: buf[1] != 0}}, nil

	case OpSetCapsLockLedState:
		if len(buf) < ledSize {
			return nil, &SizeMismatchError{Op: op, Expected: ledSize, Actual: len(buf)}
		}
		state := LedState(buf[1])
		if state != LedStateOff && state != LedStateOn {
			return nil, &InvalidFieldError{Op: op, Field: "led_state", Value: int64(buf[1])}
		}
		return SetCapsLockLedState{State: state}, nil

	case OpClearSimpleModifications:
		return ClearSimpleModifications{}, nil

	case OpAddSimpleModification:
		from, to, err := decodeModification(op, buf)
		if err != nil {
			return nil, err
		}
		return AddSimpleModification{From: from, To: to}, nil

	case OpClearFnFunctionKeys:
		return ClearFnFunctionKeys{}, nil

	case OpAddFnFunctionKey:
		from, to, err := decodeModification(op, buf)
		if err != nil {
			return nil, err
		}
		return AddFnFunctionKey{From: from, To: to}, nil

	case OpClearStandaloneModifiers:
		return ClearStandaloneModifiers{}, nil

	case OpAddStandaloneModifier:
		from, to, err := decodeModification(op, buf)
		if err != nil {
			return nil, err
		}
		return AddStandaloneModifier{From: from, To: to}, nil

	default:
		return nil, &UnknownTagError{Tag: buf[0]}
	}
}

func decodeModification(op Operation, buf []byte) (from, to keycode.Code, err error) {
	if len(buf) < modificationSize {
		return 0, 0, &SizeMismatchError{Op: op, Expected: modificationSize, Actual: len(buf)}
	}
	from = keycode.Code(binary.LittleEndian.Uint32(buf[1:5]))
	to = keycode.Code(binary.LittleEndian.Uint32(buf[5:9]))
	if !keycode.Valid(from) {
		return 0, 0, &InvalidFieldError{Op: op, Field: "from_key_code", Value: int64(from)}
	}
	if !keycode.Valid(to) {
		return 0, 0, &InvalidFieldError{Op: op, Field: "to_key_code", Value: int64(to)}
	}
	return from, to, nil
}
