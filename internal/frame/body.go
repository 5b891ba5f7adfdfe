package frame

import (
	"fmt"
	"strings"
)

// 'O' frame body layout:
//
//	byte 0  - valve open percentage 0-100, or ValvePercentNone
//	byte 1  - flags
//	byte 2+ - optional JSON stats object with its trailing '}' removed
//	          to save one byte on the wire

// ValvePercentNone in byte 0 means the sender has no valve or is not
// reporting a position.
const ValvePercentNone byte = 0x7f

// FlagStatsPresent in byte 1 means a JSON stats object follows.
const FlagStatsPresent byte = 0x10

// ValveBody is the decoded payload of a TypeValve frame.
type ValveBody struct {
	ValvePercent byte   // 0-100, or ValvePercentNone
	Flags        byte   // raw flags byte, FlagStatsPresent managed automatically
	Stats        string // complete JSON object, empty if none
}

// Encode writes the body into buf and returns the number of bytes
// written, or 0 if the stats are malformed or buf is too small. Valve
// percentages above 100 are clamped to ValvePercentNone rather than
// rejected, matching the "no report" convention.
func (v *ValveBody) Encode(buf []byte) int {
	pc := v.ValvePercent
	if pc > 100 {
		pc = ValvePercentNone
	}

	stats := v.Stats
	if stats != "" {
		if !strings.HasPrefix(stats, "{") || !strings.HasSuffix(stats, "}") {
			return 0
		}
		stats = stats[:len(stats)-1] // trailing '}' restored by the parser
	}

	n := 2 + len(stats)
	if len(buf) < n {
		return 0
	}

	buf[0] = pc
	flags := v.Flags &^ FlagStatsPresent
	if stats != "" {
		flags |= FlagStatsPresent
	}
	buf[1] = flags
	copy(buf[2:], stats)

	return n
}

// ParseValveBody decodes a TypeValve frame body.
func ParseValveBody(body []byte) (ValveBody, error) {
	if len(body) < 2 {
		return ValveBody{}, fmt.Errorf("%w: valve body too short", ErrInvalidFrame)
	}

	v := ValveBody{
		ValvePercent: body[0],
		Flags:        body[1],
	}
	if v.ValvePercent > 100 && v.ValvePercent != ValvePercentNone {
		return ValveBody{}, fmt.Errorf("%w: valve percentage %d out of range", ErrInvalidFrame, v.ValvePercent)
	}

	if v.Flags&FlagStatsPresent != 0 {
		if len(body) < 3 || body[2] != '{' {
			return ValveBody{}, fmt.Errorf("%w: stats flag set but no JSON object", ErrInvalidFrame)
		}
		v.Stats = string(body[2:]) + "}"
	}

	return v, nil
}
