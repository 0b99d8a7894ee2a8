package core

import "fmt"

// Command identifies an engine command. Values follow the engine's own
// numbering so they can be passed through unchanged.
type Command int32

const (
	CmdNop          Command = 0
	CmdROMOpen      Command = 1
	CmdROMClose     Command = 2
	CmdExecute      Command = 5
	CmdStop         Command = 6
	CmdPause        Command = 7
	CmdResume       Command = 8
	CmdCoreStateSet Command = 17
	CmdReset        Command = 19
	CmdAdvanceFrame Command = 20
)

var commandNames = map[Command]string{
	CmdNop:          "nop",
	CmdROMOpen:      "rom_open",
	CmdROMClose:     "rom_close",
	CmdExecute:      "execute",
	CmdStop:         "stop",
	CmdPause:        "pause",
	CmdResume:       "resume",
	CmdCoreStateSet: "core_state_set",
	CmdReset:        "reset",
	CmdAdvanceFrame: "advance_frame",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("command(%d)", int32(c))
}

// CoreParam identifies an engine parameter reported through the state callback
// or changed with CmdCoreStateSet.
type CoreParam int32

const (
	ParamEmuState      CoreParam = 1
	ParamVideoMode     CoreParam = 2
	ParamSavestateSlot CoreParam = 3
	ParamSpeedFactor   CoreParam = 4
	ParamSpeedLimiter  CoreParam = 5
	ParamVideoSize     CoreParam = 6
	ParamAudioVolume   CoreParam = 7
	ParamAudioMute     CoreParam = 8
)

var paramNames = map[CoreParam]string{
	ParamEmuState:      "emu_state",
	ParamVideoMode:     "video_mode",
	ParamSavestateSlot: "savestate_slot",
	ParamSpeedFactor:   "speed_factor",
	ParamSpeedLimiter:  "speed_limiter",
	ParamVideoSize:     "video_size",
	ParamAudioVolume:   "audio_volume",
	ParamAudioMute:     "audio_mute",
}

func (p CoreParam) String() string {
	if name, ok := paramNames[p]; ok {
		return name
	}
	return fmt.Sprintf("param(%d)", int32(p))
}

// PackVideoSize packs a window size into the single value carried by
// ParamVideoSize: width in the high 16 bits, height in the low 16 bits.
func PackVideoSize(width, height uint16) int32 {
	return int32(uint32(width)<<16 | uint32(height))
}

// UnpackVideoSize is the inverse of PackVideoSize.
func UnpackVideoSize(v int32) (width, height uint16) {
	u := uint32(v)
	return uint16(u >> 16), uint16(u)
}
