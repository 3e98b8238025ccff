/* Magnetic tape controller and drive emulation.

   Copyright 2024, Richard Cornwell

   Permission is hereby granted, free of charge, to any person obtaining a
   copy of this software and associated documentation files (the "Software"),
   to deal in the Software without restriction, including without limitation
   the rights to use, copy, modify, merge, publish, distribute, sublicense,
   and/or sell copies of the Software, and to permit persons to whom the
   Software is furnished to do so, subject to the following conditions:

   The above copyright notice and this permission notice shall be included in
   all copies or substantial portions of the Software.

   THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
   IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
   FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.  IN NO EVENT SHALL
   RICHARD CORNWELL BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
   IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
   CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.

*/

package model2400

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/rcornwell/periph/command/command"
	config "github.com/rcornwell/periph/config/configparser"
	dev "github.com/rcornwell/periph/emu/device"
	event "github.com/rcornwell/periph/emu/event"
	ch "github.com/rcornwell/periph/emu/sys_channel"
	debug "github.com/rcornwell/periph/util/debug"
	"github.com/rcornwell/periph/util/tape"
	"github.com/rcornwell/periph/util/xlat"
)

const (
	// Debug options.
	debugCmd = 1 << iota
	debugData
	debugDetail
)

var debugOption = map[string]int{
	"CMD":    debugCmd,
	"DATA":   debugData,
	"DETAIL": debugDetail,
}

const (
	// Command codes.
	cmdREW uint8 = 0x07 // Rewind
	cmdRUN uint8 = 0x0f // Rewind and unload
	cmdERG uint8 = 0x17 // Erase gap
	cmdWTM uint8 = 0x1f // Write tape mark
	cmdBSR uint8 = 0x27 // Backspace record
	cmdBSF uint8 = 0x2f // Backspace file
	cmdFSR uint8 = 0x37 // Forward space record
	cmdFSF uint8 = 0x3f // Forward space file

	// Sense byte 1 values.
	senseNoise  uint8 = 0x80 // Noise record detected
	senseTUAStA uint8 = 0x40 // Selected and ready
	senseTUBStA uint8 = 0x20 // Not ready, rewinding
	sense7Track uint8 = 0x10 // 7 track drive
	senseLoad   uint8 = 0x08 // Tape at load point
	senseWrite  uint8 = 0x04 // Unit in write status
	senseNoRing uint8 = 0x02 // No write ring

	// Sense byte 2 value, features not supported.
	senseByte2 uint8 = 0xc0

	// Sense byte 3 values.
	senseVRC  uint8 = 0x80 // Vertical parity error
	senseBack uint8 = 0x01 // Tape in backward status

	// Service timing.
	startDelay  = 1000  // Command startup
	senseDelay  = 10    // Sense data ready
	motionDelay = 500   // Motion command startup
	spaceDelay  = 10    // Per frame spaced over
	markDelay   = 50    // Tape mark written
	eraseDelay  = 5000  // Erase gap
	rewindDelay = 1000  // Between rewind bursts
	rewindBurst = 10000 // Frames rewound per callback

	// Largest record the controller buffer can hold.
	maxRecord = 64 * 1024
)

// Frame service time by recording density.
var densityTime = map[int]int{
	tape.Density200:  100,
	tape.Density556:  60,
	tape.Density800:  40,
	tape.Density1600: 25,
	tape.Density6250: 10,
}

// What a drive is currently doing. The phase of a multi step
// operation lives with the activity, never shared between commands.
type activity int

const (
	actIdle activity = iota
	actSense
	actRead
	actReadBack
	actWrite
	actSpaceRec
	actSpaceFile
	actWriteMark
	actErase
	actRewind
)

// Six bit frame converter. Three tape frames unpack into four data
// bytes on read, the inverse on write. Phase tag and hold byte
// survive between service ticks so a transfer can stop and resume at
// any packing boundary without losing the partial byte.
type converter struct {
	phase int
	hold  uint8
}

func (conv *converter) reset() {
	conv.phase = 0
	conv.hold = 0
}

// Advance on one tape frame. last marks the final frame of the
// record, which passes through unconverted when no group is open.
// ready is false when the frame was absorbed and no byte is
// available yet.
func (conv *converter) readStep(frame uint8, last bool) (uint8, bool) {
	switch conv.phase {
	case 0:
		if last {
			return frame, true
		}
		conv.hold = frame
		conv.phase = 1
		return 0, false
	case 1:
		data := (conv.hold << 2) | ((frame >> 4) & 0o3)
		conv.hold = frame
		conv.phase = 2
		return data, true
	case 2:
		data := ((conv.hold & 0o17) << 4) | ((frame >> 2) & 0o17)
		conv.hold = frame
		conv.phase = 3
		return data, true
	default:
		data := frame | ((conv.hold & 0o3) << 6)
		conv.phase = 0
		return data, true
	}
}

// True when the next write step consumes a channel byte. The fourth
// frame of a group goes out from the hold byte alone.
func (conv *converter) needByte() bool {
	return conv.phase != 3
}

// Pack one data byte into the next tape frame.
func (conv *converter) writeStep(data uint8) uint8 {
	switch conv.phase {
	case 0:
		conv.hold = data & 0o3
		conv.phase = 1
		return data >> 2
	case 1:
		frame := (conv.hold << 4) | ((data >> 4) & 0o17)
		conv.hold = data & 0o17
		conv.phase = 2
		return frame
	case 2:
		frame := (conv.hold << 2) | ((data >> 6) & 0o3)
		conv.hold = data & 0o77
		conv.phase = 3
		return frame
	default:
		frame := conv.hold
		conv.phase = 0
		return frame
	}
}

// Emit held bits when the transfer stops mid group, so a record of
// any byte count reads back intact.
func (conv *converter) flush() (uint8, bool) {
	switch conv.phase {
	case 1:
		frame := conv.hold << 4
		conv.reset()
		return frame, true
	case 2:
		frame := conv.hold << 2
		conv.reset()
		return frame, true
	case 3:
		frame := conv.hold
		conv.reset()
		return frame, true
	}
	return 0, false
}

// Controller owns the record buffer shared by its drives. Only the
// unit holding the lease may transfer; any other unit gets busy
// status and a control unit end when the buffer frees up.
type tapeCtl struct {
	buffer []uint8
	owner  *Model2400ctx
	retry  []uint16
}

func (ctl *tapeCtl) lease(unit *Model2400ctx) bool {
	if ctl.owner != nil && ctl.owner != unit {
		return false
	}
	ctl.owner = unit
	return true
}

// Remember a unit refused while the buffer was held.
func (ctl *tapeCtl) markRetry(devNum uint16) {
	for _, retry := range ctl.retry {
		if retry == devNum {
			return
		}
	}
	ctl.retry = append(ctl.retry, devNum)
}

func (ctl *tapeCtl) release(unit *Model2400ctx) {
	if ctl.owner != unit {
		return
	}
	ctl.owner = nil
	for _, devNum := range ctl.retry {
		ch.SetDevAttn(devNum, dev.CStatusCtlEnd)
	}
	ctl.retry = nil
}

// One tape drive.
type Model2400ctx struct {
	addr      uint16        // Current device address
	ctl       *tapeCtl      // Controller this drive hangs off
	activity  activity      // Current operation
	cmd       uint8         // Active channel command
	halt      bool          // Halt current operation
	unload    bool          // Unload after rewind completes
	density   int           // Recording density
	odd       bool          // Odd parity
	trans     bool          // BCD translator enabled
	convOn    bool          // Data converter enabled
	conv      converter     // Converter state
	seven     bool          // 7 track drive
	mark      bool          // Operation hit a tape mark
	pos       int           // Next frame in record buffer
	hwmark    int           // Frames in record buffer
	frameTime int           // Service time per frame
	sense     [6]uint8      // Sense data
	context   *tape.Context // Backing tape image
	debugMsk  int           // Debug options mask
}

// Handle start of I/O chain.
func (device *Model2400ctx) StartIO() uint8 {
	if device.activity != actIdle {
		return dev.CStatusBusy
	}
	return 0
}

// Validate a command and install it on the drive.
func (device *Model2400ctx) StartCmd(cmd uint8) uint8 {
	if device.activity != actIdle {
		return dev.CStatusBusy
	}

	debug.DebugDevf(device.addr, device.debugMsk, debugCmd, "Tape cmd %02x", cmd)
	switch cmd & 0xF {
	case 0:
		return 0

	// Data transfer commands.
	case dev.CmdRead, dev.CmdWrite, dev.CmdRDBWD:
		device.clearSense()
		switch cmd {
		case dev.CmdRead, dev.CmdWrite, dev.CmdRDBWD:
		default:
			device.sense[0] |= dev.SenseCMDREJ
			return dev.CStatusChnEnd | dev.CStatusDevEnd | dev.CStatusCheck
		}
		if !device.context.Attached() {
			device.sense[0] |= dev.SenseINTVENT
			return dev.CStatusChnEnd | dev.CStatusDevEnd | dev.CStatusCheck
		}
		if cmd == dev.CmdRDBWD && device.context.TapeAtLoadPt() {
			return dev.CStatusChnEnd | dev.CStatusDevEnd | dev.CStatusCheck
		}
		if cmd == dev.CmdWrite && !device.context.TapeRing() {
			device.sense[0] |= dev.SenseCMDREJ
			return dev.CStatusChnEnd | dev.CStatusDevEnd | dev.CStatusCheck
		}
		if !device.ctl.lease(device) {
			device.ctl.markRetry(device.addr)
			return dev.CStatusBusy
		}
		switch cmd {
		case dev.CmdRead:
			device.activity = actRead
		case dev.CmdRDBWD:
			device.activity = actReadBack
		case dev.CmdWrite:
			device.activity = actWrite
		}
		device.cmd = cmd
		device.halt = false
		device.conv.reset()
		device.pos = 0
		device.hwmark = 0
		device.mark = false
		event.AddEvent(device, device.callback, startDelay, int(cmd))
		return 0

	// Tape motion. Channel end right away, device end by attention
	// when the motion completes.
	case 0x7, 0xf:
		device.clearSense()
		switch cmd {
		case cmdREW, cmdRUN, cmdERG, cmdWTM, cmdBSR, cmdBSF, cmdFSR, cmdFSF:
		default:
			device.sense[0] |= dev.SenseCMDREJ
			return dev.CStatusChnEnd | dev.CStatusDevEnd | dev.CStatusCheck
		}
		if !device.context.Attached() {
			device.sense[0] |= dev.SenseINTVENT
			return dev.CStatusChnEnd | dev.CStatusDevEnd | dev.CStatusCheck
		}
		if (cmd == cmdBSF || cmd == cmdBSR) && device.context.TapeAtLoadPt() {
			return dev.CStatusChnEnd | dev.CStatusDevEnd | dev.CStatusCheck
		}
		if (cmd == cmdWTM || cmd == cmdERG) && !device.context.TapeRing() {
			device.sense[0] |= dev.SenseCMDREJ
			return dev.CStatusChnEnd | dev.CStatusDevEnd | dev.CStatusCheck
		}
		if !device.ctl.lease(device) {
			device.ctl.markRetry(device.addr)
			return dev.CStatusBusy
		}
		switch cmd {
		case cmdREW, cmdRUN:
			device.activity = actRewind
		case cmdERG:
			device.activity = actErase
		case cmdWTM:
			device.activity = actWriteMark
		case cmdBSR, cmdFSR:
			device.activity = actSpaceRec
		case cmdBSF, cmdFSF:
			device.activity = actSpaceFile
		}
		device.cmd = cmd
		device.halt = false
		device.mark = false
		event.AddEvent(device, device.callback, motionDelay, int(cmd))
		return dev.CStatusChnEnd

	// Sense is always accepted, an unattached drive reports
	// intervention required in the data.
	case dev.CmdSense:
		if cmd != dev.CmdSense {
			device.sense[0] |= dev.SenseCMDREJ
			return dev.CStatusChnEnd | dev.CStatusDevEnd | dev.CStatusCheck
		}
		device.activity = actSense
		device.cmd = cmd
		event.AddEvent(device, device.callback, senseDelay, int(cmd))
		return 0

	// Mode set commands.
	case dev.CmdCTL, 0xb:
		if !device.context.Attached() {
			device.sense[0] |= dev.SenseINTVENT
			return dev.CStatusChnEnd | dev.CStatusDevEnd | dev.CStatusCheck
		}
		if device.seven {
			if (cmd & 0xc0) == 0xc0 {
				device.sense[0] |= dev.SenseCMDREJ
				return dev.CStatusChnEnd | dev.CStatusDevEnd | dev.CStatusCheck
			}
			setDensity := false
			switch cmd & 0x38 {
			case 0x00, 0x08: // Nop
			case 0x10: // Reset condition
				device.trans = false
				device.convOn = true
				device.odd = true
				setDensity = true
			case 0x18: // 9 track NRZI, nop on 7 track
			case 0x20:
				device.trans = false
				device.convOn = false
				device.odd = false
				setDensity = true
			case 0x28:
				device.trans = true
				device.convOn = false
				device.odd = false
				setDensity = true
			case 0x30:
				device.trans = false
				device.convOn = false
				device.odd = true
				setDensity = true
			case 0x38:
				device.trans = true
				device.convOn = false
				device.odd = true
				setDensity = true
			}
			if setDensity {
				switch cmd & 0xc0 {
				case 0x00:
					device.density = tape.Density200
				case 0x40:
					device.density = tape.Density556
				case 0x80:
					device.density = tape.Density800
				}
			}
		} else {
			switch cmd & 0xf8 {
			case 0x00:
				device.density = tape.Density1600
			case 0x08:
				device.density = tape.Density6250
			default:
				device.sense[0] |= dev.SenseCMDREJ
				return dev.CStatusChnEnd | dev.CStatusDevEnd | dev.CStatusCheck
			}
		}
		if frameTime, ok := densityTime[device.density]; ok {
			device.frameTime = frameTime
		}
		device.clearSense()
		return dev.CStatusChnEnd | dev.CStatusDevEnd

	default:
		device.sense[0] |= dev.SenseCMDREJ
	}

	status := dev.CStatusChnEnd | dev.CStatusDevEnd
	if device.sense[0] != 0 {
		status |= dev.CStatusCheck
	}
	device.halt = false
	return status
}

// Handle halt I/O.
func (device *Model2400ctx) HaltIO() uint8 {
	device.halt = true
	return 1
}

// Reset a drive, dropping any operation in flight.
func (device *Model2400ctx) InitDev() uint8 {
	if device.activity != actIdle {
		event.CancelEvent(device, int(device.cmd))
	}
	device.activity = actIdle
	device.halt = false
	device.unload = false
	device.mark = false
	device.conv.reset()
	device.ctl.release(device)
	device.clearSense()
	return 0
}

// Enable debug options.
func (device *Model2400ctx) Debug(opt string) error {
	flag, ok := debugOption[opt]
	if !ok {
		return errors.New("2400 debug option invalid: " + opt)
	}
	device.debugMsk |= flag
	return nil
}

func (device *Model2400ctx) clearSense() {
	for i := range device.sense {
		device.sense[i] = 0
	}
}

// Options for attach command.
func (device *Model2400ctx) Options(_ string) []command.Options {
	formats := tape.GetFormatList()
	return []command.Options{
		{
			Name:        "file",
			OptionType:  command.OptionFile,
			OptionValid: command.ValidAttach | command.ValidShow | command.ValidRewind,
		},
		{
			Name:        "fmt",
			OptionType:  command.OptionList,
			OptionValid: command.ValidAttach | command.ValidSet | command.ValidShow,
			OptionList:  formats,
		},
		{
			Name:        "format",
			OptionType:  command.OptionList,
			OptionValid: command.ValidAttach | command.ValidSet,
			OptionList:  formats,
		},
		{
			Name:        "ro",
			OptionType:  command.OptionSwitch,
			OptionValid: command.ValidAttach,
		},
		{
			Name:        "rw",
			OptionType:  command.OptionSwitch,
			OptionValid: command.ValidAttach,
		},
		{
			Name:        "ring",
			OptionType:  command.OptionSwitch,
			OptionValid: command.ValidAttach | command.ValidSet | command.ValidShow,
		},
		{
			Name:        "noring",
			OptionType:  command.OptionSwitch,
			OptionValid: command.ValidAttach | command.ValidShow,
		},
		{
			Name:        "7track",
			OptionType:  command.OptionSwitch,
			OptionValid: command.ValidSet,
		},
		{
			Name:        "9track",
			OptionType:  command.OptionSwitch,
			OptionValid: command.ValidSet,
		},
		{
			Name:        "type",
			OptionType:  command.OptionSwitch,
			OptionValid: command.ValidShow,
		},
	}
}

// Attach file to device.
func (device *Model2400ctx) Attach(opts []*command.CmdOption) error {
	err := device.Detach()
	if err != nil {
		return err
	}

	for _, opt := range opts {
		switch opt.Name {
		case "file":
			if opt.EqualOpt == "" {
				return errors.New("file requires file name")
			}
			if device.context.Attached() {
				return errors.New("only one file name option allowed")
			}
			err = device.context.Attach(opt.EqualOpt)
			if err != nil {
				break
			}

		case "fmt", "format":
			if opt.EqualOpt == "" {
				return errors.New("format requires option type")
			}
			err = device.context.SetFormat(opt.EqualOpt)
			if err != nil {
				break
			}

		case "ro", "noring":
			device.context.SetNoRing()

		case "rw", "ring":
			device.context.SetRing()

		default:
			return errors.New("invalid option: " + opt.Name)
		}
	}
	return err
}

// Detach device. Cancels any operation in flight first.
func (device *Model2400ctx) Detach() error {
	if device.activity != actIdle {
		event.CancelEvent(device, int(device.cmd))
		device.activity = actIdle
		device.ctl.release(device)
	}
	return device.context.Detach()
}

// Set command.
func (device *Model2400ctx) Set(unset bool, opts []*command.CmdOption) error {
	for _, opt := range opts {
		switch opt.Name {
		case "fmt", "format":
			if opt.EqualOpt == "" {
				return errors.New("format requires option type")
			}
			err := device.context.SetFormat(opt.EqualOpt)
			if err != nil {
				return err
			}

		case "noring":
			if unset {
				return errors.New("unset not valid for ring")
			}
			device.context.SetNoRing()

		case "ring":
			if unset {
				device.context.SetNoRing()
			} else {
				device.context.SetRing()
			}

		case "7track":
			if unset {
				device.context.Set9Track()
				device.seven = false
			} else {
				device.context.Set7Track()
				device.seven = true
			}

		case "9track":
			if unset {
				device.context.Set7Track()
				device.seven = true
			} else {
				device.context.Set9Track()
				device.seven = false
			}

		default:
			return errors.New("invalid option: " + opt.Name)
		}
	}
	return nil
}

// Show command.
func (device *Model2400ctx) Show(opts []*command.CmdOption) (string, error) {
	flags := 0

	str := fmt.Sprintf("%03x:", device.addr)
	for _, opt := range opts {
		switch opt.Name {
		case "file":
			flags |= 1
		case "fmt", "format":
			flags |= 2
		case "ring":
			flags |= 4
		case "type":
			flags |= 8
		default:
			return "", errors.New("invalid option: " + opt.Name)
		}
	}

	if flags == 0 {
		flags = 0xf
	}
	if (flags & 2) != 0 {
		str += " FMT=" + device.context.GetFormat()
	}
	if (flags & 4) != 0 {
		if device.context.TapeRing() {
			str += " RING"
		} else {
			str += " NORING"
		}
	}
	if (flags & 8) != 0 {
		if device.context.Tape9Track() {
			str += " 9 Track"
		} else {
			str += " 7 Track"
		}
	}
	if (flags & 1) != 0 {
		if device.context.Attached() {
			str += " " + device.context.FileName()
		} else {
			str += " not attached"
		}
	}

	return str, nil
}

// Return device address.
func (device *Model2400ctx) GetAddr() uint16 {
	return device.addr
}

// Console rewind request. Runs the full rewind at once.
func (device *Model2400ctx) Rewind() error {
	if !device.context.Attached() {
		return errors.New("device not attached")
	}
	if device.activity != actIdle {
		return errors.New("device busy")
	}
	if err := device.context.StartRewind(); err != nil {
		return err
	}
	for !device.context.RewindFrames(rewindBurst) {
	}
	return nil
}

// Console reset request.
func (device *Model2400ctx) Reset() error {
	device.InitDev()
	return nil
}

// Parity bit for a frame about to be written.
func (device *Model2400ctx) frameOut(frame uint8) uint8 {
	mode := uint8(0)
	if device.odd {
		mode = 0o100
	}
	frame &= 0o77
	return frame | (xlat.ParityTable[frame] ^ mode)
}

// Terminal completion for data transfer commands.
func (device *Model2400ctx) finishData(status uint8) {
	device.activity = actIdle
	device.halt = false
	device.ctl.release(device)
	if device.sense[0] != 0 {
		status |= dev.CStatusCheck
	}
	ch.ChanEnd(device.addr, status)
}

// Map a media error on a data transfer to sense bits and status.
func (device *Model2400ctx) dataError(err error) {
	status := dev.CStatusChnEnd | dev.CStatusDevEnd
	switch {
	case errors.Is(err, tape.TapeMARK):
		status |= dev.CStatusExpt
	case errors.Is(err, tape.TapeEOT):
		device.sense[0] |= dev.SenseEQUCHK
		status |= dev.CStatusExpt
	default:
		slog.Error(err.Error())
		device.sense[0] |= dev.SenseEQUCHK
	}
	device.finishData(status)
}

// Channel stopped taking data, run out the rest of the record.
func (device *Model2400ctx) drainRecord(cmd int) {
	remain := device.hwmark - device.pos
	device.pos = device.hwmark
	event.AddEvent(device, device.callbackData, device.frameTime*(remain+1), cmd)
}

// Deliver one frame of the buffered record to the channel.
func (device *Model2400ctx) readFrame(cmd int) {
	if device.pos >= device.hwmark {
		device.finishData(dev.CStatusChnEnd | dev.CStatusDevEnd)
		return
	}
	if device.halt {
		device.drainRecord(cmd)
		return
	}

	frame := device.ctl.buffer[device.pos]
	device.pos++
	data := frame
	if device.seven {
		mode := uint8(0o100)
		if device.odd {
			mode = 0
		}
		if (xlat.ParityTable[frame&0o77] ^ (frame & 0o100) ^ mode) == 0 {
			device.sense[0] |= dev.SenseDATCHK
			device.sense[3] |= senseVRC
		}
		data = frame & 0o77
		if device.trans {
			data = xlat.BcdToEbcdic[data]
		}
		// Data converter does not operate in read backward.
		if device.convOn && device.activity == actRead {
			byteOut, ready := device.conv.readStep(data, device.pos >= device.hwmark)
			if !ready {
				event.AddEvent(device, device.callbackData, device.frameTime, cmd)
				return
			}
			data = byteOut
		}
	}
	debug.DebugDevf(device.addr, device.debugMsk, debugData, "Tape read %02x", data)
	if ch.ChanWriteByte(device.addr, data) {
		device.drainRecord(cmd)
		return
	}
	event.AddEvent(device, device.callbackData, device.frameTime, cmd)
}

// Collect one channel byte into the record buffer.
func (device *Model2400ctx) writeFrame(cmd int) {
	// Held fourth frame of a conversion group, no channel byte.
	if device.seven && device.convOn && !device.conv.needByte() {
		device.ctl.buffer[device.hwmark] = device.frameOut(device.conv.writeStep(0))
		device.hwmark++
		event.AddEvent(device, device.callbackData, device.frameTime, cmd)
		return
	}

	var data uint8
	end := true
	if !device.halt {
		data, end = ch.ChanReadByte(device.addr)
	}
	if end {
		if device.seven && device.convOn {
			if frame, ok := device.conv.flush(); ok {
				device.ctl.buffer[device.hwmark] = device.frameOut(frame)
				device.hwmark++
			}
		}
		device.finishWrite()
		return
	}

	device.sense[0] &^= dev.SenseWCZERO
	if device.seven {
		if device.trans {
			data = (data & 0xf) | ((data & 0x30) ^ 0x30)
		}
		if device.convOn {
			data = device.conv.writeStep(data)
		}
		data = device.frameOut(data)
	}
	debug.DebugDevf(device.addr, device.debugMsk, debugData, "Tape write %02x", data)
	device.ctl.buffer[device.hwmark] = data
	device.hwmark++
	if device.hwmark >= len(device.ctl.buffer) {
		device.sense[0] |= dev.SenseOVRRUN
		device.finishWrite()
		return
	}
	event.AddEvent(device, device.callbackData, device.frameTime, cmd)
}

// Commit the buffered record to tape and post completion.
func (device *Model2400ctx) finishWrite() {
	if device.hwmark > 0 {
		err := device.context.WriteRec(device.ctl.buffer[:device.hwmark])
		if err != nil {
			device.dataError(err)
			return
		}
	}
	device.finishData(dev.CStatusChnEnd | dev.CStatusDevEnd)
}

// Per frame service for data transfers.
func (device *Model2400ctx) callbackData(cmd int) {
	switch uint8(cmd) {
	case dev.CmdRead, dev.CmdRDBWD:
		device.readFrame(cmd)
	case dev.CmdWrite:
		device.writeFrame(cmd)
	}
}

// Motion command completed, post device end by attention.
func (device *Model2400ctx) callbackFinish(_ int) {
	device.activity = actIdle
	device.halt = false
	device.ctl.release(device)
	status := dev.CStatusDevEnd
	if device.mark {
		status |= dev.CStatusExpt
		device.mark = false
	}
	if device.sense[0] != 0 {
		status |= dev.CStatusCheck
	}
	ch.SetDevAttn(device.addr, status)
}

// Rewind in bursts of frames until load point.
func (device *Model2400ctx) callbackRewind(cmd int) {
	if device.context.RewindFrames(rewindBurst) {
		if device.unload {
			if err := device.context.Detach(); err != nil {
				slog.Error(err.Error())
			}
			device.unload = false
		}
		device.activity = actIdle
		ch.SetDevAttn(device.addr, dev.CStatusDevEnd)
		return
	}
	event.AddEvent(device, device.callbackRewind, rewindDelay, cmd)
}

// Space one file in the selected direction, one record per tick.
func (device *Model2400ctx) spaceFile(cmd int) {
	var reclen int
	var err error
	if uint8(cmd) == cmdFSF {
		reclen, err = device.context.SpaceForward()
	} else {
		reclen, err = device.context.SpaceBackward()
	}
	debug.DebugDevf(device.addr, device.debugMsk, debugDetail, "Tape space %02x %d", cmd, reclen)
	switch {
	case errors.Is(err, tape.TapeMARK):
		event.AddEvent(device, device.callbackFinish, markDelay, cmd)
	case errors.Is(err, tape.TapeBOT):
		event.AddEvent(device, device.callbackFinish, spaceDelay, cmd)
	case errors.Is(err, tape.TapeEOT):
		device.sense[0] |= dev.SenseEQUCHK
		event.AddEvent(device, device.callbackFinish, spaceDelay, cmd)
	case err != nil:
		slog.Error(err.Error())
		device.sense[0] |= dev.SenseEQUCHK
		event.AddEvent(device, device.callbackFinish, spaceDelay, cmd)
	default:
		event.AddEvent(device, device.callback, spaceDelay+spaceDelay*reclen, cmd)
	}
}

// Start phase of each command after its startup delay.
func (device *Model2400ctx) callback(cmd int) {
	switch uint8(cmd) {
	case dev.CmdSense:
		device.activity = actIdle
		if device.seven {
			device.sense[1] |= sense7Track
		}
		if device.context.Attached() {
			device.sense[1] |= senseTUAStA
			if !device.context.TapeRing() {
				device.sense[1] |= senseNoRing
			}
			if device.context.TapeAtLoadPt() {
				device.sense[1] |= senseLoad
			}
		} else {
			device.sense[0] |= dev.SenseINTVENT
		}
		device.sense[2] = senseByte2
		for i := range device.sense {
			if ch.ChanWriteByte(device.addr, device.sense[i]) {
				break
			}
		}
		ch.ChanEnd(device.addr, dev.CStatusChnEnd|dev.CStatusDevEnd)
		device.clearSense()

	case dev.CmdRead:
		reclen, err := device.context.ReadRecForward(device.ctl.buffer)
		if err != nil {
			device.dataError(err)
			return
		}
		device.hwmark = reclen
		device.pos = 0
		event.AddEvent(device, device.callbackData, device.frameTime, cmd)

	case dev.CmdRDBWD:
		reclen, err := device.context.ReadRecBackward(device.ctl.buffer)
		if err != nil {
			device.dataError(err)
			return
		}
		device.sense[3] |= senseBack
		device.hwmark = reclen
		device.pos = 0
		event.AddEvent(device, device.callbackData, device.frameTime, cmd)

	case dev.CmdWrite:
		device.sense[0] |= dev.SenseWCZERO
		device.sense[1] |= senseWrite
		device.hwmark = 0
		event.AddEvent(device, device.callbackData, device.frameTime, cmd)

	case cmdREW, cmdRUN:
		device.unload = uint8(cmd) == cmdRUN
		// Channel path frees up while the drive rewinds on its own.
		device.ctl.release(device)
		if err := device.context.StartRewind(); err != nil {
			slog.Error(err.Error())
		}
		event.AddEvent(device, device.callbackRewind, rewindDelay, cmd)

	case cmdERG:
		event.AddEvent(device, device.callbackFinish, eraseDelay, cmd)

	case cmdWTM:
		if err := device.context.WriteMark(); err != nil {
			slog.Error(err.Error())
			device.sense[0] |= dev.SenseEQUCHK
		}
		event.AddEvent(device, device.callbackFinish, markDelay, cmd)

	case cmdFSR, cmdBSR:
		var reclen int
		var err error
		if uint8(cmd) == cmdFSR {
			reclen, err = device.context.SpaceForward()
		} else {
			reclen, err = device.context.SpaceBackward()
		}
		switch {
		case errors.Is(err, tape.TapeMARK):
			device.mark = true
		case errors.Is(err, tape.TapeBOT):
		case errors.Is(err, tape.TapeEOT):
			device.sense[0] |= dev.SenseEQUCHK
		case err != nil:
			slog.Error(err.Error())
			device.sense[0] |= dev.SenseEQUCHK
		}
		event.AddEvent(device, device.callbackFinish, spaceDelay+spaceDelay*reclen, cmd)

	case cmdFSF, cmdBSF:
		device.spaceFile(cmd)
	}
}

// Register a tape controller model on initialize.
func init() {
	config.RegisterModel("2400", config.TypeModel, create)
}

// Create a tape controller with its drives. Drives sit at
// consecutive device numbers sharing one record buffer.
func create(devNum uint16, _ string, options []config.Option) error {
	ctl := &tapeCtl{buffer: make([]uint8, maxRecord)}
	units := 1
	seven := false
	ring := true
	format := ""
	fileName := ""

	for _, option := range options {
		switch strings.ToUpper(option.Name) {
		case "UNITS":
			num, err := strconv.Atoi(option.EqualOpt)
			if err != nil || num < 1 || num > 8 {
				return errors.New("2400 invalid number of units: " + option.EqualOpt)
			}
			units = num

		case "FORMAT", "FMT":
			format = option.EqualOpt

		case "RO", "NORING":
			ring = false

		case "RW", "RING":
			ring = true

		case "7TRACK":
			seven = true

		case "9TRACK":
			seven = false

		case "FILE":
			if option.EqualOpt == "" {
				return errors.New("file option missing filename")
			}
			fileName = option.EqualOpt

		default:
			return errors.New("2400 invalid option " + option.Name)
		}
		if option.Value != nil {
			return errors.New("extra options not supported on: " + option.Name)
		}
	}

	for i := 0; i < units; i++ {
		device := &Model2400ctx{addr: devNum + uint16(i), ctl: ctl}
		device.context = tape.NewContext()
		device.convOn = true
		device.odd = true
		device.seven = seven
		device.density = tape.Density1600
		if seven {
			device.context.Set7Track()
			device.density = tape.Density800
		}
		device.frameTime = densityTime[device.density]
		if !ring {
			device.context.SetNoRing()
		}
		if format != "" {
			if err := device.context.SetFormat(format); err != nil {
				return errors.New("invalid tape format type: " + format)
			}
		}
		if err := ch.AddDevice(device, device, device.addr); err != nil {
			return fmt.Errorf("unable to create 2400 at %03x: %w", device.addr, err)
		}
		if i == 0 && fileName != "" {
			if err := device.context.Attach(fileName); err != nil {
				return err
			}
		}
	}
	return nil
}
