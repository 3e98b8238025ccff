/* High speed disk processor emulation.

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

package model8064

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rcornwell/periph/command/command"
	config "github.com/rcornwell/periph/config/configparser"
	dev "github.com/rcornwell/periph/emu/device"
	event "github.com/rcornwell/periph/emu/event"
	ch "github.com/rcornwell/periph/emu/sys_channel"
	debug "github.com/rcornwell/periph/util/debug"
	"github.com/rcornwell/periph/util/disk"
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
	cmdWD  uint8 = 0x01 // Write data
	cmdRD  uint8 = 0x02 // Read data
	cmdNOP uint8 = 0x03 // No operation
	cmdSNS uint8 = 0x04 // Sense
	cmdSCK uint8 = 0x07 // Seek cylinder, track, sector
	cmdLMR uint8 = 0x1f // Load mode register
	cmdXEZ uint8 = 0x37 // Rezero

	// Sense status byte values.
	statReady    uint8 = 0x80 // Drive attached and ready
	statWritePro uint8 = 0x40 // Drive write protected

	// Length of sense data.
	senseLen = 14

	// Service timing.
	startDelay = 1000 // Command startup
	senseDelay = 10   // Sense data ready
	sectorTime = 100  // Per sector transferred
	seekLong   = 800  // 50 cylinder step
	seekMid    = 400  // 20 cylinder step
	seekShort  = 200  // Single cylinder step
)

// What a drive is currently doing.
type activity int

const (
	actIdle activity = iota
	actSense
	actRead
	actWrite
	actSeek
)

// One drive geometry table entry.
type diskType struct {
	name string
	geom disk.Geometry
	attr uint8 // Device class code
}

var diskTypes = []diskType{
	{"MH040", disk.Geometry{SectorBytes: 1024, Sectors: 16, Heads: 5, Cylinders: 411}, 0x40},
	{"MH080", disk.Geometry{SectorBytes: 1024, Sectors: 16, Heads: 5, Cylinders: 823}, 0x40},
	{"MH160", disk.Geometry{SectorBytes: 1024, Sectors: 16, Heads: 10, Cylinders: 823}, 0x40},
	{"MH300", disk.Geometry{SectorBytes: 1024, Sectors: 16, Heads: 19, Cylinders: 823}, 0x40},
	{"MH600", disk.Geometry{SectorBytes: 1024, Sectors: 16, Heads: 40, Cylinders: 843}, 0x40},
	{"FH005", disk.Geometry{SectorBytes: 1024, Sectors: 16, Heads: 4, Cylinders: 64}, 0x80},
}

func findDiskType(name string) (diskType, bool) {
	for _, dtype := range diskTypes {
		if strings.EqualFold(dtype.name, name) {
			return dtype, true
		}
	}
	return diskType{}, false
}

// Controller owns the sector buffer shared by its drives. Only the
// unit holding the lease may transfer; any other unit gets busy
// status and a control unit end when the buffer frees up.
type diskCtl struct {
	buffer []uint8
	owner  *Model8064ctx
	retry  []uint16
}

func (ctl *diskCtl) lease(unit *Model8064ctx) bool {
	if ctl.owner != nil && ctl.owner != unit {
		return false
	}
	ctl.owner = unit
	return true
}

func (ctl *diskCtl) markRetry(devNum uint16) {
	for _, retry := range ctl.retry {
		if retry == devNum {
			return
		}
	}
	ctl.retry = append(ctl.retry, devNum)
}

func (ctl *diskCtl) release(unit *Model8064ctx) {
	if ctl.owner != unit {
		return
	}
	ctl.owner = nil
	for _, devNum := range ctl.retry {
		ch.SetDevAttn(devNum, dev.CStatusCtlEnd)
	}
	ctl.retry = nil
}

// One disk drive.
type Model8064ctx struct {
	addr     uint16        // Current device address
	ctl      *diskCtl      // Controller this drive hangs off
	activity activity      // Current operation
	cmd      uint8         // Active channel command
	halt     bool          // Halt current operation
	dtype    diskType      // Geometry table entry
	cyl      int           // Current cylinder
	trk      int           // Current track
	sec      int           // Current sector
	tcyl     int           // Seek target cylinder
	ttrk     int           // Seek target track
	tsec     int           // Seek target sector
	mode     uint8         // Mode register
	sense0   uint8         // Accumulated error sense
	context  *disk.Context // Backing disk image
	debugMsk int           // Debug options mask
}

// Handle start of I/O chain.
func (device *Model8064ctx) StartIO() uint8 {
	if device.activity != actIdle {
		return dev.CStatusBusy
	}
	return 0
}

// Validate a command and install it on the drive.
func (device *Model8064ctx) StartCmd(cmd uint8) uint8 {
	if device.activity != actIdle {
		return dev.CStatusBusy
	}

	debug.DebugDevf(device.addr, device.debugMsk, debugCmd, "Disk cmd %02x", cmd)
	switch cmd {
	case 0:
		return 0

	case cmdNOP:
		return dev.CStatusChnEnd | dev.CStatusDevEnd

	case cmdSNS:
		device.activity = actSense
		device.cmd = cmd
		event.AddEvent(device, device.callback, senseDelay, int(cmd))
		return 0

	case cmdLMR:
		if !device.context.Attached() {
			device.sense0 |= dev.SenseINTVENT
			return dev.CStatusChnEnd | dev.CStatusDevEnd | dev.CStatusCheck
		}
		mode, end := ch.ChanReadByte(device.addr)
		if end {
			device.sense0 |= dev.SenseCMDREJ
			return dev.CStatusChnEnd | dev.CStatusDevEnd | dev.CStatusCheck
		}
		device.mode = mode
		return dev.CStatusChnEnd | dev.CStatusDevEnd

	case cmdSCK, cmdXEZ:
		device.sense0 = 0
		if !device.context.Attached() {
			device.sense0 |= dev.SenseINTVENT
			return dev.CStatusChnEnd | dev.CStatusDevEnd | dev.CStatusCheck
		}
		tcyl, ttrk, tsec := 0, 0, 0
		if cmd == cmdSCK {
			var star [4]uint8
			for i := range star {
				data, end := ch.ChanReadByte(device.addr)
				if end {
					device.sense0 |= dev.SenseCMDREJ
					return dev.CStatusChnEnd | dev.CStatusDevEnd | dev.CStatusCheck
				}
				star[i] = data
			}
			tcyl = int(star[0])<<8 | int(star[1])
			ttrk = int(star[2])
			tsec = int(star[3])
		}

		// Target outside the volume leaves the cursor alone.
		if !device.dtype.geom.Valid(tcyl, ttrk, tsec) {
			device.sense0 |= dev.SenseCMDREJ | dev.SenseEQUCHK
			return dev.CStatusChnEnd | dev.CStatusDevEnd | dev.CStatusCheck
		}
		device.trk = ttrk
		device.sec = tsec
		if tcyl == device.cyl {
			// Arm already there, no motion needed.
			return dev.CStatusChnEnd | dev.CStatusDevEnd
		}
		device.tcyl = tcyl
		device.activity = actSeek
		device.cmd = cmd
		device.halt = false
		event.AddEvent(device, device.callbackSeek, device.seekStep(), int(cmd))
		return dev.CStatusChnEnd

	case cmdRD, cmdWD:
		device.sense0 = 0
		if !device.context.Attached() {
			device.sense0 |= dev.SenseINTVENT
			return dev.CStatusChnEnd | dev.CStatusDevEnd | dev.CStatusCheck
		}
		if cmd == cmdWD && device.context.ReadOnly() {
			device.sense0 |= dev.SenseCMDREJ
			return dev.CStatusChnEnd | dev.CStatusDevEnd | dev.CStatusCheck
		}
		if !device.ctl.lease(device) {
			device.ctl.markRetry(device.addr)
			return dev.CStatusBusy
		}
		if cmd == cmdRD {
			device.activity = actRead
		} else {
			device.activity = actWrite
		}
		device.cmd = cmd
		device.halt = false
		event.AddEvent(device, device.callback, startDelay, int(cmd))
		return 0

	default:
		device.sense0 |= dev.SenseCMDREJ
		return dev.CStatusChnEnd | dev.CStatusDevEnd | dev.CStatusCheck
	}
}

// Handle halt I/O.
func (device *Model8064ctx) HaltIO() uint8 {
	device.halt = true
	return 1
}

// Reset a drive, dropping any operation in flight.
func (device *Model8064ctx) InitDev() uint8 {
	if device.activity != actIdle {
		event.CancelEvent(device, int(device.cmd))
	}
	device.activity = actIdle
	device.halt = false
	device.sense0 = 0
	device.ctl.release(device)
	return 0
}

// Enable debug options.
func (device *Model8064ctx) Debug(opt string) error {
	flag, ok := debugOption[opt]
	if !ok {
		return errors.New("8064 debug option invalid: " + opt)
	}
	device.debugMsk |= flag
	return nil
}

// Options for attach command.
func (device *Model8064ctx) Options(_ string) []command.Options {
	types := []string{}
	for _, dtype := range diskTypes {
		types = append(types, dtype.name)
	}
	return []command.Options{
		{
			Name:        "file",
			OptionType:  command.OptionFile,
			OptionValid: command.ValidAttach | command.ValidShow,
		},
		{
			Name:        "type",
			OptionType:  command.OptionList,
			OptionValid: command.ValidAttach | command.ValidSet | command.ValidShow,
			OptionList:  types,
		},
	}
}

// Attach file to device.
func (device *Model8064ctx) Attach(opts []*command.CmdOption) error {
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

		case "type":
			dtype, ok := findDiskType(opt.EqualOpt)
			if !ok {
				return errors.New("invalid disk type: " + opt.EqualOpt)
			}
			if err = device.context.SetGeometry(dtype.geom); err != nil {
				return err
			}
			device.dtype = dtype

		default:
			return errors.New("invalid option: " + opt.Name)
		}
	}
	return err
}

// Detach device. Cancels any operation in flight first.
func (device *Model8064ctx) Detach() error {
	if device.activity != actIdle {
		event.CancelEvent(device, int(device.cmd))
		device.activity = actIdle
		device.ctl.release(device)
	}
	device.cyl = 0
	device.trk = 0
	device.sec = 0
	if !device.context.Attached() {
		return nil
	}
	return device.context.Detach()
}

// Set command.
func (device *Model8064ctx) Set(unset bool, opts []*command.CmdOption) error {
	for _, opt := range opts {
		switch opt.Name {
		case "type":
			if unset {
				return errors.New("unset not valid for type")
			}
			dtype, ok := findDiskType(opt.EqualOpt)
			if !ok {
				return errors.New("invalid disk type: " + opt.EqualOpt)
			}
			if err := device.context.SetGeometry(dtype.geom); err != nil {
				return err
			}
			device.dtype = dtype

		default:
			return errors.New("invalid option: " + opt.Name)
		}
	}
	return nil
}

// Show command.
func (device *Model8064ctx) Show(opts []*command.CmdOption) (string, error) {
	flags := 0

	str := fmt.Sprintf("%03x:", device.addr)
	for _, opt := range opts {
		switch opt.Name {
		case "file":
			flags |= 1
		case "type":
			flags |= 2
		default:
			return "", errors.New("invalid option: " + opt.Name)
		}
	}

	if flags == 0 {
		flags = 0xf
	}
	if (flags & 2) != 0 {
		str += " TYPE=" + device.dtype.name
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
func (device *Model8064ctx) GetAddr() uint16 {
	return device.addr
}

// Rewind only applies to tape devices.
func (device *Model8064ctx) Rewind() error {
	return errors.New("rewind not valid for disk")
}

// Console reset request. Drops any operation and homes the arm.
func (device *Model8064ctx) Reset() error {
	device.InitDev()
	device.cyl = 0
	device.trk = 0
	device.sec = 0
	return nil
}

// One arm motion step toward the target cylinder.
func (device *Model8064ctx) seekStep() int {
	distance := device.tcyl - device.cyl
	if distance < 0 {
		distance = -distance
	}
	switch {
	case distance > 50:
		return seekLong
	case distance >= 20:
		return seekMid
	default:
		return seekShort
	}
}

// Move the arm by one staircase band per callback.
func (device *Model8064ctx) callbackSeek(cmd int) {
	distance := device.tcyl - device.cyl
	if distance == 0 {
		device.activity = actIdle
		ch.SetDevAttn(device.addr, dev.CStatusDevEnd)
		return
	}
	direction := 1
	if distance < 0 {
		direction = -1
		distance = -distance
	}
	step := 1
	switch {
	case distance > 50:
		step = 50
	case distance >= 20:
		step = 20
	}
	device.cyl += direction * step
	debug.DebugDevf(device.addr, device.debugMsk, debugDetail, "Disk seek at %d target %d", device.cyl, device.tcyl)
	event.AddEvent(device, device.callbackSeek, device.seekStep(), cmd)
}

// Terminal completion for data transfer commands.
func (device *Model8064ctx) finishData(status uint8) {
	device.activity = actIdle
	device.halt = false
	device.ctl.release(device)
	if device.sense0 != 0 {
		status |= dev.CStatusCheck
	}
	ch.ChanEnd(device.addr, status)
}

// Advance the position cursor by one sector. False at end of volume.
func (device *Model8064ctx) advanceSector() bool {
	geom := device.dtype.geom
	device.sec++
	if device.sec < geom.Sectors {
		return true
	}
	device.sec = 0
	device.trk++
	if device.trk < geom.Heads {
		return true
	}
	device.trk = 0
	device.cyl++
	return device.cyl < geom.Cylinders
}

// Move one sector between the disk and the channel per tick.
func (device *Model8064ctx) callbackData(cmd int) {
	geom := device.dtype.geom
	buffer := device.ctl.buffer[:geom.SectorBytes]

	if device.halt {
		device.finishData(dev.CStatusChnEnd | dev.CStatusDevEnd)
		return
	}

	if uint8(cmd) == cmdRD {
		if err := device.context.ReadSector(device.cyl, device.trk, device.sec, buffer); err != nil {
			device.sense0 |= dev.SenseEQUCHK
			device.finishData(dev.CStatusChnEnd | dev.CStatusDevEnd)
			return
		}
		for _, data := range buffer {
			if ch.ChanWriteByte(device.addr, data) {
				device.finishData(dev.CStatusChnEnd | dev.CStatusDevEnd)
				return
			}
		}
		debug.DebugDevf(device.addr, device.debugMsk, debugData, "Disk read %d/%d/%d", device.cyl, device.trk, device.sec)
	} else {
		count := 0
		done := false
		for count < len(buffer) {
			data, end := ch.ChanReadByte(device.addr)
			if end {
				done = true
				break
			}
			buffer[count] = data
			count++
		}
		if count == 0 {
			device.finishData(dev.CStatusChnEnd | dev.CStatusDevEnd)
			return
		}
		// Short sector pads with zeros.
		for i := count; i < len(buffer); i++ {
			buffer[i] = 0
		}
		if err := device.context.WriteSector(device.cyl, device.trk, device.sec, buffer); err != nil {
			device.sense0 |= dev.SenseEQUCHK
			device.finishData(dev.CStatusChnEnd | dev.CStatusDevEnd)
			return
		}
		debug.DebugDevf(device.addr, device.debugMsk, debugData, "Disk write %d/%d/%d", device.cyl, device.trk, device.sec)
		if done {
			device.finishData(dev.CStatusChnEnd | dev.CStatusDevEnd)
			return
		}
	}

	if ch.TransferDone(device.addr) {
		device.finishData(dev.CStatusChnEnd | dev.CStatusDevEnd)
		return
	}
	// Crossing the last cylinder is unrecoverable.
	if !device.advanceSector() {
		device.sense0 |= dev.SenseEQUCHK
		device.finishData(dev.CStatusChnEnd | dev.CStatusDevEnd)
		return
	}
	event.AddEvent(device, device.callbackData, sectorTime, cmd)
}

// Start phase of each command after its startup delay.
func (device *Model8064ctx) callback(cmd int) {
	switch uint8(cmd) {
	case cmdSNS:
		device.activity = actIdle
		status := uint8(0)
		if device.context.Attached() {
			status |= statReady
			if device.context.ReadOnly() {
				status |= statWritePro
			}
		}
		sense := [senseLen]uint8{
			uint8(device.cyl >> 8), uint8(device.cyl), uint8(device.trk), uint8(device.sec),
			device.mode, device.sense0, status, 0,
			device.dtype.attr, uint8(device.dtype.geom.Heads), uint8(device.dtype.geom.Sectors),
			uint8(device.dtype.geom.Cylinders >> 8), uint8(device.dtype.geom.Cylinders), 0,
		}
		for _, data := range sense {
			if ch.ChanWriteByte(device.addr, data) {
				break
			}
		}
		ch.ChanEnd(device.addr, dev.CStatusChnEnd|dev.CStatusDevEnd)
		// Error bytes clear on read, the mode register stays.
		device.sense0 = 0

	case cmdRD, cmdWD:
		event.AddEvent(device, device.callbackData, sectorTime, cmd)
	}
}

// Register a disk controller model on initialize.
func init() {
	config.RegisterModel("8064", config.TypeModel, create)
}

// Create a disk controller with its drives. Drives sit at
// consecutive device numbers sharing one sector buffer.
func create(devNum uint16, _ string, options []config.Option) error {
	maxSector := 0
	for _, dtype := range diskTypes {
		if dtype.geom.SectorBytes > maxSector {
			maxSector = dtype.geom.SectorBytes
		}
	}
	ctl := &diskCtl{buffer: make([]uint8, maxSector)}
	units := 1
	dtype := diskTypes[0]
	fileName := ""

	for _, option := range options {
		switch strings.ToUpper(option.Name) {
		case "UNITS":
			num, err := strconv.Atoi(option.EqualOpt)
			if err != nil || num < 1 || num > 8 {
				return errors.New("8064 invalid number of units: " + option.EqualOpt)
			}
			units = num

		case "TYPE":
			found, ok := findDiskType(option.EqualOpt)
			if !ok {
				return errors.New("invalid disk type: " + option.EqualOpt)
			}
			dtype = found

		case "FILE":
			if option.EqualOpt == "" {
				return errors.New("file option missing filename")
			}
			fileName = option.EqualOpt

		default:
			return errors.New("8064 invalid option " + option.Name)
		}
		if option.Value != nil {
			return errors.New("extra options not supported on: " + option.Name)
		}
	}

	for i := 0; i < units; i++ {
		device := &Model8064ctx{addr: devNum + uint16(i), ctl: ctl}
		device.dtype = dtype
		device.context = disk.NewContext(dtype.geom)
		if err := ch.AddDevice(device, device, device.addr); err != nil {
			return fmt.Errorf("unable to create 8064 at %03x: %w", device.addr, err)
		}
		if i == 0 && fileName != "" {
			if err := device.context.Attach(fileName); err != nil {
				return err
			}
		}
	}
	return nil
}
