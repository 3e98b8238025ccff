/*
 * PERIPH - Byte multiplexer channel interface.
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

package syschannel

import (
	"fmt"

	"github.com/rcornwell/periph/command/command"
	D "github.com/rcornwell/periph/emu/device"
)

// Per device transfer state. One command can be outstanding on a
// device at a time; the host hands the channel a transfer area and
// the device moves one byte per service tick.
type subChannel struct {
	dev      D.Device        // Device interface
	cmdDev   command.Command // Console command interface
	cmd      uint8           // Current command
	buffer   []byte          // Host transfer area
	pos      int             // Position in transfer area
	count    int             // Number of bytes moved
	status   uint8           // Accumulated ending status
	attnStat uint8           // Pending asynchronous status
	attn     bool            // Asynchronous status posted
}

var subChannels map[uint16]*subChannel

// Initialize channel state. Forgets all attached devices.
func InitializeChannels() {
	subChannels = map[uint16]*subChannel{}
}

// Register a device at the given device number.
func AddDevice(device D.Device, cmdDev command.Command, devNum uint16) error {
	if subChannels == nil {
		InitializeChannels()
	}
	if _, ok := subChannels[devNum]; ok {
		return fmt.Errorf("device %03x already exists", devNum)
	}
	subChannels[devNum] = &subChannel{dev: device, cmdDev: cmdDev}
	return nil
}

// Remove a device from the channel.
func DelDevice(devNum uint16) {
	delete(subChannels, devNum)
}

// Return device registered at the given device number.
func GetDevice(devNum uint16) (D.Device, error) {
	sc, ok := subChannels[devNum]
	if !ok {
		return nil, fmt.Errorf("device %03x does not exist", devNum)
	}
	return sc.dev, nil
}

// Return console command interface for device number.
func GetCommand(devNum uint16) (command.Command, error) {
	sc, ok := subChannels[devNum]
	if !ok {
		return nil, fmt.Errorf("device %03x does not exist", devNum)
	}
	return sc.cmdDev, nil
}

// List of devices attached to the channel.
func DeviceList() []uint16 {
	devices := []uint16{}
	for devNum := range subChannels {
		devices = append(devices, devNum)
	}
	return devices
}

// Issue a command to a device. The buffer is the host side transfer
// area; for read class commands the device fills it, for write class
// commands the device drains it. Returns initial device status. A
// zero return means the device accepted the command and will post
// ending status later.
func StartCommand(devNum uint16, cmd uint8, buffer []byte) uint8 {
	sc, ok := subChannels[devNum]
	if !ok {
		return D.CStatusCheck
	}
	// Stage the new transfer area so the device can move bytes from
	// inside StartCmd. A busy unit refuses without transferring, put
	// the in flight command's state back so it keeps its buffer and
	// accumulated status.
	prevCmd := sc.cmd
	prevBuffer := sc.buffer
	prevPos := sc.pos
	prevCount := sc.count
	prevStatus := sc.status
	sc.cmd = cmd
	sc.buffer = buffer
	sc.pos = 0
	sc.count = 0
	sc.status = 0
	status := sc.dev.StartCmd(cmd)
	if (status & D.CStatusBusy) != 0 {
		sc.cmd = prevCmd
		sc.buffer = prevBuffer
		sc.pos = prevPos
		sc.count = prevCount
		sc.status = prevStatus
		return status
	}
	sc.status |= status
	return status
}

// Read a byte from the host transfer area. Devices call this to get
// the next byte of a write style transfer. Returns true when the host
// has no more data.
func ChanReadByte(devNum uint16) (uint8, bool) {
	sc, ok := subChannels[devNum]
	if !ok || sc.pos >= len(sc.buffer) {
		return 0, true
	}
	data := sc.buffer[sc.pos]
	sc.pos++
	sc.count++
	return data, false
}

// Write a byte to the host transfer area. Devices call this to
// deliver the next byte of a read style transfer. Returns true when
// the host wants no more data.
func ChanWriteByte(devNum uint16, data uint8) bool {
	sc, ok := subChannels[devNum]
	if !ok || sc.pos >= len(sc.buffer) {
		return true
	}
	sc.buffer[sc.pos] = data
	sc.pos++
	sc.count++
	return false
}

// Report whether the host transfer area has been fully consumed.
func TransferDone(devNum uint16) bool {
	sc, ok := subChannels[devNum]
	if !ok {
		return true
	}
	return sc.pos >= len(sc.buffer)
}

// Number of bytes moved for current command.
func TransferCount(devNum uint16) int {
	sc, ok := subChannels[devNum]
	if !ok {
		return 0
	}
	return sc.count
}

// Device posts ending status for current command.
func ChanEnd(devNum uint16, flags uint8) {
	sc, ok := subChannels[devNum]
	if !ok {
		return
	}
	sc.status |= flags
}

// Device posts asynchronous status, decoupled from any transfer.
func SetDevAttn(devNum uint16, flags uint8) {
	sc, ok := subChannels[devNum]
	if !ok {
		return
	}
	sc.attnStat |= flags
	sc.attn = true
}

// Accumulated ending status for current command.
func Status(devNum uint16) uint8 {
	sc, ok := subChannels[devNum]
	if !ok {
		return 0
	}
	return sc.status
}

// Return and clear pending asynchronous status. Second result is
// false when no status is pending.
func DevAttn(devNum uint16) (uint8, bool) {
	sc, ok := subChannels[devNum]
	if !ok || !sc.attn {
		return 0, false
	}
	status := sc.attnStat
	sc.attnStat = 0
	sc.attn = false
	return status, true
}

// Command is complete when both channel end and device end have been
// presented, counting asynchronous status.
func Complete(devNum uint16) bool {
	sc, ok := subChannels[devNum]
	if !ok {
		return false
	}
	status := sc.status | sc.attnStat
	return (status&D.CStatusChnEnd) != 0 && (status&D.CStatusDevEnd) != 0
}

// Halt current operation on a device.
func HaltDevice(devNum uint16) uint8 {
	sc, ok := subChannels[devNum]
	if !ok {
		return 0
	}
	return sc.dev.HaltIO()
}

// Reset a device and forget any latched status.
func ResetDevice(devNum uint16) uint8 {
	sc, ok := subChannels[devNum]
	if !ok {
		return 0
	}
	sc.buffer = nil
	sc.pos = 0
	sc.count = 0
	sc.status = 0
	sc.attnStat = 0
	sc.attn = false
	return sc.dev.InitDev()
}

// Reset every device on the channel.
func ResetChannels() {
	for devNum := range subChannels {
		ResetDevice(devNum)
	}
}
