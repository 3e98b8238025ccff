/* High speed disk processor test cases.

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
	"path/filepath"
	"testing"

	dev "github.com/rcornwell/periph/emu/device"
	event "github.com/rcornwell/periph/emu/event"
	ch "github.com/rcornwell/periph/emu/sys_channel"
	"github.com/rcornwell/periph/util/disk"
)

// Build a drive on a fresh controller and channel.
func setupDisk(t *testing.T, typeName string) *Model8064ctx {
	t.Helper()
	ch.InitializeChannels()
	dtype, ok := findDiskType(typeName)
	if !ok {
		t.Fatalf("Unknown disk type %s", typeName)
	}
	ctl := &diskCtl{buffer: make([]uint8, dtype.geom.SectorBytes)}
	device := &Model8064ctx{addr: 0x800, ctl: ctl, dtype: dtype}
	device.context = disk.NewContext(dtype.geom)
	if err := ch.AddDevice(device, device, device.addr); err != nil {
		t.Fatal(err)
	}
	if err := device.context.Attach(filepath.Join(t.TempDir(), "disk.img")); err != nil {
		t.Fatal(err)
	}
	return device
}

// Issue a command and run events until it completes. Returns
// combined ending status.
func runCommand(t *testing.T, device *Model8064ctx, cmd uint8, buffer []byte) uint8 {
	t.Helper()
	status := ch.StartCommand(device.addr, cmd, buffer)
	for !ch.Complete(device.addr) {
		if !event.AnyEvent() {
			t.Fatalf("Command %02x stalled with no events pending", cmd)
		}
		event.Advance(1)
	}
	status |= ch.Status(device.addr)
	if attn, ok := ch.DevAttn(device.addr); ok {
		status |= attn
	}
	return status
}

func star(cyl int, trk int, sec int) []byte {
	return []byte{uint8(cyl >> 8), uint8(cyl), uint8(trk), uint8(sec)}
}

func TestDiskSeek(t *testing.T) {
	device := setupDisk(t, "MH080")

	status := ch.StartCommand(device.addr, cmdSCK, star(120, 2, 5))
	if status != dev.CStatusChnEnd {
		t.Fatalf("Seek status %02x expected channel end only", status)
	}

	// 0 to 120 crosses three staircase bands: 50, 50 then 20
	// cylinders, plus the final on cylinder check.
	ticks := 0
	for !ch.Complete(device.addr) {
		if !event.AnyEvent() {
			t.Fatal("Seek stalled")
		}
		event.Advance(1)
		ticks++
	}
	if ticks != seekLong+seekLong+seekMid+seekShort {
		t.Errorf("Seek took %d ticks expected %d", ticks, seekLong+seekLong+seekMid+seekShort)
	}
	if device.cyl != 120 || device.trk != 2 || device.sec != 5 {
		t.Errorf("Cursor at %d/%d/%d expected 120/2/5", device.cyl, device.trk, device.sec)
	}
	attn, ok := ch.DevAttn(device.addr)
	if !ok || attn != dev.CStatusDevEnd {
		t.Errorf("Seek attention %02x,%v expected device end", attn, ok)
	}
}

// A second seek to the same cylinder completes in one step.
func TestDiskSeekOnCylinder(t *testing.T) {
	device := setupDisk(t, "MH080")

	runCommand(t, device, cmdSCK, star(30, 0, 0))
	status := ch.StartCommand(device.addr, cmdSCK, star(30, 4, 9))
	if status != dev.CStatusChnEnd|dev.CStatusDevEnd {
		t.Fatalf("On cylinder seek status %02x", status)
	}
	if device.cyl != 30 || device.trk != 4 || device.sec != 9 {
		t.Errorf("Cursor at %d/%d/%d expected 30/4/9", device.cyl, device.trk, device.sec)
	}
}

func TestDiskSeekBounds(t *testing.T) {
	device := setupDisk(t, "FH005")

	runCommand(t, device, cmdSCK, star(5, 1, 2))
	for _, target := range [][]byte{
		star(64, 0, 0), // Past last cylinder
		star(0, 4, 0),  // Past last track
		star(0, 0, 16), // Past last sector
	} {
		status := ch.StartCommand(device.addr, cmdSCK, target)
		if status&dev.CStatusCheck == 0 {
			t.Errorf("Out of bounds seek %v status %02x", target, status)
		}
		if device.sense0&dev.SenseCMDREJ == 0 || device.sense0&dev.SenseEQUCHK == 0 {
			t.Errorf("Out of bounds seek %v sense %02x", target, device.sense0)
		}
		if device.cyl != 5 || device.trk != 1 || device.sec != 2 {
			t.Errorf("Cursor moved to %d/%d/%d on rejected seek", device.cyl, device.trk, device.sec)
		}
		device.sense0 = 0
	}
}

func TestDiskReadWrite(t *testing.T) {
	device := setupDisk(t, "FH005")
	sectorBytes := device.dtype.geom.SectorBytes

	// Three sectors crossing a track boundary.
	runCommand(t, device, cmdSCK, star(0, 0, 14))
	record := make([]byte, 3*sectorBytes)
	for i := range record {
		record[i] = uint8(i * 7)
	}
	status := runCommand(t, device, cmdWD, record)
	if status != dev.CStatusChnEnd|dev.CStatusDevEnd {
		t.Fatalf("Write status %02x", status)
	}
	if device.cyl != 0 || device.trk != 1 || device.sec != 0 {
		t.Errorf("Cursor at %d/%d/%d expected 0/1/0", device.cyl, device.trk, device.sec)
	}

	runCommand(t, device, cmdSCK, star(0, 0, 14))
	readBack := make([]byte, 3*sectorBytes)
	status = runCommand(t, device, cmdRD, readBack)
	if status != dev.CStatusChnEnd|dev.CStatusDevEnd {
		t.Fatalf("Read status %02x", status)
	}
	for i := range record {
		if readBack[i] != record[i] {
			t.Fatalf("Read data %d got %02x expected %02x", i, readBack[i], record[i])
		}
	}
}

func TestDiskVolumeEnd(t *testing.T) {
	device := setupDisk(t, "FH005")
	sectorBytes := device.dtype.geom.SectorBytes

	// Last sector of the volume, then one more.
	runCommand(t, device, cmdSCK, star(63, 3, 15))
	record := make([]byte, 2*sectorBytes)
	status := runCommand(t, device, cmdWD, record)
	if status&dev.CStatusCheck == 0 {
		t.Fatalf("Write past volume end status %02x", status)
	}
	if device.sense0&dev.SenseEQUCHK == 0 {
		t.Errorf("Write past volume end sense %02x", device.sense0)
	}
}

func TestDiskSense(t *testing.T) {
	device := setupDisk(t, "MH300")

	// Set the mode register, then provoke a command reject.
	status := ch.StartCommand(device.addr, cmdLMR, []byte{0xaa})
	if status != dev.CStatusChnEnd|dev.CStatusDevEnd {
		t.Fatalf("Load mode status %02x", status)
	}
	runCommand(t, device, cmdSCK, star(258, 2, 7))
	status = ch.StartCommand(device.addr, 0x55, nil)
	if status&dev.CStatusCheck == 0 {
		t.Fatalf("Invalid command status %02x", status)
	}

	sense := make([]byte, senseLen)
	status = runCommand(t, device, cmdSNS, sense)
	if status != dev.CStatusChnEnd|dev.CStatusDevEnd {
		t.Fatalf("Sense status %02x", status)
	}
	if sense[0] != 0x01 || sense[1] != 0x02 || sense[2] != 2 || sense[3] != 7 {
		t.Errorf("Sense position %v expected cylinder 258 track 2 sector 7", sense[:4])
	}
	if sense[4] != 0xaa {
		t.Errorf("Sense mode %02x expected aa", sense[4])
	}
	if sense[5]&dev.SenseCMDREJ == 0 {
		t.Errorf("Sense byte 5 %02x missing command reject", sense[5])
	}
	if sense[6]&statReady == 0 {
		t.Errorf("Sense status %02x missing ready", sense[6])
	}

	// Error bytes clear on read, the mode register stays.
	runCommand(t, device, cmdSNS, sense)
	if sense[5] != 0 {
		t.Errorf("Sense byte 5 %02x not cleared", sense[5])
	}
	if sense[4] != 0xaa {
		t.Errorf("Sense mode %02x lost after read", sense[4])
	}
}

func TestDiskRezero(t *testing.T) {
	device := setupDisk(t, "MH080")

	runCommand(t, device, cmdSCK, star(40, 3, 8))
	status := runCommand(t, device, cmdXEZ, nil)
	if status&dev.CStatusDevEnd == 0 {
		t.Fatalf("Rezero status %02x", status)
	}
	if device.cyl != 0 || device.trk != 0 || device.sec != 0 {
		t.Errorf("Cursor at %d/%d/%d expected 0/0/0", device.cyl, device.trk, device.sec)
	}

	// Rezero while already home completes in one step.
	status = ch.StartCommand(device.addr, cmdXEZ, nil)
	if status != dev.CStatusChnEnd|dev.CStatusDevEnd {
		t.Errorf("Rezero at home status %02x", status)
	}
}

func TestDiskNop(t *testing.T) {
	device := setupDisk(t, "MH040")

	status := ch.StartCommand(device.addr, cmdNOP, nil)
	if status != dev.CStatusChnEnd|dev.CStatusDevEnd {
		t.Errorf("Nop status %02x", status)
	}
}

func TestDiskUnattached(t *testing.T) {
	ch.InitializeChannels()
	dtype := diskTypes[0]
	ctl := &diskCtl{buffer: make([]uint8, dtype.geom.SectorBytes)}
	device := &Model8064ctx{addr: 0x800, ctl: ctl, dtype: dtype}
	device.context = disk.NewContext(dtype.geom)
	if err := ch.AddDevice(device, device, device.addr); err != nil {
		t.Fatal(err)
	}

	status := ch.StartCommand(device.addr, cmdRD, make([]byte, dtype.geom.SectorBytes))
	if status&dev.CStatusCheck == 0 {
		t.Fatalf("Read while unattached status %02x", status)
	}
	if device.sense0&dev.SenseINTVENT == 0 {
		t.Errorf("Read while unattached sense %02x", device.sense0)
	}
}
