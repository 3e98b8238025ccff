/*
   Core peripheral emulator loop.

   Copyright (c) 2024, Richard Cornwell

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

package core

import (
	"log/slog"
	"sync"
	"time"

	device "github.com/rcornwell/periph/emu/device"
	"github.com/rcornwell/periph/emu/event"
	syschannel "github.com/rcornwell/periph/emu/sys_channel"
)

// Messages the console can post to the running emulator.
const (
	DeviceEnd = 1 + iota // Post device end for a device
	HaltDevice           // Stop the current operation on a device
	ResetDevice          // Reset a device to idle
)

type Packet struct {
	DevNum uint16 // Device the message applies to
	Msg    int
}

type Core struct {
	wg     sync.WaitGroup
	done   chan struct{} // Signal to shutdown simulator.
	Master chan Packet
}

// Create instance of emulator core.
func NewCore(master chan Packet) *Core {
	return &Core{
		Master: master,
		done:   make(chan struct{}),
	}
}

// Run the timed event queue. Device callbacks fire from here, so all
// device state changes happen on this goroutine. Console requests
// arrive as packets on the master channel.
func (core *Core) Start() {
	core.wg.Add(1)
	defer core.wg.Done()
	for {
		if event.AnyEvent() {
			event.Advance(1)
			select {
			case <-core.done:
				core.shutdown()
				return
			case packet := <-core.Master:
				core.processPacket(packet)
			default:
			}
		} else {
			// Queue drained, wait for the console to start something.
			select {
			case <-core.done:
				core.shutdown()
				return
			case packet := <-core.Master:
				core.processPacket(packet)
			}
		}
	}
}

// Stop a running server.
func (core *Core) Stop() {
	slog.Info("Shutting down emulator")
	close(core.done)
	done := make(chan struct{})
	go func() {
		core.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(time.Second):
		slog.Warn("Timed out waiting for emulator to finish.")
		return
	}
}

// Tell channel to post Device End for device.
func (core *Core) SendDeviceEnd(devNum uint16) {
	core.Master <- Packet{DevNum: devNum, Msg: DeviceEnd}
}

// Stop the current operation on a device.
func (core *Core) SendHalt(devNum uint16) {
	core.Master <- Packet{DevNum: devNum, Msg: HaltDevice}
}

// Reset a device to idle.
func (core *Core) SendReset(devNum uint16) {
	core.Master <- Packet{DevNum: devNum, Msg: ResetDevice}
}

// Process a packet sent to system simulation.
func (core *Core) processPacket(packet Packet) {
	switch packet.Msg {
	case DeviceEnd:
		syschannel.SetDevAttn(packet.DevNum, device.CStatusDevEnd)
	case HaltDevice:
		syschannel.HaltDevice(packet.DevNum)
	case ResetDevice:
		syschannel.ResetDevice(packet.DevNum)
	}
}

// Detach everything so backing files flush on the way out.
func (core *Core) shutdown() {
	for _, devNum := range syschannel.DeviceList() {
		command, err := syschannel.GetCommand(devNum)
		if err != nil {
			continue
		}
		if detachErr := command.Detach(); detachErr != nil {
			slog.Error(detachErr.Error())
		}
	}
}
