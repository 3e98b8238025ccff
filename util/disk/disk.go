/*
 * PERIPH - Fixed sector disk image support.
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

package disk

import (
	"errors"
	"fmt"
	"io"
	"os"
)

var (
	// Access beyond the last cylinder of the volume.
	DiskEOM = errors.New("end of volume")

	// No image attached.
	DiskUNATT = errors.New("not attached")
)

// Geometry describes one device type. Sectors are fixed size and
// tracks hold a fixed number of sectors.
type Geometry struct {
	SectorBytes int // Bytes per sector
	Sectors     int // Sectors per track
	Heads       int // Tracks per cylinder
	Cylinders   int // Cylinders per volume
}

// Bytes per track.
func (geom Geometry) TrackBytes() int {
	return geom.SectorBytes * geom.Sectors
}

// Total volume capacity in bytes.
func (geom Geometry) Capacity() int64 {
	return int64(geom.Cylinders) * int64(geom.Heads) * int64(geom.TrackBytes())
}

// Byte offset of a sector address. The address must already be
// validated against the geometry.
func (geom Geometry) Offset(cyl int, trk int, sec int) int64 {
	track := int64(cyl)*int64(geom.Heads) + int64(trk)
	return track*int64(geom.TrackBytes()) + int64(sec)*int64(geom.SectorBytes)
}

// Report whether a sector address lies within the volume.
func (geom Geometry) Valid(cyl int, trk int, sec int) bool {
	return cyl >= 0 && cyl < geom.Cylinders &&
		trk >= 0 && trk < geom.Heads &&
		sec >= 0 && sec < geom.Sectors
}

// Context holds state of one attached disk image.
type Context struct {
	file     *os.File // Disk image file
	fileName string   // Name of attached file
	geom     Geometry // Volume geometry
	ro       bool     // Attached read only
}

// Create disk context with the given geometry.
func NewContext(geom Geometry) *Context {
	return &Context{geom: geom}
}

// Return geometry of this volume.
func (ctx *Context) Geometry() Geometry {
	return ctx.geom
}

// Set new geometry. Only valid while no image is attached.
func (ctx *Context) SetGeometry(geom Geometry) error {
	if ctx.file != nil {
		return errors.New("can't change geometry while attached")
	}
	ctx.geom = geom
	return nil
}

// Return true if an image is attached.
func (ctx *Context) Attached() bool {
	return ctx.file != nil
}

// Return name of attached image.
func (ctx *Context) FileName() string {
	return ctx.fileName
}

// Return true if image was attached read only.
func (ctx *Context) ReadOnly() bool {
	return ctx.ro
}

// Attach a disk image. The file is created if it does not exist and
// grown sparsely as sectors are written. An oversize image is
// rejected so a wrong geometry is caught at attach time.
func (ctx *Context) Attach(fileName string) error {
	if ctx.file != nil {
		ctx.Detach()
	}
	file, err := os.OpenFile(fileName, os.O_RDWR|os.O_CREATE, 0o644)
	ctx.ro = false
	if err != nil {
		file, err = os.Open(fileName)
		if err != nil {
			return err
		}
		ctx.ro = true
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return err
	}
	if stat.Size() > ctx.geom.Capacity() {
		file.Close()
		return fmt.Errorf("image %s larger than volume capacity", fileName)
	}
	ctx.file = file
	ctx.fileName = fileName
	return nil
}

// Detach a disk image.
func (ctx *Context) Detach() error {
	if ctx.file == nil {
		return DiskUNATT
	}
	err := ctx.file.Close()
	ctx.file = nil
	ctx.fileName = ""
	return err
}

// Read one sector at the given sector address. Sectors beyond the
// current image size read as zeros.
func (ctx *Context) ReadSector(cyl int, trk int, sec int, buffer []byte) error {
	if ctx.file == nil {
		return DiskUNATT
	}
	if !ctx.geom.Valid(cyl, trk, sec) {
		return DiskEOM
	}
	if len(buffer) != ctx.geom.SectorBytes {
		return fmt.Errorf("sector buffer size %d expected %d", len(buffer), ctx.geom.SectorBytes)
	}
	n, err := ctx.file.ReadAt(buffer, ctx.geom.Offset(cyl, trk, sec))
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	for i := n; i < len(buffer); i++ {
		buffer[i] = 0
	}
	return nil
}

// Write one sector at the given sector address.
func (ctx *Context) WriteSector(cyl int, trk int, sec int, buffer []byte) error {
	if ctx.file == nil {
		return DiskUNATT
	}
	if !ctx.geom.Valid(cyl, trk, sec) {
		return DiskEOM
	}
	if len(buffer) != ctx.geom.SectorBytes {
		return fmt.Errorf("sector buffer size %d expected %d", len(buffer), ctx.geom.SectorBytes)
	}
	_, err := ctx.file.WriteAt(buffer, ctx.geom.Offset(cyl, trk, sec))
	return err
}
