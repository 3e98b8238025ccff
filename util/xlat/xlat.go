/*
 * PERIPH - Seven track translation tables.
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

package xlat

// Parity bit (0100) for each 6 bit frame value.
var ParityTable = [64]uint8{
	/*   0     1     2     3     4     5     6     7 */
	0o000, 0o100, 0o100, 0o000, 0o100, 0o000, 0o000, 0o100,
	0o100, 0o000, 0o000, 0o100, 0o000, 0o100, 0o100, 0o000,
	0o100, 0o000, 0o000, 0o100, 0o000, 0o100, 0o100, 0o000,
	0o000, 0o100, 0o100, 0o000, 0o100, 0o000, 0o000, 0o100,
	0o100, 0o000, 0o000, 0o100, 0o000, 0o100, 0o100, 0o000,
	0o000, 0o100, 0o100, 0o000, 0o100, 0o000, 0o000, 0o100,
	0o000, 0o100, 0o100, 0o000, 0o100, 0o000, 0o000, 0o100,
	0o100, 0o000, 0o000, 0o100, 0o000, 0o100, 0o100, 0o000,
}

// Translate BCD frame values to EBCDIC.
var BcdToEbcdic = [64]uint8{
	0x40, 0xf1, 0xf2, 0xf3, 0xf4, 0xf5, 0xf6, 0xf7,
	0xf8, 0xf9, 0xf0, 0x7b, 0x7c, 0x7d, 0x7e, 0x7f,
	0x7a, 0x61, 0xe2, 0xe3, 0xe4, 0xe5, 0xe6, 0xe7,
	0xe8, 0xe9, 0xe0, 0x6b, 0x6c, 0x6d, 0x6e, 0x6f,
	0x60, 0xd1, 0xd2, 0xd3, 0xd4, 0xd5, 0xd6, 0xd7,
	0xd8, 0xd9, 0xd0, 0x5b, 0x5c, 0x5d, 0x5e, 0x5f,
	0x50, 0xc1, 0xc2, 0xc3, 0xc4, 0xc5, 0xc6, 0xc7,
	0xc8, 0xc9, 0xc0, 0x4b, 0x4c, 0x4d, 0x4e, 0x4f,
}
