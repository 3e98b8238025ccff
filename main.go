/*
 * PERIPH - Main process.
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

package main

import (
	"log/slog"
	"os"

	getopt "github.com/pborman/getopt/v2"
	reader "github.com/rcornwell/periph/command/reader"
	config "github.com/rcornwell/periph/config/configparser"
	core "github.com/rcornwell/periph/emu/core"
	syschannel "github.com/rcornwell/periph/emu/sys_channel"
	logger "github.com/rcornwell/periph/util/logger"

	_ "github.com/rcornwell/periph/config/debugconfig"
	_ "github.com/rcornwell/periph/emu/models"
)

var Logger *slog.Logger

func main() {
	optConfig := getopt.StringLong("config", 'c', "periph.cfg", "Configuration file")
	optLogFile := getopt.StringLong("log", 'l', "", "Log file")
	optDebug := getopt.BoolLong("debug", 'd', "Log debug to console")
	optHelp := getopt.BoolLong("help", 'h', "Help")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	var file *os.File
	if optLogFile != nil {
		file, _ = os.Create(*optLogFile)
	}
	programLevel := new(slog.LevelVar)
	programLevel.Set(slog.LevelDebug)
	Logger := slog.New(logger.NewHandler(file, &slog.HandlerOptions{Level: programLevel, AddSource: false}, optDebug))
	slog.SetDefault(Logger)

	Logger.Info("Periph Started")
	if optConfig == nil {
		Logger.Error("Please specify a configuration file")
		os.Exit(0)
	}

	_, err := os.Stat(*optConfig)
	if os.IsNotExist(err) {
		Logger.Error("Configuration file ", *optConfig, " can't be found")
		os.Exit(0)
	}

	syschannel.InitializeChannels()
	err = config.LoadConfigFile(*optConfig)
	if err != nil {
		Logger.Error(err.Error())
		os.Exit(0)
	}

	masterChannel := make(chan core.Packet)

	// Create new routine to run the event queue.
	emulator := core.NewCore(masterChannel)

	// Configure I/O devices.
	syschannel.ResetChannels()

	// Start main emulator.
	go emulator.Start()

	msg := make(chan string, 1)
	go func() {
		reader.ConsoleReader(emulator)
		msg <- ""
	}()

	// Wait on shutdown option
	<-msg

	emulator.Stop()
	Logger.Info("Servers stopped.")
}
