// Copyright (C) 2025 Josh Simonot
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"boatmon/internal/app"
	"boatmon/internal/config"
	"boatmon/internal/sensors"
	"boatmon/pkg/appctx"
	"boatmon/pkg/eventbus"
	"boatmon/pkg/logger"
	"boatmon/pkg/service"
	"fmt"
	"os"
	"path/filepath"
)

func main() {

	rootdir := os.Getenv("PROJECT_ROOT")
	if rootdir == "" {
		rootdir = "."
	}

	logPath := filepath.Join(rootdir, "var/logs/boatmon.log")
	if err := logger.Init(logPath); err != nil {
		fmt.Fprintf(os.Stderr, "log file %s: %v\n", logPath, err)
	}
	log := logger.New("Main")

	appConf := config.LoadFile(filepath.Join(rootdir, "var/config/boatmon.json"))

	// use conf to pass eventbus to whoever needs it
	appConf.EventBus = eventbus.New()
	appConf.DataDir = filepath.Join(rootdir, "var/cache")
	appConf.RootDir = rootdir

	log.Info("%s on network %q", appConf.Network.Hostname, appConf.Network.WifiSSID)

	ctx, ctxCancel := appctx.New()

	gpio := &sensors.GPIO{}
	if err := gpio.Open(); err != nil {
		log.Fatal("gpio: %v", err)
	}

	node, err := app.New(ctx, appConf, app.Hardware{
		OneWire:     sensors.SysfsW1{},
		InputPullUp: gpio.InputPullUp,
	})
	if err != nil {
		log.Fatal("%v", err)
	}

	// waits for all services to stop
	code := <-service.Start(ctx, ctxCancel, node.Runnables())
	node.Close()
	gpio.Close()
	logger.Close()
	os.Exit(code)
}
