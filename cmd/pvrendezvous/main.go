package main

//
// Copyright (c) 2019 ARM Limited.
//
// SPDX-License-Identifier: MIT
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to
// deal in the Software without restriction, including without limitation the
// rights to use, copy, modify, merge, publish, distribute, sublicense, and/or
// sell copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.
//

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/PelionIoT/pvrendezvous/config"
	. "github.com/PelionIoT/pvrendezvous/logging"
	"github.com/PelionIoT/pvrendezvous/process"
	"github.com/PelionIoT/pvrendezvous/server"
	"github.com/PelionIoT/pvrendezvous/simulation"
	. "github.com/PelionIoT/pvrendezvous/version"
)

var usage string = `Usage: pvrendezvous <command> <arguments> | -version

Commands:
    start      Start a server process and wait for clients
    conf       Generate a template config file for a server process
    simulate   Run an M to N rendezvous between two in process groups

Use pvrendezvous help <command> for more usage information about a command.
`

var commandUsage string = "Usage: pvrendezvous %s <arguments>\n"

func main() {
	startCommand := flag.NewFlagSet("start", flag.ExitOnError)
	confCommand := flag.NewFlagSet("conf", flag.ExitOnError)
	simulateCommand := flag.NewFlagSet("simulate", flag.ExitOnError)
	helpCommand := flag.NewFlagSet("help", flag.ExitOnError)

	startConfigFile := startCommand.String("conf", "", "The config file for this server process")

	simulateM := simulateCommand.Int("m", 4, "The number of ranks in the waiting (data server) group")
	simulateN := simulateCommand.Int("n", 2, "The number of ranks in the connecting (render server) group")
	simulateHost := simulateCommand.String("host", "127.0.0.1", "The host name waiting ranks advertise")
	simulatePort := simulateCommand.Int("port", 0, "The port waiting ranks listen on. 0 lets the operating system pick")

	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Error: %s", "No command specified\n\n")
		fmt.Fprintf(os.Stderr, "%s", usage)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "start":
		startCommand.Parse(os.Args[2:])
	case "conf":
		confCommand.Parse(os.Args[2:])
	case "simulate":
		simulateCommand.Parse(os.Args[2:])
	case "help":
		helpCommand.Parse(os.Args[2:])
	case "-help":
		fmt.Fprintf(os.Stderr, "%s", usage)
		os.Exit(0)
	case "-version":
		fmt.Fprintf(os.Stdout, "%s\n", PVRENDEZVOUS_VERSION)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Error: \"%s\" is not a recognized command\n\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "%s", usage)
		os.Exit(1)
	}

	if startCommand.Parsed() {
		if *startConfigFile == "" {
			fmt.Fprintf(os.Stderr, "Error: No config file specified\n")
			os.Exit(1)
		}

		var serverConfig config.YAMLServerConfig

		if err := serverConfig.LoadFromFile(*startConfigFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error: Unable to load configuration file: %v\n", err)
			os.Exit(1)
		}

		if err := start(&serverConfig); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		os.Exit(0)
	}

	if confCommand.Parsed() {
		fmt.Fprintf(os.Stdout, "%s", config.Template)
		os.Exit(0)
	}

	if simulateCommand.Parsed() {
		result, err := simulation.Run(simulation.Config{
			M:    *simulateM,
			N:    *simulateN,
			Host: *simulateHost,
			Port: *simulatePort,
		})

		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: Rendezvous failed: %v\n", err)
			os.Exit(1)
		}

		printPairings(result)
		os.Exit(0)
	}

	if helpCommand.Parsed() {
		if len(os.Args) < 3 {
			fmt.Fprintf(os.Stderr, "Error: No command specified for help\n")
			os.Exit(1)
		}

		var flagSet *flag.FlagSet

		switch os.Args[2] {
		case "start":
			flagSet = startCommand
		case "conf":
			fmt.Fprintf(os.Stderr, "Usage: pvrendezvous conf\n")
			os.Exit(0)
		case "simulate":
			flagSet = simulateCommand
		default:
			fmt.Fprintf(os.Stderr, "Error: \"%s\" is not a valid command.\n", os.Args[2])
			os.Exit(1)
		}

		fmt.Fprintf(os.Stderr, commandUsage+"\n", os.Args[2])
		flagSet.PrintDefaults()
		os.Exit(0)
	}
}

func printPairings(result *simulation.Result) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Side", "Rank", "Connected", "Peer Rank", "Address"})

	rows := append(append([]simulation.Pairing{}, result.Waiting...), result.Connecting...)

	for _, pairing := range rows {
		peer := "-"
		address := "-"

		if pairing.Connected {
			peer = strconv.Itoa(pairing.PeerRank)
		}

		if pairing.Port != 0 {
			address = net.JoinHostPort(pairing.Host, strconv.Itoa(pairing.Port))
		}

		table.Append([]string{pairing.Side, strconv.Itoa(pairing.Rank), strconv.FormatBool(pairing.Connected), peer, address})
	}

	table.Render()
}

func start(serverConfig *config.YAMLServerConfig) error {
	SetLoggingLevel(serverConfig.LogLevel)

	processModule, err := process.Initialize(serverConfig.ProcessRole(), serverConfig.ToOptions(), nil)

	if err != nil {
		return err
	}

	rendezvousServer, err := server.NewRendezvousServer(serverConfig, processModule)

	if err != nil {
		processModule.Finalize()

		return err
	}

	defer rendezvousServer.Stop()

	if err := rendezvousServer.Start(); err != nil {
		return err
	}

	var timeout <-chan time.Time

	if serverConfig.TimeoutMinutes > 0 {
		timeout = time.After(time.Duration(serverConfig.TimeoutMinutes) * time.Minute)
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-rendezvousServer.ClientConnected():
			timeout = nil
			continue
		case <-timeout:
			Log.Warningf("No client connected within %d minutes. Shutting down", serverConfig.TimeoutMinutes)
		case sig := <-signals:
			Log.Infof("Received %v. Shutting down", sig)
		case err = <-rendezvousServer.Errors():
			Log.Errorf("Status server stopped: %v", err)
		}

		break
	}

	return err
}
