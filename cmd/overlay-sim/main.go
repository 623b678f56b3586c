/*
File Name:  main.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner
*/

package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	core "github.com/PeernetOfficial/overlay"
	"github.com/PeernetOfficial/overlay/webapi"
	"github.com/google/uuid"
	"gopkg.in/urfave/cli.v1"
)

var app = &cli.App{
	Name:    filepath.Base(os.Args[0]),
	Usage:   "Peernet overlay protocol simulator",
	Version: core.Version,
	Writer:  os.Stdout,
}

var configFlag = cli.StringFlag{Name: "config", Value: "Config.yaml", Usage: "YAML configuration file. Missing values are taken from the defaults."}

func init() {
	app.CommandNotFound = func(ctx *cli.Context, cmd string) {
		fmt.Fprintf(os.Stderr, "No such command: %s\n", cmd)
		os.Exit(1)
	}

	app.Commands = []cli.Command{
		runCommand,
		treeCommand,
		configCommand,
	}
}

var runCommand = cli.Command{
	Name:   "run",
	Usage:  "Runs the simulation and optionally serves the web API until interrupted",
	Action: run,
	Flags: []cli.Flag{
		configFlag,
		cli.IntFlag{Name: "nodes", Usage: "Count of nodes. Overrides the config."},
		cli.Int64Flag{Name: "seed", Usage: "Random seed. Overrides the config."},
		cli.DurationFlag{Name: "duration", Usage: "Simulated time to run. 0 runs until interrupted."},
		cli.StringSliceFlag{Name: "webapi", Usage: "Listen address of the web API (IP:Port). May be repeated."},
		cli.StringFlag{Name: "apikey", Usage: "API key (UUID) required by the web API"},
		cli.BoolFlag{Name: "realtime", Usage: "Advance the simulated clock in real time instead of as fast as possible"},
	},
}

var treeCommand = cli.Command{
	Name:   "tree",
	Usage:  "Builds the overlay, computes the minimum spanning tree and prints it",
	Action: tree,
	Flags: []cli.Flag{
		configFlag,
		cli.IntFlag{Name: "nodes", Usage: "Count of nodes. Overrides the config."},
		cli.Int64Flag{Name: "seed", Usage: "Random seed. Overrides the config."},
		cli.DurationFlag{Name: "warmup", Value: 30 * time.Second, Usage: "Simulated time to build the overlay before the topology is frozen"},
		cli.DurationFlag{Name: "timeout", Value: 5 * time.Minute, Usage: "Simulated time the spanning tree may take to converge"},
	},
}

var configCommand = cli.Command{
	Name:      "config",
	Usage:     "Writes the default configuration to a file",
	ArgsUsage: "<file>",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 1 {
			return fmt.Errorf("provide the output file name")
		}
		return core.SaveConfig(ctx.Args().First(), core.DefaultConfig())
	},
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads the config, initializes the log and creates the simulation with all nodes. On error it exits.
func setup(ctx *cli.Context) (simulation *core.Simulation) {
	config, status, err := core.LoadConfig(ctx.String("config"))
	switch status {
	case 0:
		fmt.Printf("Unknown error accessing config file '%s': %s\n", ctx.String("config"), err.Error())
		os.Exit(core.ExitErrorConfigAccess)
	case 1:
		fmt.Printf("Error reading config file '%s': %s\n", ctx.String("config"), err.Error())
		os.Exit(core.ExitErrorConfigRead)
	case 2:
		fmt.Printf("Error parsing config file '%s' (make sure it is valid YAML format): %s\n", ctx.String("config"), err.Error())
		os.Exit(core.ExitErrorConfigParse)
	case 4:
		fmt.Printf("Invalid settings in config file '%s': %s\n", ctx.String("config"), err.Error())
		os.Exit(core.ExitErrorConfigInvalid)
	}

	if ctx.IsSet("nodes") {
		config.NodeCount = ctx.Int("nodes")
	}
	if ctx.IsSet("seed") {
		config.Seed = ctx.Int64("seed")
	}

	if err := core.InitLog(config.LogFile); err != nil {
		fmt.Printf("Error opening log file '%s': %s\n", config.LogFile, err.Error())
		os.Exit(core.ExitErrorLogInit)
	}

	if simulation, err = core.NewSimulation(config, nil); err != nil {
		fmt.Printf("Error creating the simulation: %s\n", err.Error())
		os.Exit(core.ExitBlacklistCorrupt)
	}

	if err = simulation.AddNodes(config.NodeCount); err != nil {
		fmt.Printf("Error creating nodes: %s\n", err.Error())
		os.Exit(core.ExitSimulationCreate)
	}
	simulation.Bootstrap(config.BootstrapPeers)

	fmt.Printf("Simulation %s started with %d nodes (seed %d)\n", simulation.RunID.String(), config.NodeCount, config.Seed)

	return simulation
}

func run(ctx *cli.Context) error {
	simulation := setup(ctx)
	defer simulation.Close()

	config := simulation.Config
	listen := config.WebListen
	if ctx.IsSet("webapi") {
		listen = ctx.StringSlice("webapi")
	}

	apiKey := uuid.Nil
	if key := ctx.String("apikey"); key != "" || config.WebAPIKey != "" {
		if key == "" {
			key = config.WebAPIKey
		}
		var err error
		if apiKey, err = uuid.Parse(key); err != nil {
			fmt.Printf("Invalid API key '%s': %s\n", key, err.Error())
			os.Exit(core.ExitParamApiKeyInvalid)
		}
	}

	for _, address := range listen {
		if _, _, err := net.SplitHostPort(address); err != nil {
			fmt.Printf("Invalid web API listen address '%s': %s\n", address, err.Error())
			os.Exit(core.ExitParamWebapiInvalid)
		}
	}
	webapi.Start(simulation, listen, config.WebTimeoutRead, config.WebTimeoutWrite, apiKey)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	duration := ctx.Duration("duration")
	tick := config.TickInterval
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for duration == 0 || simulation.Elapsed() < duration {
		if ctx.Bool("realtime") {
			select {
			case <-signals:
				printSummary(simulation)
				os.Exit(core.ExitGraceful)
			case <-ticker.C:
			}
		} else {
			select {
			case <-signals:
				printSummary(simulation)
				os.Exit(core.ExitGraceful)
			default:
			}
		}

		simulation.Step(tick)
	}

	printSummary(simulation)
	return nil
}

func tree(ctx *cli.Context) error {
	simulation := setup(ctx)
	defer simulation.Close()

	simulation.Run(ctx.Duration("warmup"))
	simulation.FreezeTopology()
	simulation.Run(simulation.Config.ReservationTimeout + simulation.Config.ReplyTimeout)
	simulation.StartSpanningTree()

	if !simulation.RunUntilConverged(ctx.Duration("timeout")) {
		fmt.Printf("Spanning tree did not converge within %s\n", ctx.Duration("timeout"))
		simulation.Close()
		os.Exit(core.ExitTreeNotConverged)
	}

	total := 0.0
	for _, edge := range simulation.TreeEdges() {
		fmt.Printf("%20d %20d %10.3f\n", edge.A, edge.B, edge.Cost)
		total += edge.Cost
	}
	fmt.Printf("Converged after %s. Total cost %.3f\n", simulation.Elapsed(), total)

	return nil
}

func printSummary(simulation *core.Simulation) {
	elapsed := simulation.Elapsed()

	simulation.WithNodes(func(nodes []*core.Node) {
		links := 0
		for _, node := range nodes {
			links += len(node.Listeners())
		}
		fmt.Printf("Simulated %s: %d nodes, %d connections, %d packets delivered\n", elapsed, len(nodes), links, simulation.Network().PacketsDelivered)
	})
}
