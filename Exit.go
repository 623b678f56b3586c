/*
File Name:  Exit.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner
*/

package core

// Exit codes signal why the simulator exited. Additional details are written to the log file.
const (
	ExitSuccess            = 0  // Simulation finished.
	ExitErrorConfigAccess  = 1  // Error accessing the config file.
	ExitErrorConfigRead    = 2  // Error reading the config file.
	ExitErrorConfigParse   = 3  // Error parsing the config file.
	ExitErrorLogInit       = 4  // Error initializing log file.
	ExitParamWebapiInvalid = 5  // Parameter for webapi is invalid.
	ExitSimulationCreate   = 6  // The simulation could not be created.
	ExitBlacklistCorrupt   = 7  // The blacklist database cannot be opened.
	ExitGraceful           = 9  // Graceful shutdown.
	ExitParamApiKeyInvalid = 10 // API key parameter is invalid.
	ExitTreeNotConverged   = 11 // The spanning tree did not converge within the simulated time.
	ExitErrorConfigInvalid = 12 // The config file contains invalid settings.
)
