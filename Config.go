/*
File Name:  Config.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner
*/

package core

import (
	_ "embed" // Required for embedding default Config file
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Version is the current overlay library version
const Version = "Alpha 1/19.10.2021"

// Config contains all settings of a simulation. All nodes of a simulation share the same config.
type Config struct {
	LogFile string `yaml:"LogFile"` // Log file

	// Simulation
	NodeCount      int           `yaml:"NodeCount"`      // Count of nodes created by the simulator
	Seed           int64         `yaml:"Seed"`           // Seed for all randomness
	TickInterval   time.Duration `yaml:"TickInterval"`   // Simulated time per step
	LatencyMin     time.Duration `yaml:"LatencyMin"`     // Minimum one-way latency of a link
	LatencyMax     time.Duration `yaml:"LatencyMax"`     // Maximum one-way latency of a link
	BootstrapPeers int           `yaml:"BootstrapPeers"` // Count of existing nodes every new node knows initially

	// Connections
	TargetListeners    int           `yaml:"TargetListeners"`    // Count of peers a node connects out to
	TargetCallers      int           `yaml:"TargetCallers"`      // Count of peers that may connect to a node
	ConnectInterval    time.Duration `yaml:"ConnectInterval"`    // Minimum time between outgoing connection attempts
	ReplyTimeout       time.Duration `yaml:"ReplyTimeout"`       // Default timeout of requests
	ReservationTimeout time.Duration `yaml:"ReservationTimeout"` // Time an accepted but unconfirmed caller slot is reserved
	PingInterval       time.Duration `yaml:"PingInterval"`       // Interval of liveness pings per connection
	PingFailLimit      int           `yaml:"PingFailLimit"`      // Consecutive ping timeouts until the peer is disconnected
	HandshakePeers     int           `yaml:"HandshakePeers"`     // Count of known peers shared in a handshake response
	BootstrapInterval  time.Duration `yaml:"BootstrapInterval"`  // Interval of contacting the seed peers again while isolated

	// Scoring
	ScorePingWeight     float64 `yaml:"ScorePingWeight"`     // Score for a zero ping
	ScoreCapacityWeight float64 `yaml:"ScoreCapacityWeight"` // Score per free caller slot

	// Broadcast
	BroadcastFanout         int           `yaml:"BroadcastFanout"`         // Count of peers a broadcast is sent to. 0 = TargetListeners.
	BroadcastIncludeCallers bool          `yaml:"BroadcastIncludeCallers"` // Flood to callers as well as listeners
	BroadcastCacheSize      int           `yaml:"BroadcastCacheSize"`      // Count of remembered broadcast IDs
	BroadcastCacheAge       time.Duration `yaml:"BroadcastCacheAge"`       // Maximum age of a remembered broadcast ID

	// Gossip
	GossipInterval      time.Duration `yaml:"GossipInterval"`      // Interval of gossip rounds
	GossipJitter        time.Duration `yaml:"GossipJitter"`        // Maximum random deviation of a round
	GossipGenerationCap int32         `yaml:"GossipGenerationCap"` // Packets beyond this generation are dropped. 0 = unbounded.

	// Consensus
	ConsensusQuorum   float64       `yaml:"ConsensusQuorum"`   // Fraction of the population that must have voted
	ConsensusRoundAge time.Duration `yaml:"ConsensusRoundAge"` // Rounds started longer ago are forgotten and ignored. 0 = keep forever.

	// Spanning tree
	FragmentExpiration  time.Duration `yaml:"FragmentExpiration"`  // Validity of a minimum outgoing edge
	FragmentRetry       time.Duration `yaml:"FragmentRetry"`       // Delay before probing a peer with stale fragment data again
	FragmentTestTimeout time.Duration `yaml:"FragmentTestTimeout"` // Timeout of a fragment test

	// Blacklist
	BlacklistDatabase string `yaml:"BlacklistDatabase"` // Pogreb database directory. Empty keeps the blacklist in memory.

	// Web API
	WebListen       []string      `yaml:"WebListen"`       // IP:Port combinations
	WebAPIKey       string        `yaml:"WebAPIKey"`       // API key. Empty = no authentication.
	WebTimeoutRead  time.Duration `yaml:"WebTimeoutRead"`  // The maximum duration for reading the entire request, including the body.
	WebTimeoutWrite time.Duration `yaml:"WebTimeoutWrite"` // The maximum duration before timing out writes of the response.
}

//go:embed "Config Default.yaml"
var defaultConfig []byte

// DefaultConfig returns the embedded default configuration.
func DefaultConfig() (config *Config) {
	config = &Config{}
	if err := yaml.Unmarshal(defaultConfig, config); err != nil {
		// The embedded config is part of the build. Failing to parse it is a bug.
		panic(err)
	}
	return config
}

// LoadConfig reads the YAML configuration file on top of the default configuration. If an error is returned, the application shall exit.
// Status: 0 = Unknown error checking config file, 1 = Error reading config file, 2 = Error parsing config file, 3 = Success, 4 = Invalid settings
func LoadConfig(filename string) (config *Config, status int, err error) {
	config = DefaultConfig()

	// check if the file is non existent or empty
	stats, err := os.Stat(filename)
	if err != nil && os.IsNotExist(err) || err == nil && stats.Size() == 0 {
		return config, 3, nil
	} else if err != nil {
		return nil, 0, err
	}

	configData, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, 1, err
	}

	// parse the config
	if err = yaml.Unmarshal(configData, config); err != nil {
		return nil, 2, err
	}

	if err = config.Validate(); err != nil {
		return nil, 4, err
	}

	return config, 3, nil
}

// Validate checks settings that cannot work together. Requests must outlast the round trip of the slowest link.
func (config *Config) Validate() error {
	if config.TickInterval <= 0 {
		return fmt.Errorf("TickInterval must be positive")
	}
	if config.LatencyMin < 0 || config.LatencyMax < config.LatencyMin {
		return fmt.Errorf("invalid latency range %s to %s", config.LatencyMin, config.LatencyMax)
	}
	if roundTrip := 2 * config.LatencyMax; config.ReplyTimeout <= roundTrip {
		return fmt.Errorf("ReplyTimeout %s must exceed the maximum round trip %s", config.ReplyTimeout, roundTrip)
	} else if config.FragmentTestTimeout <= roundTrip {
		return fmt.Errorf("FragmentTestTimeout %s must exceed the maximum round trip %s", config.FragmentTestTimeout, roundTrip)
	}
	return nil
}

// SaveConfig writes the configuration as YAML file.
func SaveConfig(filename string, config *Config) (err error) {
	data, err := yaml.Marshal(config)
	if err != nil {
		return err
	}

	return ioutil.WriteFile(filename, data, 0644)
}

// InitLog redirects subsequent log messages into the log file specified in the configuration. An empty filename keeps logging to stderr.
func InitLog(filename string) (err error) {
	if filename == "" {
		return nil
	}

	logFile, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return err
	}
	// has to remain open until program closes

	log.SetOutput(logFile)
	log.Printf("---- Peernet Overlay Simulator " + Version + " ----\n")

	return nil
}

// fanout returns the count of peers a broadcast is sent to.
func (config *Config) fanout() int {
	if config.BroadcastFanout > 0 {
		return config.BroadcastFanout
	}
	return config.TargetListeners
}
