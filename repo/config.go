// Copyright (c) 2024 The illium developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package repo

import (
	"bufio"
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gcash/bchutil"
	"github.com/jessevdk/go-flags"
	"github.com/multiformats/go-multiaddr"
)

//go:embed sample-lantern.conf
var configFS embed.FS

const (
	DefaultLogFilename    = "lantern.log"
	defaultConfigFilename = "lantern.conf"
	defaultGrpcPort       = 5001
)

var (
	DefaultHomeDir    = AppDataDir("lantern", false)
	defaultConfigFile = filepath.Join(DefaultHomeDir, defaultConfigFilename)
)

// Config defines the configuration options for the server.
//
// See LoadConfig for details on the configuration load process.
type Config struct {
	ShowVersion bool   `short:"v" long:"version" description:"Display version information and exit"`
	ConfigFile  string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir     string `short:"d" long:"datadir" description:"Directory to store data"`
	LogDir      string `long:"logdir" description:"Directory to log output"`
	LogLevel    string `short:"l" long:"loglevel" description:"Set the logging level [debug, info, warning, error, alert, critical, emergency]." default:"info"`
	Testnet     bool   `short:"t" long:"testnet" description:"Use the test network"`
	NoPersist   bool   `long:"nopersist" description:"Keep the block cache in memory only and rebuild it on startup"`

	Node       NodeOptions    `group:"Node Options"`
	Cache      CacheOptions   `group:"Cache Options"`
	Mempool    MempoolOptions `group:"Mempool Options"`
	RPCOpts    RPCOptions     `group:"RPC Options"`
	MixnetOpts MixnetOptions  `group:"Mixnet Options"`
}

// NodeOptions configure the connection to the backing full node.
type NodeOptions struct {
	Endpoint       string        `long:"nodeendpoint" description:"The URL of the full node's JSON-RPC interface" default:"http://127.0.0.1:8332"`
	RPCUser        string        `long:"nodeuser" description:"The username for the node's JSON-RPC interface"`
	RPCPass        string        `long:"nodepass" description:"The password for the node's JSON-RPC interface"`
	RequestTimeout time.Duration `long:"noderequesttimeout" description:"The timeout for a single request to the node" default:"30s"`
	MaxRetries     int           `long:"nodemaxretries" description:"How many times a failed node request is retried before it is reported unreachable" default:"5"`
}

// CacheOptions configure the chain state cache.
type CacheOptions struct {
	PollInterval       time.Duration `long:"cachepollinterval" description:"How often the node is polled for a new tip" default:"5s"`
	WindowSize         uint32        `long:"cachewindow" description:"The number of recent blocks retained in the cache" default:"100"`
	MaxReorgDepth      uint32        `long:"maxreorgdepth" description:"The deepest chain reorganization the cache will follow before refusing service" default:"12"`
	StalenessThreshold time.Duration `long:"stalenessthreshold" description:"How long the node may be unreachable before the server reports itself degraded" default:"2m"`
}

// MempoolOptions configure the mempool tracker.
type MempoolOptions struct {
	PollInterval time.Duration `long:"mempoolpollinterval" description:"How often the node's mempool is polled" default:"2s"`
	DiffHistory  int           `long:"mempooldiffhistory" description:"The number of mempool generations kept for diff queries" default:"64"`
}

// RPCOptions configure the gRPC interface.
type RPCOptions struct {
	RPCCert             string   `long:"rpccert" description:"A path to the SSL certificate to use with gRPC"`
	RPCKey              string   `long:"rpckey" description:"A path to the SSL key to use with gRPC"`
	ExternalIPs         []string `long:"externalip" description:"This option should be used to specify the external IP address if using the auto-generated SSL certificate."`
	GrpcListener        string   `long:"grpclisten" description:"An interface/port to listen for gRPC connections in multiaddr format (default:/ip4/127.0.0.1/tcp/5001)"`
	GrpcAuthToken       string   `long:"grpcauthtoken" description:"Set a token here if you want to enable client authentication with gRPC."`
	SubscriberQueueSize int      `long:"subscriberqueuesize" description:"The number of undelivered blocks queued per subscriber before the overflow policy applies" default:"32"`
	OverflowPolicy      string   `long:"overflowpolicy" description:"What to do with a subscriber that cannot keep up [gap, disconnect]" default:"gap"`
}

// MixnetOptions configure the anonymous transport bridge.
type MixnetOptions struct {
	Enable         bool          `long:"mixnet" description:"Serve requests arriving over the mixnet"`
	Socket         string        `long:"mixnetsocket" description:"A path to the local mixnet client's unix socket"`
	Workers        int           `long:"mixnetworkers" description:"The number of concurrent mixnet request handlers" default:"8"`
	RequestTimeout time.Duration `long:"mixnetrequesttimeout" description:"The timeout for a single mixnet request" default:"30s"`
	CorrelationTTL time.Duration `long:"correlationttl" description:"How long a completed correlation token is remembered for duplicate suppression" default:"2m"`
}

// LoadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// The above results in proper functionality without any config settings
// while still allowing the user to override settings with config files and
// command line options.  Command line options always take precedence.
func LoadConfig() (*Config, error) {
	// Default config.
	cfg := Config{
		DataDir:    DefaultHomeDir,
		ConfigFile: defaultConfigFile,
	}

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.  Any errors aside from the
	// help message error can be ignored here since they will be caught by
	// the final parse below.
	preCfg := cfg
	preParser := flags.NewParser(&cfg, flags.HelpFlag)
	_, err := preParser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			return nil, err
		}
	}
	if cfg.DataDir != "" {
		preCfg.ConfigFile = filepath.Join(cfg.DataDir, defaultConfigFilename)
	}

	// Load additional config from file.
	var configFileError error
	parser := flags.NewParser(&cfg, flags.Default)

	// Show the version and exit if the version flag was specified.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
	if cfg.ShowVersion {
		fmt.Println(appName, "version", VersionString())
		os.Exit(0)
	}

	if _, err := os.Stat(preCfg.ConfigFile); os.IsNotExist(err) {
		err := createDefaultConfigFile(preCfg.ConfigFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating a "+
				"default config file: %v\n", err)
		}
	}

	err = flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile)
	if err != nil {
		if _, ok := err.(*os.PathError); !ok {
			fmt.Fprintf(os.Stderr, "Error parsing config "+
				"file: %v\n", err)
			fmt.Fprintln(os.Stderr, usageMessage)
			return nil, err
		}
		configFileError = err
	}

	// Reparse command-line arguments to override config file settings
	_, err = parser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			return nil, err
		}
		fmt.Fprintf(os.Stderr, "Error parsing command line arguments: %v\n", err)
		return nil, err
	}

	netStr := "mainnet"
	if cfg.Testnet {
		netStr = "testnet"
	}

	if cfg.LogDir == "" {
		cfg.LogDir = CleanAndExpandPath(path.Join(cfg.DataDir, "logs", netStr))
	}

	if cfg.Node.Endpoint == "" {
		return nil, errors.New("node endpoint is required")
	}
	switch strings.ToLower(cfg.RPCOpts.OverflowPolicy) {
	case "gap", "disconnect":
	default:
		return nil, fmt.Errorf("unknown overflow policy %q", cfg.RPCOpts.OverflowPolicy)
	}
	if cfg.MixnetOpts.Enable && cfg.MixnetOpts.Socket == "" {
		return nil, errors.New("mixnet requires a client socket path")
	}

	// Warn about missing config file only after all other configuration is
	// done. This prevents the warning on help messages and invalid
	// options. Note this should go directly before the return.
	if configFileError != nil {
		log.Errorf("bad config file: %s", configFileError)
	}

	// Default RPC to listen on localhost only.
	if cfg.RPCOpts.GrpcListener == "" {
		addrs, err := net.LookupHost("localhost")
		if err != nil || len(addrs) == 0 {
			return nil, errors.New("error determining local host for grpc server")
		}

		// Default port
		grpcPort := defaultGrpcPort

		// Find an unused port
		for {
			ln, err := net.Listen("tcp", fmt.Sprintf(":%d", grpcPort))
			if err != nil {
				grpcPort++
			} else {
				ln.Close()
				break
			}
		}

		// Check the type of the IP address and format the multiaddress accordingly
		var ma multiaddr.Multiaddr
		for _, addr := range addrs {
			ip := net.ParseIP(addr)
			if ip == nil {
				continue
			}
			if ip.To4() != nil {
				ma, err = multiaddr.NewMultiaddr(fmt.Sprintf("/ip4/%s/tcp/%d", ip.String(), grpcPort))
			} else {
				ma, err = multiaddr.NewMultiaddr(fmt.Sprintf("/ip6/%s/tcp/%d", ip.String(), grpcPort))
			}
			if err != nil {
				fmt.Println("Error creating multiaddr:", err)
				continue
			}
			break
		}

		if ma == nil {
			return nil, errors.New("failed to create multiaddr for any local address")
		}

		cfg.RPCOpts.GrpcListener = ma.String()
	}

	if cfg.RPCOpts.RPCCert == "" && cfg.RPCOpts.RPCKey == "" {
		cfg.RPCOpts.RPCCert = path.Join(cfg.DataDir, "rpc.cert")
		cfg.RPCOpts.RPCKey = path.Join(cfg.DataDir, "rpc.key")
	}

	cfg.DataDir = CleanAndExpandPath(path.Join(cfg.DataDir, netStr))
	if !fileExists(cfg.RPCOpts.RPCKey) && !fileExists(cfg.RPCOpts.RPCCert) {
		err := genCertPair(cfg.RPCOpts.RPCCert, cfg.RPCOpts.RPCKey, cfg.RPCOpts.ExternalIPs)
		if err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

// createDefaultConfigFile copies the sample-lantern.conf content to the
// given destination path.
func createDefaultConfigFile(destinationPath string) error {
	// Create the destination directory if it does not exists
	err := os.MkdirAll(filepath.Dir(destinationPath), 0700)
	if err != nil {
		return err
	}

	sampleBytes, err := fs.ReadFile(configFS, "sample-lantern.conf")
	if err != nil {
		return err
	}
	src := bytes.NewReader(sampleBytes)

	dest, err := os.OpenFile(destinationPath,
		os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer dest.Close()

	reader := bufio.NewReader(src)
	for err != io.EOF {
		var line string
		line, err = reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return err
		}

		if _, err := dest.WriteString(line); err != nil {
			return err
		}
	}

	return nil
}

// CleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func CleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(DefaultHomeDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but they variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

// genCertPair generates a key/cert pair to the paths provided.
func genCertPair(certFile, keyFile string, externalIPs []string) error {
	log.Info("Generating TLS certificates...")

	org := "lantern autogenerated cert"
	validUntil := time.Now().Add(10 * 365 * 24 * time.Hour)
	cert, key, err := bchutil.NewTLSCertPair(org, validUntil, externalIPs)
	if err != nil {
		return err
	}

	// Write cert and key files.
	if err = os.WriteFile(certFile, cert, 0666); err != nil {
		return err
	}
	if err = os.WriteFile(keyFile, key, 0600); err != nil {
		os.Remove(certFile)
		return err
	}

	log.Info("Done generating TLS certificates")
	return nil
}

// fileExists reports whether the named file or directory exists.
func fileExists(name string) bool {
	if _, err := os.Stat(name); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}
	return true
}
