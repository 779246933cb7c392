// Copyright (c) 2021 - 2025 Fraunhofer AISEC
// Fraunhofer-Gesellschaft zur Foerderung der angewandten Forschung e.V.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"encoding/json"
	"flag"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"

	// local modules
	"github.com/Fraunhofer-AISEC/authority/challenge"
	"github.com/Fraunhofer-AISEC/authority/internal"
)

type config struct {
	Id            string   `json:"id"`
	Apis          []string `json:"apis"`                    // http, coap, socket
	HttpAddr      string   `json:"httpAddr,omitempty"`      // e.g. 0.0.0.0:18000
	CoapAddr      string   `json:"coapAddr,omitempty"`      // e.g. 0.0.0.0:5683
	SocketAddr    string   `json:"socketAddr,omitempty"`    // unix domain socket path or tcp address
	Network       string   `json:"network,omitempty"`       // unix, tcp
	AttesterKey   string   `json:"attesterKey"`             // raw, PEM, DER or JWK public key
	TrustPolicy   string   `json:"trustPolicy"`             // JSON or HCL
	CustomPolicy  string   `json:"customPolicy,omitempty"`  // JavaScript
	NonceSize     int      `json:"nonceSize,omitempty"`     // bytes
	ChallengeTtl  string   `json:"challengeTtl,omitempty"`  // e.g. 5m, 0 disables expiry
	PruneInterval string   `json:"pruneInterval,omitempty"` // e.g. 1m
	Acl           []int    `json:"acl,omitempty"`
	CredentialDir string   `json:"credentialDir,omitempty"`
	PublishAddr   string   `json:"publishAddr,omitempty"`
	PublishFile   string   `json:"publishFile,omitempty"`
	LogLevel      string   `json:"logLevel"`
	LogFile       string   `json:"logFile,omitempty"`

	challengeTtl  time.Duration
	pruneInterval time.Duration
	configDir     string
}

var (
	logLevels = map[string]logrus.Level{
		"panic": logrus.PanicLevel,
		"fatal": logrus.FatalLevel,
		"error": logrus.ErrorLevel,
		"warn":  logrus.WarnLevel,
		"info":  logrus.InfoLevel,
		"debug": logrus.DebugLevel,
		"trace": logrus.TraceLevel,
	}

	log = logrus.WithField("service", "authorityd")
)

const (
	configFlag        = "config"
	idFlag            = "id"
	apisFlag          = "apis"
	httpAddrFlag      = "http"
	coapAddrFlag      = "coap"
	socketAddrFlag    = "socket"
	networkFlag       = "network"
	attesterKeyFlag   = "attesterkey"
	trustPolicyFlag   = "trustpolicy"
	customPolicyFlag  = "custompolicy"
	nonceSizeFlag     = "noncesize"
	challengeTtlFlag  = "ttl"
	pruneIntervalFlag = "prune"
	aclFlag           = "acl"
	credentialDirFlag = "credentials"
	publishAddrFlag   = "publish"
	publishFileFlag   = "publishfile"
	logFlag           = "log-level"
	logFileFlag       = "log-file"
)

func getConfig() (*config, error) {
	var err error

	//
	// Parse configuration from commandline flags and configuration file if
	// specified. Commandline flags supersede configuration file options
	//

	// Parse given command line flags
	configFile := flag.String(configFlag, "", "configuration file")
	id := flag.String(idFlag, "", "Identity of the authority")
	apis := flag.String(apisFlag, "",
		fmt.Sprintf("APIs to serve (comma separated list). Possible: %v",
			strings.Join(maps.Keys(servers), ",")))
	httpAddr := flag.String(httpAddrFlag, "", "HTTP listen address")
	coapAddr := flag.String(coapAddrFlag, "", "CoAP listen address")
	socketAddr := flag.String(socketAddrFlag, "", "Socket listen address")
	network := flag.String(networkFlag, "", "Network for socket API [unix tcp]")
	attesterKey := flag.String(attesterKeyFlag, "", "Public key of the attesters")
	trustPolicy := flag.String(trustPolicyFlag, "", "Trust policy file (JSON or HCL)")
	customPolicy := flag.String(customPolicyFlag, "", "Optional JavaScript custom policy file")
	nonceSize := flag.Int(nonceSizeFlag, 0, "Size of the challenge nonces in bytes")
	challengeTtl := flag.String(challengeTtlFlag, "", "Lifetime of issued challenges, 0 disables expiry")
	pruneInterval := flag.String(pruneIntervalFlag, "", "Interval for pruning expired challenges")
	acl := flag.String(aclFlag, "", "Authorized DotBot ids (comma separated list)")
	credentialDir := flag.String(credentialDirFlag, "", "Directory of DotBot credentials")
	publishAddr := flag.String(publishAddrFlag, "", "Optional HTTP address to publish results to")
	publishFile := flag.String(publishFileFlag, "", "Optional file to publish results to")
	logLevel := flag.String(logFlag, "",
		fmt.Sprintf("Possible logging: %v", strings.Join(maps.Keys(logLevels), ",")))
	logFile := flag.String(logFileFlag, "", "Optional file to additionally write logs to")
	flag.Parse()

	// Create default configuration
	c := &config{
		Apis:          []string{"http"},
		HttpAddr:      "0.0.0.0:18000",
		CoapAddr:      "0.0.0.0:5683",
		SocketAddr:    "/tmp/authorityd.sock",
		Network:       "unix",
		NonceSize:     challenge.DefaultNonceSize,
		ChallengeTtl:  challenge.DefaultTtl.String(),
		PruneInterval: time.Minute.String(),
		LogLevel:      "info",
	}

	// Obtain custom configuration from file if specified
	if internal.FlagPassed(configFlag) {
		log.Infof("Loading config from file %v", *configFile)
		data, err := os.ReadFile(*configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read authorityd config file %v: %v", *configFile, err)
		}
		err = json.Unmarshal(data, c)
		if err != nil {
			return nil, fmt.Errorf("failed to parse authorityd config: %v", err)
		}
		c.configDir = filepath.Dir(*configFile)
	}

	// Overwrite config file configuration with given command line arguments
	if internal.FlagPassed(idFlag) {
		c.Id = *id
	}
	if internal.FlagPassed(apisFlag) {
		c.Apis = strings.Split(*apis, ",")
	}
	if internal.FlagPassed(httpAddrFlag) {
		c.HttpAddr = *httpAddr
	}
	if internal.FlagPassed(coapAddrFlag) {
		c.CoapAddr = *coapAddr
	}
	if internal.FlagPassed(socketAddrFlag) {
		c.SocketAddr = *socketAddr
	}
	if internal.FlagPassed(networkFlag) {
		c.Network = *network
	}
	if internal.FlagPassed(attesterKeyFlag) {
		c.AttesterKey = *attesterKey
	}
	if internal.FlagPassed(trustPolicyFlag) {
		c.TrustPolicy = *trustPolicy
	}
	if internal.FlagPassed(customPolicyFlag) {
		c.CustomPolicy = *customPolicy
	}
	if internal.FlagPassed(nonceSizeFlag) {
		c.NonceSize = *nonceSize
	}
	if internal.FlagPassed(challengeTtlFlag) {
		c.ChallengeTtl = *challengeTtl
	}
	if internal.FlagPassed(pruneIntervalFlag) {
		c.PruneInterval = *pruneInterval
	}
	if internal.FlagPassed(aclFlag) {
		c.Acl, err = parseAcl(*acl)
		if err != nil {
			return nil, err
		}
	}
	if internal.FlagPassed(credentialDirFlag) {
		c.CredentialDir = *credentialDir
	}
	if internal.FlagPassed(publishAddrFlag) {
		c.PublishAddr = *publishAddr
	}
	if internal.FlagPassed(publishFileFlag) {
		c.PublishFile = *publishFile
	}
	if internal.FlagPassed(logFlag) {
		c.LogLevel = *logLevel
	}
	if internal.FlagPassed(logFileFlag) {
		c.LogFile = *logFile
	}

	// Configure the logger
	l, ok := logLevels[strings.ToLower(c.LogLevel)]
	if !ok {
		flag.Usage()
		log.Fatalf("LogLevel %v does not exist", c.LogLevel)
	}
	logrus.SetLevel(l)

	if c.LogFile != "" {
		c.LogFile = absPath(c.LogFile, c.configDir)
		f, err := os.OpenFile(c.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		logrus.SetOutput(io.MultiWriter(os.Stderr, f))
	}

	// Print the parsed configuration
	printConfig(c)

	//
	// Perform custom config actions
	//

	if err := c.validate(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *config) validate() error {
	var err error

	if len(c.Apis) == 0 {
		return errors.New("no APIs configured")
	}
	for i, a := range c.Apis {
		if _, ok := servers[strings.ToLower(a)]; !ok {
			return fmt.Errorf("API '%v' is not implemented", a)
		}
		if internal.Contains(a, c.Apis[:i]) {
			return fmt.Errorf("API '%v' configured twice", a)
		}
	}

	if c.AttesterKey == "" {
		return errors.New("please provide the attester public key via config or cmdline")
	}
	if c.TrustPolicy == "" {
		return errors.New("please provide a trust policy via config or cmdline")
	}
	if c.NonceSize <= 0 {
		return fmt.Errorf("invalid nonce size %v", c.NonceSize)
	}

	c.challengeTtl, err = time.ParseDuration(c.ChallengeTtl)
	if err != nil {
		return fmt.Errorf("invalid challenge lifetime: %w", err)
	}
	c.pruneInterval, err = time.ParseDuration(c.PruneInterval)
	if err != nil {
		return fmt.Errorf("invalid prune interval: %w", err)
	}

	// Resolve paths relative to the config file
	c.AttesterKey = absPath(c.AttesterKey, c.configDir)
	c.TrustPolicy = absPath(c.TrustPolicy, c.configDir)
	if c.CustomPolicy != "" {
		c.CustomPolicy = absPath(c.CustomPolicy, c.configDir)
	}
	if c.CredentialDir != "" {
		c.CredentialDir = absPath(c.CredentialDir, c.configDir)
	}
	if c.PublishFile != "" {
		c.PublishFile = absPath(c.PublishFile, c.configDir)
	}

	return nil
}

func absPath(p, base string) string {
	if p == "" || path.IsAbs(p) {
		return p
	}
	if f, err := internal.GetFilePath(p, &base); err == nil {
		return f
	}
	a, err := filepath.Abs(filepath.Join(base, p))
	if err != nil {
		return p
	}
	return a
}

func parseAcl(s string) ([]int, error) {
	acl := []int{}
	for _, e := range strings.Split(s, ",") {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		id, err := strconv.Atoi(e)
		if err != nil || id < 0 || id > 255 {
			return nil, fmt.Errorf("invalid dotbot id %q in ACL", e)
		}
		acl = append(acl, id)
	}
	return acl, nil
}

func printConfig(c *config) {
	log.Debugf("Using the following configuration:")
	log.Debugf("\tAuthority ID             : %v", c.Id)
	log.Debugf("\tAPIs                     : %v", strings.Join(c.Apis, ","))
	log.Debugf("\tHTTP Listen Address      : %v", c.HttpAddr)
	log.Debugf("\tCoAP Listen Address      : %v", c.CoapAddr)
	log.Debugf("\tSocket Listen Address    : %v (%v)", c.SocketAddr, c.Network)
	log.Debugf("\tAttester Key             : %v", c.AttesterKey)
	log.Debugf("\tTrust Policy             : %v", c.TrustPolicy)
	log.Debugf("\tCustom Policy            : %v", c.CustomPolicy)
	log.Debugf("\tNonce Size               : %v", c.NonceSize)
	log.Debugf("\tChallenge Lifetime       : %v", c.ChallengeTtl)
	log.Debugf("\tPrune Interval           : %v", c.PruneInterval)
	log.Debugf("\tACL                      : %v", c.Acl)
	log.Debugf("\tCredential Directory     : %v", c.CredentialDir)
	log.Debugf("\tPublish Address          : %v", c.PublishAddr)
	log.Debugf("\tPublish File             : %v", c.PublishFile)
	log.Debugf("\tLogging Level            : %v", c.LogLevel)
	log.Debugf("\tLog File                 : %v", c.LogFile)
}

func getVersion() string {
	version := "unknown"
	if info, ok := debug.ReadBuildInfo(); ok {
		if strings.EqualFold(info.Main.Version, "(devel)") {
			commit := "unknown"
			created := "unknown"
			for _, elem := range info.Settings {
				if strings.EqualFold(elem.Key, "vcs.revision") {
					commit = elem.Value
				}
				if strings.EqualFold(elem.Key, "vcs.time") {
					created = elem.Value
				}
			}
			version = fmt.Sprintf("%v, commit %v, created %v", info.Main.Version, commit, created)
		} else {
			version = info.Main.Version
		}
	}
	return version
}
