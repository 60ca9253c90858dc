// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package run

import (
	"github.com/spf13/pflag"
)

const (
	HTTPAddrKey       = "http-addr"
	GenesisKey        = "genesis"
	DBDirKey          = "db-dir"
	AllowedOriginsKey = "allowed-origins"
)

func AddFlags(flags *pflag.FlagSet) {
	flags.String(HTTPAddrKey, ":9650", "Address the HTTP server listens on")
	flags.String(GenesisKey, "", "Path to the genesis JSON file (required)")
	flags.String(DBDirKey, "", "Database directory; empty runs in-memory")
	flags.StringSlice(AllowedOriginsKey, []string{"*"}, "CORS allowed origins")
}

type Config struct {
	HTTPAddr       string
	GenesisPath    string
	DBDir          string
	AllowedOrigins []string
}

func ParseFlags(flags *pflag.FlagSet, args []string) (*Config, error) {
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	httpAddr, err := flags.GetString(HTTPAddrKey)
	if err != nil {
		return nil, err
	}
	genesisPath, err := flags.GetString(GenesisKey)
	if err != nil {
		return nil, err
	}
	dbDir, err := flags.GetString(DBDirKey)
	if err != nil {
		return nil, err
	}
	allowedOrigins, err := flags.GetStringSlice(AllowedOriginsKey)
	if err != nil {
		return nil, err
	}

	return &Config{
		HTTPAddr:       httpAddr,
		GenesisPath:    genesisPath,
		DBDir:          dbDir,
		AllowedOrigins: allowedOrigins,
	}, nil
}
