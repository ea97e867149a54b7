/*
 * HierDB
 *
 * Copyright 2020 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package config

import (
	"fmt"
	"strconv"

	"devt.de/krotik/common/errorutil"
	"devt.de/krotik/common/fileutil"
)

// Global variables
// ================

/*
DefaultConfigFile is the default config file which will be used to configure HierDB
*/
var DefaultConfigFile = "hierdb.config.json"

/*
Known configuration options for HierDB
*/
const (
	HTTPHost                = "HTTPHost"
	HTTPPort                = "HTTPPort"
	LocationDetached        = "LocationDetached"
	EnableAutoCompression   = "EnableAutoCompression"
	AutoCompressionSpec     = "AutoCompressionSpec"
	AutoCompressionAgeMs    = "AutoCompressionAgeMs"
	InactiveRingSize        = "InactiveRingSize"
	PublisherRingSize       = "PublisherRingSize"
	PublisherRemoteEndpoint = "PublisherRemoteEndpoint"
)

/*
DefaultConfig is the defaut configuration
*/
var DefaultConfig = map[string]interface{}{
	HTTPHost:                "localhost",
	HTTPPort:                "9070",
	LocationDetached:        "detached",
	EnableAutoCompression:   true,
	AutoCompressionSpec:     "0 * * * * *",
	AutoCompressionAgeMs:    "3600000",
	InactiveRingSize:        "100",
	PublisherRingSize:       "1024",
	PublisherRemoteEndpoint: "",
}

/*
Config is the actual config which is used
*/
var Config map[string]interface{}

/*
LoadConfigFile loads a given config file. If the config file does not exist it is
created with the default options.
*/
func LoadConfigFile(configfile string) error {
	var err error

	Config, err = fileutil.LoadConfig(configfile, DefaultConfig)

	return err
}

/*
LoadDefaultConfig loads the default configuration.
*/
func LoadDefaultConfig() {
	data := make(map[string]interface{})
	for k, v := range DefaultConfig {
		data[k] = v
	}

	Config = data
}

// Helper functions
// ================

/*
Str reads a config value as a string value.
*/
func Str(key string) string {
	return fmt.Sprint(Config[key])
}

/*
Int reads a config value as an int value.
*/
func Int(key string) int64 {
	ret, err := strconv.ParseInt(fmt.Sprint(Config[key]), 10, 64)

	errorutil.AssertTrue(err == nil,
		fmt.Sprintf("Could not parse config key %v: %v", key, err))

	return ret
}

/*
Bool reads a config value as a boolean value.
*/
func Bool(key string) bool {
	ret, err := strconv.ParseBool(fmt.Sprint(Config[key]))

	errorutil.AssertTrue(err == nil,
		fmt.Sprintf("Could not parse config key %v: %v", key, err))

	return ret
}
