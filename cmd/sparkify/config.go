package main

import (
	"github.com/franz/sparkify-lake/internal/config"
	"github.com/franz/sparkify-lake/internal/util"
	"github.com/spf13/viper"
)

// GetConfigString retrieves a string config value with proper precedence:
// 1. Command-line flag (if set)
// 2. Environment variable (SPARKIFY_*)
// 3. Config file
// 4. Default value
func GetConfigString(key string, defaultValue string) string {
	val := viper.GetString(key)
	if val == "" {
		return defaultValue
	}
	return val
}

// GetConfigInt retrieves an int config value with proper precedence
func GetConfigInt(key string, defaultValue int) int {
	val := viper.GetInt(key)
	if val == 0 {
		return defaultValue
	}
	return val
}

// GetConfigBool retrieves a bool config value
func GetConfigBool(key string) bool {
	return viper.GetBool(key)
}

// optionsFromConfig assembles the job options from flags, environment and
// config file
func optionsFromConfig() *config.Options {
	opts := config.DefaultOptions()

	opts.InputRoot = GetConfigString("input", opts.InputRoot)
	opts.OutputRoot = GetConfigString("output", opts.OutputRoot)
	opts.SongGlob = GetConfigString("song-glob", opts.SongGlob)
	opts.LogGlob = GetConfigString("log-glob", opts.LogGlob)
	opts.Connector = GetConfigString("connector", "")
	opts.CredentialsFile = GetConfigString("credentials", opts.CredentialsFile)
	opts.Region = GetConfigString("region", opts.Region)
	opts.Endpoint = GetConfigString("endpoint", "")
	opts.UsePathStyle = GetConfigBool("path-style")
	opts.TimeZone = GetConfigString("tz", opts.TimeZone)
	opts.Staging = util.UseStaging()
	opts.Parallelism = GetConfigInt("parallelism", opts.Parallelism)
	opts.RowsPerFile = GetConfigInt("rows-per-file", opts.RowsPerFile)
	opts.StateDB = GetConfigString("state-db", opts.StateDB)
	opts.ArtifactsDir = GetConfigString("artifacts", opts.ArtifactsDir)
	opts.MetricsPushURL = GetConfigString("metrics-push", "")
	opts.MetricsTextfile = GetConfigString("metrics-textfile", "")

	return opts
}
