package util

import "github.com/spf13/viper"

// UseStaging returns whether tables are staged before being published.
// Staging can be disabled with the --no-staging flag.
func UseStaging() bool {
	return !viper.GetBool("no-staging")
}
