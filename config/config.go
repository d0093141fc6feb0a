package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

var v *viper.Viper

func init() {
	v = viper.New()

	// Set default values
	v.SetDefault("receiver.port", 9000)
	v.SetDefault("receiver.lazy", 0)
	v.SetDefault("receiver.window", 8)
	v.SetDefault("monitor.addr", "")

	// Set default vidrx home directory
	v.SetDefault("vidrx.home", filepath.Join(xdg.Home, ".vidrx"))

	// Environment variables
	v.AutomaticEnv()
	v.BindEnv("receiver.port", "VIDRX_PORT")
	v.BindEnv("receiver.lazy", "VIDRX_LAZY")
	v.BindEnv("receiver.window", "VIDRX_WINDOW")
	v.BindEnv("monitor.addr", "VIDRX_MONITOR_ADDR")
	v.BindEnv("vidrx.home", "VIDRX_HOME")

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// Look for config in the following paths
	configPaths := []string{
		".",
		"$HOME/.vidrx",
		"/etc/vidrx",
	}

	for _, path := range configPaths {
		expandedPath := os.ExpandEnv(path)
		v.AddConfigPath(expandedPath)
	}

	// Read config file if it exists
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			panic(fmt.Sprintf("Fatal error reading config file: %s", err))
		}
		// Config file not found; ignore error and use defaults
	}
}

// GetDefaultPort returns the default UDP listening port
func GetDefaultPort() int {
	return v.GetInt("receiver.port")
}

// GetDefaultLazyLevel returns the default decode pipeline lazy level
func GetDefaultLazyLevel() int {
	return v.GetInt("receiver.lazy")
}

// GetDefaultWindowSize returns the default reassembly window size
func GetDefaultWindowSize() int {
	return v.GetInt("receiver.window")
}

// GetMonitorAddr returns the monitor server address, empty when disabled
func GetMonitorAddr() string {
	return v.GetString("monitor.addr")
}

// GetVidrxHome returns the vidrx home directory
func GetVidrxHome() string {
	return v.GetString("vidrx.home")
}
