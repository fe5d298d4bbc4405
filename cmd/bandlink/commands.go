package main

import (
	"github.com/spf13/cobra"
)

var (
	rootCmd = &cobra.Command{
		Use:               "bandlink",
		Short:             "Firmware update and sensor sync for Band wearables.",
		Version:           version,
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: loadRootConfig,
	}
)

var (
	rootConfig   string
	rootBackend  string
	rootDevice   string
	rootPort     string
	rootLogLevel string

	cfg *Config
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&rootConfig, "config", "c", "bandlink.yaml", "Configuration file")
	rootCmd.PersistentFlags().StringVarP(&rootBackend, "backend", "b", "", "Transport backend (ble, bridge)")
	rootCmd.PersistentFlags().StringVarP(&rootDevice, "device", "d", "", "Advertised device name (ble)")
	rootCmd.PersistentFlags().StringVarP(&rootPort, "port", "p", "", "Bridge serial port")
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level", "", "Log level (debug, info, warn, error)")
}

// loadRootConfig reads the config file and applies flag overrides. The
// default path may be absent.
func loadRootConfig(cmd *cobra.Command, _ []string) error {
	c, err := loadConfig(rootConfig, !cmd.Flags().Changed("config"))
	if err != nil {
		return err
	}
	if rootBackend != "" {
		c.Transport.Backend = rootBackend
	}
	if rootDevice != "" {
		c.Transport.Device = rootDevice
	}
	if rootPort != "" {
		c.Transport.Port = rootPort
	}
	if rootLogLevel != "" {
		c.Log.Level = rootLogLevel
	}
	cfg = c
	return nil
}

func Execute() error {
	return rootCmd.Execute()
}
