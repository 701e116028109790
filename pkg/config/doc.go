// Package config loads endstate settings from a YAML file, ENDSTATE_*
// environment variables and built-in defaults.
//
// The config file lives at $XDG_CONFIG_HOME/endstate/config.yaml unless an
// explicit path is given. Command-line flags are layered on top by binding
// them to the viper instance returned by NewViper before calling Load:
//
//	v := config.NewViper(configFile)
//	_ = v.BindPFlag("driver", cmd.Flags().Lookup("driver"))
//	cfg, err := config.Load(v)
//
// Paths accept ~, $VAR and %VAR% references. Run state defaults to
// $XDG_DATA_HOME/endstate/state and the run index to
// $XDG_DATA_HOME/endstate/index.db.
package config
