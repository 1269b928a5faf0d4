package api

import "time"

// Config defines runtime parameters for the status API server.
type Config struct {
	Enabled           bool          `mapstructure:"enabled"             yaml:"enabled"`
	ListenAddr        string        `mapstructure:"listen_addr"         yaml:"listen_addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"        yaml:"read_timeout"`
	// WriteTimeout must exceed the longest manual tick.
	WriteTimeout   time.Duration `mapstructure:"write_timeout"    yaml:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"     yaml:"idle_timeout"`
	MaxHeaderBytes int           `mapstructure:"max_header_bytes" yaml:"max_header_bytes"`
	CORS           bool          `mapstructure:"cors"             yaml:"cors"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		ListenAddr:        ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      35 * time.Minute,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
}
