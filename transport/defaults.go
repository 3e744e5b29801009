package transport

import "time"

const (
	DefaultRequestTimeout       = 30 * time.Second
	DefaultConnectTimeout       = 10 * time.Second
	DefaultReconnectInterval    = 1 * time.Second
	DefaultMaxReconnectAttempts = 5
)

func (c Config) requestTimeout() time.Duration {
	if c.RequestTimeout > 0 {
		return c.RequestTimeout
	}
	return DefaultRequestTimeout
}

func (c Config) connectTimeout() time.Duration {
	if c.ConnectTimeout > 0 {
		return c.ConnectTimeout
	}
	return DefaultConnectTimeout
}

func (c Config) reconnectInterval() time.Duration {
	if c.ReconnectInterval > 0 {
		return c.ReconnectInterval
	}
	return DefaultReconnectInterval
}

func (c Config) maxReconnectAttempts() int {
	if c.MaxReconnectAttempts > 0 {
		return c.MaxReconnectAttempts
	}
	return DefaultMaxReconnectAttempts
}
