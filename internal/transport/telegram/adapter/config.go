package adapter

import "time"

type Config struct {
	Token       string
	PollTimeout time.Duration
	// SendTimeout bounds one Send including a flood-wait retry.
	SendTimeout time.Duration
	// SendRatePerSec paces outgoing subscriber messages. Telegram allows
	// about 30 messages per second per bot.
	SendRatePerSec float64

	// APIURL overrides the Bot API endpoint (tests, local bot-api server).
	APIURL string
	// Offline skips the getMe call on construction.
	Offline bool
}

const (
	defaultPollTimeout = 10 * time.Second
	defaultSendTimeout = 15 * time.Second
	defaultSendRate    = 25
)

func (c Config) withDefaults() Config {
	if c.PollTimeout <= 0 {
		c.PollTimeout = defaultPollTimeout
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = defaultSendTimeout
	}
	if c.SendRatePerSec <= 0 {
		c.SendRatePerSec = defaultSendRate
	}
	return c
}
