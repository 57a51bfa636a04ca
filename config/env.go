package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Environment variables overriding endpoints and secrets of the config file.
const (
	EnvSerialPort   = "GOMEASURE_SERIAL_PORT"
	EnvMQTTBroker   = "GOMEASURE_MQTT_BROKER"
	EnvMQTTUsername = "GOMEASURE_MQTT_USERNAME"
	EnvMQTTPassword = "GOMEASURE_MQTT_PASSWORD"
	EnvInfluxURL    = "GOMEASURE_INFLUX_URL"
	EnvInfluxToken  = "GOMEASURE_INFLUX_TOKEN"
	EnvHTTPListen   = "GOMEASURE_HTTP_LISTEN"
	EnvEnabled      = "GOMEASURE_ENABLED"
)

// applyEnv loads a .env file from the working directory if there is one and
// copies every set GOMEASURE_* variable over the matching config field.
func applyEnv(c *Config) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("Could not load .env file", "error", err)
	}

	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setString(EnvSerialPort, &c.Serial.Port)
	setString(EnvMQTTBroker, &c.MQTT.Broker)
	setString(EnvMQTTUsername, &c.MQTT.Username)
	setString(EnvMQTTPassword, &c.MQTT.Password)
	setString(EnvInfluxURL, &c.Influx.URL)
	setString(EnvInfluxToken, &c.Influx.Token)
	setString(EnvHTTPListen, &c.HTTP.Listen)

	if v, ok := os.LookupEnv(EnvEnabled); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvEnabled, err)
		}
		c.Enabled = b
	}
	return nil
}
