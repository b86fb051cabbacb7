package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config lists the tunable parameters for the meshmap server.
type Config struct {
	HTTPPort int

	// Either MQTTURL is set directly, or it is assembled from the discrete
	// broker/port/protocol/path fields. Empty means MQTT is disabled.
	MQTTURL      string
	MQTTBroker   string
	MQTTPort     string
	MQTTProtocol string
	MQTTPath     string
	MQTTUsername string
	MQTTPassword string
	MQTTTopic    string

	// ChannelKeys is the environment-seeded key list, merged into the
	// persisted registry at startup.
	ChannelKeys []string

	MarkerLogPath  string
	MessageLogPath string
	ConfigPath     string
	DropLogDBPath  string
	LogLevel       string
}

const (
	defaultHTTPPort       = 8080
	defaultMQTTProtocol   = "ws"
	defaultMQTTPath       = "/mqtt"
	defaultMQTTTopic      = "meshcore/#"
	defaultMarkerLogPath  = "data/markers-log.json"
	defaultMessageLogPath = "data/messages-log.json"
	defaultConfigPath     = "data/config.json"
	defaultDropLogDBPath  = "data/drops.db"
	defaultLogLevel       = "info"
)

// Load derives configuration values from environment variables, falling back to defaults.
func Load() (Config, error) {
	cfg := Config{
		HTTPPort:       defaultHTTPPort,
		MQTTProtocol:   defaultMQTTProtocol,
		MQTTPath:       defaultMQTTPath,
		MQTTTopic:      defaultMQTTTopic,
		MarkerLogPath:  defaultMarkerLogPath,
		MessageLogPath: defaultMessageLogPath,
		ConfigPath:     defaultConfigPath,
		DropLogDBPath:  defaultDropLogDBPath,
		LogLevel:       defaultLogLevel,
	}

	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.HTTPPort = port
	}

	cfg.MQTTURL = os.Getenv("MESHCORE_MQTT_URL")
	cfg.MQTTBroker = os.Getenv("MQTT_BROKER")
	cfg.MQTTPort = os.Getenv("MQTT_PORT")
	if v := os.Getenv("MQTT_PROTOCOL"); v != "" {
		cfg.MQTTProtocol = v
	}
	if v := os.Getenv("MQTT_PATH"); v != "" {
		cfg.MQTTPath = v
	}
	cfg.MQTTUsername = os.Getenv("MQTT_USERNAME")
	cfg.MQTTPassword = os.Getenv("MQTT_PASSWORD")
	if v := os.Getenv("MESHCORE_MQTT_TOPIC"); v != "" {
		cfg.MQTTTopic = v
	}

	cfg.ChannelKeys = splitKeys(os.Getenv("MESHCORE_WARDRIVE_CHANNEL_KEYS"))

	if v := os.Getenv("MARKER_LOG_PATH"); v != "" {
		cfg.MarkerLogPath = v
	}
	if v := os.Getenv("MESSAGE_LOG_PATH"); v != "" {
		cfg.MessageLogPath = v
	}
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfg.ConfigPath = v
	}
	if v := os.Getenv("DROP_LOG_DB_PATH"); v != "" {
		cfg.DropLogDBPath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	return cfg, nil
}

// BrokerURL resolves the MQTT connection URL, preferring the explicit URL over
// the discrete broker fields. Empty means MQTT is not configured.
func (c Config) BrokerURL() string {
	if c.MQTTURL != "" {
		return c.MQTTURL
	}
	if c.MQTTBroker == "" {
		return ""
	}

	portPart := ""
	if c.MQTTPort != "" {
		portPart = ":" + c.MQTTPort
	}
	pathPart := ""
	if strings.HasPrefix(c.MQTTProtocol, "ws") {
		pathPart = c.MQTTPath
	}
	return fmt.Sprintf("%s://%s%s%s", c.MQTTProtocol, c.MQTTBroker, portPart, pathPart)
}

func splitKeys(raw string) []string {
	if raw == "" {
		return nil
	}

	var keys []string
	for _, part := range strings.Split(raw, ",") {
		key := strings.ToLower(strings.TrimSpace(part))
		if key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}
