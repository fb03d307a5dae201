package config

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/relabs-tech/ahrs_computer/internal/orientation"
)

// Sample sources.
const (
	SourceMPU9250 = "mpu9250"
	SourceSim     = "sim"
	SourceReplay  = "replay"
)

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker           string
	MQTTClientIDProducer string
	MQTTClientIDConsole  string
	MQTTClientIDWeb      string
	MQTTClientIDDisplay  string

	// Topics
	TopicOrientation string
	TopicIMU         string

	// Sample source: "mpu9250", "sim" or "replay"
	Source         string
	ReplayFile     string
	ReplayRealtime bool

	// IMU Hardware
	IMUSPIDevice string
	IMUCSPin     string

	// IMU Sensor Ranges
	// Accelerometer: 0=±2g, 1=±4g, 2=±8g, 3=±16g
	IMUAccelRange byte
	// Gyroscope: 0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s
	IMUGyroRange byte

	// HMC5983 magnetometer merged into MPU9250 samples
	HMCEnabled    bool
	HMCI2CBus     string // "" selects the first bus
	HMCI2CAddr    uint16
	HMCODRHz      int
	HMCAvgSamples int
	HMCGainCode   int    // 0..7, 1 = ±1.3 Ga
	HMCMode       string // "continuous" or "single"

	// Filter
	SampleFreqHz     float64
	GyroMeasErrorDeg float64 // °/s
	GyroMeasDriftDeg float64 // °/s/s
	AccelStaleMS     int     // accel older than this switches to the mag-only update

	// Timing
	ConsoleLogInterval int // milliseconds

	// Web Server
	WebServerPort int
	MetricsPort   int // 0 disables the standalone metrics listener

	// NMEA heading output (empty port disables it)
	NMEASerialPort string
	NMEABaudRate   int
	NMEATalker     string

	// SQLite datalog and CSV sample recording (empty disables them)
	DatalogFile string
	RecordFile  string

	// Display
	DisplayI2CBus         string // "" selects the first bus
	DisplayUpdateInterval int    // milliseconds

	// Simulator
	SimRateDeg      orientation.Vec3 // body rotation rate, °/s
	SimBiasDeg      orientation.Vec3 // injected gyro bias, °/s
	SimDipDeg       float64          // magnetic inclination, positive down
	SimNoise        float64          // gaussian sigma applied to every axis
	SimAccelDropout float64          // probability of a zero accelerometer reading
	SimMagDropout   float64          // probability of a zero magnetometer reading
	SimSeed         int64
}

// Package-level unexported variables for singleton pattern:
//   - globalConfig: only reachable through Get so readers always take the lock.
//   - configOnce: ensures InitGlobal() only runs once, even if called multiple times.
//   - configMu: write lock for initialization, read lock for Get().
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Default returns the values used for keys a config file leaves out.
func Default() *Config {
	return &Config{
		MQTTBroker:           "tcp://localhost:1883",
		MQTTClientIDProducer: "ahrs-producer",
		MQTTClientIDConsole:  "ahrs-console",
		MQTTClientIDWeb:      "ahrs-web",
		MQTTClientIDDisplay:  "ahrs-display",

		TopicOrientation: "inertial/orientation",
		TopicIMU:         "inertial/imu",

		Source: SourceSim,

		IMUSPIDevice: "/dev/spidev0.0",
		IMUCSPin:     "GPIO8",

		HMCI2CAddr:    0x1E,
		HMCODRHz:      75,
		HMCAvgSamples: 1,
		HMCGainCode:   1,
		HMCMode:       "continuous",

		SampleFreqHz:     orientation.DefaultSampleFreq,
		GyroMeasErrorDeg: orientation.DefaultGyroMeasErrorDeg,
		GyroMeasDriftDeg: orientation.DefaultGyroMeasDriftDeg,
		AccelStaleMS:     50,

		ConsoleLogInterval: 1000,

		WebServerPort: 8080,

		NMEABaudRate: 4800,
		NMEATalker:   "HC",

		DisplayUpdateInterval: 200,

		SimDipDeg: 60,
		SimSeed:   1,
	}
}

// Load reads a configuration file on top of Default(). Files ending in
// .yaml or .yml are parsed as YAML with the same keys in lower case;
// anything else is KEY=VALUE lines with # comments.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".yaml", ".yml":
		err = cfg.parseYAML(data)
	default:
		err = cfg.parseKeyValue(data)
	}
	if err != nil {
		return nil, err
	}

	// Validate required fields
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) parseKeyValue(data []byte) error {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := c.setValue(key, value); err != nil {
			return fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

func (c *Config) parseYAML(data []byte) error {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("error parsing yaml config: %w", err)
	}

	// Apply in a stable order so errors are reproducible.
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := doc[k]
		if v == nil {
			continue
		}
		if err := c.setValue(strings.ToUpper(k), fmt.Sprint(v)); err != nil {
			return fmt.Errorf("yaml key %s: %w", k, err)
		}
	}
	return nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error

	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_PRODUCER":
		c.MQTTClientIDProducer = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value
	case "MQTT_CLIENT_ID_DISPLAY":
		c.MQTTClientIDDisplay = value

	// Topics
	case "TOPIC_ORIENTATION":
		c.TopicOrientation = value
	case "TOPIC_IMU":
		c.TopicIMU = value

	// Source
	case "SOURCE":
		c.Source = strings.ToLower(value)
	case "REPLAY_FILE":
		c.ReplayFile = value
	case "REPLAY_REALTIME":
		c.ReplayRealtime, err = strconv.ParseBool(value)

	// IMU Hardware
	case "IMU_SPI_DEVICE":
		c.IMUSPIDevice = value
	case "IMU_CS_PIN":
		c.IMUCSPin = value

	// IMU Sensor Ranges
	case "IMU_ACCEL_RANGE":
		c.IMUAccelRange, err = parseRange(key, value, "0=±2g, 1=±4g, 2=±8g, 3=±16g")
	case "IMU_GYRO_RANGE":
		c.IMUGyroRange, err = parseRange(key, value, "0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s")

	// HMC5983
	case "HMC_ENABLED":
		c.HMCEnabled, err = strconv.ParseBool(value)
	case "HMC_I2C_BUS":
		c.HMCI2CBus = value
	case "HMC_I2C_ADDR":
		var addr uint64
		addr, err = strconv.ParseUint(value, 0, 16)
		c.HMCI2CAddr = uint16(addr)
	case "HMC_ODR_HZ":
		c.HMCODRHz, err = strconv.Atoi(value)
	case "HMC_AVG_SAMPLES":
		c.HMCAvgSamples, err = strconv.Atoi(value)
	case "HMC_GAIN_CODE":
		c.HMCGainCode, err = strconv.Atoi(value)
	case "HMC_MODE":
		c.HMCMode = strings.ToLower(value)

	// Filter
	case "SAMPLE_FREQ_HZ":
		c.SampleFreqHz, err = strconv.ParseFloat(value, 64)
	case "GYRO_MEAS_ERROR_DEG":
		c.GyroMeasErrorDeg, err = strconv.ParseFloat(value, 64)
	case "GYRO_MEAS_DRIFT_DEG":
		c.GyroMeasDriftDeg, err = strconv.ParseFloat(value, 64)
	case "ACCEL_STALE_MS":
		c.AccelStaleMS, err = strconv.Atoi(value)

	// Timing
	case "CONSOLE_LOG_INTERVAL":
		c.ConsoleLogInterval, err = strconv.Atoi(value)

	// Web Server
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = strconv.Atoi(value)
	case "METRICS_PORT":
		c.MetricsPort, err = strconv.Atoi(value)

	// NMEA
	case "NMEA_SERIAL_PORT":
		c.NMEASerialPort = value
	case "NMEA_BAUD_RATE":
		c.NMEABaudRate, err = strconv.Atoi(value)
	case "NMEA_TALKER":
		if len(value) != 2 {
			return fmt.Errorf("NMEA_TALKER must be two characters, got %q", value)
		}
		c.NMEATalker = strings.ToUpper(value)

	// Datalog
	case "DATALOG_FILE":
		c.DatalogFile = value
	case "RECORD_FILE":
		c.RecordFile = value

	// Display
	case "DISPLAY_I2C_BUS":
		c.DisplayI2CBus = value
	case "DISPLAY_UPDATE_INTERVAL":
		c.DisplayUpdateInterval, err = strconv.Atoi(value)

	// Simulator
	case "SIM_RATE_X_DEG":
		c.SimRateDeg.X, err = strconv.ParseFloat(value, 64)
	case "SIM_RATE_Y_DEG":
		c.SimRateDeg.Y, err = strconv.ParseFloat(value, 64)
	case "SIM_RATE_Z_DEG":
		c.SimRateDeg.Z, err = strconv.ParseFloat(value, 64)
	case "SIM_BIAS_X_DEG":
		c.SimBiasDeg.X, err = strconv.ParseFloat(value, 64)
	case "SIM_BIAS_Y_DEG":
		c.SimBiasDeg.Y, err = strconv.ParseFloat(value, 64)
	case "SIM_BIAS_Z_DEG":
		c.SimBiasDeg.Z, err = strconv.ParseFloat(value, 64)
	case "SIM_DIP_DEG":
		c.SimDipDeg, err = strconv.ParseFloat(value, 64)
	case "SIM_NOISE":
		c.SimNoise, err = strconv.ParseFloat(value, 64)
	case "SIM_ACCEL_DROPOUT":
		c.SimAccelDropout, err = parseProbability(key, value)
	case "SIM_MAG_DROPOUT":
		c.SimMagDropout, err = parseProbability(key, value)
	case "SIM_SEED":
		c.SimSeed, err = strconv.ParseInt(value, 10, 64)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return nil
}

func parseRange(key, value, legend string) (byte, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	if v < 0 || v > 3 {
		return 0, fmt.Errorf("%s must be 0-3 (%s)", key, legend)
	}
	return byte(v), nil
}

func parseProbability(key, value string) (float64, error) {
	p, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, err
	}
	if p < 0 || p > 1 {
		return 0, fmt.Errorf("%s must be within [0, 1]", key)
	}
	return p, nil
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if c.SampleFreqHz <= 0 {
		return fmt.Errorf("SAMPLE_FREQ_HZ must be > 0, got %v", c.SampleFreqHz)
	}
	if c.GyroMeasErrorDeg < 0 || c.GyroMeasDriftDeg < 0 {
		return fmt.Errorf("GYRO_MEAS_ERROR_DEG and GYRO_MEAS_DRIFT_DEG must be >= 0")
	}
	if c.AccelStaleMS < 0 {
		return fmt.Errorf("ACCEL_STALE_MS must be >= 0, got %d", c.AccelStaleMS)
	}
	switch c.Source {
	case SourceSim:
	case SourceMPU9250:
		if c.IMUSPIDevice == "" {
			return fmt.Errorf("IMU_SPI_DEVICE is required for SOURCE=%s", c.Source)
		}
	case SourceReplay:
		if c.ReplayFile == "" {
			return fmt.Errorf("REPLAY_FILE is required for SOURCE=%s", c.Source)
		}
	default:
		return fmt.Errorf("SOURCE must be %s, %s or %s, got %q", SourceMPU9250, SourceSim, SourceReplay, c.Source)
	}
	if c.HMCEnabled {
		if c.HMCGainCode < 0 || c.HMCGainCode > 7 {
			return fmt.Errorf("HMC_GAIN_CODE must be 0-7, got %d", c.HMCGainCode)
		}
		switch c.HMCAvgSamples {
		case 1, 2, 4, 8:
		default:
			return fmt.Errorf("HMC_AVG_SAMPLES must be 1, 2, 4 or 8, got %d", c.HMCAvgSamples)
		}
		if c.HMCMode != "continuous" && c.HMCMode != "single" {
			return fmt.Errorf("HMC_MODE must be continuous or single, got %q", c.HMCMode)
		}
	}
	if c.ConsoleLogInterval <= 0 {
		return fmt.Errorf("CONSOLE_LOG_INTERVAL must be > 0")
	}
	if c.NMEASerialPort != "" && c.NMEABaudRate <= 0 {
		return fmt.Errorf("NMEA_BAUD_RATE is required when NMEA_SERIAL_PORT is set")
	}
	return nil
}

// FilterConfig returns the orientation filter settings.
func (c *Config) FilterConfig() orientation.Config {
	return orientation.Config{
		SampleFreq: c.SampleFreqHz,
		Gains:      orientation.GainsFromNoiseDeg(c.GyroMeasErrorDeg, c.GyroMeasDriftDeg),
	}
}

// AccelStale returns ACCEL_STALE_MS as a duration.
func (c *Config) AccelStale() time.Duration {
	return time.Duration(c.AccelStaleMS) * time.Millisecond
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
