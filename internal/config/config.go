package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/docker/go-units"

	"github.com/redmage123/course-creator-sub023/pkg/api"
)

// ImageSpec selects the container image and internal port for one IDE surface
type ImageSpec struct {
	Image         string
	ContainerPort int
}

// HTTP holds the REST server settings
type HTTP struct {
	Host            string
	Port            int
	PublicHost      string
	ShutdownTimeout time.Duration
}

// Lifecycle holds the lab lifecycle timings and limits
type Lifecycle struct {
	IdleTimeout      time.Duration
	HealthInterval   time.Duration
	ReapInterval     time.Duration
	ProvisionTimeout time.Duration
	MaxLabs          int
	MaxConcurrent    int64
}

// Runtime holds the container engine settings
type Runtime struct {
	CallTimeout   time.Duration
	DefaultCPU    float64
	DefaultMemory int64
	WorkspacePath string
}

// Config is the immutable configuration for the lab manager, built once at
// startup and passed to each component's constructor.
type Config struct {
	HTTP          HTTP
	Lifecycle     Lifecycle
	Runtime       Runtime
	DataDir       string
	WorkspaceRoot string
	PortRangeLow  int
	PortRangeHigh int
	Images        map[api.IDEType]ImageSpec
}

// FromEnv builds a Config from the environment, applying defaults for
// anything unset.
func FromEnv() (Config, error) {
	cfg := Config{
		HTTP: HTTP{
			Host:            getEnv("LAB_HTTP_HOST", "0.0.0.0"),
			Port:            getInt("LAB_HTTP_PORT", 8089),
			PublicHost:      getEnv("LAB_PUBLIC_HOST", "localhost"),
			ShutdownTimeout: getDuration("LAB_HTTP_SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Lifecycle: Lifecycle{
			IdleTimeout:      getDuration("LAB_IDLE_TIMEOUT", 60*time.Minute),
			HealthInterval:   getDuration("LAB_HEALTH_INTERVAL", 30*time.Second),
			ReapInterval:     getDuration("LAB_REAP_INTERVAL", 60*time.Second),
			ProvisionTimeout: getDuration("LAB_PROVISION_TIMEOUT", 2*time.Minute),
			MaxLabs:          getInt("LAB_MAX_LABS", 100),
			MaxConcurrent:    int64(getInt("LAB_MAX_CONCURRENT_PROVISIONS", 8)),
		},
		Runtime: Runtime{
			CallTimeout:   getDuration("LAB_DOCKER_TIMEOUT", 30*time.Second),
			DefaultCPU:    getFloat("LAB_DEFAULT_CPU", 1.0),
			DefaultMemory: getMemory("LAB_DEFAULT_MEMORY", 2*1024*1024*1024),
			WorkspacePath: getEnv("LAB_WORKSPACE_MOUNT", "/home/student/workspace"),
		},
		DataDir:       getEnv("LAB_DATA_DIR", "/var/lib/lab-manager"),
		WorkspaceRoot: getEnv("LAB_WORKSPACE_ROOT", "/var/lib/lab-manager/workspaces"),
		PortRangeLow:  getInt("LAB_PORT_RANGE_LOW", 31000),
		PortRangeHigh: getInt("LAB_PORT_RANGE_HIGH", 31999),
		Images: map[api.IDEType]ImageSpec{
			api.IDEEditor: {
				Image:         getEnv("LAB_IMAGE_EDITOR", "codercom/code-server:latest"),
				ContainerPort: 8080,
			},
			api.IDENotebook: {
				Image:         getEnv("LAB_IMAGE_NOTEBOOK", "jupyter/base-notebook:latest"),
				ContainerPort: 8888,
			},
			api.IDETerminal: {
				Image:         getEnv("LAB_IMAGE_TERMINAL", "tsl0922/ttyd:latest"),
				ContainerPort: 7681,
			},
			api.IDEJetBrains: {
				Image:         getEnv("LAB_IMAGE_JETBRAINS", "jetbrains/projector-idea-c:latest"),
				ContainerPort: 8887,
			},
		},
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTP.Port)
	}
	if c.PortRangeLow <= 0 || c.PortRangeHigh < c.PortRangeLow {
		return fmt.Errorf("invalid lab port range %d-%d", c.PortRangeLow, c.PortRangeHigh)
	}
	if c.Lifecycle.MaxLabs <= 0 {
		return fmt.Errorf("invalid max labs: %d", c.Lifecycle.MaxLabs)
	}
	if c.Lifecycle.MaxConcurrent <= 0 {
		return fmt.Errorf("invalid max concurrent provisions: %d", c.Lifecycle.MaxConcurrent)
	}
	if c.Runtime.DefaultCPU <= 0 {
		return fmt.Errorf("invalid default CPU: %f", c.Runtime.DefaultCPU)
	}
	if c.Runtime.DefaultMemory <= 0 {
		return fmt.Errorf("invalid default memory: %d", c.Runtime.DefaultMemory)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getDuration(key string, fallback time.Duration) time.Duration {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// getMemory accepts human-readable sizes like "512m" or "2g"
func getMemory(key string, fallback int64) int64 {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	n, err := units.RAMInBytes(value)
	if err != nil {
		return fallback
	}
	return n
}
