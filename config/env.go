package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// ApplyEnv overrides cfg from DROIDCAP_* variables. ANDROID_SERIAL selects
// the device like it does for adb itself, DROIDCAP_SERIAL wins over it.
func ApplyEnv(cfg *Config) error {
	setString(os.Getenv("DROIDCAP_ADB_PATH"), &cfg.Adb.Path)
	setString(os.Getenv("DROIDCAP_ADB_HOST"), &cfg.Adb.Host)
	setString(os.Getenv("ANDROID_SERIAL"), &cfg.Adb.Serial)
	setString(os.Getenv("DROIDCAP_SERIAL"), &cfg.Adb.Serial)
	setString(os.Getenv("DROIDCAP_MINICAP_DIR"), &cfg.Minicap.Dir)
	setString(os.Getenv("DROIDCAP_MINICAP_SOCKET"), &cfg.Minicap.Socket)
	setString(os.Getenv("DROIDCAP_ROTATION_PACKAGE"), &cfg.Rotation.Package)
	setString(os.Getenv("DROIDCAP_SERVER_LISTEN"), &cfg.Server.Listen)

	ints := []struct {
		env string
		dst *int
	}{
		{"DROIDCAP_ADB_PORT", &cfg.Adb.Port},
		{"DROIDCAP_MINICAP_LOCAL_PORT", &cfg.Minicap.LocalPort},
		{"DROIDCAP_MINICAP_QUALITY", &cfg.Minicap.Quality},
		{"DROIDCAP_MINICAP_MAX_FRAME_SIZE", &cfg.Minicap.MaxFrameSize},
		{"DROIDCAP_ROTATION_INITIAL", &cfg.Rotation.Initial},
	}
	for _, i := range ints {
		if err := setInt(i.env, os.Getenv(i.env), i.dst); err != nil {
			return err
		}
	}

	durations := []struct {
		env string
		dst *time.Duration
	}{
		{"DROIDCAP_MINICAP_READY_TIMEOUT", &cfg.Minicap.ReadyTimeout},
		{"DROIDCAP_MINICAP_FRAME_TIMEOUT", &cfg.Minicap.FrameTimeout},
		{"DROIDCAP_SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout},
	}
	for _, d := range durations {
		if err := setDuration(d.env, os.Getenv(d.env), d.dst); err != nil {
			return err
		}
	}

	if err := setFloat("DROIDCAP_MINICAP_SCALE", os.Getenv("DROIDCAP_MINICAP_SCALE"), &cfg.Minicap.Scale); err != nil {
		return err
	}
	if err := setBool("DROIDCAP_ROTATION_ENABLED", os.Getenv("DROIDCAP_ROTATION_ENABLED"), &cfg.Rotation.Enabled); err != nil {
		return err
	}
	if err := setBool("DROIDCAP_SERVER_CORS", os.Getenv("DROIDCAP_SERVER_CORS"), &cfg.Server.CORS); err != nil {
		return err
	}

	return nil
}

func setString(value string, dst *string) {
	if value != "" {
		*dst = value
	}
}

func setInt(name, value string, dst *int) error {
	if value == "" {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	*dst = i
	return nil
}

func setFloat(name, value string, dst *float64) error {
	if value == "" {
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	*dst = f
	return nil
}

func setDuration(name, value string, dst *time.Duration) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	*dst = d
	return nil
}

func setBool(name, value string, dst *bool) error {
	if value == "" {
		return nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	*dst = b
	return nil
}
