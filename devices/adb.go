package devices

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Adb locates the adb binary and the adb server it talks to.
type Adb struct {
	Path string
	Host string
	Port int
}

func (a Adb) path() string {
	if a.Path == "" {
		return "adb"
	}
	return a.Path
}

// args prefixes args with the server and device selection flags.
func (a Adb) args(serial string, args ...string) []string {
	var full []string
	if a.Host != "" {
		full = append(full, "-H", a.Host)
	}
	if a.Port > 0 {
		full = append(full, "-P", strconv.Itoa(a.Port))
	}
	if serial != "" {
		full = append(full, "-s", serial)
	}
	return append(full, args...)
}

// Run executes adb and returns its combined output with CRLF line endings
// normalized, as older devices emit them through adb shell.
func (a Adb) Run(ctx context.Context, serial string, args ...string) ([]byte, error) {
	output, err := a.RunRaw(ctx, serial, args...)
	return bytes.ReplaceAll(output, []byte("\r\n"), []byte("\n")), err
}

// RunRaw executes adb and returns stdout untouched, for binary output.
func (a Adb) RunRaw(ctx context.Context, serial string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, a.path(), a.args(serial, args...)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		return stdout.Bytes(), fmt.Errorf("adb %s: %w: %s", strings.Join(args, " "), err, msg)
	}

	return stdout.Bytes(), nil
}

// Version returns the first line of `adb version`.
func (a Adb) Version(ctx context.Context) (string, error) {
	output, err := a.Run(ctx, "", "version")
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(output)), "\n")
	return line, nil
}

// AdbDevice is one row of `adb devices`.
type AdbDevice struct {
	Serial string
	State  string
}

func (a Adb) Devices(ctx context.Context) ([]AdbDevice, error) {
	output, err := a.Run(ctx, "", "devices")
	if err != nil {
		return nil, fmt.Errorf("failed to run 'adb devices': %w", err)
	}
	return parseAdbDevicesOutput(string(output)), nil
}

func parseAdbDevicesOutput(output string) []AdbDevice {
	var devices []AdbDevice

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of devices") || strings.HasPrefix(line, "*") {
			continue
		}

		parts := strings.Fields(line)
		if len(parts) != 2 {
			continue
		}
		devices = append(devices, AdbDevice{Serial: parts[0], State: parts[1]})
	}

	return devices
}

// parseForwardPort reads the port adb prints for `forward tcp:0 ...`.
func parseForwardPort(output string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(output))
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("unexpected adb forward output %q", strings.TrimSpace(output))
	}
	return port, nil
}
