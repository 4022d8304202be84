package devices

import (
	"regexp"
	"strings"
)

var propertyRe = regexp.MustCompile(`^\[(.*?)\]:\s*\[(.*)\]$`)

// parseProperties turns `getprop` output into a map. Lines that do not
// look like `[key]: [value]` are skipped.
func parseProperties(output string) map[string]string {
	props := make(map[string]string)
	for _, line := range strings.Split(output, "\n") {
		m := propertyRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		props[m[1]] = m[2]
	}
	return props
}

var inetRe = regexp.MustCompile(`inet (\d+\.\d+\.\d+\.\d+)/`)

// parseInetAddr extracts the first IPv4 address from `ip addr show` output.
func parseInetAddr(output string) string {
	m := inetRe.FindStringSubmatch(output)
	if m == nil {
		return ""
	}
	return m[1]
}

// parsePackagePath strips the "package:" prefix from `pm path` output. With
// split apks the base apk is listed first.
func parsePackagePath(output string) string {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if path, ok := strings.CutPrefix(line, "package:"); ok && path != "" {
			return path
		}
	}
	return ""
}

// parsePackageList reads `pm list packages` output.
func parsePackageList(output string) []string {
	var packages []string
	for _, line := range strings.Split(output, "\n") {
		if name, ok := strings.CutPrefix(strings.TrimSpace(line), "package:"); ok && name != "" {
			packages = append(packages, name)
		}
	}
	return packages
}
