package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// ResolveDownloadsDir picks the output directory: configured when set,
// then XDG_DOWNLOAD_DIR from the environment or user-dirs.dirs, then
// ~/Downloads.
func ResolveDownloadsDir(configured string) string {
	if d := strings.TrimSpace(configured); d != "" {
		return expandTilde(d)
	}

	home, _ := os.UserHomeDir()
	if d := strings.TrimSpace(os.Getenv("XDG_DOWNLOAD_DIR")); d != "" {
		return expandHome(d, home)
	}
	if data, err := os.ReadFile(userDirsPath(home)); err == nil {
		if d := parseUserDirs(string(data), home); d != "" {
			return d
		}
	}
	if home == "" {
		return "Downloads"
	}
	return filepath.Join(home, "Downloads")
}

func userDirsPath(home string) string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "user-dirs.dirs")
	}
	return filepath.Join(home, ".config", "user-dirs.dirs")
}

// parseUserDirs extracts XDG_DOWNLOAD_DIR from a user-dirs.dirs file.
func parseUserDirs(content, home string) string {
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok || strings.TrimSpace(key) != "XDG_DOWNLOAD_DIR" {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"`)
		if value == "" {
			return ""
		}
		return expandHome(value, home)
	}
	return ""
}

func expandHome(path, home string) string {
	if home == "" {
		return path
	}
	switch {
	case path == "$HOME":
		return home
	case strings.HasPrefix(path, "$HOME/"):
		return filepath.Join(home, path[len("$HOME/"):])
	}
	return expandTilde(path)
}

func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
