// Copyright (c) 2024 The illium developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package repo

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"unicode"
)

// AppDataDir returns an operating system specific directory to be used
// for storing application data.
func AppDataDir(appName string, roaming bool) string {
	if appName == "" || appName == "." {
		return "."
	}
	appName = strings.TrimPrefix(appName, ".")
	appNameUpper := string(unicode.ToUpper(rune(appName[0]))) + appName[1:]

	homeDir, err := os.UserHomeDir()
	if err != nil || homeDir == "" {
		return "."
	}

	switch runtime.GOOS {
	case "windows":
		appData := os.Getenv("LOCALAPPDATA")
		if roaming || appData == "" {
			appData = os.Getenv("APPDATA")
		}
		if appData != "" {
			return filepath.Join(appData, appNameUpper)
		}
	case "darwin":
		return filepath.Join(homeDir, "Library", "Application Support", appNameUpper)
	}
	return filepath.Join(homeDir, "."+appName)
}
