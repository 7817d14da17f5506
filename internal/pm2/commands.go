package pm2

import "strconv"

// Argv builders for the pm2 CLI. Everything is passed as a discrete
// argument; nothing here may ever be interpolated into a shell string.

func ListArgs() []string { return []string{"jlist"} }

func VersionArgs() []string { return []string{"--version"} }

// StartConfigArgs launches a process from an on-disk ecosystem
// descriptor. Used by create; plain start-by-name resumes a stopped one.
func StartConfigArgs(configPath string) []string { return []string{"start", configPath} }

func StartArgs(name string) []string { return []string{"start", name} }

func StopArgs(name string) []string { return []string{"stop", name} }

func RestartArgs(name string) []string { return []string{"restart", name} }

func DeleteArgs(name string) []string { return []string{"delete", name} }

func LogsArgs(name string, lines int) []string {
	return []string{"logs", name, "--lines", strconv.Itoa(lines), "--nostream", "--raw"}
}

func FlushArgs(name string) []string { return []string{"flush", name} }
