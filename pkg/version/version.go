// Package version reports what build of the orchestrator is running. The
// commit comes from an -ldflags override when set, otherwise from the VCS
// stamp the Go toolchain embeds, with "dev" as the fallback for go test
// and non-git builds.
package version

import "runtime/debug"

// AppName identifies this service in version strings, user agents, and the
// health endpoint.
const AppName = "yarnnn-orchestrator"

// gitCommitOverride is injected with -ldflags for container builds that
// have no .git directory.
var gitCommitOverride string

// GitCommit is the short commit hash of this build, suffixed with "-dirty"
// when the working tree had local changes.
var GitCommit = resolveCommit()

const shortHashLen = 8

func resolveCommit() string {
	if gitCommitOverride != "" {
		return short(gitCommitOverride)
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	commit, dirty := "", false
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			commit = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if commit == "" {
		return "dev"
	}
	if dirty {
		return short(commit) + "-dirty"
	}
	return short(commit)
}

func short(commit string) string {
	if len(commit) > shortHashLen {
		return commit[:shortHashLen]
	}
	return commit
}

// Full returns "yarnnn-orchestrator/<commit>", the form logged at startup
// and served from the version endpoint.
func Full() string {
	return AppName + "/" + GitCommit
}
