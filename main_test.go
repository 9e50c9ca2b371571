package dbprep

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// TestMain lets the test binary stand in for diesel and sqlx. When
// GO_HELPER_TOOL is set it records its invocation and exits instead of
// running tests.
func TestMain(m *testing.M) {
	if os.Getenv("GO_HELPER_TOOL") == "1" {
		os.Exit(fakeTool(os.Args[1:]))
	}
	os.Exit(m.Run())
}

// fakeTool appends "args|DATABASE_URL|cwd" to $FAKE_TOOL_LOG and exits with
// the code configured for these args in $FAKE_FAIL ("args=code,...").
func fakeTool(args []string) int {
	joined := strings.Join(args, " ")
	cwd, _ := os.Getwd()
	if logPath := os.Getenv("FAKE_TOOL_LOG"); logPath != "" {
		f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 99
		}
		fmt.Fprintf(f, "%s|%s|%s\n", joined, os.Getenv("DATABASE_URL"), cwd)
		f.Close()
	}
	for _, rule := range strings.Split(os.Getenv("FAKE_FAIL"), ",") {
		cmd, code, ok := strings.Cut(rule, "=")
		if ok && cmd == joined {
			n, err := strconv.Atoi(code)
			if err != nil {
				return 1
			}
			fmt.Fprintf(os.Stderr, "fake tool: %s failed\n", joined)
			return n
		}
	}
	return 0
}

// fakeToolEnv returns a child environment that runs the fake tool, logging
// to a file in dir, plus the path of that log.
func fakeToolEnv(t *testing.T, dir, databaseURL, fail string) ([]string, string) {
	t.Helper()
	logPath := filepath.Join(dir, "tool.log")
	return []string{
		"GO_HELPER_TOOL=1",
		"FAKE_TOOL_LOG=" + logPath,
		"FAKE_FAIL=" + fail,
		"DATABASE_URL=" + databaseURL,
		"PATH=" + os.Getenv("PATH"),
	}, logPath
}

// toolCalls reads the fake tool log as a list of "args|url|cwd" records.
func toolCalls(t *testing.T, logPath string) []string {
	t.Helper()
	data, err := os.ReadFile(logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatalf("failed to read tool log: %v", err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

// fakeCLI points both tools at the test binary.
func fakeCLI() *CLI {
	bin, _ := filepath.Abs(os.Args[0])
	return &CLI{
		Diesel: []string{bin},
		Sqlx:   []string{bin, "sqlx"},
	}
}
