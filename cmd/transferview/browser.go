package main

import (
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/google/shlex"
)

const (
	browserPollInterval = 100 * time.Millisecond
	browserPollAttempts = 60
)

// browserCommand returns the argv used to open url. A BROWSER
// value is split like a shell would; "%s" in it is replaced by the
// url, otherwise the url is appended.
func browserCommand(goos, browserEnv, url string) ([]string, error) {
	if browserEnv != "" {
		args, err := shlex.Split(browserEnv)
		if err != nil {
			return nil, fmt.Errorf("parsing BROWSER: %w", err)
		}
		if len(args) == 0 {
			return nil, fmt.Errorf("parsing BROWSER: empty command")
		}
		replaced := false
		for i, a := range args {
			if a == "%s" {
				args[i] = url
				replaced = true
			}
		}
		if !replaced {
			args = append(args, url)
		}
		return args, nil
	}

	switch goos {
	case "darwin":
		return []string{"open", url}, nil
	case "linux":
		return []string{"xdg-open", url}, nil
	case "windows":
		return []string{"rundll32", "url.dll,FileProtocolHandler", url}, nil
	}
	return nil, fmt.Errorf("no browser command for %s", goos)
}

// openBrowser waits for the server to answer, then opens url.
func openBrowser(url string) {
	for range browserPollAttempts {
		time.Sleep(browserPollInterval)
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			break
		}
	}

	args, err := browserCommand(runtime.GOOS, os.Getenv("BROWSER"), url)
	if err != nil {
		fmt.Fprintln(os.Stderr, "warning:", err)
		return
	}
	_ = exec.Command(args[0], args[1:]...).Run()
}
