// Package cgi runs server-side scripts with an almost CGI environment and
// captures what they print.
package cgi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
)

// Runner runs an executable in a subprocess and returns its standard output.
// The executable is started with no arguments. Its environment is the server's
// own environment plus a handful of CGI variables and Env.
//
// Running a Runner against paths taken from requests executes arbitrary local
// code with the server's privileges. Only wire it up when that is intended.
type Runner struct {
	Name string // value to use for SERVER_SOFTWARE env var

	// Dir is the working directory of the subprocess.
	// Empty means the server's working directory.
	Dir string

	// Env holds extra KEY=VALUE pairs. They win over inherited values.
	Env    []string
	Logger *log.Logger

	// Stderr receives the subprocess' standard error. Nil discards it.
	Stderr io.Writer
}

// Run executes script and returns everything it wrote to stdout, as a non-nil
// slice even when the script printed nothing.
// target is the request target that selected the script.
// A non-zero exit status is logged but still yields the captured output;
// failing to start the process is an error.
func (r *Runner) Run(ctx context.Context, script, target string) ([]byte, error) {
	name := r.Name
	if name == "" {
		name = "go"
	}

	env := append(os.Environ(),
		"SERVER_SOFTWARE="+name,
		"SERVER_PROTOCOL=HTTP/1.1",
		"GATEWAY_INTERFACE=CGI/1.1",
		"REQUEST_METHOD=GET",
		"REQUEST_URI="+target,
		"SCRIPT_FILENAME="+script,
	)
	for _, e := range r.Env {
		if !strings.Contains(e, "=") {
			r.logErr("cgi: ignoring malformed env var %q", e)
			continue
		}
		env = append(env, e)
	}
	env = removeLeadingDuplicates(env)

	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, script)
	cmd.Dir = r.Dir
	cmd.Env = env
	cmd.Stdout = &stdout
	cmd.Stderr = r.Stderr

	r.logf("Running %s", script)
	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("cgi: running %s: %w", script, ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		r.logErr("cgi: %s: %v", script, err)
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("cgi: running %s: %w", script, err)
	}
	if stdout.Len() == 0 {
		return []byte{}, nil
	}
	return stdout.Bytes(), nil
}

func (r *Runner) logf(format string, args ...interface{}) {
	if r.Logger != nil {
		r.Logger.Printf(format, args...)
	} else {
		log.Printf(format, args...)
	}
}

func (r *Runner) logErr(format string, args ...interface{}) {
	r.logf("error :: "+format, args...)
}

// removeLeadingDuplicates keeps the last occurrence of every KEY= entry.
func removeLeadingDuplicates(env []string) (ret []string) {
	for i, e := range env {
		found := false
		if eq := strings.IndexByte(e, '='); eq != -1 {
			keq := e[:eq+1]
			for _, e2 := range env[i+1:] {
				if strings.HasPrefix(e2, keq) {
					found = true
					break
				}
			}
		}
		if !found {
			ret = append(ret, e)
		}
	}
	return
}
