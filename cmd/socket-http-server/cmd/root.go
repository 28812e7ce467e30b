package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/jferg368/socket-http-server/pkg/cgi"
	"github.com/jferg368/socket-http-server/pkg/httpd"
	"github.com/spf13/cobra"
)

var version = "dev"

var (
	quiet bool
	host  string
	port  int
	root  string

	execScripts bool
	envVars     []string
	stderr      string

	maxHeaderBytes int
	readTimeout    time.Duration
)

var RootCmd = &cobra.Command{
	Use:     "socket-http-server [flags]",
	Version: version,
	Short:   "A minimal HTTP/1.1 server for static files and directory listings.",
	Long: `Serve files and directory listings from a web root over HTTP/1.1.
Connections are handled one at a time and closed after a single response.
Only GET is supported.

With --exec-scripts, any .py file under the web root is executed when requested
and its standard output is sent back. This lets every client run arbitrary code
on this machine with the server's privileges.
`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         run,
}

func SetFlags() {
	RootCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, `Don't log anything.`)

	RootCmd.Flags().StringVar(&host, "host", "127.0.0.1", "Address to bind to.")
	RootCmd.Flags().IntVarP(&port, "port", "p", 10000, "Port to bind to.")

	RootCmd.Flags().StringVarP(&root, "root", "d", "", `Web root to serve.
Defaults to the webroot directory next to the executable.`,
	)

	RootCmd.Flags().BoolVarP(&execScripts, "exec-scripts", "x", false, `Execute requested .py files and send their output (unsafe).
Without this flag .py files are served as text.`,
	)
	RootCmd.Flags().StringArrayVarP(&envVars, "env-var", "e", nil, `Environment variable to pass on to executed scripts.
Must be in the form 'KEY=VALUE'.`,
	)
	RootCmd.Flags().StringVarP(&stderr, "stderr", "E", "", `File receiving the stderr of executed scripts.
Discarded by default.`,
	)

	RootCmd.Flags().IntVar(&maxHeaderBytes, "max-header-bytes", httpd.DefaultMaxHeaderBytes,
		"Largest request header accepted, in bytes.")
	RootCmd.Flags().DurationVar(&readTimeout, "read-timeout", 30*time.Second,
		"How long to wait for a full request header. 0 disables the deadline.")
}

func run(cmd *cobra.Command, args []string) error {
	var logger *log.Logger
	if quiet {
		logger = log.New(io.Discard, "", 0)
	} else {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}

	webRoot, err := webRootDir(root)
	if err != nil {
		return err
	}

	opts := []httpd.ResolverOption{httpd.WithResolverLogger(logger)}
	if execScripts {
		runner := &cgi.Runner{
			Name:   "socket-http-server/" + version,
			Env:    envVars,
			Logger: logger,
		}
		if stderr != "" {
			f, err := os.OpenFile(stderr, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
			if err != nil {
				return fmt.Errorf("error opening stderr: %w", err)
			}
			defer f.Close()
			runner.Stderr = f
		}
		logger.Printf("script execution enabled: any .py file under %s can be run by clients", webRoot)
		opts = append(opts, httpd.WithScriptRunner(runner))
	}

	resolver, err := httpd.NewResolver(webRoot, opts...)
	if err != nil {
		return err
	}
	logger.Println(resolver.Root())

	server := &httpd.Server{
		Addr:           net.JoinHostPort(host, strconv.Itoa(port)),
		Resolver:       resolver,
		Logger:         logger,
		ReadTimeout:    readTimeout,
		MaxHeaderBytes: maxHeaderBytes,
	}
	return server.ListenAndServe(cmd.Context())
}

// webRootDir returns dir, or the webroot directory next to the running
// executable when dir is empty.
func webRootDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locating executable: %w", err)
	}
	return filepath.Join(filepath.Dir(exe), "webroot"), nil
}

func Execute() {
	SetFlags()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := RootCmd.ExecuteContext(ctx); err != nil {
		log.Println(err)
		stop()
		os.Exit(1)
	}
}
