package mainboilerplate

import (
	"context"
	_ "expvar" // Import for /debug/vars
	"net"
	"net/http"
	_ "net/http/pprof" // Import for /debug/pprof
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// DiagnosticsConfig configures pull-based application metrics, debugging and diagnostics.
type DiagnosticsConfig struct {
	Port string `long:"port" env:"PORT" default:"" description:"Port for serving /debug/ diagnostics. Diagnostics are not served if empty"`
}

// Diagnostics serves metrics and debugging handlers of the default HTTP mux.
type Diagnostics struct {
	srv *http.Server
	ln  net.Listener
}

// InitDiagnostics registers /debug/ready and /debug/metrics on the default
// HTTP mux, and binds the configured port. It returns nil if no port is
// configured. Package "net/http/pprof" serves /debug/pprof/, and package
// "expvar" serves /debug/vars.
func InitDiagnostics(cfg DiagnosticsConfig) (*Diagnostics, error) {
	if cfg.Port == "" {
		return nil, nil
	}
	http.HandleFunc("/debug/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	http.Handle("/debug/metrics", promhttp.Handler())

	var ln, err = net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return nil, errors.WithMessagef(err, "binding diagnostics port %s", cfg.Port)
	}
	return &Diagnostics{
		srv: &http.Server{Handler: http.DefaultServeMux, ReadHeaderTimeout: 10 * time.Second},
		ln:  ln,
	}, nil
}

// Addr returns the bound address of the Diagnostics server.
func (d *Diagnostics) Addr() net.Addr { return d.ln.Addr() }

// Serve diagnostics until the Context is cancelled.
func (d *Diagnostics) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()

		var shutdownCtx, cancel = context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = d.srv.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", d.ln.Addr().String()).Info("serving diagnostics")

	if err := d.srv.Serve(d.ln); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Must panics if |err| is non-nil, supplying |msg| and |extra| as
// formatter and fields of the generated panic.
func Must(err error, msg string, extra ...interface{}) {
	if err == nil {
		return
	}
	var f = log.Fields{"err": err}
	for i := 0; i+1 < len(extra); i += 2 {
		f[extra[i].(string)] = extra[i+1]
	}
	log.WithFields(f).Panic(msg)
}
