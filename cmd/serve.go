package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/zonestats/internal/api"
	"github.com/sells-group/zonestats/internal/mapdata"
)

var servePort int

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve listings, zone statistics and the zone map over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		handler, err := buildHandler(st)
		if err != nil {
			return err
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
		return runServer(ctx, srv)
	},
}

// buildHandler assembles the API from config.
func buildHandler(st api.Store) (http.Handler, error) {
	classifier, err := loadClassifier()
	if err != nil {
		return nil, err
	}

	var polygons *geojson.FeatureCollection
	if cfg.Map.Enabled() {
		polygons, err = mapdata.Load(cfg.Map.GeoJSONPath, cfg.Map.ShapefilePath)
		if err != nil {
			return nil, err
		}
		zap.L().Info("zone polygons loaded", zap.Int("features", len(polygons.Features)))
	} else {
		zap.L().Warn("no zone polygon source configured, map routes disabled")
	}

	srv := api.New(api.Deps{
		Store:      st,
		Aggregator: newAggregator(classifier),
		Classifier: classifier,
		Polygons:   polygons,
	}, api.Config{
		CORSOrigins:    cfg.Server.CORSOrigins,
		ZoneProperty:   cfg.Map.ZoneProperty,
		RequestTimeout: time.Duration(cfg.Server.RequestTimeoutSecs) * time.Second,
		Breaker:        cfg.Circuit.Breaker(),
	})
	return srv.Handler(), nil
}

// runServer serves until ctx is done, then drains in-flight requests.
func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("starting server", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	case <-ctx.Done():
	}

	zap.L().Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "server shutdown")
	}
	return nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
