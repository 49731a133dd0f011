// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"github.com/spf13/cobra"

	"github.com/mind/tinyenv/internal/server"
	"github.com/mind/tinyenv/pkg/fileutil"
)

func newServeCmd(ro *RootOpts, version string) *cobra.Command {
	def := server.DefaultConfig()
	var (
		addr      string
		port      int
		queueSize int
		chunkSize int
		origins   []string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP server for queued cache fetches",
		Long: `Start an HTTP server that provides:
  - REST API for fetch jobs (POST /api/fetch, /api/jobs)
  - WebSocket for live job updates (/api/ws)

Jobs run one at a time. The cache base directory is configured server-side
only (not via API).

Example:
  tinyenv serve
  tinyenv serve --port 3000 --base-dir /data/cache`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := server.Config{
				Addr:           addr,
				Port:           port,
				BaseDir:        ro.BaseDir,
				FallbackDir:    fileutil.DefaultFallbackDir,
				ChunkSize:      chunkSize,
				QueueSize:      queueSize,
				AllowedOrigins: origins,
				Version:        version,
				Logger:         ro.Logger().With("component", "server"),
			}

			srv := server.New(cfg)
			return srv.ListenAndServe(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", def.Addr, "Address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", def.Port, "Port to listen on")
	cmd.Flags().IntVar(&queueSize, "queue-size", def.QueueSize, "Maximum number of queued fetch jobs")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", def.ChunkSize, "Read size used when hashing")
	cmd.Flags().StringSliceVar(&origins, "allow-origin", nil, "Allowed CORS origins (default: any)")

	return cmd
}
