//go:build !test

// Code coverage for main is ignored for now. TODO: Add integration tests for main entrypoint.
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/armon/go-metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/settlab/sett/internal/allocator"
	"github.com/settlab/sett/internal/api"
	"github.com/settlab/sett/internal/config"
	"github.com/settlab/sett/internal/console"
	"github.com/settlab/sett/internal/hypervisor"
	"github.com/settlab/sett/internal/netutil"
	"github.com/settlab/sett/internal/orchestrator"
	"github.com/settlab/sett/internal/remote"
	"github.com/settlab/sett/internal/repository"
)

// version is stamped at build time via -ldflags
var version = "dev"

func main() {
	cfg := config.NewConfig()
	logLevel := "info"

	root := &cobra.Command{
		Use:          "settd",
		Long:         "settd deploys stored network topologies as throwaway virtual machine sandboxes",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfg, logLevel)
		},
	}

	root.Flags().StringVar(&cfg.DBPath, "db", cfg.DBPath, "path of the sqlite database")
	root.Flags().StringVarP(&cfg.Port, "port", "p", cfg.Port, "port to listen on")
	root.Flags().StringVar(&cfg.LibvirtSocket, "libvirt-socket", cfg.LibvirtSocket, "unix socket of the libvirt daemon")
	root.Flags().StringVar(&cfg.ImageDir, "image-dir", cfg.ImageDir, "directory holding base images")
	root.Flags().StringVar(&cfg.InstanceDir, "instance-dir", cfg.InstanceDir, "directory holding instance overlay disks")
	root.Flags().StringVar(&cfg.MgmtNetwork, "mgmt-network", cfg.MgmtNetwork, "libvirt network serving management addresses")
	root.Flags().StringVar(&cfg.ReservationsFile, "reservations-file", cfg.ReservationsFile, "dnsmasq dhcp-hostsfile holding management reservations")
	root.Flags().StringVarP(&logLevel, "log-level", "l", logLevel, "log level")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print the settd version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config, logLevel string) error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}
	logrus.SetLevel(level)

	db, err := cfg.InitializeDatabase()
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	topologies := repository.NewTopologyRepository(db)
	scripts := repository.NewScriptRepository(db)

	driver, err := hypervisor.NewLibvirtDriver(cfg.LibvirtSocket, cfg.MgmtNetwork)
	if err != nil {
		return err
	}
	defer driver.Close()

	sink := metrics.NewInmemSink(10*time.Second, 2*time.Minute)
	metricsConf := metrics.DefaultConfig("settd")
	metricsConf.EnableHostname = false
	if _, err := metrics.NewGlobal(metricsConf, sink); err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	orch := orchestrator.New(orchestrator.Config{
		Topologies: topologies,
		Scripts:    scripts,
		Allocator:  allocator.New(topologies),
		Driver:     driver,
		Images:     hypervisor.NewQemuImageStore(),
		Console:    console.NewVirshConsole(),
		Remote:     remote.NewSSHExecutor(),
		Network:    netutil.NewDnsmasqManager(cfg.ExpandPath(cfg.ReservationsFile)),
		Definitions: hypervisor.DefinitionOptions{
			MgmtNetwork: cfg.MgmtNetwork,
			ImageDir:    cfg.ExpandPath(cfg.ImageDir),
			InstanceDir: cfg.ExpandPath(cfg.InstanceDir),
		},
	})

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	api.NewAPI(topologies, scripts, orch, sink).RegisterRoutes(r)

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Origin", "Content-Type"},
	}).Handler(r)

	logrus.Infof("starting sett service on :%s", cfg.Port)
	return http.ListenAndServe(":"+cfg.Port, handler)
}
