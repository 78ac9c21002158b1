// Command vhdctl creates, inspects, and serves VHD images from the shell.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ehrlich-b/go-vhd"
	"github.com/ehrlich-b/go-vhd/internal/config"
)

var configPath string

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "vhdctl",
		Short:   "Create, inspect, and serve VHD images",
		Version: "0.1.0",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (optional)")
	root.AddCommand(buildCreateCmd())
	root.AddCommand(buildInspectCmd())
	root.AddCommand(buildServeCmd())
	return root
}

func buildCreateCmd() *cobra.Command {
	var size int64
	var dynamic bool
	var parent string

	cmd := &cobra.Command{
		Use:   "create PATH",
		Short: "Create a new fixed or dynamic VHD image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if parent != "" {
				return vhd.Snapshot(parent, path, 0)
			}
			flags := vhd.CreateFixed
			if dynamic {
				flags = vhd.CreateDynamic
			}
			return vhd.Create(path, size, flags)
		},
	}
	cmd.Flags().Int64Var(&size, "size", 0, "virtual disk size in bytes")
	cmd.Flags().BoolVar(&dynamic, "dynamic", false, "create a dynamic (sparse) image instead of fixed")
	cmd.Flags().StringVar(&parent, "parent", "", "create a differencing disk against this parent image")
	return cmd
}

func buildInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect PATH",
		Short: "Print an image's on-disk geometry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(args[0])
		},
	}
	return cmd
}

func runInspect(path string) error {
	d, err := vhd.Open(path, vhd.FlagRDOnly, vhd.DefaultConfig())
	if err != nil {
		return err
	}
	defer d.Close()

	info := d.Info()
	fmt.Printf("path:            %s\n", info.Path)
	fmt.Printf("disk type:       %d\n", info.DiskType)
	fmt.Printf("size:            %d bytes\n", info.Size)
	fmt.Printf("dynamic:         %t\n", info.IsDynamic)
	fmt.Printf("differencing:    %t\n", info.IsDiff)
	if info.IsDynamic {
		fmt.Printf("block size:      %d bytes\n", info.BlockSize)
		fmt.Printf("max BAT entries: %d\n", info.MaxBATEntries)
	}
	fmt.Printf("unique id:       %x\n", info.UniqueID)
	return nil
}

func buildServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve PATH",
		Short: "Open an image and hold it for asynchronous I/O until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(args[0])
		},
	}
	return cmd
}

func runServe(path string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	var reg *prometheus.Registry
	vcfg := vhd.DefaultConfig()
	vcfg.DataRequestSlots = cfg.Pool.DataRequestSlots
	vcfg.BitmapCacheSize = cfg.Pool.BitmapCacheSize
	vcfg.RingEntries = cfg.Pool.RingEntries
	vcfg.Logger = vhd.NewStdLogger(os.Stderr, logLevel(cfg.Logging.Level))

	if cfg.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		vcfg.Observer = vhd.NewPrometheusObserver(reg)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
				fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
			}
		}()
	}

	d, err := vhd.Open(path, 0, vcfg)
	if err != nil {
		return err
	}
	defer d.Close()

	fmt.Printf("serving %s (dynamic=%t diff=%t)\n", path, d.IsDynamic(), d.IsDiff())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	fmt.Println("shutting down")
	return nil
}

func logLevel(s string) vhd.LogLevel {
	switch s {
	case "debug":
		return vhd.LevelDebug
	case "warn":
		return vhd.LevelWarn
	case "error":
		return vhd.LevelError
	default:
		return vhd.LevelInfo
	}
}
