package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/sovereignclaw/internal/audit"
	"github.com/nextlevelbuilder/sovereignclaw/internal/config"
	"github.com/nextlevelbuilder/sovereignclaw/internal/netpolicy"
	"github.com/nextlevelbuilder/sovereignclaw/internal/policy"
	"github.com/nextlevelbuilder/sovereignclaw/internal/sandbox"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, policies, audit chain, and sandbox health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	setupLogging()
	failed := false
	check := func(name string, err error) {
		if err != nil {
			failed = true
			fmt.Printf("✗ %-20s %v\n", name, err)
			return
		}
		fmt.Printf("✓ %-20s ok\n", name)
	}

	cfg, err := config.Load(cfgFile)
	check("config", err)
	if err != nil {
		os.Exit(1)
	}
	check("secure defaults", cfg.Validate())

	_, err = policy.LoadDir(cfg.Policy.Dir)
	check("policy rules", err)

	if _, err := os.Stat(cfg.Policy.NetworkPolicy); err == nil {
		_, err = netpolicy.Load(cfg.Policy.NetworkPolicy)
		check("network policy", err)
	} else {
		fmt.Printf("- %-20s not present (deny-all default)\n", "network policy")
	}

	if _, err := os.Stat(cfg.Storage.AuditLog); err == nil {
		broken, err := audit.VerifyFile(cfg.Storage.AuditLog)
		if err == nil && broken >= 0 {
			err = fmt.Errorf("chain broken at entry %d", broken)
		}
		check("audit chain", err)
	} else {
		fmt.Printf("- %-20s not present yet\n", "audit chain")
	}

	if cfg.Sandbox.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		check("sandbox engine", sandbox.NewDockerEngine().Ping(ctx))
	} else {
		fmt.Printf("- %-20s disabled\n", "sandbox engine")
	}

	if failed {
		os.Exit(1)
	}
}
