package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var healthTimeout time.Duration

// healthCmd represents the health command
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the semantic-evaluation service",
	Args:  cobra.NoArgs,
	RunE:  runHealth,
}

func init() {
	rootCmd.AddCommand(healthCmd)
	healthCmd.Flags().DurationVar(&healthTimeout, "timeout", 10*time.Second, "health check timeout")
}

func runHealth(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), healthTimeout)
	defer cancel()

	status, err := a.service.Health(ctx)
	if err != nil {
		_, _ = color.New(color.FgRed).Fprintf(os.Stdout, "✗ %s collaborator unavailable: %v\n", a.service.Name(), err)
		return fmt.Errorf("collaborator unhealthy")
	}

	_, _ = color.New(color.FgGreen).Fprintf(os.Stdout, "✓ %s collaborator healthy\n", a.service.Name())

	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
