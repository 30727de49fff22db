package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/m-lange/puretools-remote/internal/clock"
	"github.com/m-lange/puretools-remote/internal/entity"
	"github.com/m-lange/puretools-remote/internal/integration"
	"github.com/m-lange/puretools-remote/internal/puretools"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show model, firmware, active source and auto-switching mode",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check that a switcher answers, as when adding it to Home Assistant",
	Args:  cobra.NoArgs,
	RunE:  runProbe,
}

var selectCmd = &cobra.Command{
	Use:   "select <source>",
	Short: "Select an input by label, number (1-4) or option name (hdmi1)",
	Args:  cobra.ExactArgs(1),
	RunE:  runSelect,
}

var autoCmd = &cobra.Command{
	Use:       "auto on|off",
	Short:     "Turn auto-switching mode on or off",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE:      runAuto,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(selectCmd)
	rootCmd.AddCommand(autoCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	t, err := resolveTarget()
	if err != nil {
		return err
	}
	defer t.close()

	player := t.mediaPlayer()
	if err := player.Refresh(cmd.Context()); err != nil {
		return err
	}
	printStatus(cmd.OutOrStdout(), player.State())
	return nil
}

func runProbe(cmd *cobra.Command, args []string) error {
	t, err := resolveTarget()
	if err != nil {
		return err
	}
	defer t.close()

	integ := integration.New(puretools.StaticSession(t.session), clock.NewRealClock(), t.logger)
	result, err := integ.User(cmd.Context(), integration.Input{Host: t.endpoint.Host, Port: t.endpoint.Port})
	if err != nil {
		return err
	}
	if reason, failed := result.Errors[integration.FormErrorBase]; failed {
		return fmt.Errorf("%s: %s", t.endpoint, reason)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Found %s at %s\n", result.Entry.Title, t.endpoint)
	return nil
}

func runSelect(cmd *cobra.Command, args []string) error {
	t, err := resolveTarget()
	if err != nil {
		return err
	}
	defer t.close()

	label, err := resolveLabel(t.labels, args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	player := t.mediaPlayer()
	// the adapter needs the current auto flag before selecting
	if err := player.Refresh(ctx); err != nil {
		return err
	}
	if err := player.SelectSource(ctx, label); err != nil {
		return err
	}
	printStatus(cmd.OutOrStdout(), player.State())
	return nil
}

func runAuto(cmd *cobra.Command, args []string) error {
	var on bool
	switch strings.ToLower(args[0]) {
	case "on":
		on = true
	case "off":
		on = false
	default:
		return fmt.Errorf("expected on or off, got %q", args[0])
	}

	t, err := resolveTarget()
	if err != nil {
		return err
	}
	defer t.close()

	ctx := cmd.Context()
	toggle := t.autoSwitch()
	if on {
		err = toggle.TurnOn(ctx)
	} else {
		err = toggle.TurnOff(ctx)
	}
	if err != nil {
		return err
	}

	player := t.mediaPlayer()
	if err := player.Refresh(ctx); err != nil {
		return err
	}
	printStatus(cmd.OutOrStdout(), player.State())
	return nil
}

// resolveLabel turns a command line argument into a source label the media
// player accepts
func resolveLabel(labels entity.InputLabelMap, arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	if n, err := strconv.Atoi(arg); err == nil {
		if _, err := puretools.SourceForInput(n); err != nil {
			return "", err
		}
		return labels.Label(n), nil
	}
	if n, ok := puretools.Source(strings.ToUpper(arg)).Input(); ok {
		return labels.Label(n), nil
	}
	if _, ok := labels.Resolve(arg); ok {
		return arg, nil
	}
	return "", fmt.Errorf("unknown source %q (known: %s)", arg, strings.Join(labels.SourceList(), ", "))
}

func printStatus(w io.Writer, st entity.MediaPlayerState) {
	fmt.Fprintf(w, "Model:     %s\n", st.DeviceInfo.Model)
	fmt.Fprintf(w, "Firmware:  %s\n", st.DeviceInfo.SWVersion)
	fmt.Fprintf(w, "Source:    %s\n", valueOrNA(st.Source))
	fmt.Fprintf(w, "Auto:      %s\n", onOff(st.AutoModeActive))
	fmt.Fprintf(w, "Sources:   %s\n", strings.Join(st.SourceList, ", "))
}

func valueOrNA(s string) string {
	if s == "" {
		return "n/a"
	}
	return s
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// execute runs the root command with args, for tests
func execute(ctx context.Context, out io.Writer, args ...string) error {
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}
