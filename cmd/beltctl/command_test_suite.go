//go:build test

package main

import (
	"bytes"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/srg/beltctl/internal/clock"
	"github.com/srg/beltctl/internal/testutils"
	"github.com/srg/beltctl/pkg/codec"
	"github.com/srg/beltctl/pkg/link"
)

// CommandTestSuite extends MockBeltSuite with command testing utilities.
// Commands run against the suite fake radio and manual clock, so no timer
// fires unless the test advances it.
type CommandTestSuite struct {
	testutils.MockBeltSuite

	originalTransport func(*logrus.Logger) link.Transport
	originalClock     func() clock.Clock
}

// SetupSuite keeps the real seams for TearDownSuite.
func (s *CommandTestSuite) SetupSuite() {
	s.MockBeltSuite.SetupSuite()
	s.originalTransport, s.originalClock = newTransport, newClock
}

func (s *CommandTestSuite) TearDownSuite() {
	newTransport, newClock = s.originalTransport, s.originalClock
}

// SetupTest points the command seams at a fresh fake radio and clock and
// resets every flag.
func (s *CommandTestSuite) SetupTest() {
	s.MockBeltSuite.SetupTest()

	newTransport = func(*logrus.Logger) link.Transport { return s.Transport }
	newClock = func() clock.Clock { return s.Clock }

	resetCommandFlags(rootCmd)
	rootCmd.SetIn(strings.NewReader(""))
}

// StartBelt runs a fake belt in mode and returns it; it is stopped when
// the test ends.
func (s *CommandTestSuite) StartBelt(mode codec.Mode) *testutils.FakeBelt {
	belt := &testutils.FakeBelt{Transport: s.Transport, Peripheral: s.Belt, Mode: mode}
	belt.Start()
	s.T().Cleanup(belt.Stop)
	return belt
}

// ExecuteCommand runs the root command with args, returns stdout and the
// error. Stderr is discarded.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	out := new(bytes.Buffer)
	rootCmd.SetOut(out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

// resetCommandFlags restores every flag of cmd and its subcommands to its
// default, so tests do not leak flag values into each other.
func resetCommandFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetCommandFlags(c)
	}
}
