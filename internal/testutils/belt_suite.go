//go:build test

package testutils

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/beltctl/internal/clock"
	"github.com/srg/beltctl/internal/link/linktest"
	"github.com/srg/beltctl/pkg/link"
	"github.com/stretchr/testify/suite"
)

// BeltID is the identifier of the default fake belt.
const BeltID = "AA:BB:CC:DD:EE:FF"

// MockBeltSuite provides a fake radio, a manual clock and a logger to
// belt-level test suites.
//
// Basic usage:
//
//	type SessionSuite struct {
//	    testutils.MockBeltSuite
//	}
//
//	func (s *SessionSuite) SetupTest() {
//	    s.MockBeltSuite.SetupTest()
//	    l := s.Link() // fake link to BeltID
//	}
//
// Timers never fire on their own; tests call s.Clock.Advance.
type MockBeltSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	Clock     *clock.Fake
	Transport *linktest.Transport

	// Belt is advertised by AdvertiseBelt.
	Belt link.Peripheral
}

// SetupSuite initializes the helper and logger, once per suite.
func (s *MockBeltSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.Logger.Debug("Suite setup completed")
}

// SetupTest resets the clock and the fake radio before each test.
func (s *MockBeltSuite) SetupTest() {
	s.Clock = clock.NewFake(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	s.Transport = linktest.NewTransport(link.StatePoweredOn)
	s.Belt = link.Peripheral{
		ID:       BeltID,
		Name:     "naviGuertel 1234",
		RSSI:     -50,
		Services: []link.ServiceID{link.AdvertisedService},
	}
}

// AdvertiseBelt makes the default belt visible to running scans.
func (s *MockBeltSuite) AdvertiseBelt() {
	s.Transport.Advertise(s.Belt)
}

// Link returns the fake link opened to the default belt, nil if none.
func (s *MockBeltSuite) Link() *linktest.Link {
	return s.Transport.Link(BeltID)
}

// WaitFor polls cond on the real clock, for work done on goroutines.
func (s *MockBeltSuite) WaitFor(cond func() bool, msg string) {
	s.Require().Eventually(cond, 2*time.Second, 5*time.Millisecond, msg)
}
