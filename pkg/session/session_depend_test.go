//go:build test

// Code generated by dependgen — DO NOT EDIT.
package session_test

import "github.com/srgg/testify/depend"

var SessionTestSuiteTestRegistry = map[string]func(any){
	"TestHandshakeCompletes": func(s any) { s.(*SessionTestSuite).TestHandshakeCompletes() },
	"TestHandshakeGatingIgnoresOrder": func(s any) { s.(*SessionTestSuite).TestHandshakeGatingIgnoresOrder() },
	"TestDiscoveryFailures": func(s any) { s.(*SessionTestSuite).TestDiscoveryFailures() },
	"TestHandshakeFailures": func(s any) { s.(*SessionTestSuite).TestHandshakeFailures() },
	"TestChangeModeEndToEnd": func(s any) { s.(*SessionTestSuite).TestChangeModeEndToEnd() },
	"TestKeepAliveAckHasPriority": func(s any) { s.(*SessionTestSuite).TestKeepAliveAckHasPriority() },
	"TestOrientationFilter": func(s any) { s.(*SessionTestSuite).TestOrientationFilter() },
	"TestMalformedOrientationIgnored": func(s any) { s.(*SessionTestSuite).TestMalformedOrientationIgnored() },
	"TestRequestsRequireConnection": func(s any) { s.(*SessionTestSuite).TestRequestsRequireConnection() },
	"TestRequestValidation": func(s any) { s.(*SessionTestSuite).TestRequestValidation() },
	"TestVibrationRequests": func(s any) { s.(*SessionTestSuite).TestVibrationRequests() },
	"TestNotificationEvents": func(s any) { s.(*SessionTestSuite).TestNotificationEvents() },
	"TestRequestBeltErrorLog": func(s any) { s.(*SessionTestSuite).TestRequestBeltErrorLog() },
	"TestDetachResets": func(s any) { s.(*SessionTestSuite).TestDetachResets() },
	"TestReleasedLinkEventsIgnored": func(s any) { s.(*SessionTestSuite).TestReleasedLinkEventsIgnored() },
}

var SessionTestSuiteTestOrder = []string{
	"TestHandshakeCompletes",
	"TestHandshakeGatingIgnoresOrder",
	"TestDiscoveryFailures",
	"TestHandshakeFailures",
	"TestChangeModeEndToEnd",
	"TestKeepAliveAckHasPriority",
	"TestOrientationFilter",
	"TestMalformedOrientationIgnored",
	"TestRequestsRequireConnection",
	"TestRequestValidation",
	"TestVibrationRequests",
	"TestNotificationEvents",
	"TestRequestBeltErrorLog",
	"TestDetachResets",
	"TestReleasedLinkEventsIgnored",
}

var SessionTestSuiteDependencies = depend.Depends(func(s any) *depend.Dep {
	dep := new(depend.Dep)
	dep.On("TestChangeModeEndToEnd", "TestHandshakeCompletes")
	dep.On("TestRequestValidation", "TestHandshakeCompletes")
	dep.On("TestVibrationRequests", "TestHandshakeCompletes")
	return dep
})

// GeneratedDependConfig returns the dependency configuration for SessionTestSuite.
// This method allows SessionTestSuite to be used with depend.RunSuite(t, suite).
// DO NOT implement this method manually - it is auto-generated.
func (s *SessionTestSuite) GeneratedDependConfig() *depend.SuiteConfig {
	return &depend.SuiteConfig{
		Registry: SessionTestSuiteTestRegistry,
		Order:    SessionTestSuiteTestOrder,
		Deps:     SessionTestSuiteDependencies,
	}
}
