package e2e

import (
	"github.com/cucumber/godog"

	"ballotbox/e2e/steps/common"
	"ballotbox/e2e/steps/election"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	common.RegisterSteps(ctx, tc)
	election.RegisterSteps(ctx, tc)
}
