package dill_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cucumber/godog"

	"github.com/tcard/dill"
)

// chooseFeatureContext carries the state one scenario of features/choose.feature
// accumulates across its steps, in the style of the pack's *BDDTestContext
// structs (see e.g. CrisisTextLine-modular's HTTPClientBDDTestContext).
type chooseFeatureContext struct {
	rt       *dill.Runtime
	channels map[string]dill.Handle

	lastIdx int
	lastVal any
	lastErr error

	counts map[int]int

	start   time.Time
	elapsed time.Duration
}

func (tc *chooseFeatureContext) reset() {
	tc.rt = dill.New(dill.NewConfig())
	tc.channels = map[string]dill.Handle{}
	tc.counts = map[int]int{}
}

func (tc *chooseFeatureContext) unbufferedChannel(name string) error {
	h, err := tc.rt.Main().NewChannel(0)
	if err != nil {
		return err
	}
	tc.channels[name] = h
	return nil
}

func (tc *chooseFeatureContext) bufferedChannel(name string, capacity int) error {
	h, err := tc.rt.Main().NewChannel(capacity)
	if err != nil {
		return err
	}
	tc.channels[name] = h
	return nil
}

func (tc *chooseFeatureContext) coroutineSends(val int, name string) error {
	h := tc.channels[name]
	_, err := tc.rt.Go(func(cr *dill.Coroutine) {
		cr.Send(h, val, -1)
	})
	return err
}

func (tc *chooseFeatureContext) foreverSenderYielding(val int, name string) error {
	h := tc.channels[name]
	_, err := tc.rt.Go(func(cr *dill.Coroutine) {
		for {
			if err := cr.Send(h, val, -1); err != nil {
				return
			}
			if err := cr.Yield(); err != nil {
				return
			}
		}
	})
	return err
}

func (tc *chooseFeatureContext) channelMarkedDone(name string) error {
	return tc.rt.Main().Done(tc.channels[name])
}

func (tc *chooseFeatureContext) chooseRecv(names ...string) {
	clauses := make([]dill.Clause, len(names))
	for i, n := range names {
		clauses[i] = dill.Clause{Chan: tc.channels[n], Op: dill.OpRecv}
	}
	tc.lastIdx, tc.lastVal, tc.lastErr = tc.rt.Main().Choose(clauses, -1)
}

func (tc *chooseFeatureContext) mainChoosesRecvNoDeadline(name string) error {
	tc.chooseRecv(name)
	return nil
}

func (tc *chooseFeatureContext) mainChoosesRecvEither(a, b string) error {
	tc.chooseRecv(a, b)
	return nil
}

func (tc *chooseFeatureContext) mainChoosesBetweenNTimes(a, b string, n int) error {
	for i := 0; i < n; i++ {
		tc.chooseRecv(a, b)
		if tc.lastErr != nil {
			return tc.lastErr
		}
		tc.counts[tc.lastIdx]++
	}
	return nil
}

func (tc *chooseFeatureContext) mainChoosesRecvWithDeadline(name string, ms int) error {
	tc.start = time.Now()
	tc.lastIdx, tc.lastVal, tc.lastErr = tc.rt.Main().Choose(
		[]dill.Clause{{Chan: tc.channels[name], Op: dill.OpRecv}},
		dill.Now()+int64(ms),
	)
	tc.elapsed = time.Since(tc.start)
	return nil
}

func (tc *chooseFeatureContext) mainChoosesSendNoDeadline(val int, name string) error {
	tc.lastIdx, tc.lastVal, tc.lastErr = tc.rt.Main().Choose(
		[]dill.Clause{{Chan: tc.channels[name], Op: dill.OpSend, Val: val}}, -1)
	return nil
}

func (tc *chooseFeatureContext) theChosenClauseIndexIs(want int) error {
	if tc.lastIdx != want {
		return fmt.Errorf("expected clause index %d, got %d (err=%v)", want, tc.lastIdx, tc.lastErr)
	}
	return nil
}

func (tc *chooseFeatureContext) theReceivedValueIs(want int) error {
	got, ok := tc.lastVal.(int)
	if !ok || got != want {
		return fmt.Errorf("expected received value %d, got %v", want, tc.lastVal)
	}
	return nil
}

func (tc *chooseFeatureContext) clauseChosenAtLeastTwice(idx int) error {
	if tc.counts[idx] < 2 {
		return fmt.Errorf("clause %d chosen only %d times", idx, tc.counts[idx])
	}
	return nil
}

func (tc *chooseFeatureContext) theChooseCallFailsWithATimeout() error {
	if !errors.Is(tc.lastErr, dill.ErrTimedOut) {
		return fmt.Errorf("expected a timeout error, got %v", tc.lastErr)
	}
	return nil
}

func (tc *chooseFeatureContext) theChooseCallFailsWithAPipeError() error {
	if !errors.Is(tc.lastErr, dill.ErrPipe) {
		return fmt.Errorf("expected a pipe error, got %v", tc.lastErr)
	}
	return nil
}

func (tc *chooseFeatureContext) theElapsedTimeIsBetweenMsAndMs(lo, hi int) error {
	if tc.elapsed < time.Duration(lo)*time.Millisecond || tc.elapsed > time.Duration(hi)*time.Millisecond {
		return fmt.Errorf("elapsed %v not within [%dms, %dms]", tc.elapsed, lo, hi)
	}
	return nil
}

func TestChooseFeatures(t *testing.T) {
	tc := &chooseFeatureContext{}

	suite := godog.TestSuite{
		ScenarioInitializer: func(ctx *godog.ScenarioContext) {
			ctx.Before(func(goCtx context.Context, sc *godog.Scenario) (context.Context, error) {
				tc.reset()
				return goCtx, nil
			})

			ctx.Given(`^an unbuffered channel "([^"]+)"$`, tc.unbufferedChannel)
			ctx.Given(`^a buffered channel "([^"]+)" with capacity (\d+)$`, tc.bufferedChannel)
			ctx.Given(`^a coroutine that sends (\d+) on "([^"]+)"$`, tc.coroutineSends)
			ctx.Given(`^a forever-sender of (\d+) on "([^"]+)" that yields between sends$`, tc.foreverSenderYielding)
			ctx.Given(`^"([^"]+)" has been marked done$`, tc.channelMarkedDone)

			ctx.When(`^the main coroutine chooses to receive from "([^"]+)" with no deadline$`, tc.mainChoosesRecvNoDeadline)
			ctx.When(`^the main coroutine chooses to receive from "([^"]+)" or "([^"]+)" with no deadline$`, tc.mainChoosesRecvEither)
			ctx.When(`^the main coroutine chooses between "([^"]+)" and "([^"]+)" (\d+) times$`, tc.mainChoosesBetweenNTimes)
			ctx.When(`^the main coroutine chooses to receive from "([^"]+)" with a (\d+)ms deadline$`, tc.mainChoosesRecvWithDeadline)
			ctx.When(`^the main coroutine chooses to send (\d+) on "([^"]+)" with no deadline$`, tc.mainChoosesSendNoDeadline)

			ctx.Then(`^the chosen clause index is (\d+)$`, tc.theChosenClauseIndexIs)
			ctx.Then(`^the received value is (\d+)$`, tc.theReceivedValueIs)
			ctx.Then(`^clause (\d+) was chosen at least twice$`, tc.clauseChosenAtLeastTwice)
			ctx.Then(`^the choose call fails with a timeout$`, tc.theChooseCallFailsWithATimeout)
			ctx.Then(`^the choose call fails with a pipe error$`, tc.theChooseCallFailsWithAPipeError)
			ctx.Then(`^the elapsed time is between (\d+)ms and (\d+)ms$`, tc.theElapsedTimeIsBetweenMsAndMs)
		},
		Options: &godog.Options{
			Format: "pretty",
			Paths:  []string{"features"},
			TestingT: t,
			Strict:   true,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
