package provisioning

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imamik/osbastion/internal/bastion"
	"github.com/imamik/osbastion/internal/cloud"
	"github.com/imamik/osbastion/internal/cloud/fake"
	"github.com/imamik/osbastion/internal/config"
	"github.com/imamik/osbastion/internal/ledger"
)

const testKey = "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIBastionTestKeyBastionTestKeyBastionTe ci"

func testTimeouts() *config.Timeouts {
	return &config.Timeouts{
		ServerActive:      time.Second,
		Ready:             100 * time.Millisecond,
		ProbeInterval:     5 * time.Millisecond,
		DialTimeout:       50 * time.Millisecond,
		Delete:            time.Second,
		LedgerLock:        time.Second,
		CreateMaxAttempts: 3,
		DeleteMaxAttempts: 3,
		RetryInitialDelay: time.Millisecond,
		RetryMaxDelay:     5 * time.Millisecond,
		APIRate:           1000,
		APIBurst:          100,
	}
}

func testSpec() *bastion.Spec {
	return &bastion.Spec{
		Name:            "ci-bastion",
		Provider:        bastion.ProviderOpenStack,
		Region:          "RegionOne",
		Image:           "ubuntu-24.04",
		Flavor:          "m1.small",
		Network:         "private",
		ExternalNetwork: "public",
		SSHPublicKey:    testKey,
		AllowedCIDRs:    []string{"198.51.100.0/24"},
		Tags:            map[string]string{"team": "platform"},
	}
}

// alwaysReady is a probe that succeeds immediately.
var alwaysReady = ProberFunc{ProbeName: "ok", Fn: func(context.Context, string) error { return nil }}

func neverReady(msg string) Prober {
	return ProberFunc{ProbeName: "tcp/22", Fn: func(context.Context, string) error { return errors.New(msg) }}
}

func openLedger(t *testing.T) (*ledger.Ledger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ci-bastion.ledger.json")
	l, err := ledger.Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l, path
}

func newTestController(t *testing.T, l Ledger, cl *fake.Cloud, probers ...Prober) *Controller {
	t.Helper()
	if len(probers) == 0 {
		probers = []Prober{alwaysReady}
	}
	return New(cl, l, testTimeouts(), WithProbers(probers...))
}

func kinds(recs []bastion.Record) []bastion.Kind {
	out := make([]bastion.Kind, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Kind)
	}
	return out
}

func countCalls(calls []string, call string) int {
	n := 0
	for _, c := range calls {
		if c == call {
			n++
		}
	}
	return n
}

func deleteCalls(calls []string) []string {
	var out []string
	for _, c := range calls {
		if len(c) > 7 && c[:7] == "delete " {
			out = append(out, c)
		}
	}
	return out
}

func transient(kind bastion.Kind, op string) error {
	return &bastion.ProviderError{Op: op, Kind: kind, StatusCode: http.StatusGatewayTimeout, Err: errors.New("gateway timeout")}
}

func TestProvision_ReachesReadyAndTearsDown(t *testing.T) {
	t.Parallel()
	cl := fake.New()
	cl.EnforceDependencies = true
	l, path := openLedger(t)
	c := newTestController(t, l, cl)

	res, err := c.Provision(context.Background(), Request{Spec: testSpec(), UserData: "#cloud-config\n"})
	require.NoError(t, err)

	assert.Equal(t, bastion.StateReady, res.State)
	assert.Equal(t, "203.0.113.10", res.Address)
	assert.NotEmpty(t, res.ServerID)
	assert.False(t, res.AlreadyReady)
	assert.Equal(t, bastion.Kinds, kinds(l.All()), "ledger holds exactly one record per kind in creation order")

	doc, err := ledger.Load(path)
	require.NoError(t, err)
	assert.Equal(t, bastion.StateReady, doc.State)
	assert.Equal(t, "ci-bastion", doc.Bastion)
	assert.Equal(t, "fake", doc.Provider)
	assert.Equal(t, "203.0.113.10", doc.Address)

	report, err := c.Teardown(context.Background(), TeardownOptions{})
	require.NoError(t, err)
	assert.Equal(t, bastion.StateDestroyed, report.State)
	assert.Len(t, report.Deleted, 4)
	assert.Empty(t, report.Leaks)
	assert.Empty(t, l.All())
	assert.Empty(t, cl.Resources())

	assert.Equal(t, []string{
		"delete floating_ip",
		"delete server",
		"delete keypair",
		"delete security_group",
	}, deleteCalls(cl.Calls()), "teardown runs in reverse creation order")
}

func TestProvision_ServerCreateExhaustedTriggersTeardown(t *testing.T) {
	t.Parallel()
	cl := fake.New()
	cl.EnforceDependencies = true
	cl.Fail(fake.OpCreate, bastion.KindServer, transient(bastion.KindServer, "create"), 3)
	l, path := openLedger(t)
	c := newTestController(t, l, cl)

	_, err := c.Provision(context.Background(), Request{Spec: testSpec()})
	require.Error(t, err)

	var pe *ProvisionError
	require.ErrorAs(t, err, &pe)
	assert.NoError(t, pe.Teardown, "both created resources were released")
	assert.True(t, bastion.IsRetryable(pe.Err))

	assert.Equal(t, 3, countCalls(cl.Calls(), "create server"))
	assert.Equal(t, []string{"delete keypair", "delete security_group"}, deleteCalls(cl.Calls()))
	assert.Empty(t, cl.Resources())
	assert.Equal(t, bastion.StateDestroyed, c.State())

	doc, err := ledger.Load(path)
	require.NoError(t, err)
	assert.Empty(t, doc.Resources)
}

func TestProvision_AdoptsResourceFromLostResponse(t *testing.T) {
	t.Parallel()
	cl := fake.New()
	cl.FailAfterCreate(bastion.KindServer, transient(bastion.KindServer, "create"))
	l, _ := openLedger(t)
	c := newTestController(t, l, cl)

	_, err := c.Provision(context.Background(), Request{Spec: testSpec()})
	require.NoError(t, err)

	assert.Equal(t, 1, cl.Count(bastion.KindServer), "the server created by the lost request is adopted, not duplicated")
	assert.Equal(t, 1, countCalls(cl.Calls(), "create server"))
	assert.Equal(t, bastion.Kinds, kinds(l.All()))
}

func TestProvision_AdoptedSecurityGroupGetsIngressRules(t *testing.T) {
	t.Parallel()
	cl := fake.New()
	sg := cl.Seed(bastion.KindSecurityGroup, "ci-bastion-sg")
	require.Empty(t, cl.IngressCIDRs(sg.ProviderID))
	l, _ := openLedger(t)
	c := newTestController(t, l, cl)

	_, err := c.Provision(context.Background(), Request{Spec: testSpec()})
	require.NoError(t, err)

	assert.Equal(t, 1, cl.Count(bastion.KindSecurityGroup))
	assert.Equal(t, testSpec().AllowedCIDRs, cl.IngressCIDRs(sg.ProviderID))
	assert.Equal(t, 0, countCalls(cl.Calls(), "create security_group"))
}

func TestProvision_IngressRuleFailureTearsDown(t *testing.T) {
	t.Parallel()
	cl := fake.New()
	cl.Fail(fake.OpRules, bastion.KindSecurityGroup, &bastion.ProviderError{
		Op: "ensure rules", Kind: bastion.KindSecurityGroup, StatusCode: http.StatusForbidden, Err: errors.New("quota exceeded for resource security_group_rule"),
	}, 1)
	l, _ := openLedger(t)
	c := newTestController(t, l, cl)

	_, err := c.Provision(context.Background(), Request{Spec: testSpec()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "security_group_rule")
	assert.Zero(t, countCalls(cl.Calls(), "create keypair"))
	assert.Empty(t, cl.Resources())
	assert.Equal(t, bastion.StateDestroyed, c.State())
}

func TestProvision_NonRetryableErrorIsNotRetried(t *testing.T) {
	t.Parallel()
	cl := fake.New()
	cl.Fail(fake.OpCreate, bastion.KindKeypair, &bastion.ProviderError{
		Op: "create", Kind: bastion.KindKeypair, StatusCode: http.StatusBadRequest, Err: errors.New("invalid public key"),
	}, 1)
	l, _ := openLedger(t)
	c := newTestController(t, l, cl)

	_, err := c.Provision(context.Background(), Request{Spec: testSpec()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid public key")

	assert.Equal(t, 1, countCalls(cl.Calls(), "create keypair"))
	assert.Equal(t, 0, countCalls(cl.Calls(), "create server"))
	assert.Empty(t, cl.Resources())
	assert.Empty(t, l.All())
}

func TestProvision_ReadinessTimeout(t *testing.T) {
	t.Parallel()
	cl := fake.New()
	cl.EnforceDependencies = true
	l, _ := openLedger(t)
	c := newTestController(t, l, cl, neverReady("connection refused"))

	_, err := c.Provision(context.Background(), Request{Spec: testSpec()})
	require.Error(t, err)
	assert.ErrorIs(t, err, bastion.ErrProvisionTimeout)

	var timeout *bastion.ProvisionTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.ErrorContains(t, timeout.LastErr, "connection refused")
	assert.GreaterOrEqual(t, timeout.Elapsed, testTimeouts().Ready)

	assert.Empty(t, cl.Resources())
	assert.Empty(t, l.All())
	assert.Equal(t, bastion.StateDestroyed, c.State())
}

func TestProvision_ReadinessSwallowsEarlyFailures(t *testing.T) {
	t.Parallel()
	cl := fake.New()
	l, _ := openLedger(t)

	var rounds atomic.Int32
	flaky := ProberFunc{ProbeName: "tcp/22", Fn: func(context.Context, string) error {
		if rounds.Add(1) < 4 {
			return errors.New("connection refused")
		}
		return nil
	}}
	c := newTestController(t, l, cl, flaky)

	res, err := c.Provision(context.Background(), Request{Spec: testSpec()})
	require.NoError(t, err)
	assert.Equal(t, bastion.StateReady, res.State)
	assert.Equal(t, int32(4), rounds.Load())

	probes := c.Metrics().probesTotal
	assert.Equal(t, float64(3), testutil.ToFloat64(probes.WithLabelValues("error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(probes.WithLabelValues("success")))
}

func TestProvision_ProbesRunInOrder(t *testing.T) {
	t.Parallel()
	cl := fake.New()
	l, _ := openLedger(t)

	var order []string
	probe := func(name string) Prober {
		return ProberFunc{ProbeName: name, Fn: func(_ context.Context, address string) error {
			order = append(order, name+"@"+address)
			return nil
		}}
	}
	c := newTestController(t, l, cl, probe("tcp"), probe("cloud-init"))

	_, err := c.Provision(context.Background(), Request{Spec: testSpec()})
	require.NoError(t, err)
	assert.Equal(t, []string{"tcp@203.0.113.10", "cloud-init@203.0.113.10"}, order)
}

func TestProvision_CancelledStillCleansUp(t *testing.T) {
	t.Parallel()
	cl := fake.New()
	l, _ := openLedger(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cancelling := ProberFunc{ProbeName: "tcp/22", Fn: func(context.Context, string) error {
		cancel()
		return errors.New("connection refused")
	}}
	c := newTestController(t, l, cl, cancelling)

	_, err := c.Provision(ctx, Request{Spec: testSpec()})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, bastion.ErrProvisionTimeout)

	assert.Empty(t, cl.Resources(), "cleanup ignores the caller's cancellation")
	assert.Empty(t, l.All())
}

func TestProvision_NoLeakAtAnyFailurePoint(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		inject func(*fake.Cloud)
	}{
		{"security group create", func(c *fake.Cloud) {
			c.Fail(fake.OpCreate, bastion.KindSecurityGroup, transient(bastion.KindSecurityGroup, "create"), -1)
		}},
		{"keypair create", func(c *fake.Cloud) {
			c.Fail(fake.OpCreate, bastion.KindKeypair, transient(bastion.KindKeypair, "create"), -1)
		}},
		{"server create", func(c *fake.Cloud) {
			c.Fail(fake.OpCreate, bastion.KindServer, transient(bastion.KindServer, "create"), -1)
		}},
		{"server never active", func(c *fake.Cloud) {
			c.Fail(fake.OpWait, bastion.KindServer, &bastion.ProvisionTimeoutError{Elapsed: time.Minute}, 1)
		}},
		{"floating ip create", func(c *fake.Cloud) {
			c.Fail(fake.OpCreate, bastion.KindFloatingIP, transient(bastion.KindFloatingIP, "create"), -1)
		}},
		{"floating ip lost response", func(c *fake.Cloud) {
			c.FailAfterCreate(bastion.KindFloatingIP, &bastion.ProviderError{Op: "create", Kind: bastion.KindFloatingIP, StatusCode: http.StatusBadRequest, Err: errors.New("quota")})
		}},
		{"address lookup", func(c *fake.Cloud) {
			c.Fail(fake.OpAddress, bastion.KindServer, transient(bastion.KindServer, "get"), -1)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cl := fake.New()
			cl.EnforceDependencies = true
			tt.inject(cl)
			l, _ := openLedger(t)
			c := newTestController(t, l, cl)

			_, err := c.Provision(context.Background(), Request{Spec: testSpec()})
			require.Error(t, err)

			var pe *ProvisionError
			require.ErrorAs(t, err, &pe)
			assert.NoError(t, pe.Teardown)
			assert.Empty(t, cl.Resources(), "no provider resource survives a failed provision")
			assert.Empty(t, l.All())
			assert.Equal(t, bastion.StateDestroyed, c.State())
		})
	}
}

// appendFailingLedger loses the append of one kind, as if the disk filled
// up right after the resource was created.
type appendFailingLedger struct {
	*ledger.Ledger
	kind bastion.Kind
}

func (l *appendFailingLedger) Append(rec bastion.Record) error {
	if rec.Kind == l.kind {
		return errors.New("no space left on device")
	}
	return l.Ledger.Append(rec)
}

func TestProvision_UnrecordedResourceIsSwept(t *testing.T) {
	t.Parallel()
	cl := fake.New()
	cl.EnforceDependencies = true
	inner, _ := openLedger(t)
	l := &appendFailingLedger{Ledger: inner, kind: bastion.KindServer}
	c := newTestController(t, l, cl)

	_, err := c.Provision(context.Background(), Request{Spec: testSpec()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no space left on device")

	var pe *ProvisionError
	require.ErrorAs(t, err, &pe)
	assert.NoError(t, pe.Teardown)
	assert.Empty(t, cl.Resources(), "the orphaned server is found by name and deleted")
	assert.Equal(t, []string{"delete server", "delete keypair", "delete security_group"}, deleteCalls(cl.Calls()))
}

func TestProvision_AlreadyReadyIsNoop(t *testing.T) {
	t.Parallel()
	cl := fake.New()
	l, _ := openLedger(t)
	c := newTestController(t, l, cl)

	first, err := c.Provision(context.Background(), Request{Spec: testSpec()})
	require.NoError(t, err)
	callsBefore := len(cl.Calls())

	second := newTestController(t, l, cl)
	res, err := second.Provision(context.Background(), Request{Spec: testSpec()})
	require.NoError(t, err)
	assert.True(t, res.AlreadyReady)
	assert.Equal(t, first.Address, res.Address)
	assert.Equal(t, first.ServerID, res.ServerID)
	assert.Len(t, cl.Calls(), callsBefore, "no cloud call is made")
}

func TestProvision_ResumesInterruptedRun(t *testing.T) {
	t.Parallel()
	cl := fake.New()
	l, _ := openLedger(t)

	// A previous run crashed after creating the security group and keypair.
	sg := cl.Seed(bastion.KindSecurityGroup, "ci-bastion-sg")
	kp := cl.Seed(bastion.KindKeypair, "ci-bastion-key")
	require.NoError(t, l.SetState(bastion.StateProvisioning))
	require.NoError(t, l.Append(sg))
	require.NoError(t, l.Append(kp))

	c := newTestController(t, l, cl)
	_, err := c.Provision(context.Background(), Request{Spec: testSpec()})
	require.NoError(t, err)

	assert.Equal(t, 0, countCalls(cl.Calls(), "create security_group"))
	assert.Equal(t, 0, countCalls(cl.Calls(), "create keypair"))
	assert.Equal(t, 1, cl.Count(bastion.KindSecurityGroup))
	assert.Equal(t, 1, cl.Count(bastion.KindKeypair))
	assert.Equal(t, bastion.Kinds, kinds(l.All()))
	assert.Equal(t, sg, l.All()[0])
}

func TestProvision_DropsStaleLedgerEntry(t *testing.T) {
	t.Parallel()
	cl := fake.New()
	l, _ := openLedger(t)

	// The ledger remembers a security group that was deleted out of band.
	require.NoError(t, l.SetState(bastion.StateProvisioning))
	require.NoError(t, l.Append(bastion.Record{Kind: bastion.KindSecurityGroup, ProviderID: "gone", Name: "ci-bastion-sg"}))

	c := newTestController(t, l, cl)
	_, err := c.Provision(context.Background(), Request{Spec: testSpec()})
	require.NoError(t, err)

	recs := l.All()
	assert.Equal(t, bastion.Kinds, kinds(recs))
	assert.NotEqual(t, "gone", recs[0].ProviderID)
}

func TestProvision_RejectsInvalidRequests(t *testing.T) {
	t.Parallel()

	noKey := testSpec()
	noKey.SSHPublicKey = ""

	tests := []struct {
		name string
		req  Request
	}{
		{"no spec", Request{}},
		{"no key", Request{Spec: noKey}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cl := fake.New()
			l, _ := openLedger(t)
			c := newTestController(t, l, cl)

			_, err := c.Provision(context.Background(), tt.req)
			assert.ErrorIs(t, err, bastion.ErrInvalidConfig)
			assert.Empty(t, cl.Calls(), "no cloud call is made")
			assert.Equal(t, bastion.StateNone, c.State())
		})
	}
}

func TestProvision_RejectsForeignLedger(t *testing.T) {
	t.Parallel()
	cl := fake.New()
	l, _ := openLedger(t)
	require.NoError(t, l.Update(func(d *ledger.Document) { d.Bastion = "other" }))
	require.NoError(t, l.SetState(bastion.StateProvisioning))

	c := newTestController(t, l, cl)
	_, err := c.Provision(context.Background(), Request{Spec: testSpec()})
	assert.ErrorIs(t, err, bastion.ErrInvalidConfig)
	assert.Empty(t, cl.Calls())
}

func TestProvision_IllegalFromFailed(t *testing.T) {
	t.Parallel()
	cl := fake.New()
	l, _ := openLedger(t)
	require.NoError(t, l.SetState(bastion.StateFailed))

	c := newTestController(t, l, cl)
	_, err := c.Provision(context.Background(), Request{Spec: testSpec()})

	var te *bastion.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, bastion.StateFailed, te.From)
	assert.Equal(t, bastion.StateProvisioning, te.To)
	assert.Empty(t, cl.Calls())
	assert.Equal(t, bastion.StateFailed, l.State(), "illegal transitions change nothing")
}

func TestProvision_AfterDestroyStartsNewRun(t *testing.T) {
	t.Parallel()
	cl := fake.New()
	l, _ := openLedger(t)
	c := newTestController(t, l, cl)

	_, err := c.Provision(context.Background(), Request{Spec: testSpec()})
	require.NoError(t, err)
	firstRun := l.Document().RunID
	_, err = c.Teardown(context.Background(), TeardownOptions{})
	require.NoError(t, err)

	_, err = c.Provision(context.Background(), Request{Spec: testSpec()})
	require.NoError(t, err)
	assert.Equal(t, bastion.StateReady, c.State())
	assert.NotEqual(t, firstRun, l.Document().RunID)
}

func TestTeardown_LeakDoesNotAbort(t *testing.T) {
	t.Parallel()
	cl := fake.New()
	l, _ := openLedger(t)
	c := newTestController(t, l, cl)

	_, err := c.Provision(context.Background(), Request{Spec: testSpec()})
	require.NoError(t, err)

	cl.Fail(fake.OpDelete, bastion.KindServer, transient(bastion.KindServer, "delete"), testTimeouts().DeleteMaxAttempts)

	report, err := c.Teardown(context.Background(), TeardownOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, bastion.ErrTeardownLeak)

	var te *bastion.TeardownError
	require.ErrorAs(t, err, &te)
	require.Len(t, te.Leaks, 1)
	assert.Equal(t, bastion.KindServer, te.Leaks[0].Record.Kind)
	assert.Equal(t, testTimeouts().DeleteMaxAttempts, te.Leaks[0].Attempts)

	assert.Len(t, report.Deleted, 3, "the remaining entries are still deleted")
	assert.Equal(t, bastion.StateTearingDown, report.State)
	assert.Equal(t, []bastion.Kind{bastion.KindServer}, kinds(l.All()))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.Metrics().leaked))

	// A later teardown retries what leaked.
	report, err = c.Teardown(context.Background(), TeardownOptions{})
	require.NoError(t, err)
	assert.Equal(t, bastion.StateDestroyed, report.State)
	assert.Empty(t, l.All())
	assert.Empty(t, cl.Resources())
}

func TestTeardown_RetriesTransientDeleteFailures(t *testing.T) {
	t.Parallel()
	cl := fake.New()
	l, _ := openLedger(t)
	c := newTestController(t, l, cl)

	_, err := c.Provision(context.Background(), Request{Spec: testSpec()})
	require.NoError(t, err)
	cl.Fail(fake.OpDelete, bastion.KindKeypair, transient(bastion.KindKeypair, "delete"), 2)

	report, err := c.Teardown(context.Background(), TeardownOptions{})
	require.NoError(t, err)
	assert.Equal(t, bastion.StateDestroyed, report.State)
	assert.Equal(t, 3, countCalls(cl.Calls(), "delete keypair"))
}

func TestTeardown_ThrottledDeleteKeepsOneRetryBudget(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		code int
	}{
		{"server error", http.StatusInternalServerError},
		{"rate limited", http.StatusTooManyRequests},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			timeouts := testTimeouts()
			fc := fake.New()
			throttled := cloud.NewThrottle(fc, cloud.ThrottleConfig{
				MaxRetries:   timeouts.DeleteMaxAttempts - 1,
				InitialDelay: time.Millisecond,
				MaxDelay:     5 * time.Millisecond,
			})
			l, _ := openLedger(t)
			c := New(throttled, l, timeouts, WithProbers(alwaysReady))

			_, err := c.Provision(context.Background(), Request{Spec: testSpec()})
			require.NoError(t, err)
			fc.Fail(fake.OpDelete, bastion.KindServer, &bastion.ProviderError{
				Op: "delete", Kind: bastion.KindServer, StatusCode: tt.code, Err: errors.New(http.StatusText(tt.code)),
			}, -1)

			_, err = c.Teardown(context.Background(), TeardownOptions{})
			require.Error(t, err)

			assert.Equal(t, timeouts.DeleteMaxAttempts, countCalls(fc.Calls(), "delete server"))

			var te *bastion.TeardownError
			require.ErrorAs(t, err, &te)
			require.Len(t, te.Leaks, 1)
			assert.Equal(t, timeouts.DeleteMaxAttempts, te.Leaks[0].Attempts)
			assert.NotContains(t, te.Leaks[0].Err.Error(), "gave up")
		})
	}
}

func TestProvision_WaitsForFloatingAddress(t *testing.T) {
	t.Parallel()
	cl := fake.New()
	cl.Fail(fake.OpAddress, bastion.KindServer, &bastion.ProviderError{
		Op: "get address", Kind: bastion.KindServer, StatusCode: http.StatusConflict, Err: errors.New("no floating address yet"),
	}, 2)
	l, _ := openLedger(t)

	var probed atomic.Value
	c := newTestController(t, l, cl, ProberFunc{ProbeName: "tcp/22", Fn: func(_ context.Context, addr string) error {
		probed.Store(addr)
		return nil
	}})

	res, err := c.Provision(context.Background(), Request{Spec: testSpec()})
	require.NoError(t, err)

	assert.Equal(t, cl.Address, res.Address)
	assert.Equal(t, cl.Address, probed.Load())
	assert.Equal(t, 3, countCalls(cl.Calls(), "address server"))
}

func TestTeardown_NotFoundIsSuccess(t *testing.T) {
	t.Parallel()
	cl := fake.New()
	l, _ := openLedger(t)
	c := newTestController(t, l, cl)

	_, err := c.Provision(context.Background(), Request{Spec: testSpec()})
	require.NoError(t, err)
	cl.Fail(fake.OpDelete, bastion.KindServer, &bastion.ProviderError{
		Op: "delete", Kind: bastion.KindServer, StatusCode: http.StatusNotFound, Err: errors.New("no such server"),
	}, -1)

	report, err := c.Teardown(context.Background(), TeardownOptions{})
	require.NoError(t, err)
	assert.Equal(t, bastion.StateDestroyed, report.State)
	assert.Equal(t, 1, countCalls(cl.Calls(), "delete server"))
}

func TestTeardown_FromSeparateProcess(t *testing.T) {
	t.Parallel()
	cl := fake.New()
	cl.EnforceDependencies = true
	l, path := openLedger(t)

	_, err := newTestController(t, l, cl).Provision(context.Background(), Request{Spec: testSpec()})
	require.NoError(t, err)
	require.NoError(t, l.Close())

	reopened, err := ledger.Open(context.Background(), path)
	require.NoError(t, err)
	defer reopened.Close()

	c := newTestController(t, reopened, cl)
	assert.Equal(t, bastion.StateReady, c.State())
	report, err := c.Teardown(context.Background(), TeardownOptions{})
	require.NoError(t, err)
	assert.Equal(t, bastion.StateDestroyed, report.State)
	assert.Empty(t, cl.Resources())
}

func TestTeardown_InterruptedProvisioning(t *testing.T) {
	t.Parallel()
	cl := fake.New()
	l, _ := openLedger(t)
	sg := cl.Seed(bastion.KindSecurityGroup, "ci-bastion-sg")
	require.NoError(t, l.Update(func(d *ledger.Document) { d.Bastion = "ci-bastion" }))
	require.NoError(t, l.SetState(bastion.StateProvisioning))
	require.NoError(t, l.Append(sg))

	c := newTestController(t, l, cl)
	report, err := c.Teardown(context.Background(), TeardownOptions{})
	require.NoError(t, err)
	assert.Equal(t, bastion.StateDestroyed, report.State)
	assert.Equal(t, []bastion.Record{sg}, report.Deleted)
	assert.Empty(t, cl.Resources())
}

func TestTeardown_SweepsOrphans(t *testing.T) {
	t.Parallel()
	cl := fake.New()
	l, _ := openLedger(t)
	cl.Seed(bastion.KindKeypair, "ci-bastion-key")
	cl.Seed(bastion.KindServer, "ci-bastion")
	cl.Seed(bastion.KindServer, "unrelated")

	c := newTestController(t, l, cl)
	report, err := c.Teardown(context.Background(), TeardownOptions{Sweep: true, Name: "ci-bastion"})
	require.NoError(t, err)

	assert.Equal(t, []bastion.Kind{bastion.KindServer, bastion.KindKeypair}, kinds(report.Swept))
	require.Len(t, cl.Resources(), 1)
	assert.Equal(t, "unrelated", cl.Resources()[0].Name)
}

func TestTeardown_NothingToDo(t *testing.T) {
	t.Parallel()
	cl := fake.New()
	l, path := openLedger(t)
	c := newTestController(t, l, cl)

	report, err := c.Teardown(context.Background(), TeardownOptions{})
	require.NoError(t, err)
	assert.Equal(t, bastion.StateNone, report.State)
	assert.Empty(t, cl.Calls())

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "no ledger is written")
}

func TestTransition_Illegal(t *testing.T) {
	t.Parallel()
	l, _ := openLedger(t)
	c := newTestController(t, l, fake.New())

	err := c.transition(bastion.StateReady)
	var te *bastion.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, bastion.StateNone, c.State())
}

func TestProvision_RecordsMetrics(t *testing.T) {
	t.Parallel()
	cl := fake.New()
	l, _ := openLedger(t)
	m := NewMetrics()
	c := New(cl, l, testTimeouts(), WithProbers(alwaysReady), WithMetrics(m))

	_, err := c.Provision(context.Background(), Request{Spec: testSpec()})
	require.NoError(t, err)

	for _, kind := range bastion.Kinds {
		assert.Equal(t, float64(1), testutil.ToFloat64(m.resourceOps.WithLabelValues(string(kind), "create", "success")), kind)
	}
	assert.Equal(t, float64(1), testutil.ToFloat64(m.state.WithLabelValues(string(bastion.StateReady))))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.state.WithLabelValues(string(bastion.StateProvisioning))))

	path := filepath.Join(t.TempDir(), "osbastion.prom")
	require.NoError(t, m.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `osbastion_lifecycle_state{state="Ready"} 1`)
	assert.Contains(t, string(data), "osbastion_cloud_resource_operations_total")
}
